package spotify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"

	"github.com/MrWong99/groover/internal/credcache"
	"github.com/MrWong99/groover/pkg/audio"
)

// framesPerChunk is the number of stereo frames per written audio.Frame.
const framesPerChunk = 1024

// maxPreviewBytes bounds a downloaded preview clip.
const maxPreviewBytes = 8 << 20

type decodeFunc func(r io.ReadCloser) (beep.Streamer, beep.Format, error)

func decodeMP3(r io.ReadCloser) (beep.Streamer, beep.Format, error) {
	s, f, err := mp3.Decode(r)
	if err != nil {
		return nil, beep.Format{}, err
	}
	return s, f, nil
}

// fetchPreview returns the preview clip of trackID from the store, or
// downloads it from url and stores it.
func (p *player) fetchPreview(ctx context.Context, trackID, url string) ([]byte, error) {
	if p.store != nil {
		data, err := p.store.Audio(trackID)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, credcache.ErrNotFound) {
			p.log(ctx).Warn("spotify: reading cached preview failed", "track", trackID, "err", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("spotify: preview request: %w", err)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("spotify: download preview: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("spotify: download preview: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPreviewBytes))
	if err != nil {
		return nil, fmt.Errorf("spotify: download preview: %w", err)
	}

	if p.store != nil {
		if err := p.store.PutAudio(trackID, data); err != nil {
			p.log(ctx).Warn("spotify: caching preview failed", "track", trackID, "err", err)
		}
	}
	return data, nil
}

// stream decodes data and writes it to the sink until the clip ends or ctx
// is done. Sink errors wrap errSink.
func (p *player) stream(ctx context.Context, data []byte) error {
	s, format, err := p.decode(io.NopCloser(bytes.NewReader(data)))
	if err != nil {
		return fmt.Errorf("spotify: decode preview: %w", err)
	}
	if c, ok := s.(io.Closer); ok {
		defer c.Close()
	}

	buf := make([][2]float64, framesPerChunk)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, ok := s.Stream(buf)
		if n > 0 {
			samples := make([]float32, 2*n)
			for i := range n {
				samples[2*i] = float32(buf[i][0])
				samples[2*i+1] = float32(buf[i][1])
			}
			if p.mixer != nil {
				p.mixer.Apply(samples)
			}
			f := audio.Frame{Samples: samples, SampleRate: int(format.SampleRate), Channels: 2}
			if err := p.sink.WriteContext(ctx, f); err != nil {
				return fmt.Errorf("%w: %w", errSink, err)
			}
		}
		if !ok {
			if err := s.Err(); err != nil {
				return fmt.Errorf("spotify: decode preview: %w", err)
			}
			return nil
		}
	}
}
