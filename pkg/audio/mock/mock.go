// Package mock provides in-memory mock implementations of the [audio.Platform]
// and [audio.Call] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	platform := &mock.Platform{}
//	call, err := platform.Connect(ctx, audio.ConnectionInfo{GuildID: 1, UserID: 2})
//	// platform.Calls[0] is the *mock.Call that was handed out.
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/MrWong99/groover/pkg/audio"
)

// ─── Call ─────────────────────────────────────────────────────────────────────

// Call is a mock implementation of [audio.Call].
// Set the exported error fields before use; inspect the recorded fields after.
type Call struct {
	mu sync.Mutex

	// AttachSourceError is returned by [Call.AttachSource].
	AttachSourceError error

	// SetBitrateError is returned by [Call.SetBitrate].
	SetBitrateError error

	// LeaveError is returned by [Call.Leave].
	LeaveError error

	// Sources records every reader passed to AttachSource, in order.
	Sources []io.Reader

	// Bitrates records every bitrate passed to SetBitrate, in order.
	Bitrates []audio.Bitrate

	// CallCountLeave records how many times Leave was called.
	CallCountLeave int
}

// AttachSource implements [audio.Call]. Records r and returns AttachSourceError.
func (c *Call) AttachSource(r io.Reader) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Sources = append(c.Sources, r)
	return c.AttachSourceError
}

// SetBitrate implements [audio.Call]. Records b and returns SetBitrateError.
func (c *Call) SetBitrate(b audio.Bitrate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Bitrates = append(c.Bitrates, b)
	return c.SetBitrateError
}

// Leave implements [audio.Call]. Returns LeaveError.
func (c *Call) Leave() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountLeave++
	return c.LeaveError
}

// LeaveCount returns CallCountLeave under the lock.
func (c *Call) LeaveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCountLeave
}

// SourceCount returns len(Sources) under the lock.
func (c *Call) SourceCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Sources)
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// Platform is a mock implementation of [audio.Platform].
type Platform struct {
	mu sync.Mutex

	// ConnectResult is the [audio.Call] returned by Connect. When nil, every
	// successful Connect hands out a fresh *Call appended to Calls.
	ConnectResult audio.Call

	// ConnectError is the error returned by Connect.
	ConnectError error

	// ConnectCalls records the info of all Connect invocations.
	ConnectCalls []audio.ConnectionInfo

	// Calls holds the fresh calls handed out by Connect, in order.
	Calls []*Call
}

// Connect implements [audio.Platform]. Records the call and returns
// ConnectResult / ConnectError.
func (p *Platform) Connect(_ context.Context, info audio.ConnectionInfo) (audio.Call, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, info)
	if p.ConnectError != nil {
		return nil, p.ConnectError
	}
	if p.ConnectResult != nil {
		return p.ConnectResult, nil
	}
	c := &Call{}
	p.Calls = append(p.Calls, c)
	return c, nil
}

// CallAt returns the i-th fresh call handed out by Connect.
func (p *Platform) CallAt(i int) *Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Calls[i]
}

// ConnectCount returns len(ConnectCalls) under the lock.
func (p *Platform) ConnectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectCalls)
}

// Connects returns a copy of ConnectCalls under the lock.
func (p *Platform) Connects() []audio.ConnectionInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]audio.ConnectionInfo(nil), p.ConnectCalls...)
}

// SetConnectError sets ConnectError under the lock.
func (p *Platform) SetConnectError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectError = err
}
