package spotify

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"github.com/MrWong99/groover/internal/streaming"
)

// tokenKind is the credential-cache key of the Spotify token.
const tokenKind = "spotify"

// ErrStateMismatch is returned when the callback URL pasted by the operator
// does not carry the state of the authorization request.
var ErrStateMismatch = errors.New("spotify: oauth state mismatch")

// scopes are the permissions needed to read and control playback.
var scopes = []string{
	spotifyauth.ScopeUserReadPlaybackState,
	spotifyauth.ScopeUserModifyPlaybackState,
	spotifyauth.ScopeUserReadCurrentlyPlaying,
}

// defaultEndpoint is the Spotify accounts service.
var defaultEndpoint = oauth2.Endpoint{
	AuthURL:  spotifyauth.AuthURL,
	TokenURL: spotifyauth.TokenURL,
}

// TokenStore persists OAuth2 tokens between runs.
type TokenStore interface {
	Token(kind string) (*oauth2.Token, error)
	SaveToken(kind string, tok *oauth2.Token) error
}

// authenticator obtains an authorized HTTP client. It tries, in order, a
// pre-issued access token, the cached token and the interactive
// authorization-code flow.
type authenticator struct {
	store    TokenStore
	endpoint oauth2.Endpoint
	prompt   io.Reader
	out      io.Writer
	newState func() string
}

func (a *authenticator) oauthConfig(creds streaming.Credentials) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  creds.RedirectURL,
		Scopes:       scopes,
		Endpoint:     a.endpoint,
	}
}

// cached returns a client for the pre-issued access token or, failing that,
// the cached token. It reports false when neither exists.
func (a *authenticator) cached(ctx context.Context, creds streaming.Credentials) (*http.Client, bool) {
	if creds.AccessToken != "" {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: creds.AccessToken, TokenType: "Bearer"})
		return oauth2.NewClient(ctx, src), true
	}
	if a.store == nil {
		return nil, false
	}
	tok, err := a.store.Token(tokenKind)
	if err != nil {
		slog.Debug("spotify: no cached token", "err", err)
		return nil, false
	}
	return a.client(ctx, a.oauthConfig(creds), tok), true
}

// interactive runs the authorization-code flow: it prints the authorize URL,
// reads the callback URL from the prompt, verifies the state and exchanges
// the code for a token.
func (a *authenticator) interactive(ctx context.Context, creds streaming.Credentials) (*http.Client, error) {
	if creds.ClientID == "" || creds.ClientSecret == "" || creds.RedirectURL == "" {
		return nil, errors.New("spotify: client id, secret and redirect url are required for interactive login")
	}
	cfg := a.oauthConfig(creds)
	state := a.newState()

	fmt.Fprintf(a.out, "Open the following URL in a browser and log in to Spotify:\n\n  %s\n\n", cfg.AuthCodeURL(state))
	fmt.Fprintln(a.out, "Then paste the URL you were redirected to and press enter:")

	line, err := readLine(ctx, a.prompt)
	if err != nil {
		return nil, fmt.Errorf("spotify: read callback url: %w", err)
	}
	code, err := parseCallback(line, state)
	if err != nil {
		return nil, err
	}
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("spotify: exchange code: %w", err)
	}
	if a.store != nil {
		if err := a.store.SaveToken(tokenKind, tok); err != nil {
			slog.Warn("spotify: caching token failed", "err", err)
		}
	}
	return a.client(ctx, cfg, tok), nil
}

// client returns an HTTP client whose refreshed tokens are written back to
// the store.
func (a *authenticator) client(ctx context.Context, cfg *oauth2.Config, tok *oauth2.Token) *http.Client {
	src := cfg.TokenSource(ctx, tok)
	if a.store != nil {
		src = &persistingSource{src: src, store: a.store, last: tok.AccessToken}
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(tok, src))
}

// parseCallback extracts the authorization code from the redirect URL.
func parseCallback(raw, state string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("spotify: parse callback url: %w", err)
	}
	q := u.Query()
	if got := q.Get("state"); got != state {
		return "", ErrStateMismatch
	}
	if e := q.Get("error"); e != "" {
		return "", fmt.Errorf("spotify: authorization denied: %s", e)
	}
	code := q.Get("code")
	if code == "" {
		return "", errors.New("spotify: callback url has no code")
	}
	return code, nil
}

// readLine reads one line from r. It returns early with ctx.Err() when ctx is
// done; the reading goroutine then exits with the next line or EOF.
func readLine(ctx context.Context, r io.Reader) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		sc := bufio.NewScanner(r)
		if sc.Scan() {
			ch <- result{line: sc.Text()}
			return
		}
		err := sc.Err()
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		ch <- result{err: err}
	}()
	select {
	case res := <-ch:
		return res.line, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// persistingSource saves every newly issued token to the store.
type persistingSource struct {
	src   oauth2.TokenSource
	store TokenStore

	mu   sync.Mutex
	last string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.src.Token()
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken != p.last {
		p.last = tok.AccessToken
		if err := p.store.SaveToken(tokenKind, tok); err != nil {
			slog.Warn("spotify: caching refreshed token failed", "err", err)
		}
	}
	return tok, nil
}

func newState() string { return uuid.NewString() }
