// Package mock provides test doubles for Discord interaction testing.
package mock

import (
	"sync"

	"github.com/bwmarrin/discordgo"
)

// InteractionResponder records interaction responses for test assertions.
type InteractionResponder struct {
	mu sync.Mutex

	// Responses records all InteractionRespond calls.
	Responses []*discordgo.InteractionResponse

	// Err is returned by InteractionRespond when non-nil, allowing error
	// injection.
	Err error
}

// InteractionRespond records the response and returns the configured error.
func (m *InteractionResponder) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = append(m.Responses, resp)
	return m.Err
}

// LastResponse returns the most recently recorded response, or nil.
func (m *InteractionResponder) LastResponse() *discordgo.InteractionResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Responses) == 0 {
		return nil
	}
	return m.Responses[len(m.Responses)-1]
}

// LastContent returns the text of the most recent response, or "".
func (m *InteractionResponder) LastContent() string {
	resp := m.LastResponse()
	if resp == nil || resp.Data == nil {
		return ""
	}
	return resp.Data.Content
}

// Reset clears all recorded interactions and errors.
func (m *InteractionResponder) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = nil
	m.Err = nil
}
