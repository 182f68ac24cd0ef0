// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"errors"
	"sync"

	"github.com/jonathan/fewknow/internal/llm"
)

// ErrExhausted is returned once every scripted response has been consumed
var ErrExhausted = errors.New("llmtest: no scripted response left")

// Response is one scripted reply
type Response struct {
	Text string
	Err  error
}

// Call records a request the fake received
type Call struct {
	System string
	Prompt string
	Tier   llm.ModelTier
}

// Client replays scripted responses in order
type Client struct {
	mu        sync.Mutex
	responses []Response
	calls     []Call
}

// New creates a client that answers with the given texts in order
func New(texts ...string) *Client {
	c := &Client{}
	for _, t := range texts {
		c.responses = append(c.responses, Response{Text: t})
	}
	return c
}

// Push appends a scripted response
func (c *Client) Push(r Response) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = append(c.responses, r)
	return c
}

func (c *Client) next(call Call) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
	if len(c.responses) == 0 {
		return "", ErrExhausted
	}
	r := c.responses[0]
	c.responses = c.responses[1:]
	return r.Text, r.Err
}

// GenerateJSON implements llm.Client
func (c *Client) GenerateJSON(_ context.Context, prompt string, tier llm.ModelTier) (string, error) {
	return c.next(Call{Prompt: prompt, Tier: tier})
}

// GenerateJSONWithSystem implements llm.SystemPromptClient
func (c *Client) GenerateJSONWithSystem(_ context.Context, system, prompt string, tier llm.ModelTier) (string, error) {
	return c.next(Call{System: system, Prompt: prompt, Tier: tier})
}

// GetModel implements llm.Client
func (c *Client) GetModel(tier llm.ModelTier) string {
	return "scripted-" + string(tier)
}

// Close implements llm.Client
func (c *Client) Close() error {
	return nil
}

// Calls returns the requests received so far
func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}
