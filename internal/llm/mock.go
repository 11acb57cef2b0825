package llm

import (
	"context"

	"github.com/drophq/drophq/internal/domain"
)

// MockClient is a configurable generation client for testing.
// Set the response fields to control what each method returns. Responses
// queue: if SynthesizeResponses is non-empty, calls pop from it in order and
// fall back to SynthesizeResponse when exhausted (same for critique).
type MockClient struct {
	SynthesizeResponse  string
	SynthesizeResponses []string
	SynthesizeError     error
	CritiqueResponse    string
	CritiqueResponses   []string
	CritiqueError       error

	// Call tracking for assertions
	SynthesizeCalls []domain.SynthesisRequest
	CritiqueCalls   []domain.CritiqueRequest
}

func NewMockClient() *MockClient {
	return &MockClient{
		SynthesizeResponse: `{"strategic_context":"Mock context","claims":[],"evolution":"No changes"}`,
		CritiqueResponse:   `{"strengths":[],"gaps":[],"next_steps":[]}`,
	}
}

func (c *MockClient) Synthesize(ctx context.Context, req domain.SynthesisRequest) (string, error) {
	c.SynthesizeCalls = append(c.SynthesizeCalls, req)
	if c.SynthesizeError != nil {
		return "", c.SynthesizeError
	}
	if len(c.SynthesizeResponses) > 0 {
		resp := c.SynthesizeResponses[0]
		c.SynthesizeResponses = c.SynthesizeResponses[1:]
		return resp, nil
	}
	return c.SynthesizeResponse, nil
}

func (c *MockClient) Critique(ctx context.Context, req domain.CritiqueRequest) (string, error) {
	c.CritiqueCalls = append(c.CritiqueCalls, req)
	if c.CritiqueError != nil {
		return "", c.CritiqueError
	}
	if len(c.CritiqueResponses) > 0 {
		resp := c.CritiqueResponses[0]
		c.CritiqueResponses = c.CritiqueResponses[1:]
		return resp, nil
	}
	return c.CritiqueResponse, nil
}

// Reset clears all recorded calls and resets responses to defaults.
func (c *MockClient) Reset() {
	*c = *NewMockClient()
}
