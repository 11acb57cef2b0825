package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/drophq/drophq/internal/domain"
)

const (
	anthropicMessagesURL = "https://api.anthropic.com/v1/messages"
	anthropicModel       = "claude-sonnet-4-5"
	anthropicVersion     = "2023-06-01"
	anthropicMaxTokens   = 3000
)

type AnthropicClient struct {
	apiKey     string
	httpClient *http.Client
}

func NewAnthropicClient(apiKey string) *AnthropicClient {
	return &AnthropicClient{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *AnthropicClient) complete(ctx context.Context, system, user string) (string, error) {
	body, err := json.Marshal(anthropicRequest{
		Model:     anthropicModel,
		MaxTokens: anthropicMaxTokens,
		System:    system,
		Messages:  []anthropicMessage{{Role: "user", Content: user}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal anthropic request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, anthropicMessagesURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create anthropic request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("anthropic request failed: %w: %v", domain.ErrTransientService, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read anthropic response: %w: %v", domain.ErrTransientService, err)
	}

	if transientStatus(resp.StatusCode) {
		return "", fmt.Errorf("anthropic API returned status %d: %w: %s", resp.StatusCode, domain.ErrTransientService, string(respBody))
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("anthropic API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result anthropicResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("unmarshal anthropic response: %w", err)
	}
	if result.Error != nil {
		return "", fmt.Errorf("anthropic API error: %s", result.Error.Message)
	}
	if len(result.Content) == 0 {
		return "", fmt.Errorf("anthropic API returned no content")
	}

	return strings.TrimSpace(result.Content[0].Text), nil
}

func (c *AnthropicClient) Synthesize(ctx context.Context, req domain.SynthesisRequest) (string, error) {
	header := repairHeader(req.RepairNote)
	if req.PriorIntent != "" {
		header += "PRIOR INTENT: " + req.PriorIntent + "\n"
	}
	prompt := fmt.Sprintf(synthesizePrompt, header, req.RoundOrdinal, req.ExistingTruth, renderFindings(req.Findings))

	result, err := c.complete(ctx, synthesizeSystem, prompt)
	if err != nil {
		return "", fmt.Errorf("synthesize: %w", err)
	}
	return result, nil
}

func (c *AnthropicClient) Critique(ctx context.Context, req domain.CritiqueRequest) (string, error) {
	prompt := fmt.Sprintf(critiquePrompt, repairHeader(req.RepairNote), req.RoundOrdinal, renderFindings(req.Findings))

	result, err := c.complete(ctx, critiqueSystem, prompt)
	if err != nil {
		return "", fmt.Errorf("critique: %w", err)
	}
	return result, nil
}
