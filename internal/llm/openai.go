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
	openAIChatURL = "https://api.openai.com/v1/chat/completions"
	openAIModel   = "gpt-4o"
)

type OpenAIClient struct {
	apiKey     string
	httpClient *http.Client
}

func NewOpenAIClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *OpenAIClient) complete(ctx context.Context, system, user string, temp float32) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: openAIModel,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: temp,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, openAIChatURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request failed: %w: %v", domain.ErrTransientService, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read chat response: %w: %v", domain.ErrTransientService, err)
	}

	if transientStatus(resp.StatusCode) {
		return "", fmt.Errorf("chat API returned status %d: %w: %s", resp.StatusCode, domain.ErrTransientService, string(respBody))
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result chatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("unmarshal chat response: %w", err)
	}
	if result.Error != nil {
		return "", fmt.Errorf("chat API error: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("chat API returned no choices")
	}

	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}

func transientStatus(status int) bool {
	return status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		status >= http.StatusInternalServerError
}

func (c *OpenAIClient) Synthesize(ctx context.Context, req domain.SynthesisRequest) (string, error) {
	header := repairHeader(req.RepairNote)
	if req.PriorIntent != "" {
		header += "PRIOR INTENT: " + req.PriorIntent + "\n"
	}
	prompt := fmt.Sprintf(synthesizePrompt, header, req.RoundOrdinal, req.ExistingTruth, renderFindings(req.Findings))

	result, err := c.complete(ctx, synthesizeSystem, prompt, 0.3)
	if err != nil {
		return "", fmt.Errorf("synthesize: %w", err)
	}
	return result, nil
}

func (c *OpenAIClient) Critique(ctx context.Context, req domain.CritiqueRequest) (string, error) {
	prompt := fmt.Sprintf(critiquePrompt, repairHeader(req.RepairNote), req.RoundOrdinal, renderFindings(req.Findings))

	result, err := c.complete(ctx, critiqueSystem, prompt, 0.4)
	if err != nil {
		return "", fmt.Errorf("critique: %w", err)
	}
	return result, nil
}
