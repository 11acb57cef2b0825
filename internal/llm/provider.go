package llm

import (
	"fmt"
	"strings"

	"github.com/drophq/drophq/internal/domain"
)

// Provider constants
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderMock      = "mock"
)

// NewClient creates a generation client based on the provider name.
// Returns an error if the provider is unknown or the API key is empty
// (except for mock).
func NewClient(provider, apiKey string) (domain.GenerationClient, error) {
	switch provider {
	case ProviderOpenAI:
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for OpenAI provider")
		}
		return NewOpenAIClient(apiKey), nil

	case ProviderAnthropic:
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is required for Anthropic provider")
		}
		return NewAnthropicClient(apiKey), nil

	case ProviderMock:
		return NewMockClient(), nil

	default:
		return nil, fmt.Errorf("unknown generation provider: %s (valid options: openai, anthropic, mock)", provider)
	}
}

// renderFindings formats findings for prompt inclusion, preserving
// submission order so finding_index references stay meaningful.
func renderFindings(findings []domain.Finding) string {
	var sb strings.Builder
	for i, f := range findings {
		fmt.Fprintf(&sb, "### finding_index %d (researcher %s)\n%s\n", i, f.ResearcherID, f.Content)
		if len(f.Sources) > 0 {
			fmt.Fprintf(&sb, "Sources: %s\n", strings.Join(f.Sources, "; "))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func repairHeader(note string) string {
	if note == "" {
		return ""
	}
	return fmt.Sprintf(schemaRepairNote, note)
}
