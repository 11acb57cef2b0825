package service

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

const (
	// DefaultMaxTokens is the context window assumed when none is configured.
	DefaultMaxTokens = 200000

	// DefaultWarnThreshold is the usage fraction that flips ShouldWarn.
	DefaultWarnThreshold = 0.8

	// DefaultKeepRecent is how many trailing messages a compaction preview
	// keeps verbatim.
	DefaultKeepRecent = 15

	// charsPerToken is the estimation ratio. Coarse on purpose: the tracker
	// informs pacing decisions, it is not a billing meter.
	charsPerToken = 4

	// compactionSavings is the fraction of summarized-message tokens a
	// compaction is assumed to reclaim.
	compactionSavings = 0.7

	// minCompactable is the minimum number of messages beyond keepRecent
	// before a compaction preview is worthwhile.
	minCompactable = 5
)

var ErrNotEnoughMessages = errors.New("not enough messages to compact")

// EstimateTokens converts text length to an approximate token count.
// Always at least 1 for non-empty text.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	n := len(text) / charsPerToken
	if n < 1 {
		n = 1
	}
	return n
}

// ContextTracker estimates how much of an orchestration context window the
// session has consumed, bucketed by what the tokens were spent on. All
// methods are safe for concurrent use.
type ContextTracker struct {
	mu            sync.Mutex
	maxTokens     int
	warnThreshold float64
	messages      []int // token estimate per recorded message, in order
	documents     map[string]int
	logger        *zap.Logger
}

func NewContextTracker(maxTokens int, warnThreshold float64, logger *zap.Logger) *ContextTracker {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if warnThreshold <= 0 || warnThreshold > 1 {
		warnThreshold = DefaultWarnThreshold
	}
	return &ContextTracker{
		maxTokens:     maxTokens,
		warnThreshold: warnThreshold,
		documents:     make(map[string]int),
		logger:        logger,
	}
}

// RecordMessage adds one conversation message to the running estimate.
func (t *ContextTracker) RecordMessage(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, EstimateTokens(text))
	t.warnLocked()
}

// SetDocument records (or replaces) a named non-conversation contribution,
// such as the current truth document or latest critique. Re-setting the same
// name replaces the previous estimate rather than accumulating.
func (t *ContextTracker) SetDocument(name, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.documents[name] = EstimateTokens(text)
	t.warnLocked()
}

func (t *ContextTracker) warnLocked() {
	used := t.usedLocked()
	if float64(used) >= t.warnThreshold*float64(t.maxTokens) {
		t.logger.Warn("context budget above warn threshold",
			zap.Int("used_tokens", used),
			zap.Int("max_tokens", t.maxTokens),
			zap.Float64("fraction", float64(used)/float64(t.maxTokens)),
		)
	}
}

func (t *ContextTracker) usedLocked() int {
	used := 0
	for _, n := range t.messages {
		used += n
	}
	for _, n := range t.documents {
		used += n
	}
	return used
}

// Usage is a point-in-time snapshot of the budget.
type Usage struct {
	UsedTokens   int            `json:"used_tokens"`
	MaxTokens    int            `json:"max_tokens"`
	Remaining    int            `json:"remaining_tokens"`
	Fraction     float64        `json:"fraction"`
	ShouldWarn   bool           `json:"should_warn"`
	MessageCount int            `json:"message_count"`
	Documents    map[string]int `json:"documents"`
}

func (t *ContextTracker) Usage() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	used := t.usedLocked()
	docs := make(map[string]int, len(t.documents))
	for k, v := range t.documents {
		docs[k] = v
	}
	return Usage{
		UsedTokens:   used,
		MaxTokens:    t.maxTokens,
		Remaining:    t.maxTokens - used,
		Fraction:     float64(used) / float64(t.maxTokens),
		ShouldWarn:   float64(used) >= t.warnThreshold*float64(t.maxTokens),
		MessageCount: len(t.messages),
		Documents:    docs,
	}
}

// CompactionPreview describes what a conversation compaction would do
// without performing it. The tracker only estimates; the orchestration
// layer owns the actual summarization.
type CompactionPreview struct {
	SummarizedMessages int `json:"summarized_messages"`
	RetainedMessages   int `json:"retained_messages"`
	CurrentTokens      int `json:"current_tokens"`
	EstimatedTokens    int `json:"estimated_tokens"`
	EstimatedSavings   int `json:"estimated_savings"`
}

// PreviewCompaction estimates the effect of summarizing all but the last
// keepRecent messages. Requires at least minCompactable messages beyond the
// retained tail, otherwise the summary would cost more than it saves.
func (t *ContextTracker) PreviewCompaction(keepRecent int) (*CompactionPreview, error) {
	if keepRecent <= 0 {
		keepRecent = DefaultKeepRecent
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	compactable := len(t.messages) - keepRecent
	if compactable < minCompactable {
		return nil, fmt.Errorf("%w: have %d messages, need more than %d",
			ErrNotEnoughMessages, len(t.messages), keepRecent+minCompactable-1)
	}

	summarized := 0
	for _, n := range t.messages[:compactable] {
		summarized += n
	}
	savings := int(float64(summarized) * compactionSavings)
	current := t.usedLocked()

	return &CompactionPreview{
		SummarizedMessages: compactable,
		RetainedMessages:   keepRecent,
		CurrentTokens:      current,
		EstimatedTokens:    current - savings,
		EstimatedSavings:   savings,
	}, nil
}
