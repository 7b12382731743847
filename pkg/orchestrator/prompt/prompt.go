// Package prompt assembles the bounded-size prompt the orchestrator sends
// to a container for a turn (spec §4.9): system instructions, attributed
// knowledge context, and recent conversation history, trimmed to fit a
// token budget. Stateless — all state comes from the Input passed to
// Build.
package prompt

import (
	"fmt"
	"strings"

	"github.com/hearth-ai/assistant/pkg/knowledge/search"
	"github.com/hearth-ai/assistant/pkg/models"
)

// charsPerToken is the approximate number of characters per token for
// English text. Used for budget thresholding only, not exact counting.
const charsPerToken = 4

// EstimateTokens returns an approximate token count for text. Intentionally
// approximate: exact counts need a tokenizer dependency for a soft budget
// that does not need one.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// Input is everything Build needs to assemble one turn's prompt.
type Input struct {
	SystemPrompt   string
	UserModel      string // group's long-term user-model document content, if any
	Knowledge      []search.Result
	RecentMessages []models.Message // oldest first; last entry is the current turn
	CurrentText    string
}

// Builder composes prompt text within TokenBudget, prioritizing the
// system prompt and current message (never trimmed) over knowledge
// context and history (trimmed oldest/lowest-ranked first).
type Builder struct {
	TokenBudget int
}

// NewBuilder constructs a Builder for the given token budget.
func NewBuilder(tokenBudget int) *Builder {
	return &Builder{TokenBudget: tokenBudget}
}

// Result is the assembled prompt plus the knowledge sources actually
// included, so the orchestrator can attribute the reply to them.
type Result struct {
	Text    string
	Sources []string // document titles included in the knowledge section
}

// Build composes the system, knowledge, history, and current-turn
// sections in that priority order, dropping the lowest-priority
// remaining section first once the budget is exceeded.
func (b *Builder) Build(in Input) Result {
	fixed := EstimateTokens(in.SystemPrompt) + EstimateTokens(in.CurrentText) + EstimateTokens(in.UserModel)
	remaining := b.TokenBudget - fixed
	if remaining < 0 {
		remaining = 0
	}

	knowledgeBudget := remaining * 6 / 10
	historyBudget := remaining - knowledgeBudget

	knowledgeSection, sources := buildKnowledgeSection(in.Knowledge, knowledgeBudget)
	historySection := buildHistorySection(in.RecentMessages, historyBudget)

	var sb strings.Builder
	sb.WriteString(in.SystemPrompt)
	if in.UserModel != "" {
		sb.WriteString("\n\n## What I know about you\n")
		sb.WriteString(in.UserModel)
	}
	if knowledgeSection != "" {
		sb.WriteString("\n\n## Relevant knowledge\n")
		sb.WriteString(knowledgeSection)
	}
	if historySection != "" {
		sb.WriteString("\n\n## Recent conversation\n")
		sb.WriteString(historySection)
	}
	sb.WriteString("\n\n## Current message\n")
	sb.WriteString(in.CurrentText)

	return Result{Text: sb.String(), Sources: sources}
}

// buildKnowledgeSection appends results highest-score first until the
// budget runs out, citing each source by title.
func buildKnowledgeSection(results []search.Result, budget int) (string, []string) {
	if budget <= 0 || len(results) == 0 {
		return "", nil
	}
	var sb strings.Builder
	var sources []string
	used := 0
	for _, r := range results {
		entry := fmt.Sprintf("- [%s] %s\n", r.Document.Title, truncate(r.Document.Content, 600))
		cost := EstimateTokens(entry)
		if used+cost > budget && used > 0 {
			break
		}
		sb.WriteString(entry)
		sources = append(sources, r.Document.Title)
		used += cost
	}
	return sb.String(), sources
}

// buildHistorySection walks messages newest-first so the most recent
// turns survive trimming, then reverses back to chronological order.
func buildHistorySection(messages []models.Message, budget int) string {
	if budget <= 0 || len(messages) == 0 {
		return ""
	}
	kept := make([]models.Message, 0, len(messages))
	used := 0
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		line := fmt.Sprintf("%s: %s\n", m.Sender, m.Content)
		cost := EstimateTokens(line)
		if used+cost > budget && used > 0 {
			break
		}
		kept = append(kept, m)
		used += cost
	}
	var sb strings.Builder
	for i := len(kept) - 1; i >= 0; i-- {
		m := kept[i]
		sb.WriteString(fmt.Sprintf("%s: %s\n", m.Sender, m.Content))
	}
	return sb.String()
}

// truncate cuts s to at most n bytes, favoring a whole-rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && (s[cut]&0xC0) == 0x80 {
		cut--
	}
	return s[:cut] + "…"
}
