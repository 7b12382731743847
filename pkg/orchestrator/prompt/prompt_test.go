package prompt

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth-ai/assistant/pkg/knowledge/search"
	"github.com/hearth-ai/assistant/pkg/models"
)

func TestBuildIncludesFixedSectionsRegardlessOfBudget(t *testing.T) {
	b := NewBuilder(50)
	out := b.Build(Input{SystemPrompt: "be helpful", CurrentText: "hello there"})
	assert.Contains(t, out.Text, "be helpful")
	assert.Contains(t, out.Text, "hello there")
}

func TestBuildTrimsOldestHistoryFirst(t *testing.T) {
	now := time.Now()
	var messages []models.Message
	for i := 0; i < 50; i++ {
		messages = append(messages, models.Message{
			Sender:    "user",
			Content:   strings.Repeat("x", 200),
			Timestamp: now.Add(time.Duration(i) * time.Minute),
		})
	}

	b := NewBuilder(200)
	out := b.Build(Input{SystemPrompt: "s", CurrentText: "current", RecentMessages: messages})

	// The budget is far smaller than all 50 messages combined, so only a
	// suffix of the most recent history should survive.
	count := strings.Count(out.Text, strings.Repeat("x", 200))
	require.Greater(t, count, 0)
	assert.Less(t, count, len(messages))
}

func TestBuildAttributesIncludedKnowledgeSources(t *testing.T) {
	b := NewBuilder(2000)
	out := b.Build(Input{
		SystemPrompt: "s",
		CurrentText:  "current",
		Knowledge: []search.Result{
			{Document: models.Document{Title: "deploy runbook", Content: "run make deploy"}},
			{Document: models.Document{Title: "on-call rotation", Content: "alice is on call"}},
		},
	})
	assert.Contains(t, out.Text, "deploy runbook")
	assert.Equal(t, []string{"deploy runbook", "on-call rotation"}, out.Sources)
}

func TestBuildOmitsEmptyKnowledgeSection(t *testing.T) {
	b := NewBuilder(500)
	out := b.Build(Input{SystemPrompt: "s", CurrentText: "current"})
	assert.NotContains(t, out.Text, "Relevant knowledge")
}

func TestEstimateTokensRoundsUp(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
}
