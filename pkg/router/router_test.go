package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Tier
	}{
		{"greeting", "Hi there!", TierInline},
		{"thai greeting", "สวัสดี", TierInline},
		{"thanks", "thanks a lot", TierInline},
		{"ack", "ok", TierInline},
		{"slash command", "/status", TierInline},
		{"memory recall", "What did we decide about Docker?", TierKnowledgeOnly},
		{"remember verb", "remember that I prefer tabs over spaces", TierKnowledgeOnly},
		{"code fence", "```\nwrite a Python quicksort\n```", TierContainerFull},
		{"multi step", "Please refactor this step-by-step", TierContainerFull},
		{"file operation", "please create a file named notes.txt", TierContainerFull},
		{"short general question", "What's the weather like today?", TierContainerShort},
		{"long general question", string(make([]byte, ContainerShortMaxChars+50)), TierContainerFull},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.text, ConversationContext{})
			assert.Equal(t, tt.want, got.Tier)
		})
	}
}

func TestClassifyInlineTakesPriorityOverRecall(t *testing.T) {
	got := Classify("ok", ConversationContext{})
	assert.Equal(t, TierInline, got.Tier)
}
