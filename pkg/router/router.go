// Package router classifies an inbound message into one of four
// processing tiers (spec §4.7), the cheapest tier that can answer it
// honestly. Classification happens before any container is acquired, so
// a bad classification only costs a wrong reply, never a stuck sandbox.
package router

import (
	"regexp"
	"strings"
)

// Tier is the processing path a classified message takes.
type Tier string

const (
	TierInline         Tier = "inline"
	TierKnowledgeOnly  Tier = "knowledge_only"
	TierContainerShort Tier = "container_short"
	TierContainerFull  Tier = "container_full"
)

// ContainerShortMaxChars bounds how long a prompt can be and still route
// to the short-container tier rather than full.
const ContainerShortMaxChars = 200

// ConversationContext is the lightweight state the classifier consults
// beyond the message text itself.
type ConversationContext struct {
	RecentTurnCount int  // messages exchanged so far in this chat session
	AwaitingReply   bool // true if the assistant asked a clarifying question last turn
}

// Classification is the router's verdict for one message.
type Classification struct {
	Tier       Tier
	ModelHint  string
	Confidence float64
	Reason     string
}

var (
	greetingRe      = regexp.MustCompile(`(?i)^\s*(hi|hello|hey|yo|sup|good (morning|afternoon|evening)|สวัสดี)[\s!.,]*$`)
	thanksRe        = regexp.MustCompile(`(?i)^\s*(thanks?( you)?|thx|ty|cheers|ขอบคุณ)[\s!.,]*$`)
	ackRe           = regexp.MustCompile(`(?i)^\s*(ok(ay)?|yep|yes|no|sure|got it|k|๊|ได้)[\s!.,]*$`)
	slashCommandRe  = regexp.MustCompile(`^/\w+`)
	recallVerbRe    = regexp.MustCompile(`(?i)\b(remember|recall|search|what did (we|i)|lookup|look up)\b`)
	codeFenceRe     = regexp.MustCompile("```")
	multiStepHintRe = regexp.MustCompile(`(?i)\b(step[- ]by[- ]step|first,? .* then|analy[sz]e|refactor|implement|write (a|the) (script|program|function))\b`)
)

// Classify evaluates the first-match rule order of spec §4.7.
func Classify(text string, ctx ConversationContext) Classification {
	trimmed := strings.TrimSpace(text)

	if isInline(trimmed) {
		return Classification{Tier: TierInline, ModelHint: "", Confidence: 0.95, Reason: "greeting, acknowledgement, or slash command"}
	}

	if recallVerbRe.MatchString(trimmed) && !codeFenceRe.MatchString(trimmed) {
		return Classification{Tier: TierKnowledgeOnly, ModelHint: "", Confidence: 0.8, Reason: "memory-recall verb with no code content"}
	}

	if codeFenceRe.MatchString(trimmed) || multiStepHintRe.MatchString(trimmed) || looksLikeFileOperation(trimmed) {
		return Classification{Tier: TierContainerFull, ModelHint: "strong", Confidence: 0.85, Reason: "code fence, multi-step reasoning, or file operation"}
	}

	if len(trimmed) <= ContainerShortMaxChars {
		return Classification{Tier: TierContainerShort, ModelHint: "cheap", Confidence: 0.6, Reason: "short general question, no code content"}
	}

	return Classification{Tier: TierContainerFull, ModelHint: "strong", Confidence: 0.55, Reason: "long-form request exceeding short-container threshold"}
}

func isInline(text string) bool {
	if text == "" {
		return false
	}
	if slashCommandRe.MatchString(text) {
		return true
	}
	if greetingRe.MatchString(text) || thanksRe.MatchString(text) || ackRe.MatchString(text) {
		return true
	}
	return false
}

func looksLikeFileOperation(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range []string{"create a file", "write to file", "delete the file", "read the file", "open the file", "save this to"} {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
