// Package models contains the persistence-layer domain types shared across
// the store, knowledge engine, queue, and orchestrator packages.
package models

import "time"

// ChatRegistrationState tracks whether a chat has completed onboarding
// (trigger phrase set, workspace assigned) or is still pending it.
type ChatRegistrationState string

const (
	ChatRegistrationPending  ChatRegistrationState = "pending"
	ChatRegistrationActive   ChatRegistrationState = "active"
	ChatRegistrationArchived ChatRegistrationState = "archived"
)

// Chat is a channel-qualified conversation identity (e.g. "tg:123456",
// "wa:1234567890@s.whatsapp.net"). Created on first inbound message; never
// destroyed — only soft-archived.
type Chat struct {
	ID            string                `json:"id"` // channel-qualified, e.g. "tg:123456"
	Channel       string                `json:"channel"`
	DisplayName   string                `json:"display_name"`
	Registration  ChatRegistrationState `json:"registration"`
	GroupID       string                `json:"group_id"`
	TriggerPhrase string                `json:"trigger_phrase,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
}
