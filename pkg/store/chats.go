package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/hearth-ai/assistant/pkg/apperrors"
	"github.com/hearth-ai/assistant/pkg/models"
)

type chatRow struct {
	ID            string    `db:"id"`
	Channel       string    `db:"channel"`
	DisplayName   string    `db:"display_name"`
	Registration  string    `db:"registration"`
	GroupID       sql.NullString `db:"group_id"`
	TriggerPhrase string    `db:"trigger_phrase"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (r chatRow) toModel() models.Chat {
	c := models.Chat{
		ID:            r.ID,
		Channel:       r.Channel,
		DisplayName:   r.DisplayName,
		Registration:  models.ChatRegistrationState(r.Registration),
		TriggerPhrase: r.TriggerPhrase,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.GroupID.Valid {
		c.GroupID = r.GroupID.String
	}
	return c
}

// UpsertChat inserts a chat or, if one with the same ID already exists,
// updates its mutable fields (display name, registration state, group,
// trigger phrase).
func (s *Store) UpsertChat(ctx context.Context, c models.Chat) error {
	record := goqu.Record{
		"id":             c.ID,
		"channel":        c.Channel,
		"display_name":   c.DisplayName,
		"registration":   string(c.Registration),
		"group_id":       nullableString(c.GroupID),
		"trigger_phrase": c.TriggerPhrase,
		"created_at":     c.CreatedAt,
		"updated_at":     c.UpdatedAt,
	}

	_, err := s.g.Insert("chats").Rows(record).
		OnConflict(goqu.DoUpdate("id", goqu.Record{
			"display_name":   c.DisplayName,
			"registration":   string(c.Registration),
			"group_id":       nullableString(c.GroupID),
			"trigger_phrase": c.TriggerPhrase,
			"updated_at":     c.UpdatedAt,
		})).
		Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: upsert chat %s: %v", apperrors.ErrTransientIO, c.ID, err)
	}
	return nil
}

// GetChat looks up a chat by id.
func (s *Store) GetChat(ctx context.Context, id string) (models.Chat, error) {
	var row chatRow
	found, err := s.g.From("chats").Where(goqu.C("id").Eq(id)).ScanStructContext(ctx, &row)
	if err != nil {
		return models.Chat{}, fmt.Errorf("%w: get chat %s: %v", apperrors.ErrTransientIO, id, err)
	}
	if !found {
		return models.Chat{}, fmt.Errorf("%w: chat %s not found", apperrors.ErrBadInput, id)
	}
	return row.toModel(), nil
}

// ListChatsByGroup returns every chat registered to the given group.
func (s *Store) ListChatsByGroup(ctx context.Context, group string) ([]models.Chat, error) {
	var rows []chatRow
	if err := s.g.From("chats").Where(goqu.C("group_id").Eq(group)).ScanStructsContext(ctx, &rows); err != nil {
		return nil, fmt.Errorf("%w: list chats for group %s: %v", apperrors.ErrTransientIO, group, err)
	}
	out := make([]models.Chat, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
