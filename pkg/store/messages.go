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

type messageRow struct {
	ID            int64     `db:"id"`
	ChatID        string    `db:"chat_id"`
	ExternalID    string    `db:"external_id"`
	Sender        string    `db:"sender"`
	SenderDisplay string    `db:"sender_display"`
	Timestamp     time.Time `db:"timestamp"`
	Content       string    `db:"content"`
}

func (r messageRow) toModel() models.Message {
	return models.Message{
		ID:            r.ID,
		ChatID:        r.ChatID,
		ExternalID:    r.ExternalID,
		Sender:        r.Sender,
		SenderDisplay: r.SenderDisplay,
		Timestamp:     r.Timestamp,
		Content:       r.Content,
	}
}

// InsertMessage inserts a message and returns it with its assigned ID.
// Messages are append-only; there is no update path.
func (s *Store) InsertMessage(ctx context.Context, m models.Message) (models.Message, error) {
	result, err := s.g.Insert("messages").Rows(goqu.Record{
		"chat_id":        m.ChatID,
		"external_id":    m.ExternalID,
		"sender":         m.Sender,
		"sender_display": m.SenderDisplay,
		"timestamp":      m.Timestamp,
		"content":        m.Content,
	}).Executor().ExecContext(ctx)
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: insert message: %v", apperrors.ErrTransientIO, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: message insert id: %v", apperrors.ErrTransientIO, err)
	}
	m.ID = id
	return m, nil
}

// RecentMessages returns the most recent N messages for a chat, oldest
// first, for prompt-assembly context windows.
func (s *Store) RecentMessages(ctx context.Context, chatID string, limit int) ([]models.Message, error) {
	var rows []messageRow
	err := s.g.From("messages").
		Where(goqu.C("chat_id").Eq(chatID)).
		Order(goqu.C("timestamp").Desc(), goqu.C("id").Desc()).
		Limit(uint(limit)).
		ScanStructsContext(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("%w: recent messages for %s: %v", apperrors.ErrTransientIO, chatID, err)
	}
	out := make([]models.Message, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = r.toModel()
	}
	return out, nil
}

// GetMessage looks up a single message by id, for queue workers that only
// carry a message id across the handoff to the orchestrator.
func (s *Store) GetMessage(ctx context.Context, id int64) (models.Message, error) {
	var rows []messageRow
	err := s.g.From("messages").Where(goqu.C("id").Eq(id)).Limit(1).ScanStructsContext(ctx, &rows)
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: get message %d: %v", apperrors.ErrTransientIO, id, err)
	}
	if len(rows) == 0 {
		return models.Message{}, fmt.Errorf("%w: message %d not found", apperrors.ErrBadInput, id)
	}
	return rows[0].toModel(), nil
}

// InsertAttachment inserts an attachment owned by the given message.
func (s *Store) InsertAttachment(ctx context.Context, a models.Attachment) (models.Attachment, error) {
	result, err := s.g.Insert("attachments").Rows(goqu.Record{
		"message_id":      a.MessageID,
		"kind":            string(a.Kind),
		"mime":            a.MIME,
		"filename":        a.Filename,
		"size_bytes":      a.SizeBytes,
		"channel_file_id": a.ChannelFileID,
		"local_path":      a.LocalPath,
		"width":           nullableIntPtr(a.Width),
		"height":          nullableIntPtr(a.Height),
		"duration_ms":     nullableInt64Ptr(a.DurationMS),
	}).Executor().ExecContext(ctx)
	if err != nil {
		return models.Attachment{}, fmt.Errorf("%w: insert attachment: %v", apperrors.ErrTransientIO, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return models.Attachment{}, fmt.Errorf("%w: attachment insert id: %v", apperrors.ErrTransientIO, err)
	}
	a.ID = id
	return a, nil
}

type attachmentRow struct {
	ID            int64          `db:"id"`
	MessageID     int64          `db:"message_id"`
	Kind          string         `db:"kind"`
	MIME          string         `db:"mime"`
	Filename      string         `db:"filename"`
	SizeBytes     int64          `db:"size_bytes"`
	ChannelFileID string         `db:"channel_file_id"`
	LocalPath     string         `db:"local_path"`
	Width         sql.NullInt64  `db:"width"`
	Height        sql.NullInt64  `db:"height"`
	DurationMS    sql.NullInt64  `db:"duration_ms"`
}

func (r attachmentRow) toModel() models.Attachment {
	a := models.Attachment{
		ID:            r.ID,
		MessageID:     r.MessageID,
		Kind:          models.AttachmentKind(r.Kind),
		MIME:          r.MIME,
		Filename:      r.Filename,
		SizeBytes:     r.SizeBytes,
		ChannelFileID: r.ChannelFileID,
		LocalPath:     r.LocalPath,
	}
	if r.Width.Valid {
		v := int(r.Width.Int64)
		a.Width = &v
	}
	if r.Height.Valid {
		v := int(r.Height.Int64)
		a.Height = &v
	}
	if r.DurationMS.Valid {
		a.DurationMS = &r.DurationMS.Int64
	}
	return a
}

// AttachmentsForMessage returns every attachment owned by a message.
func (s *Store) AttachmentsForMessage(ctx context.Context, messageID int64) ([]models.Attachment, error) {
	var rows []attachmentRow
	if err := s.g.From("attachments").Where(goqu.C("message_id").Eq(messageID)).ScanStructsContext(ctx, &rows); err != nil {
		return nil, fmt.Errorf("%w: attachments for message %d: %v", apperrors.ErrTransientIO, messageID, err)
	}
	out := make([]models.Attachment, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
