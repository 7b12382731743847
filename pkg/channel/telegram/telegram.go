// Package telegram implements the channel.Channel contract over the
// Telegram Bot API (spec §4.8), backed by go-telegram-bot-api/v5's long
// polling update feed.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hearth-ai/assistant/pkg/apperrors"
	"github.com/hearth-ai/assistant/pkg/channel"
)

// chatIDPrefix qualifies a Telegram chat id per spec §3 ("tg:<numeric>").
const chatIDPrefix = "tg:"

// typingTTL matches spec §4.8: a typing indicator auto-expires after 5
// minutes, so SetTyping(true) is re-sent on this interval while active.
const typingTTL = 4 * time.Minute

// Adapter implements channel.Channel for Telegram.
type Adapter struct {
	bot   *tgbotapi.BotAPI
	sink  channel.Sink
	log   *slog.Logger
	sm    *channel.StateMachine
	ob    channel.Outbox
	token string
}

// New constructs a Telegram adapter. The bot API client itself is created
// lazily in Start so that a bad token surfaces as a reconnect failure
// rather than a constructor panic.
func New(token string, sink channel.Sink, log *slog.Logger) *Adapter {
	return &Adapter{
		token: token,
		sink:  sink,
		log:   log.With("channel", "telegram"),
		sm:    channel.NewStateMachine("telegram", log),
	}
}

func (a *Adapter) Name() string         { return "telegram" }
func (a *Adapter) State() channel.State { return a.sm.State() }

// Start connects and runs the long-polling update loop until ctx is
// cancelled, reconnecting with the shared backoff schedule on failure and
// degrading (without terminating the process) once attempts are
// exhausted.
func (a *Adapter) Start(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		a.sm.Transition(channel.StateConnecting)
		bot, err := tgbotapi.NewBotAPI(a.token)
		if err != nil {
			if a.isAuthFailure(err) {
				a.sm.Transition(channel.StateLoggedOut)
				a.log.Error("telegram bot token rejected, channel logged out", "error", err)
				return nil
			}
			if !a.backoffOrDegrade(ctx) {
				return nil
			}
			continue
		}
		a.bot = bot
		a.sm.Transition(channel.StateConnected)
		a.flushOutbox(ctx)

		err = a.runUpdateLoop(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.log.Warn("telegram update loop ended, reconnecting", "error", err)
		a.sm.Transition(channel.StateReconnecting)
		if !a.backoffOrDegrade(ctx) {
			return nil
		}
	}
}

func (a *Adapter) backoffOrDegrade(ctx context.Context) bool {
	delay, ok := a.sm.NextBackoff()
	if !ok {
		a.sm.Transition(channel.StateDegraded)
		a.log.Error("telegram reconnect attempts exhausted, channel degraded")
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

func (a *Adapter) isAuthFailure(err error) bool {
	// tgbotapi wraps the "Unauthorized" API error verbatim; a revoked or
	// malformed token is never recoverable by retrying.
	return err != nil && (strings.Contains(err.Error(), "Unauthorized") || strings.Contains(err.Error(), "401"))
}

func (a *Adapter) runUpdateLoop(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := a.bot.GetUpdatesChan(u)
	defer a.bot.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case upd, ok := <-updates:
			if !ok {
				return fmt.Errorf("telegram update channel closed")
			}
			a.handleUpdate(ctx, upd)
		}
	}
}

func (a *Adapter) handleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message == nil {
		return
	}
	msg := upd.Message
	chatID := fmt.Sprintf("%s%d", chatIDPrefix, msg.Chat.ID)

	evt := channel.InboundEvent{
		Kind:       channel.EventMessageReceived,
		ChatID:     chatID,
		Content:    msg.Text,
		Sender:     fmt.Sprintf("%d", msg.From.ID),
		SenderName: msg.From.UserName,
	}
	if att := attachmentFromMessage(msg); att != nil {
		evt.Attachments = append(evt.Attachments, *att)
	}
	a.sink.Publish(ctx, evt)
}

func attachmentFromMessage(msg *tgbotapi.Message) *channel.InboundAttachment {
	switch {
	case len(msg.Photo) > 0:
		p := msg.Photo[len(msg.Photo)-1] // largest size
		w, h := p.Width, p.Height
		return &channel.InboundAttachment{Kind: "photo", FileID: p.FileID, SizeBytes: int64(p.FileSize), Width: &w, Height: &h}
	case msg.Document != nil:
		return &channel.InboundAttachment{Kind: "document", MIME: msg.Document.MimeType, Filename: msg.Document.FileName, FileID: msg.Document.FileID, SizeBytes: int64(msg.Document.FileSize)}
	case msg.Voice != nil:
		dur := int64(msg.Voice.Duration) * 1000
		return &channel.InboundAttachment{Kind: "voice", MIME: msg.Voice.MimeType, FileID: msg.Voice.FileID, SizeBytes: int64(msg.Voice.FileSize), DurationMS: &dur}
	case msg.Video != nil:
		dur := int64(msg.Video.Duration) * 1000
		return &channel.InboundAttachment{Kind: "video", MIME: msg.Video.MimeType, FileID: msg.Video.FileID, SizeBytes: int64(msg.Video.FileSize), DurationMS: &dur}
	case msg.Audio != nil:
		dur := int64(msg.Audio.Duration) * 1000
		return &channel.InboundAttachment{Kind: "audio", MIME: msg.Audio.MimeType, FileID: msg.Audio.FileID, SizeBytes: int64(msg.Audio.FileSize), DurationMS: &dur}
	default:
		return nil
	}
}

// SendText sends a plain text reply. When disconnected the send is
// buffered and flushed on reconnect, per spec §4.8's out-of-band queue.
func (a *Adapter) SendText(ctx context.Context, chatID, text string) error {
	if a.sm.State() != channel.StateConnected {
		a.ob.Enqueue(chatID, text, nil)
		return nil
	}
	id, err := numericChatID(chatID)
	if err != nil {
		return err
	}
	_, err = a.bot.Send(tgbotapi.NewMessage(id, text))
	return err
}

// SendPayload sends a photo or document with an optional caption.
func (a *Adapter) SendPayload(ctx context.Context, chatID string, p channel.Payload) error {
	if a.sm.State() != channel.StateConnected {
		a.ob.Enqueue(chatID, "", &p)
		return nil
	}
	return a.sendPayload(chatID, p)
}

func (a *Adapter) sendPayload(chatID string, p channel.Payload) error {
	id, err := numericChatID(chatID)
	if err != nil {
		return err
	}
	file := tgbotapi.FileBytes{Name: "attachment", Bytes: p.File}
	switch p.Kind {
	case channel.PayloadText:
		_, err = a.bot.Send(tgbotapi.NewMessage(id, p.Text))
	case channel.PayloadPhoto:
		msg := tgbotapi.NewPhoto(id, file)
		msg.Caption = p.Caption
		_, err = a.bot.Send(msg)
	case channel.PayloadDocument:
		msg := tgbotapi.NewDocument(id, file)
		msg.Caption = p.Caption
		_, err = a.bot.Send(msg)
	default:
		return fmt.Errorf("%w: unknown payload kind %q", apperrors.ErrBadInput, p.Kind)
	}
	return err
}

// SendEditableText sends the first chunk of a streamed reply and returns
// its message id so later chunks can replace it in place, implementing
// channel.EditableChannel.
func (a *Adapter) SendEditableText(ctx context.Context, chatID, text string) (string, error) {
	if a.sm.State() != channel.StateConnected {
		a.ob.Enqueue(chatID, text, nil)
		return "", nil
	}
	id, err := numericChatID(chatID)
	if err != nil {
		return "", err
	}
	sent, err := a.bot.Send(tgbotapi.NewMessage(id, text))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d:%d", id, sent.MessageID), nil
}

// EditText replaces the text of a message previously returned by
// SendEditableText.
func (a *Adapter) EditText(ctx context.Context, chatID, handle, text string) error {
	if handle == "" {
		return a.SendText(ctx, chatID, text)
	}
	var chatNum int64
	var msgID int
	if _, err := fmt.Sscanf(handle, "%d:%d", &chatNum, &msgID); err != nil {
		return fmt.Errorf("%w: malformed telegram message handle %q", apperrors.ErrBadInput, handle)
	}
	_, err := a.bot.Send(tgbotapi.NewEditMessageText(chatNum, msgID, text))
	return err
}

// SetTyping sends (or stops) a "typing" chat action.
func (a *Adapter) SetTyping(ctx context.Context, chatID string, on bool) error {
	if !on || a.sm.State() != channel.StateConnected {
		return nil
	}
	id, err := numericChatID(chatID)
	if err != nil {
		return err
	}
	_, err = a.bot.Request(tgbotapi.NewChatAction(id, tgbotapi.ChatTyping))
	return err
}

func (a *Adapter) flushOutbox(ctx context.Context) {
	for _, p := range a.ob.Drain() {
		var err error
		if p.Payload != nil {
			err = a.sendPayload(p.ChatID, *p.Payload)
		} else {
			err = a.SendText(ctx, p.ChatID, p.Text)
		}
		if err != nil {
			a.log.Warn("failed to flush buffered telegram send", "chat_id", p.ChatID, "error", err)
		}
	}
}

func numericChatID(chatID string) (int64, error) {
	var id int64
	if _, err := fmt.Sscanf(chatID, chatIDPrefix+"%d", &id); err != nil {
		return 0, fmt.Errorf("%w: malformed telegram chat id %q", apperrors.ErrBadInput, chatID)
	}
	return id, nil
}
