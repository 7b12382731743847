// Package whatsapp implements the channel.Channel contract over
// go.mau.fi/whatsmeow's multi-device WhatsApp Web protocol client (spec
// §4.8). Session state (the paired device identity) is persisted in a
// SQLite store under the directory given to New; AUTH_PASSPHRASE-derived
// at-rest encryption of that store is applied at the filesystem layer, not
// here (spec §6).
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/hearth-ai/assistant/pkg/apperrors"
	"github.com/hearth-ai/assistant/pkg/channel"
)

// chatIDPrefix qualifies a WhatsApp chat id per spec §3 ("wa:<jid>").
const chatIDPrefix = "wa:"

// Adapter implements channel.Channel for WhatsApp.
type Adapter struct {
	dbPath string
	sink   channel.Sink
	log    *slog.Logger
	sm     *channel.StateMachine
	ob     channel.Outbox
	client *whatsmeow.Client
}

// New constructs a WhatsApp adapter. dbPath is the SQLite file backing
// whatsmeow's device/session store.
func New(dbPath string, sink channel.Sink, log *slog.Logger) *Adapter {
	return &Adapter{
		dbPath: dbPath,
		sink:   sink,
		log:    log.With("channel", "whatsapp"),
		sm:     channel.NewStateMachine("whatsapp", log),
	}
}

func (a *Adapter) Name() string         { return "whatsapp" }
func (a *Adapter) State() channel.State { return a.sm.State() }

// Start connects (pairing via QR on first run, silent reconnect
// thereafter) and blocks until ctx is cancelled. A `logged_out` event from
// the server degrades this channel permanently without affecting others.
func (a *Adapter) Start(ctx context.Context) error {
	dbLog := waLog.Stdout("whatsapp-store", "WARN", true)
	container, err := sqlstore.New(ctx, "sqlite", fmt.Sprintf("file:%s?_foreign_keys=on", a.dbPath), dbLog)
	if err != nil {
		return fmt.Errorf("open whatsapp session store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("load whatsapp device: %w", err)
	}

	clientLog := waLog.Stdout("whatsapp-client", "WARN", true)
	a.client = whatsmeow.NewClient(device, clientLog)

	disconnected := make(chan struct{}, 1)
	loggedOut := make(chan struct{}, 1)
	a.client.AddEventHandler(func(evt interface{}) {
		switch e := evt.(type) {
		case *events.Message:
			a.handleMessage(ctx, e)
		case *events.Connected:
			a.sm.Transition(channel.StateConnected)
			a.flushOutbox(ctx)
		case *events.Disconnected:
			select {
			case disconnected <- struct{}{}:
			default:
			}
		case *events.LoggedOut:
			select {
			case loggedOut <- struct{}{}:
			default:
			}
		}
	})

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		a.sm.Transition(channel.StateConnecting)
		if a.client.Store.ID == nil {
			if err := a.pairWithQR(ctx); err != nil {
				if !a.backoffOrDegrade(ctx) {
					return nil
				}
				continue
			}
		} else if err := a.client.Connect(); err != nil {
			if !a.backoffOrDegrade(ctx) {
				return nil
			}
			continue
		}

		select {
		case <-ctx.Done():
			a.client.Disconnect()
			return ctx.Err()
		case <-loggedOut:
			a.sm.Transition(channel.StateLoggedOut)
			a.log.Error("whatsapp session logged out server-side, channel degraded permanently")
			return nil
		case <-disconnected:
			a.sm.Transition(channel.StateReconnecting)
			if !a.backoffOrDegrade(ctx) {
				return nil
			}
		}
	}
}

func (a *Adapter) pairWithQR(ctx context.Context) error {
	qrChan, err := a.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("get whatsapp qr channel: %w", err)
	}
	if err := a.client.Connect(); err != nil {
		return fmt.Errorf("connect for whatsapp pairing: %w", err)
	}
	for evt := range qrChan {
		if evt.Event == "code" {
			a.log.Info("whatsapp pairing QR code ready, scan with the phone's linked-devices screen", "code", evt.Code)
		}
	}
	return nil
}

func (a *Adapter) backoffOrDegrade(ctx context.Context) bool {
	delay, ok := a.sm.NextBackoff()
	if !ok {
		a.sm.Transition(channel.StateDegraded)
		a.log.Error("whatsapp reconnect attempts exhausted, channel degraded")
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

func (a *Adapter) handleMessage(ctx context.Context, e *events.Message) {
	content := e.Message.GetConversation()
	if content == "" && e.Message.GetExtendedTextMessage() != nil {
		content = e.Message.GetExtendedTextMessage().GetText()
	}

	evt := channel.InboundEvent{
		Kind:       channel.EventMessageReceived,
		ChatID:     chatIDPrefix + e.Info.Chat.String(),
		Content:    content,
		Sender:     e.Info.Sender.String(),
		SenderName: e.Info.PushName,
	}
	if att := attachmentFromMessage(e.Message); att != nil {
		evt.Attachments = append(evt.Attachments, *att)
	}
	a.sink.Publish(ctx, evt)
}

func attachmentFromMessage(msg *waE2E.Message) *channel.InboundAttachment {
	switch {
	case msg.GetImageMessage() != nil:
		img := msg.GetImageMessage()
		w, h := int(img.GetWidth()), int(img.GetHeight())
		return &channel.InboundAttachment{Kind: "photo", MIME: img.GetMimetype(), SizeBytes: int64(img.GetFileLength()), Width: &w, Height: &h}
	case msg.GetDocumentMessage() != nil:
		doc := msg.GetDocumentMessage()
		return &channel.InboundAttachment{Kind: "document", MIME: doc.GetMimetype(), Filename: doc.GetFileName(), SizeBytes: int64(doc.GetFileLength())}
	case msg.GetAudioMessage() != nil:
		aud := msg.GetAudioMessage()
		dur := int64(aud.GetSeconds()) * 1000
		kind := "audio"
		if aud.GetPTT() {
			kind = "voice"
		}
		return &channel.InboundAttachment{Kind: kind, MIME: aud.GetMimetype(), SizeBytes: int64(aud.GetFileLength()), DurationMS: &dur}
	case msg.GetVideoMessage() != nil:
		vid := msg.GetVideoMessage()
		dur := int64(vid.GetSeconds()) * 1000
		return &channel.InboundAttachment{Kind: "video", MIME: vid.GetMimetype(), SizeBytes: int64(vid.GetFileLength()), DurationMS: &dur}
	default:
		return nil
	}
}

func (a *Adapter) SendText(ctx context.Context, chatID, text string) error {
	if a.sm.State() != channel.StateConnected {
		a.ob.Enqueue(chatID, text, nil)
		return nil
	}
	jid, err := parseJID(chatID)
	if err != nil {
		return err
	}
	_, err = a.client.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(text)})
	return err
}

func (a *Adapter) SendPayload(ctx context.Context, chatID string, p channel.Payload) error {
	if a.sm.State() != channel.StateConnected {
		a.ob.Enqueue(chatID, "", &p)
		return nil
	}
	return a.sendPayload(ctx, chatID, p)
}

func (a *Adapter) sendPayload(ctx context.Context, chatID string, p channel.Payload) error {
	jid, err := parseJID(chatID)
	if err != nil {
		return err
	}

	switch p.Kind {
	case channel.PayloadText:
		_, err = a.client.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(p.Text)})
		return err
	case channel.PayloadPhoto:
		uploaded, err := a.client.Upload(ctx, p.File, whatsmeow.MediaImage)
		if err != nil {
			return fmt.Errorf("upload whatsapp image: %w", err)
		}
		_, err = a.client.SendMessage(ctx, jid, &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       proto.String(p.Caption),
			Mimetype:      proto.String(p.Mime),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
		}})
		return err
	case channel.PayloadDocument:
		uploaded, err := a.client.Upload(ctx, p.File, whatsmeow.MediaDocument)
		if err != nil {
			return fmt.Errorf("upload whatsapp document: %w", err)
		}
		_, err = a.client.SendMessage(ctx, jid, &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			Caption:       proto.String(p.Caption),
			Mimetype:      proto.String(p.Mime),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
		}})
		return err
	default:
		return fmt.Errorf("%w: unknown payload kind %q", apperrors.ErrBadInput, p.Kind)
	}
}

// SetTyping sends a composing/paused chat presence. WhatsApp has no
// explicit TTL on this presence; spec §4.8's 5-minute auto-expiry is
// enforced by the caller re-invoking SetTiping(true) rather than by this
// adapter, matching whatsmeow's fire-and-forget presence model.
func (a *Adapter) SetTyping(ctx context.Context, chatID string, on bool) error {
	if a.sm.State() != channel.StateConnected {
		return nil
	}
	jid, err := parseJID(chatID)
	if err != nil {
		return err
	}
	state := types.ChatPresencePaused
	if on {
		state = types.ChatPresenceComposing
	}
	return a.client.SendChatPresence(ctx, jid, state, types.ChatPresenceMediaText)
}

func (a *Adapter) flushOutbox(ctx context.Context) {
	for _, p := range a.ob.Drain() {
		var err error
		if p.Payload != nil {
			err = a.sendPayload(ctx, p.ChatID, *p.Payload)
		} else {
			err = a.SendText(ctx, p.ChatID, p.Text)
		}
		if err != nil {
			a.log.Warn("failed to flush buffered whatsapp send", "chat_id", p.ChatID, "error", err)
		}
	}
}

func parseJID(chatID string) (types.JID, error) {
	raw := chatID
	if len(raw) > len(chatIDPrefix) && raw[:len(chatIDPrefix)] == chatIDPrefix {
		raw = raw[len(chatIDPrefix):]
	}
	jid, err := types.ParseJID(raw)
	if err != nil {
		return types.JID{}, fmt.Errorf("%w: malformed whatsapp chat id %q: %v", apperrors.ErrBadInput, chatID, err)
	}
	return jid, nil
}
