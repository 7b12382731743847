package telegram

import (
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumericChatIDParsesQualifiedID(t *testing.T) {
	id, err := numericChatID("tg:123456")
	require.NoError(t, err)
	assert.Equal(t, int64(123456), id)
}

func TestNumericChatIDRejectsMalformedID(t *testing.T) {
	_, err := numericChatID("wa:123456")
	assert.Error(t, err)
}

func TestAttachmentFromMessagePrefersLargestPhoto(t *testing.T) {
	msg := &tgbotapi.Message{
		Photo: []tgbotapi.PhotoSize{
			{FileID: "small", Width: 90, Height: 90, FileSize: 1000},
			{FileID: "large", Width: 800, Height: 800, FileSize: 50000},
		},
	}
	att := attachmentFromMessage(msg)
	require.NotNil(t, att)
	assert.Equal(t, "large", att.FileID)
	assert.Equal(t, "photo", att.Kind)
}

func TestAttachmentFromMessageReturnsNilForPlainText(t *testing.T) {
	msg := &tgbotapi.Message{Text: "hello"}
	assert.Nil(t, attachmentFromMessage(msg))
}
