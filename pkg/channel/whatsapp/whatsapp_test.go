package whatsapp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJIDStripsChannelPrefix(t *testing.T) {
	jid, err := parseJID("wa:1234567890@s.whatsapp.net")
	require.NoError(t, err)
	assert.Equal(t, "1234567890", jid.User)
}

func TestParseJIDAcceptsUnprefixedJID(t *testing.T) {
	jid, err := parseJID("1234567890@s.whatsapp.net")
	require.NoError(t, err)
	assert.Equal(t, "1234567890", jid.User)
}

func TestParseJIDRejectsMalformed(t *testing.T) {
	_, err := parseJID("wa:not-a-jid")
	assert.Error(t, err)
}
