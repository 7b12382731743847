package ipc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	secret := []byte("group-secret")
	frame, err := Sign(secret, Request{ID: "a1", Kind: "prompt", Payload: []byte(`{"text":"hi"}`)})
	require.NoError(t, err)

	var out Request
	err = Verify(secret, frame, &out)
	require.NoError(t, err)
	assert.Equal(t, "a1", out.ID)
	assert.Equal(t, "prompt", out.Kind)
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	secret := []byte("group-secret")
	frame, err := Sign(secret, Request{ID: "a1", Kind: "prompt"})
	require.NoError(t, err)

	frame.Payload = []byte(`{"id":"a1","kind":"evil"}`)
	err = Verify(secret, frame, &Request{})
	assert.ErrorContains(t, err, "integrity check failed")
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	frame, err := Sign([]byte("correct"), Request{ID: "a1"})
	require.NoError(t, err)

	err = Verify([]byte("wrong"), frame, &Request{})
	assert.ErrorContains(t, err, "integrity check failed")
}

func TestChannelRequestResponseRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ch, err := Open(dir, []byte("secret"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reqID := "req-1"
	go func() {
		req, err := ch.AwaitRequest(ctx, reqID)
		if err != nil {
			return
		}
		_ = ch.SendResponse(Response{ID: req.ID, OK: true, Payload: req.Payload})
	}()

	resp, err := ch.SendRequest(ctx, Request{ID: reqID, Kind: "prompt", Payload: []byte(`{"text":"ping"}`)})
	require.NoError(t, err)
	assert.True(t, resp.OK)
}

func TestStreamWriteAndRead(t *testing.T) {
	dir := t.TempDir()
	ch, err := Open(dir, []byte("secret"))
	require.NoError(t, err)

	w, err := ch.OpenStreamWriter("s1")
	require.NoError(t, err)
	require.NoError(t, w.Write("hello "))
	require.NoError(t, w.Write("world"))
	require.NoError(t, w.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got []string
	done, err := ch.ReadStream(ctx, "s1", func(c StreamChunk) error {
		got = append(got, c.Text)
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, done)
	assert.Equal(t, 2, done.TotalChunks)
	assert.Equal(t, []string{"hello ", "world"}, got)
}

func TestStreamHeartbeatTimeout(t *testing.T) {
	dir := t.TempDir()
	ch, err := Open(dir, []byte("secret"))
	require.NoError(t, err)

	w, err := ch.OpenStreamWriter("s2")
	require.NoError(t, err)
	require.NoError(t, w.Write("partial"))
	// deliberately never Close(): no stream.done marker is written

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = ch.ReadStream(ctx, "s2", func(StreamChunk) error { return nil })
	assert.Error(t, err)
}
