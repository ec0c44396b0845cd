package messenger

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahdiyar-oraei/rag/internal/config"
)

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"object":"page"}`)

	t.Run("valid", func(t *testing.T) {
		assert.True(t, VerifySignature("secret", payload, sign("secret", payload)))
	})

	t.Run("wrong secret", func(t *testing.T) {
		assert.False(t, VerifySignature("secret", payload, sign("other", payload)))
	})

	t.Run("tampered payload", func(t *testing.T) {
		sig := sign("secret", payload)
		assert.False(t, VerifySignature("secret", []byte(`{"object":"evil"}`), sig))
	})

	t.Run("missing prefix", func(t *testing.T) {
		assert.False(t, VerifySignature("secret", payload, "deadbeef"))
	})

	t.Run("no secret configured skips check", func(t *testing.T) {
		assert.True(t, VerifySignature("", payload, "sha256=whatever"))
	})

	t.Run("no header skips check", func(t *testing.T) {
		assert.True(t, VerifySignature("secret", payload, ""))
	})
}

func TestSendMessage(t *testing.T) {
	var gotPath, gotToken string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.URL.Query().Get("access_token")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := New(config.MessengerConfig{PageAccessToken: "page-token"}).WithBaseURL(srv.URL)
	require.NoError(t, client.SendMessage(context.Background(), "12345", "hello there"))

	assert.Equal(t, "/me/messages", gotPath)
	assert.Equal(t, "page-token", gotToken)

	var payload sendPayload
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	assert.Equal(t, "12345", payload.Recipient.ID)
	assert.Equal(t, "hello there", payload.Message.Text)
}

func TestSendMessageAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"Invalid PSID"}}`))
	}))
	defer srv.Close()

	client := New(config.MessengerConfig{PageAccessToken: "page-token"}).WithBaseURL(srv.URL)
	err := client.SendMessage(context.Background(), "bogus", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "Invalid PSID")
}

func TestSendMessageNoToken(t *testing.T) {
	client := New(config.MessengerConfig{})
	err := client.SendMessage(context.Background(), "12345", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FB_PAGE_ACCESS_TOKEN")
}
