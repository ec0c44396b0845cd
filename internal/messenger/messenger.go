package messenger

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mahdiyar-oraei/rag/internal/config"
)

const graphAPIBase = "https://graph.facebook.com/v21.0"

const signaturePrefix = "sha256="

// Client sends messages through the Facebook Graph Send API.
type Client struct {
	baseURL    string
	pageToken  string
	httpClient *http.Client
}

func New(cfg config.MessengerConfig) *Client {
	return &Client{
		baseURL:    graphAPIBase,
		pageToken:  cfg.PageAccessToken,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// WithBaseURL overrides the Graph API host, for tests.
func (c *Client) WithBaseURL(base string) *Client {
	c.baseURL = strings.TrimRight(base, "/")
	return c
}

type sendPayload struct {
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
}

// SendMessage delivers a text message to a PSID via the Send API.
func (c *Client) SendMessage(ctx context.Context, psid, text string) error {
	if c.pageToken == "" {
		return fmt.Errorf("FB_PAGE_ACCESS_TOKEN is not set")
	}

	var payload sendPayload
	payload.Recipient.ID = psid
	payload.Message.Text = text
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	endpoint := c.baseURL + "/me/messages?access_token=" + url.QueryEscape(c.pageToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("send api returned %d: %s", resp.StatusCode, string(respBody))
	}
	log.Debug().Str("psid", psid).Msg("Sent Messenger reply")
	return nil
}

// VerifySignature checks the X-Hub-Signature-256 header against the raw
// payload. Verification is skipped when no app secret is configured or the
// header is absent (development setups); a malformed header fails.
func VerifySignature(appSecret string, payload []byte, signature string) bool {
	if appSecret == "" || signature == "" {
		return true
	}
	if !strings.HasPrefix(signature, signaturePrefix) {
		return false
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(payload)
	expected := signaturePrefix + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
