package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahdiyar-oraei/rag/internal/config"
	"github.com/mahdiyar-oraei/rag/internal/rag"
	"github.com/mahdiyar-oraei/rag/internal/storage"
)

type fakeSender struct {
	sent map[string][]string
	err  error
}

func (f *fakeSender) SendMessage(ctx context.Context, psid, text string) error {
	if f.err != nil {
		return f.err
	}
	if f.sent == nil {
		f.sent = make(map[string][]string)
	}
	f.sent[psid] = append(f.sent[psid], text)
	return nil
}

type fakeAnswerer struct {
	answer       string
	ready        bool
	err          error
	gotContactID string
	gotQuery     string
}

func (f *fakeAnswerer) QueryForContact(ctx context.Context, contactID, query string) (*rag.Response, error) {
	f.gotContactID = contactID
	f.gotQuery = query
	if f.err != nil {
		return nil, f.err
	}
	return &rag.Response{Answer: f.answer}, nil
}

func (f *fakeAnswerer) Ready() bool { return f.ready }

type fixture struct {
	handler *Handler
	echo    *echo.Echo
	sender  *fakeSender
	store   *storage.Store
	cfg     *config.Config
}

func newFixture(t *testing.T, answerer Answerer, chainErr error) *fixture {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"), false)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Init(context.Background()))

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Messenger.VerifyToken = "verify-me"

	sender := &fakeSender{}
	handler := NewHandler(cfg, store, sender, func() (Answerer, error) {
		return answerer, chainErr
	})

	e := echo.New()
	handler.Register(e)
	return &fixture{handler: handler, echo: e, sender: sender, store: store, cfg: cfg}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.echo.ServeHTTP(rec, req)
	return rec
}

func messageEvent(psid, text string) string {
	return fmt.Sprintf(`{
		"object": "page",
		"entry": [
			{"messaging": [{"sender": {"id": %q}, "message": {"text": %q}}]}
		]
	}`, psid, text)
}

func postEvent(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func TestVerify(t *testing.T) {
	f := newFixture(t, &fakeAnswerer{}, nil)

	rec := f.do(httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "12345", rec.Body.String())
}

func TestVerifyRejectsBadToken(t *testing.T) {
	f := newFixture(t, &fakeAnswerer{}, nil)

	rec := f.do(httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=verify-me", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestReceiveRejectsBadSignature(t *testing.T) {
	f := newFixture(t, &fakeAnswerer{}, nil)
	f.cfg.Messenger.AppSecret = "app-secret"

	req := postEvent(messageEvent("psid-1", "hello"))
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	rec := f.do(req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, f.sender.sent)
}

func TestReceiveAcceptsValidSignature(t *testing.T) {
	f := newFixture(t, &fakeAnswerer{}, nil)
	f.cfg.Messenger.AppSecret = "app-secret"

	body := messageEvent("psid-1", "hello")
	mac := hmac.New(sha256.New, []byte("app-secret"))
	mac.Write([]byte(body))

	req := postEvent(body)
	req.Header.Set("X-Hub-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	rec := f.do(req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, f.sender.sent["psid-1"], 1)
}

func TestReceiveRejectsMalformedJSON(t *testing.T) {
	f := newFixture(t, &fakeAnswerer{}, nil)

	rec := f.do(postEvent("{not json"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReceiveIgnoresNonPageEvents(t *testing.T) {
	f := newFixture(t, &fakeAnswerer{}, nil)

	rec := f.do(postEvent(`{"object": "user", "entry": []}`))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.sender.sent)
}

func TestUnlinkedUserGetsCannedReply(t *testing.T) {
	f := newFixture(t, &fakeAnswerer{ready: true, answer: "should not be used"}, nil)

	rec := f.do(postEvent(messageEvent("stranger", "hi there")))
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, f.sender.sent["stranger"], 1)
	assert.Equal(t, unlinkedReply, f.sender.sent["stranger"][0])

	// both sides of the exchange are persisted
	msgs, err := f.store.MessagesForPSID(context.Background(), "stranger", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, storage.DirectionOut, msgs[0].Direction)
	assert.Equal(t, unlinkedReply, msgs[0].Body)
	assert.Equal(t, storage.DirectionIn, msgs[1].Direction)
	assert.Equal(t, "hi there", msgs[1].Body)
}

func TestLinkedUserGetsAnswer(t *testing.T) {
	answerer := &fakeAnswerer{ready: true, answer: "Your deal closes Friday."}
	f := newFixture(t, answerer, nil)
	require.NoError(t, f.store.LinkContact(context.Background(), "psid-1", "101", "Ada"))

	rec := f.do(postEvent(messageEvent("psid-1", "when does my deal close?")))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "101", answerer.gotContactID)
	assert.Equal(t, "when does my deal close?", answerer.gotQuery)
	require.Len(t, f.sender.sent["psid-1"], 1)
	assert.Equal(t, "Your deal closes Friday.", f.sender.sent["psid-1"][0])
}

func TestChainNotReady(t *testing.T) {
	f := newFixture(t, &fakeAnswerer{ready: false}, nil)
	require.NoError(t, f.store.LinkContact(context.Background(), "psid-1", "101", "Ada"))

	f.do(postEvent(messageEvent("psid-1", "hello")))
	require.Len(t, f.sender.sent["psid-1"], 1)
	assert.Equal(t, notReadyReply, f.sender.sent["psid-1"][0])
}

func TestChainLoadFailure(t *testing.T) {
	f := newFixture(t, nil, errors.New("no API key"))
	require.NoError(t, f.store.LinkContact(context.Background(), "psid-1", "101", "Ada"))

	f.do(postEvent(messageEvent("psid-1", "hello")))
	require.Len(t, f.sender.sent["psid-1"], 1)
	assert.Equal(t, notReadyReply, f.sender.sent["psid-1"][0])
}

func TestChainQueryError(t *testing.T) {
	f := newFixture(t, &fakeAnswerer{ready: true, err: errors.New("model down")}, nil)
	require.NoError(t, f.store.LinkContact(context.Background(), "psid-1", "101", "Ada"))

	f.do(postEvent(messageEvent("psid-1", "hello")))
	require.Len(t, f.sender.sent["psid-1"], 1)
	assert.Equal(t, chainErrorReply, f.sender.sent["psid-1"][0])
}

func TestEmptyMessageIgnored(t *testing.T) {
	f := newFixture(t, &fakeAnswerer{ready: true}, nil)

	f.do(postEvent(messageEvent("psid-1", "   ")))
	assert.Empty(t, f.sender.sent)

	f.do(postEvent(messageEvent("", "hello")))
	assert.Empty(t, f.sender.sent)
}

func TestChainLoadedOnce(t *testing.T) {
	calls := 0
	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"), false)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Init(context.Background()))

	cfg, err := config.Load("")
	require.NoError(t, err)

	answerer := &fakeAnswerer{ready: true, answer: "ok"}
	handler := NewHandler(cfg, store, &fakeSender{}, func() (Answerer, error) {
		calls++
		return answerer, nil
	})
	require.NoError(t, store.LinkContact(context.Background(), "psid-1", "101", "Ada"))

	e := echo.New()
	handler.Register(e)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, postEvent(messageEvent("psid-1", "hello")))
	}
	assert.Equal(t, 1, calls)
}
