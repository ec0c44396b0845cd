package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/mahdiyar-oraei/rag/internal/config"
	"github.com/mahdiyar-oraei/rag/internal/messenger"
	"github.com/mahdiyar-oraei/rag/internal/rag"
	"github.com/mahdiyar-oraei/rag/internal/storage"
)

// Canned replies for users the RAG chain cannot serve yet.
const (
	unlinkedReply   = "Thanks for reaching out! An agent will connect your account shortly."
	notReadyReply   = "Your account is connected, but our knowledge base is not ready yet. Please try again later."
	chainErrorReply = "Sorry, I encountered an error. Please try again."
)

// Answerer is the contact-scoped slice of the RAG chain.
type Answerer interface {
	QueryForContact(ctx context.Context, contactID, query string) (*rag.Response, error)
	Ready() bool
}

// Sender delivers replies to Messenger users.
type Sender interface {
	SendMessage(ctx context.Context, psid, text string) error
}

// ChainFunc builds the RAG chain on first use. Deferred so the webhook
// process doesn't load the vector store (or require an API key) at boot.
type ChainFunc func() (Answerer, error)

// Handler serves the Messenger webhook endpoints.
type Handler struct {
	cfg     *config.Config
	store   *storage.Store
	sender  Sender
	chainFn ChainFunc

	once  sync.Once
	chain Answerer
	err   error
}

func NewHandler(cfg *config.Config, store *storage.Store, sender Sender, chainFn ChainFunc) *Handler {
	return &Handler{cfg: cfg, store: store, sender: sender, chainFn: chainFn}
}

// Register mounts the webhook routes.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/webhook", h.Verify)
	e.POST("/webhook", h.Receive)
}

// Verify answers Facebook's subscription challenge.
func (h *Handler) Verify(c echo.Context) error {
	mode := c.QueryParam("hub.mode")
	token := c.QueryParam("hub.verify_token")
	challenge := c.QueryParam("hub.challenge")
	if mode == "subscribe" && token == h.cfg.Messenger.VerifyToken && challenge != "" {
		return c.String(http.StatusOK, challenge)
	}
	return c.String(http.StatusForbidden, "Forbidden")
}

type event struct {
	Object string `json:"object"`
	Entry  []struct {
		Messaging []messagingEvent `json:"messaging"`
	} `json:"entry"`
}

type messagingEvent struct {
	Sender struct {
		ID string `json:"id"`
	} `json:"sender"`
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
}

// Receive handles incoming Messenger events and dispatches replies. It
// always returns 200 once the payload is accepted, so Facebook doesn't
// retry events whose replies failed downstream.
func (h *Handler) Receive(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.String(http.StatusBadRequest, "Bad request")
	}
	signature := c.Request().Header.Get("X-Hub-Signature-256")
	if !messenger.VerifySignature(h.cfg.Messenger.AppSecret, body, signature) {
		return c.String(http.StatusUnauthorized, "Invalid signature")
	}

	var evt event
	if err := json.Unmarshal(body, &evt); err != nil {
		return c.String(http.StatusBadRequest, "Bad request")
	}
	if evt.Object != "page" {
		return c.String(http.StatusOK, "OK")
	}

	ctx := c.Request().Context()
	for _, entry := range evt.Entry {
		for _, msg := range entry.Messaging {
			h.handleMessage(ctx, msg)
		}
	}
	return c.String(http.StatusOK, "OK")
}

func (h *Handler) handleMessage(ctx context.Context, msg messagingEvent) {
	psid := msg.Sender.ID
	text := strings.TrimSpace(msg.Message.Text)
	if psid == "" || text == "" {
		return
	}

	if err := h.store.SaveMessage(ctx, psid, storage.DirectionIn, text); err != nil {
		log.Error().Err(err).Str("psid", psid).Msg("Failed to save inbound message")
	}

	h.reply(ctx, psid, h.replyText(ctx, psid, text))
}

func (h *Handler) replyText(ctx context.Context, psid, text string) string {
	link, err := h.store.ContactForPSID(ctx, psid)
	if err != nil {
		log.Error().Err(err).Str("psid", psid).Msg("Contact lookup failed")
		return chainErrorReply
	}
	if link == nil {
		return unlinkedReply
	}

	chain, err := h.loadChain()
	if err != nil || !chain.Ready() {
		if err != nil {
			log.Error().Err(err).Msg("RAG chain unavailable")
		}
		return notReadyReply
	}

	resp, err := chain.QueryForContact(ctx, link.ContactID, text)
	if err != nil {
		log.Error().Err(err).Str("psid", psid).Msg("Contact-scoped query failed")
		return chainErrorReply
	}
	return resp.Answer
}

func (h *Handler) reply(ctx context.Context, psid, text string) {
	if err := h.sender.SendMessage(ctx, psid, text); err != nil {
		log.Error().Err(err).Str("psid", psid).Msg("Failed to send reply")
		return
	}
	if err := h.store.SaveMessage(ctx, psid, storage.DirectionOut, text); err != nil {
		log.Error().Err(err).Str("psid", psid).Msg("Failed to save outbound message")
	}
}

func (h *Handler) loadChain() (Answerer, error) {
	h.once.Do(func() {
		h.chain, h.err = h.chainFn()
	})
	return h.chain, h.err
}
