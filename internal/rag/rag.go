package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/mahdiyar-oraei/rag/internal/config"
	"github.com/mahdiyar-oraei/rag/internal/vectordb"
)

const systemPrompt = "You are a CRM sales intelligence assistant. " +
	"The context contains CRM records from HubSpot: Contacts, Companies, Deals, and Owners, " +
	"plus any documents indexed by the user. " +
	"Treat 'account' as a synonym for Company, 'deal size' as Amount, and 'rep' as Owner. " +
	"Synthesize information across record types to give a complete answer. " +
	"If partial information exists, share what you know and note what is missing. " +
	"Only say you don't know if the context contains no relevant information at all. " +
	"Do not invent data not present in the context."

const correctionPrompt = "Fix any typos and rephrase the following CRM question for clarity. " +
	"Return only the corrected question, no explanation:\n\n"

// NoContactInfoReply is the canned answer when contact-scoped retrieval
// produces nothing useful.
const NoContactInfoReply = "I couldn't find relevant information for your account."

// Embedder embeds query strings.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Retriever runs similarity searches over the vector store.
type Retriever interface {
	Query(ctx context.Context, embedding []float32, k int, where map[string]string) ([]vectordb.Result, error)
	QueryForContact(ctx context.Context, embedding []float32, k int, contactID string) ([]vectordb.Result, error)
	Count() int
}

// Completer runs a chat completion.
type Completer interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// Response carries the generated answer and the chunks it was grounded on.
type Response struct {
	Answer  string
	Sources []vectordb.Result
}

// Chain wires retrieval and completion into the answer path.
type Chain struct {
	embedder  Embedder
	retriever Retriever
	completer Completer
	cfg       *config.Config
}

func NewChain(retriever Retriever, embedder Embedder, completer Completer, cfg *config.Config) *Chain {
	return &Chain{embedder: embedder, retriever: retriever, completer: completer, cfg: cfg}
}

// Ready reports whether the vector store holds anything to retrieve from.
func (c *Chain) Ready() bool {
	return c.retriever.Count() > 0
}

// CorrectQuery asks the model to fix typos and clarify intent before
// retrieval. Disabled by config; blank input passes through.
func (c *Chain) CorrectQuery(ctx context.Context, query string) (string, error) {
	if c.cfg.RAG.SkipQueryCorrection || strings.TrimSpace(query) == "" {
		return query, nil
	}
	corrected, err := c.completer.Generate(ctx, "", correctionPrompt+query)
	if err != nil {
		return "", fmt.Errorf("correct query: %w", err)
	}
	corrected = strings.TrimSpace(corrected)
	if corrected == "" {
		return query, nil
	}
	return corrected, nil
}

// Query answers over the whole collection.
func (c *Chain) Query(ctx context.Context, query string) (*Response, error) {
	embedding, err := c.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	sources, err := c.retriever.Query(ctx, embedding, c.cfg.RAG.TopK, nil)
	if err != nil {
		return nil, err
	}
	return c.answer(ctx, query, sources)
}

// QueryForContact answers using only the contact's own record and its
// associated deals.
func (c *Chain) QueryForContact(ctx context.Context, contactID, query string) (*Response, error) {
	embedding, err := c.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	sources, err := c.retriever.QueryForContact(ctx, embedding, c.cfg.RAG.TopK, contactID)
	if err != nil {
		return nil, err
	}
	resp, err := c.answer(ctx, query, sources)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(resp.Answer) == "" {
		resp.Answer = NoContactInfoReply
	}
	return resp, nil
}

func (c *Chain) answer(ctx context.Context, query string, sources []vectordb.Result) (*Response, error) {
	var contextText strings.Builder
	for _, src := range sources {
		contextText.WriteString(src.Content)
		contextText.WriteString("\n\n")
	}

	log.Debug().Int("sources", len(sources)).Msg("Running completion")

	answer, err := c.completer.Generate(ctx,
		systemPrompt+"\n\nContext: "+contextText.String(),
		query,
	)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	return &Response{Answer: strings.TrimSpace(answer), Sources: sources}, nil
}

// WithConversation prefixes a rendered transcript to the question so the
// model sees the recent exchange with this contact.
func WithConversation(transcript, query string) string {
	if strings.TrimSpace(transcript) == "" {
		return query
	}
	return fmt.Sprintf("Recent conversation with this contact:\n%s\n\nCurrent question: %s", transcript, query)
}
