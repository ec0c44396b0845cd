package web

import (
	"context"
	"embed"
	"html/template"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"

	"github.com/mahdiyar-oraei/rag/internal/config"
	"github.com/mahdiyar-oraei/rag/internal/document"
	"github.com/mahdiyar-oraei/rag/internal/hubspot"
	"github.com/mahdiyar-oraei/rag/internal/ingest"
	"github.com/mahdiyar-oraei/rag/internal/rag"
	"github.com/mahdiyar-oraei/rag/internal/storage"
)

//go:embed templates/index.html
var templatesFS embed.FS

// Answerer is the RAG chain surface the handlers need.
type Answerer interface {
	CorrectQuery(ctx context.Context, query string) (string, error)
	Query(ctx context.Context, query string) (*rag.Response, error)
	QueryForContact(ctx context.Context, contactID, query string) (*rag.Response, error)
	Ready() bool
}

// Indexer is the ingest pipeline surface the handlers need.
type Indexer interface {
	IndexFiles(ctx context.Context, paths []string) (int, error)
	IngestDocuments(ctx context.Context, docs []document.Document, onProgress ingest.ProgressFunc) error
}

// CRMLoader fetches all CRM records from HubSpot.
type CRMLoader interface {
	LoadAll(ctx context.Context, onProgress hubspot.ProgressFunc) ([]document.Document, map[string]int, error)
}

// Server hosts the chat UI and the JSON API.
type Server struct {
	echo     *echo.Echo
	cfg      *config.Config
	chain    Answerer
	pipeline Indexer
	store    *storage.Store
	crm      CRMLoader
}

type payloadValidator struct {
	validate *validator.Validate
}

func (pv *payloadValidator) Validate(i any) error {
	if err := pv.validate.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

type htmlRenderer struct {
	templates *template.Template
}

func (r *htmlRenderer) Render(w io.Writer, name string, data any, _ echo.Context) error {
	return r.templates.ExecuteTemplate(w, name, data)
}

// NewServer wires routes. crm may be nil when no HubSpot token is
// configured; the sync endpoints then return an explanatory error.
func NewServer(cfg *config.Config, chain Answerer, pipeline Indexer, store *storage.Store, crm CRMLoader) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMiddleware.Recover())
	e.Validator = &payloadValidator{validate: validator.New()}
	e.Renderer = &htmlRenderer{
		templates: template.Must(template.ParseFS(templatesFS, "templates/*.html")),
	}

	s := &Server{echo: e, cfg: cfg, chain: chain, pipeline: pipeline, store: store, crm: crm}

	e.GET("/", s.indexPage)
	e.GET("/health", s.health)

	api := e.Group("/api")
	api.POST("/documents", s.uploadDocuments)
	api.POST("/chat", s.chat)
	api.POST("/hubspot/sync", s.syncHubSpot)
	api.POST("/hubspot/index", s.indexFromCache)
	api.GET("/hubspot/cache", s.cacheInfo)
	api.GET("/contacts/unlinked", s.unlinkedContacts)
	api.GET("/contacts/links", s.linkedContacts)
	api.POST("/contacts/links", s.linkContact)
	api.GET("/conversations/:psid", s.conversation)

	return s
}

// Start blocks serving HTTP on the given address.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Echo exposes the router for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
