package web

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/mahdiyar-oraei/rag/internal/document"
	"github.com/mahdiyar-oraei/rag/internal/parser"
	"github.com/mahdiyar-oraei/rag/internal/rag"
	"github.com/mahdiyar-oraei/rag/internal/storage"
	"github.com/mahdiyar-oraei/rag/internal/vectordb"
)

type chatRequest struct {
	Question string `json:"question" validate:"required"`
	PSID     string `json:"psid"`
}

type chatSource struct {
	ObjectType string  `json:"object_type,omitempty"`
	Filename   string  `json:"filename,omitempty"`
	Page       string  `json:"page,omitempty"`
	Similarity float32 `json:"similarity"`
}

type chatResponse struct {
	Answer         string       `json:"answer"`
	CorrectedQuery string       `json:"corrected_query,omitempty"`
	Sources        []chatSource `json:"sources"`
}

type linkRequest struct {
	PSID        string `json:"psid" validate:"required"`
	ContactID   string `json:"contact_id" validate:"required"`
	ContactName string `json:"contact_name" validate:"required"`
}

func errorJSON(c echo.Context, status int, err error) error {
	return c.JSON(status, map[string]any{"error": err.Error()})
}

func (s *Server) indexPage(c echo.Context) error {
	return c.Render(http.StatusOK, "index.html", map[string]any{
		"Extensions": strings.Join(parser.Extensions(), ", "),
	})
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"ready":  s.chain.Ready(),
	})
}

// uploadDocuments accepts multipart files, writes them to temp paths, and
// runs the file indexing path. Unsupported files are skipped with a warning.
func (s *Server) uploadDocuments(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, fmt.Errorf("invalid multipart form: %w", err))
	}
	files := form.File["files"]
	if len(files) == 0 {
		return errorJSON(c, http.StatusBadRequest, fmt.Errorf("no files uploaded"))
	}

	var paths []string
	var skipped []string
	defer func() {
		for _, p := range paths {
			os.Remove(p)
		}
	}()

	for _, fh := range files {
		ext := strings.ToLower(filepath.Ext(fh.Filename))
		if !parser.Supported(ext) {
			skipped = append(skipped, fh.Filename)
			log.Warn().Str("file", fh.Filename).Msg("Skipping unsupported file")
			continue
		}

		src, err := fh.Open()
		if err != nil {
			return errorJSON(c, http.StatusInternalServerError, err)
		}
		tmp, err := os.CreateTemp("", "upload-*"+ext)
		if err != nil {
			src.Close()
			return errorJSON(c, http.StatusInternalServerError, err)
		}
		if _, err := tmp.ReadFrom(src); err != nil {
			src.Close()
			tmp.Close()
			return errorJSON(c, http.StatusInternalServerError, err)
		}
		src.Close()
		tmp.Close()
		paths = append(paths, tmp.Name())
	}

	if len(paths) == 0 {
		return errorJSON(c, http.StatusBadRequest, fmt.Errorf("no valid files to index"))
	}

	chunks, err := s.pipeline.IndexFiles(c.Request().Context(), paths)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"indexed": len(paths),
		"chunks":  chunks,
		"skipped": skipped,
	})
}

// chat answers a question, optionally scoped to a linked Messenger user.
func (s *Server) chat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	ctx := c.Request().Context()

	corrected, err := s.chain.CorrectQuery(ctx, req.Question)
	if err != nil {
		return errorJSON(c, http.StatusBadGateway, err)
	}

	var resp *rag.Response
	if req.PSID != "" {
		link, err := s.store.ContactForPSID(ctx, req.PSID)
		if err != nil {
			return errorJSON(c, http.StatusInternalServerError, err)
		}
		if link == nil {
			return errorJSON(c, http.StatusNotFound, fmt.Errorf("psid %s is not linked to a contact", req.PSID))
		}
		msgs, err := s.store.MessagesForPSID(ctx, req.PSID, 50)
		if err != nil {
			return errorJSON(c, http.StatusInternalServerError, err)
		}
		input := rag.WithConversation(storage.RenderTranscript(msgs), corrected)
		resp, err = s.chain.QueryForContact(ctx, link.ContactID, input)
		if err != nil {
			return errorJSON(c, http.StatusBadGateway, err)
		}
	} else {
		resp, err = s.chain.Query(ctx, corrected)
		if err != nil {
			return errorJSON(c, http.StatusBadGateway, err)
		}
	}

	out := chatResponse{Answer: resp.Answer, Sources: sourceSummaries(resp.Sources)}
	if !strings.EqualFold(corrected, req.Question) {
		out.CorrectedQuery = corrected
	}
	return c.JSON(http.StatusOK, out)
}

func sourceSummaries(results []vectordb.Result) []chatSource {
	sources := make([]chatSource, len(results))
	for i, r := range results {
		sources[i] = chatSource{
			ObjectType: r.Metadata[document.MetaObjectType],
			Filename:   r.Metadata[document.MetaFilename],
			Page:       r.Metadata[document.MetaPage],
			Similarity: r.Similarity,
		}
	}
	return sources
}

// syncHubSpot fetches all CRM objects, caches them, and reindexes the
// vector store with replace semantics.
func (s *Server) syncHubSpot(c echo.Context) error {
	if s.crm == nil {
		return errorJSON(c, http.StatusBadRequest, fmt.Errorf("HUBSPOT_ACCESS_TOKEN is not set"))
	}
	ctx := c.Request().Context()

	docs, counts, err := s.crm.LoadAll(ctx, func(objectType string, fetched int) {
		log.Debug().Str("object_type", objectType).Int("fetched", fetched).Msg("HubSpot sync progress")
	})
	if err != nil {
		return errorJSON(c, http.StatusBadGateway, err)
	}
	if len(docs) == 0 {
		return errorJSON(c, http.StatusNotFound, fmt.Errorf("no CRM records found in HubSpot"))
	}

	if err := s.store.SaveCRMRecords(ctx, docs); err != nil {
		return errorJSON(c, http.StatusInternalServerError, err)
	}
	if err := s.pipeline.IngestDocuments(ctx, docs, func(processed, total int, msg string) {
		log.Info().Msg(msg)
	}); err != nil {
		return errorJSON(c, http.StatusInternalServerError, err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"synced": len(docs),
		"counts": counts,
	})
}

// indexFromCache reindexes the vector store from cached CRM records without
// touching the HubSpot API.
func (s *Server) indexFromCache(c echo.Context) error {
	ctx := c.Request().Context()
	docs, err := s.store.LoadCRMRecords(ctx, nil)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err)
	}
	if len(docs) == 0 {
		return errorJSON(c, http.StatusBadRequest, fmt.Errorf("cache is empty, run a HubSpot sync first"))
	}

	if err := s.pipeline.IngestDocuments(ctx, docs, func(processed, total int, msg string) {
		log.Info().Msg(msg)
	}); err != nil {
		return errorJSON(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"indexed": len(docs)})
}

func (s *Server) cacheInfo(c echo.Context) error {
	ctx := c.Request().Context()
	counts, err := s.store.CacheCounts(ctx)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err)
	}
	ts, err := s.store.CacheTimestamp(ctx)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err)
	}
	stale, err := s.store.CacheStale(ctx, s.cfg.HubSpot.CacheTTLHours)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"counts":    counts,
		"synced_at": ts,
		"stale":     stale,
	})
}

func (s *Server) unlinkedContacts(c echo.Context) error {
	rows, err := s.store.UnlinkedPSIDs(c.Request().Context())
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, rows)
}

func (s *Server) linkedContacts(c echo.Context) error {
	rows, err := s.store.LinkedContacts(c.Request().Context())
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, rows)
}

func (s *Server) linkContact(c echo.Context) error {
	var req linkRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	if err := s.store.LinkContact(c.Request().Context(), req.PSID, req.ContactID, req.ContactName); err != nil {
		return errorJSON(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusCreated, map[string]any{"linked": req.PSID})
}

func (s *Server) conversation(c echo.Context) error {
	psid := c.Param("psid")
	limit := 100
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	msgs, err := s.store.MessagesForPSID(c.Request().Context(), psid, limit)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, msgs)
}
