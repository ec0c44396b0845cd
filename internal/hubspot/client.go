package hubspot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mahdiyar-oraei/rag/internal/config"
	"github.com/mahdiyar-oraei/rag/internal/document"
)

const (
	defaultBaseURL = "https://api.hubapi.com"
	euBaseURL      = "https://api-eu1.hubapi.com"
	pageLimit      = 100
)

var contactProps = []string{"firstname", "lastname", "email", "phone", "company", "jobtitle"}
var companyProps = []string{"name", "domain", "industry", "city", "state", "country", "phone"}
var dealProps = []string{"dealname", "dealstage", "amount", "closedate", "pipeline"}

// ProgressFunc reports how many records of an object type have been fetched.
type ProgressFunc func(objectType string, fetched int)

// Client fetches CRM records from the HubSpot REST API and converts them to
// documents for the ingest pipeline.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New builds a client. EU private app tokens (pat-eu1-...) are routed to the
// EU API host unless an explicit base URL is configured.
func New(cfg config.HubSpotConfig) (*Client, error) {
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("HUBSPOT_ACCESS_TOKEN is not set")
	}
	base := cfg.BaseURL
	if base == "" {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(cfg.AccessToken)), "pat-eu1") {
			base = euBaseURL
		} else {
			base = defaultBaseURL
		}
	}
	return &Client{
		baseURL:    strings.TrimRight(base, "/"),
		token:      cfg.AccessToken,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

type pageResponse struct {
	Results []record `json:"results"`
	Paging  *paging  `json:"paging"`
}

type record struct {
	ID           string                  `json:"id"`
	Properties   map[string]string       `json:"properties"`
	Associations map[string]associations `json:"associations"`
	// Owner records carry their fields at the top level.
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type associations struct {
	Results []struct {
		ID string `json:"id"`
	} `json:"results"`
}

type paging struct {
	Next *struct {
		After string `json:"after"`
	} `json:"next"`
}

func (c *Client) getPage(ctx context.Context, path string, query url.Values) (*pageResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hubspot request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hubspot %s returned %d: %s", path, resp.StatusCode, string(body))
	}

	var page pageResponse
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("decode hubspot page: %w", err)
	}
	return &page, nil
}

func (c *Client) fetchAll(ctx context.Context, objectType, path string, query url.Values, onProgress ProgressFunc, convert func(record) document.Document) ([]document.Document, error) {
	var docs []document.Document
	after := ""
	for {
		q := url.Values{}
		for k, vs := range query {
			q[k] = vs
		}
		q.Set("limit", strconv.Itoa(pageLimit))
		if after != "" {
			q.Set("after", after)
		}

		page, err := c.getPage(ctx, path, q)
		if err != nil {
			return nil, err
		}
		for _, rec := range page.Results {
			docs = append(docs, convert(rec))
		}
		if onProgress != nil {
			onProgress(objectType, len(docs))
		}

		if page.Paging == nil || page.Paging.Next == nil || page.Paging.Next.After == "" {
			return docs, nil
		}
		after = page.Paging.Next.After
	}
}

func prop(rec record, key string) string {
	if v := rec.Properties[key]; v != "" {
		return v
	}
	return "N/A"
}

// Contacts fetches all contacts as documents.
func (c *Client) Contacts(ctx context.Context, onProgress ProgressFunc) ([]document.Document, error) {
	q := url.Values{"properties": []string{strings.Join(contactProps, ",")}}
	return c.fetchAll(ctx, "contact", "/crm/v3/objects/contacts", q, onProgress, func(rec record) document.Document {
		name := strings.TrimSpace(rec.Properties["firstname"] + " " + rec.Properties["lastname"])
		if name == "" {
			name = "Unknown"
		}
		lines := []string{
			"Contact: " + name,
			"Email: " + prop(rec, "email"),
			"Phone: " + prop(rec, "phone"),
			"Company: " + prop(rec, "company"),
			"Job Title: " + prop(rec, "jobtitle"),
		}
		return document.New(strings.Join(lines, "\n"), map[string]string{
			document.MetaSource:     "hubspot",
			document.MetaObjectType: "contact",
			document.MetaObjectID:   rec.ID,
		})
	})
}

// Companies fetches all companies as documents.
func (c *Client) Companies(ctx context.Context, onProgress ProgressFunc) ([]document.Document, error) {
	q := url.Values{"properties": []string{strings.Join(companyProps, ",")}}
	return c.fetchAll(ctx, "company", "/crm/v3/objects/companies", q, onProgress, func(rec record) document.Document {
		var location []string
		for _, k := range []string{"city", "state", "country"} {
			if v := rec.Properties[k]; v != "" {
				location = append(location, v)
			}
		}
		name := rec.Properties["name"]
		if name == "" {
			name = "Unknown"
		}
		lines := []string{
			"Company: " + name,
			"Domain: " + prop(rec, "domain"),
			"Industry: " + prop(rec, "industry"),
			"Location: " + strings.Join(location, ", "),
			"Phone: " + prop(rec, "phone"),
		}
		return document.New(strings.Join(lines, "\n"), map[string]string{
			document.MetaSource:     "hubspot",
			document.MetaObjectType: "company",
			document.MetaObjectID:   rec.ID,
		})
	})
}

// Deals fetches all deals, enriched with company names from a prior
// Companies pass and tagged with the first associated contact.
func (c *Client) Deals(ctx context.Context, companies []document.Document, onProgress ProgressFunc) ([]document.Document, error) {
	companyNames := companyNameMap(companies)
	q := url.Values{
		"properties":   []string{strings.Join(dealProps, ",")},
		"associations": []string{"companies,contacts"},
	}
	return c.fetchAll(ctx, "deal", "/crm/v3/objects/deals", q, onProgress, func(rec record) document.Document {
		amount := "N/A"
		if raw := rec.Properties["amount"]; raw != "" {
			if v, err := strconv.ParseFloat(raw, 64); err == nil {
				amount = fmt.Sprintf("$%.2f", v)
			}
		}
		name := rec.Properties["dealname"]
		if name == "" {
			name = "Unknown"
		}
		companyName := "N/A"
		if id := firstAssociation(rec, "companies"); id != "" {
			if n, ok := companyNames[id]; ok {
				companyName = n
			}
		}
		lines := []string{
			"Deal: " + name,
			"Stage: " + prop(rec, "dealstage"),
			"Pipeline: " + prop(rec, "pipeline"),
			"Amount: " + amount,
			"Close Date: " + prop(rec, "closedate"),
			"Company: " + companyName,
		}
		md := map[string]string{
			document.MetaSource:     "hubspot",
			document.MetaObjectType: "deal",
			document.MetaObjectID:   rec.ID,
		}
		if contactID := firstAssociation(rec, "contacts"); contactID != "" {
			md[document.MetaContactID] = contactID
		}
		return document.New(strings.Join(lines, "\n"), md)
	})
}

// Owners fetches all owners (sales reps) as documents.
func (c *Client) Owners(ctx context.Context, onProgress ProgressFunc) ([]document.Document, error) {
	return c.fetchAll(ctx, "owner", "/crm/v3/owners", url.Values{}, onProgress, func(rec record) document.Document {
		name := strings.TrimSpace(rec.FirstName + " " + rec.LastName)
		if name == "" {
			name = "Unknown"
		}
		email := rec.Email
		if email == "" {
			email = "N/A"
		}
		lines := []string{"Owner: " + name, "Email: " + email}
		return document.New(strings.Join(lines, "\n"), map[string]string{
			document.MetaSource:     "hubspot",
			document.MetaObjectType: "owner",
			document.MetaObjectID:   rec.ID,
		})
	})
}

// LoadAll fetches every CRM object type and returns the combined documents
// with per-type counts.
func (c *Client) LoadAll(ctx context.Context, onProgress ProgressFunc) ([]document.Document, map[string]int, error) {
	counts := make(map[string]int)

	contacts, err := c.Contacts(ctx, onProgress)
	if err != nil {
		return nil, nil, err
	}
	counts["contact"] = len(contacts)

	companies, err := c.Companies(ctx, onProgress)
	if err != nil {
		return nil, nil, err
	}
	counts["company"] = len(companies)

	deals, err := c.Deals(ctx, companies, onProgress)
	if err != nil {
		return nil, nil, err
	}
	counts["deal"] = len(deals)

	owners, err := c.Owners(ctx, onProgress)
	if err != nil {
		return nil, nil, err
	}
	counts["owner"] = len(owners)

	all := make([]document.Document, 0, len(contacts)+len(companies)+len(deals)+len(owners))
	all = append(all, contacts...)
	all = append(all, companies...)
	all = append(all, deals...)
	all = append(all, owners...)

	log.Info().Interface("counts", counts).Msg("Fetched CRM records")
	return all, counts, nil
}

func firstAssociation(rec record, key string) string {
	assoc, ok := rec.Associations[key]
	if !ok || len(assoc.Results) == 0 {
		return ""
	}
	return assoc.Results[0].ID
}

func companyNameMap(companies []document.Document) map[string]string {
	names := make(map[string]string, len(companies))
	for _, doc := range companies {
		id := doc.Metadata[document.MetaObjectID]
		if id == "" {
			continue
		}
		firstLine, _, _ := strings.Cut(doc.Content, "\n")
		name := strings.TrimSpace(strings.TrimPrefix(firstLine, "Company: "))
		if name == "" {
			name = "Unknown"
		}
		names[id] = name
	}
	return names
}
