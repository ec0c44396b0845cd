package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"

	"github.com/mahdiyar-oraei/rag/internal/document"
)

// Message directions.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// ContactLink maps a Messenger PSID to a HubSpot contact.
type ContactLink struct {
	bun.BaseModel `bun:"table:contact_links,alias:cl"`

	PSID        string    `bun:"psid,pk" json:"psid"`
	ContactID   string    `bun:"hubspot_contact_id,notnull" json:"hubspot_contact_id"`
	ContactName string    `bun:"contact_name,notnull" json:"contact_name"`
	LinkedAt    time.Time `bun:"linked_at,notnull" json:"linked_at"`
}

// Message is one inbound or outbound Messenger message.
type Message struct {
	bun.BaseModel `bun:"table:messages,alias:m"`

	ID        int64     `bun:"id,pk,autoincrement" json:"id"`
	PSID      string    `bun:"psid,notnull" json:"psid"`
	Direction string    `bun:"direction,notnull" json:"direction"`
	Body      string    `bun:"body,notnull" json:"body"`
	CreatedAt time.Time `bun:"created_at,notnull" json:"created_at"`
}

// CRMRecord is a cached HubSpot record, so re-indexing doesn't require a
// fresh API sync.
type CRMRecord struct {
	bun.BaseModel `bun:"table:crm_records,alias:cr"`

	ObjectType   string    `bun:"object_type,pk" json:"object_type"`
	ObjectID     string    `bun:"hs_object_id,pk" json:"hs_object_id"`
	Content      string    `bun:"content,notnull" json:"content"`
	MetadataJSON string    `bun:"metadata_json,notnull" json:"-"`
	SyncedAt     time.Time `bun:"synced_at,notnull" json:"synced_at"`
}

// UnlinkedConversation summarizes messages from a PSID not yet linked to a
// contact.
type UnlinkedConversation struct {
	PSID          string    `bun:"psid" json:"psid"`
	LastMessageAt time.Time `bun:"last_message_at" json:"last_message_at"`
	MessageCount  int       `bun:"message_count" json:"message_count"`
	Preview       string    `bun:"preview" json:"preview"`
}

// LinkedContact is a contact link with its message count.
type LinkedContact struct {
	PSID         string    `bun:"psid" json:"psid"`
	ContactID    string    `bun:"hubspot_contact_id" json:"hubspot_contact_id"`
	ContactName  string    `bun:"contact_name" json:"contact_name"`
	LinkedAt     time.Time `bun:"linked_at" json:"linked_at"`
	MessageCount int       `bun:"message_count" json:"message_count"`
}

// Store wraps the relational database for links, messages, and the CRM cache.
type Store struct {
	db *bun.DB
}

// Open connects to the SQLite database at path.
func Open(path string, debug bool) (*Store, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db := bun.NewDB(sqldb, sqlitedialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Init creates tables and indexes if they do not exist.
func (s *Store) Init(ctx context.Context) error {
	models := []any{(*ContactLink)(nil), (*Message)(nil), (*CRMRecord)(nil)}
	for _, model := range models {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	if _, err := s.db.NewCreateIndex().
		Model((*Message)(nil)).
		Index("idx_messages_psid").
		Column("psid").
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

// LinkContact links (or relinks) a PSID to a HubSpot contact.
func (s *Store) LinkContact(ctx context.Context, psid, contactID, contactName string) error {
	link := &ContactLink{
		PSID:        psid,
		ContactID:   contactID,
		ContactName: contactName,
		LinkedAt:    time.Now().UTC(),
	}
	_, err := s.db.NewInsert().
		Model(link).
		On("CONFLICT (psid) DO UPDATE").
		Set("hubspot_contact_id = EXCLUDED.hubspot_contact_id").
		Set("contact_name = EXCLUDED.contact_name").
		Set("linked_at = EXCLUDED.linked_at").
		Exec(ctx)
	return err
}

// ContactForPSID returns the link for a PSID, or nil when unlinked.
func (s *Store) ContactForPSID(ctx context.Context, psid string) (*ContactLink, error) {
	link := new(ContactLink)
	err := s.db.NewSelect().Model(link).Where("psid = ?", psid).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return link, nil
}

// SaveMessage stores one inbound or outbound message.
func (s *Store) SaveMessage(ctx context.Context, psid, direction, body string) error {
	if direction != DirectionIn && direction != DirectionOut {
		return fmt.Errorf("invalid message direction: %q", direction)
	}
	msg := &Message{
		PSID:      psid,
		Direction: direction,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.NewInsert().Model(msg).Exec(ctx)
	return err
}

// MessagesForPSID returns the most recent messages for a PSID, newest first.
func (s *Store) MessagesForPSID(ctx context.Context, psid string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	var msgs []Message
	err := s.db.NewSelect().
		Model(&msgs).
		Where("psid = ?", psid).
		Order("created_at DESC").
		Limit(limit).
		Scan(ctx)
	return msgs, err
}

// UnlinkedPSIDs returns PSIDs with inbound messages but no contact link,
// most recent first, with a preview of the last inbound message.
func (s *Store) UnlinkedPSIDs(ctx context.Context) ([]UnlinkedConversation, error) {
	var rows []UnlinkedConversation
	err := s.db.NewRaw(`
		SELECT m.psid AS psid,
		       MAX(m.created_at) AS last_message_at,
		       COUNT(*) AS message_count,
		       (SELECT body FROM messages m2
		        WHERE m2.psid = m.psid AND m2.direction = 'in'
		        ORDER BY m2.created_at DESC LIMIT 1) AS preview
		FROM messages m
		LEFT JOIN contact_links cl ON m.psid = cl.psid
		WHERE cl.psid IS NULL AND m.direction = 'in'
		GROUP BY m.psid
		ORDER BY last_message_at DESC
	`).Scan(ctx, &rows)
	return rows, err
}

// LinkedContacts returns all links with message counts, newest link first.
func (s *Store) LinkedContacts(ctx context.Context) ([]LinkedContact, error) {
	var rows []LinkedContact
	err := s.db.NewRaw(`
		SELECT cl.psid, cl.hubspot_contact_id, cl.contact_name, cl.linked_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.psid = cl.psid) AS message_count
		FROM contact_links cl
		ORDER BY cl.linked_at DESC
	`).Scan(ctx, &rows)
	return rows, err
}

// RenderTranscript formats messages chronologically for inclusion in a
// prompt.
func RenderTranscript(msgs []Message) string {
	if len(msgs) == 0 {
		return ""
	}
	// MessagesForPSID returns newest first; render oldest first.
	var sb strings.Builder
	for i := len(msgs) - 1; i >= 0; i-- {
		role := "User"
		if msgs[i].Direction == DirectionOut {
			role = "Assistant"
		}
		sb.WriteString(fmt.Sprintf("[%s]: %s\n", role, msgs[i].Body))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// SaveCRMRecords upserts fetched CRM documents into the cache.
func (s *Store) SaveCRMRecords(ctx context.Context, docs []document.Document) error {
	if len(docs) == 0 {
		return nil
	}
	syncedAt := time.Now().UTC()
	records := make([]CRMRecord, 0, len(docs))
	for _, doc := range docs {
		metadataJSON, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		objectType := doc.Metadata[document.MetaObjectType]
		if objectType == "" {
			objectType = "unknown"
		}
		records = append(records, CRMRecord{
			ObjectType:   objectType,
			ObjectID:     doc.Metadata[document.MetaObjectID],
			Content:      doc.Content,
			MetadataJSON: string(metadataJSON),
			SyncedAt:     syncedAt,
		})
	}
	_, err := s.db.NewInsert().
		Model(&records).
		On("CONFLICT (object_type, hs_object_id) DO UPDATE").
		Set("content = EXCLUDED.content").
		Set("metadata_json = EXCLUDED.metadata_json").
		Set("synced_at = EXCLUDED.synced_at").
		Exec(ctx)
	return err
}

// LoadCRMRecords returns cached documents, optionally filtered by object
// types.
func (s *Store) LoadCRMRecords(ctx context.Context, objectTypes []string) ([]document.Document, error) {
	var records []CRMRecord
	q := s.db.NewSelect().Model(&records).Order("object_type", "hs_object_id")
	if len(objectTypes) > 0 {
		q = q.Where("object_type IN (?)", bun.In(objectTypes))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	docs := make([]document.Document, 0, len(records))
	for _, rec := range records {
		metadata := map[string]string{}
		if err := json.Unmarshal([]byte(rec.MetadataJSON), &metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata for %s/%s: %w", rec.ObjectType, rec.ObjectID, err)
		}
		docs = append(docs, document.Document{Content: rec.Content, Metadata: metadata})
	}
	return docs, nil
}

// CacheCounts returns the number of cached records per object type.
func (s *Store) CacheCounts(ctx context.Context) (map[string]int, error) {
	var rows []struct {
		ObjectType string `bun:"object_type"`
		Count      int    `bun:"count"`
	}
	err := s.db.NewSelect().
		Model((*CRMRecord)(nil)).
		Column("object_type").
		ColumnExpr("COUNT(*) AS count").
		Group("object_type").
		Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.ObjectType] = row.Count
	}
	return counts, nil
}

// CacheTimestamp returns the most recent sync time, or nil when the cache is
// empty. SQLite hands MAX() back as text, so the value is parsed here rather
// than scanned into a time.Time.
func (s *Store) CacheTimestamp(ctx context.Context) (*time.Time, error) {
	var latest sql.NullString
	err := s.db.NewSelect().
		Model((*CRMRecord)(nil)).
		ColumnExpr("MAX(synced_at)").
		Scan(ctx, &latest)
	if err != nil {
		return nil, err
	}
	if !latest.Valid || latest.String == "" {
		return nil, nil
	}
	t, err := parseDBTime(latest.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

var dbTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
}

func parseDBTime(value string) (time.Time, error) {
	var lastErr error
	for _, layout := range dbTimeLayouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q: %w", value, lastErr)
}

// CacheStale reports whether the cache is empty or older than ttlHours.
// A non-positive TTL disables staleness checks.
func (s *Store) CacheStale(ctx context.Context, ttlHours int) (bool, error) {
	if ttlHours <= 0 {
		return false, nil
	}
	ts, err := s.CacheTimestamp(ctx)
	if err != nil {
		return false, err
	}
	if ts == nil {
		return true, nil
	}
	return time.Since(*ts) > time.Duration(ttlHours)*time.Hour, nil
}

// ClearCache removes every cached CRM record.
func (s *Store) ClearCache(ctx context.Context) error {
	_, err := s.db.NewDelete().Model((*CRMRecord)(nil)).Where("1 = 1").Exec(ctx)
	return err
}
