package document

// Metadata keys shared across loaders, the CRM sync, and the vector store.
const (
	MetaSource     = "source"
	MetaFilename   = "filename"
	MetaPage       = "page"
	MetaChunk      = "chunk"
	MetaObjectType = "object_type"
	MetaObjectID   = "hs_object_id"
	MetaContactID  = "associated_contact_id"
)

// Document is a unit of text with string metadata, the shape the vector
// store and the splitter both work in.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// New returns a Document with a copy of the given metadata so callers can
// reuse the map.
func New(content string, metadata map[string]string) Document {
	md := make(map[string]string, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	return Document{Content: content, Metadata: md}
}

// CloneMetadata copies a document's metadata for derived documents (chunks).
func (d Document) CloneMetadata() map[string]string {
	md := make(map[string]string, len(d.Metadata))
	for k, v := range d.Metadata {
		md[k] = v
	}
	return md
}
