package mcp

import (
	"github.com/Aman-CERP/shelf/internal/async"
	"github.com/Aman-CERP/shelf/internal/delta"
)

// Tool names.
const (
	ToolQueryLibrary = "query_library"
	ToolListTopics   = "list_topics"
	ToolListBooks    = "list_books"
	ToolIndexStatus  = "index_status"
)

// ToolNames returns the registered tool names in registration order.
func ToolNames() []string {
	return []string{ToolQueryLibrary, ToolListTopics, ToolListBooks, ToolIndexStatus}
}

// QueryInput defines the input schema for the query_library tool.
type QueryInput struct {
	Query string `json:"query" jsonschema:"what to look for, in natural language"`
	Topic string `json:"topic,omitempty" jsonschema:"topic id or label; when empty the topic is inferred from the query"`
	Book  string `json:"book,omitempty" jsonschema:"book id or title; restricts results to that book"`
	K     int    `json:"k,omitempty" jsonschema:"number of passages to return, default 5, max 50"`
}

// QueryOutput defines the output schema for the query_library tool.
type QueryOutput struct {
	Query      string          `json:"query"`
	Topic      string          `json:"topic" jsonschema:"id of the topic that was searched"`
	TopicLabel string          `json:"topic_label"`
	Resolution string          `json:"resolution" jsonschema:"how the topic was chosen: explicit, book, inferred, default or fallback"`
	Results    []PassageOutput `json:"results"`
}

// PassageOutput is one matching passage with its citation.
type PassageOutput struct {
	Text       string  `json:"text"`
	BookID     string  `json:"book_id"`
	BookTitle  string  `json:"book_title"`
	Author     string  `json:"author,omitempty"`
	Topic      string  `json:"topic"`
	Location   string  `json:"location,omitempty" jsonschema:"page, chapter or paragraph where the passage starts"`
	Similarity float32 `json:"similarity"`
	Distance   float32 `json:"distance"`
}

// ListTopicsInput defines the input schema for the list_topics tool (no parameters).
type ListTopicsInput struct{}

// ListTopicsOutput defines the output schema for the list_topics tool.
type ListTopicsOutput struct {
	Topics []TopicOutput `json:"topics"`
}

// TopicOutput describes one topic.
type TopicOutput struct {
	ID           string   `json:"id"`
	Label        string   `json:"label"`
	Description  string   `json:"description,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	BookCount    int      `json:"book_count"`
	IndexedBooks int      `json:"indexed_books"`
	Loaded       bool     `json:"loaded" jsonschema:"true when the topic index is in memory"`
}

// ListBooksInput defines the input schema for the list_books tool.
type ListBooksInput struct {
	Topic string `json:"topic,omitempty" jsonschema:"topic id or label; when empty every book is listed"`
}

// ListBooksOutput defines the output schema for the list_books tool.
type ListBooksOutput struct {
	Books []BookOutput `json:"books"`
}

// BookOutput describes one book.
type BookOutput struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Author     string   `json:"author,omitempty"`
	Year       *int     `json:"year,omitempty"`
	Topic      string   `json:"topic"`
	TopicLabel string   `json:"topic_label"`
	Tags       []string `json:"tags,omitempty"`
	Format     string   `json:"format,omitempty"`
	Chunks     int      `json:"chunks"`
	Indexed    bool     `json:"indexed"`
}

// IndexStatusInput defines the input schema for the index_status tool (no parameters).
type IndexStatusInput struct{}

// IndexStatusOutput defines the output schema for the index_status tool.
type IndexStatusOutput struct {
	Library    LibraryInfo            `json:"library"`
	Topics     []TopicStatus          `json:"topics"`
	Embeddings EmbeddingInfo          `json:"embeddings"`
	Pending    *delta.Counts          `json:"pending,omitempty" jsonschema:"books changed on disk since the last index run"`
	Warmup     *async.ProgressSnapshot `json:"warmup,omitempty"`
}

// LibraryInfo summarizes the manifest.
type LibraryInfo struct {
	Path           string `json:"path"`
	SchemaVersion  string `json:"schema_version"`
	EmbeddingModel string `json:"embedding_model,omitempty"`
	Topics         int    `json:"topics"`
	Books          int    `json:"books"`
	IndexedBooks   int    `json:"indexed_books"`
	GeneratedAt    string `json:"generated_at,omitempty"`
}

// TopicStatus is the index state of one topic.
type TopicStatus struct {
	ID            string `json:"id"`
	Books         int    `json:"books"`
	IndexedBooks  int    `json:"indexed_books"`
	Chunks        int    `json:"chunks"`
	Model         string `json:"model,omitempty"`
	LastIndexedAt string `json:"last_indexed_at,omitempty"`
	Loaded        bool   `json:"loaded"`
}

// EmbeddingInfo contains information about the embedding configuration.
type EmbeddingInfo struct {
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
	Status     string `json:"status" jsonschema:"ready or unavailable"`
	IsStatic   bool   `json:"is_static" jsonschema:"true when the offline hashing embedder is active; similarity quality is low"`
}
