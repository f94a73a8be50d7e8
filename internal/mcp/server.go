package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/shelf/internal/async"
	"github.com/Aman-CERP/shelf/internal/config"
	"github.com/Aman-CERP/shelf/internal/delta"
	"github.com/Aman-CERP/shelf/internal/embed"
	"github.com/Aman-CERP/shelf/internal/manifest"
	"github.com/Aman-CERP/shelf/internal/scanner"
	"github.com/Aman-CERP/shelf/internal/search"
	"github.com/Aman-CERP/shelf/internal/store"
	"github.com/Aman-CERP/shelf/pkg/version"
)

// statusProbeTimeout bounds the embedder availability check of index_status.
const statusProbeTimeout = 5 * time.Second

// Querier answers retrieval requests. *search.Engine satisfies it.
type Querier interface {
	Query(ctx context.Context, req search.Request) (*search.Response, error)
}

// TopicCache reports which topic indices are in memory. *search.Loader satisfies it.
type TopicCache interface {
	Loaded() []string
}

// Server is the MCP server for shelf.
// It bridges AI clients with the topic-partitioned retrieval engine.
type Server struct {
	mcp       *mcp.Server
	engine    Querier
	manifests search.ManifestSource
	embedder  embed.Embedder
	config    *config.Config
	logger    *slog.Logger

	// Background warm-up progress (nil when no warm-up runs)
	warmup *async.Progress
	cache  TopicCache

	mu sync.RWMutex
}

// NewServer creates a new MCP server.
func NewServer(engine Querier, manifests search.ManifestSource, embedder embed.Embedder, cfg *config.Config) (*Server, error) {
	if engine == nil {
		return nil, errors.New("query engine is required")
	}
	if manifests == nil {
		return nil, errors.New("manifest source is required")
	}
	if cfg == nil {
		cfg = config.NewConfig()
	}

	s := &Server{
		engine:    engine,
		manifests: manifests,
		embedder:  embedder,
		config:    cfg,
		logger:    slog.Default(),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    version.Name,
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()

	return s, nil
}

// SetWarmupProgress attaches the background warm-up tracker reported by index_status.
func (s *Server) SetWarmupProgress(p *async.Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warmup = p
}

// SetTopicCache attaches the loader whose cached topics are reported as loaded.
func (s *Server) SetTopicCache(c TopicCache) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = c
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// CallTool invokes a tool by name in process. Arguments are decoded the way
// the SDK decodes them; failures come back as *MCPError.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case ToolQueryLibrary:
		var in QueryInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		out, err := s.queryLibrary(ctx, in)
		if err != nil {
			return nil, MapError(err)
		}
		return out, nil
	case ToolListTopics:
		out, err := s.listTopics()
		if err != nil {
			return nil, MapError(err)
		}
		return out, nil
	case ToolListBooks:
		var in ListBooksInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		out, err := s.listBooks(in)
		if err != nil {
			return nil, MapError(err)
		}
		return out, nil
	case ToolIndexStatus:
		out, err := s.indexStatus(ctx)
		if err != nil {
			return nil, MapError(err)
		}
		return out, nil
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

func decodeArgs(args map[string]any, dst any) error {
	if len(args) == 0 {
		return nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return NewInvalidParamsError(fmt.Sprintf("invalid arguments: %v", err))
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return NewInvalidParamsError(fmt.Sprintf("invalid arguments: %v", err))
	}
	return nil
}

func (s *Server) queryLibrary(ctx context.Context, in QueryInput) (QueryOutput, error) {
	if strings.TrimSpace(in.Query) == "" {
		return QueryOutput{}, NewInvalidParamsError("query cannot be empty or whitespace only")
	}

	start := time.Now()
	requestID := generateRequestID()
	s.logger.Info("query_library started",
		slog.String("request_id", requestID),
		slog.String("query", in.Query),
		slog.String("topic", in.Topic),
		slog.String("book", in.Book),
		slog.Int("k", in.K))

	resp, err := s.engine.Query(ctx, search.Request{Query: in.Query, Topic: in.Topic, Book: in.Book, K: in.K})
	duration := time.Since(start)
	if err != nil {
		s.logger.Error("query_library failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return QueryOutput{}, err
	}

	s.logger.Info("query_library completed",
		slog.String("request_id", requestID),
		slog.String("topic", resp.Topic),
		slog.String("resolution", string(resp.Resolution)),
		slog.Duration("duration", duration),
		slog.Int("result_count", len(resp.Results)))
	return ToQueryOutput(resp), nil
}

func (s *Server) loadedTopics() map[string]bool {
	s.mu.RLock()
	cache := s.cache
	s.mu.RUnlock()

	loaded := map[string]bool{}
	if cache != nil {
		for _, id := range cache.Loaded() {
			loaded[id] = true
		}
	}
	return loaded
}

func (s *Server) listTopics() (ListTopicsOutput, error) {
	m, err := s.manifests.Load()
	if err != nil {
		return ListTopicsOutput{}, err
	}
	loaded := s.loadedTopics()

	out := ListTopicsOutput{Topics: make([]TopicOutput, 0, len(m.Topics))}
	for _, t := range m.Topics {
		out.Topics = append(out.Topics, TopicOutput{
			ID:           t.ID,
			Label:        t.Label,
			Description:  t.Description,
			Tags:         t.Tags,
			BookCount:    len(t.Books),
			IndexedBooks: t.IndexedBooks(),
			Loaded:       loaded[t.ID],
		})
	}
	return out, nil
}

func (s *Server) listBooks(in ListBooksInput) (ListBooksOutput, error) {
	m, err := s.manifests.Load()
	if err != nil {
		return ListBooksOutput{}, err
	}

	topics := m.Topics
	if in.Topic != "" {
		t := m.FindTopic(in.Topic)
		if t == nil {
			return ListBooksOutput{}, topicNotFound(in.Topic)
		}
		topics = []*manifest.Topic{t}
	}

	out := ListBooksOutput{Books: []BookOutput{}}
	for _, t := range topics {
		for _, b := range t.Books {
			out.Books = append(out.Books, BookOutput{
				ID:         b.ID,
				Title:      b.Title,
				Author:     b.Author,
				Year:       b.Year,
				Topic:      t.ID,
				TopicLabel: t.Label,
				Tags:       b.Tags,
				Format:     b.Format,
				Chunks:     b.Chunks,
				Indexed:    b.LastIndexedAt != nil,
			})
		}
	}
	return out, nil
}

func (s *Server) indexStatus(ctx context.Context) (*IndexStatusOutput, error) {
	start := time.Now()
	requestID := generateRequestID()

	m, err := s.manifests.Load()
	if err != nil {
		return nil, err
	}
	loaded := s.loadedTopics()
	dataDir := s.config.DataPath()

	out := &IndexStatusOutput{
		Library: LibraryInfo{
			Path:           s.config.Library.Root,
			SchemaVersion:  m.SchemaVersion,
			EmbeddingModel: m.EmbeddingModel,
			Topics:         len(m.Topics),
			Books:          m.BookCount(),
		},
		Topics:     make([]TopicStatus, 0, len(m.Topics)),
		Embeddings: s.embeddingInfo(ctx),
	}
	if m.GeneratedAt != nil {
		out.Library.GeneratedAt = m.GeneratedAt.Format(time.RFC3339)
	}

	for _, t := range m.Topics {
		ts := TopicStatus{
			ID:           t.ID,
			Books:        len(t.Books),
			IndexedBooks: t.IndexedBooks(),
			Loaded:       loaded[t.ID],
		}
		out.Library.IndexedBooks += ts.IndexedBooks
		if t.LastIndexedAt != nil {
			ts.LastIndexedAt = t.LastIndexedAt.Format(time.RFC3339)
		}
		if stamp, err := store.ReadStamp(store.Dir(dataDir, t.ID)); err == nil {
			ts.Chunks = stamp.Count
			ts.Model = stamp.Model
		}
		out.Topics = append(out.Topics, ts)
	}

	if root := s.config.Library.Root; root != "" {
		snap, err := scanner.Scan(ctx, root, scanner.Options{
			Extensions: s.config.Library.Extensions,
			DataDir:    filepath.Base(dataDir),
		})
		if err != nil {
			s.logger.Warn("index_status scan failed",
				slog.String("request_id", requestID),
				slog.String("error", err.Error()))
		} else {
			counts := delta.Detect(snap, m).Counts()
			out.Pending = &counts
		}
	}

	s.mu.RLock()
	if s.warmup != nil {
		snap := s.warmup.Snapshot()
		out.Warmup = &snap
	}
	s.mu.RUnlock()

	s.logger.Info("index_status completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.Int("topics", len(out.Topics)))
	return out, nil
}

func (s *Server) embeddingInfo(ctx context.Context) EmbeddingInfo {
	info := EmbeddingInfo{Provider: s.config.Embeddings.Provider, Status: "unavailable"}
	if s.embedder == nil {
		info.Model = "none"
		return info
	}
	info.Model = s.embedder.ModelName()
	info.Dimensions = s.embedder.Dimensions()
	info.IsStatic = strings.HasPrefix(info.Model, string(embed.ProviderStatic))

	probeCtx, cancel := context.WithTimeout(ctx, statusProbeTimeout)
	defer cancel()
	if s.embedder.Available(probeCtx) {
		info.Status = "ready"
	}
	return info
}

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: ToolQueryLibrary,
		Description: "Search the personal book library for passages relevant to a question. " +
			"Only one topic is searched per call: pass topic or book to choose it, otherwise it is inferred from the query. " +
			"Returns passages with book, author and page citations.",
	}, s.mcpQueryHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolListTopics,
		Description: "List the library's topics with book counts. Use the ids as the topic argument of query_library.",
	}, s.mcpListTopicsHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolListBooks,
		Description: "List books, optionally only those of one topic. Use the ids or titles as the book argument of query_library.",
	}, s.mcpListBooksHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolIndexStatus,
		Description: "Report per-topic index state, pending library changes and which embedder is active.",
	}, s.mcpIndexStatusHandler)

	s.logger.Debug("MCP tools registered", slog.Int("count", len(ToolNames())))
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func (s *Server) mcpQueryHandler(ctx context.Context, _ *mcp.CallToolRequest, input QueryInput) (
	*mcp.CallToolResult,
	QueryOutput,
	error,
) {
	out, err := s.queryLibrary(ctx, input)
	if err != nil {
		return nil, QueryOutput{}, MapError(err)
	}
	return textResult(FormatQueryResults(out)), out, nil
}

func (s *Server) mcpListTopicsHandler(_ context.Context, _ *mcp.CallToolRequest, _ ListTopicsInput) (
	*mcp.CallToolResult,
	ListTopicsOutput,
	error,
) {
	out, err := s.listTopics()
	if err != nil {
		return nil, ListTopicsOutput{}, MapError(err)
	}
	return textResult(FormatTopics(out)), out, nil
}

func (s *Server) mcpListBooksHandler(_ context.Context, _ *mcp.CallToolRequest, input ListBooksInput) (
	*mcp.CallToolResult,
	ListBooksOutput,
	error,
) {
	out, err := s.listBooks(input)
	if err != nil {
		return nil, ListBooksOutput{}, MapError(err)
	}
	return textResult(FormatBooks(out)), out, nil
}

func (s *Server) mcpIndexStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult,
	*IndexStatusOutput,
	error,
) {
	out, err := s.indexStatus(ctx)
	if err != nil {
		return nil, nil, MapError(err)
	}
	return nil, out, nil
}

// Serve runs the server over stdio until ctx is canceled or the client
// disconnects.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("Starting MCP server", slog.String("transport", "stdio"))

	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("MCP server stopped with error",
			slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("MCP server stopped gracefully")
	return nil
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	return uuid.NewString()[:8]
}
