package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	shelferrors "github.com/Aman-CERP/shelf/internal/errors"
)

// TopicURIPrefix prefixes the URI of every topic resource.
const TopicURIPrefix = "shelf://topics/"

// RegisterResources registers one markdown resource per topic listing its
// books. Topics added later appear after the server restarts.
func (s *Server) RegisterResources(ctx context.Context) error {
	m, err := s.manifests.Load()
	if err != nil {
		return fmt.Errorf("failed to load manifest: %w", err)
	}

	for _, t := range m.Topics {
		description := t.Description
		if description == "" {
			description = fmt.Sprintf("%d books", len(t.Books))
		}
		s.mcp.AddResource(
			&mcp.Resource{
				Name:        t.Label,
				URI:         TopicURIPrefix + t.ID,
				Description: description,
				MIMEType:    "text/markdown",
			},
			s.makeTopicHandler(t.ID),
		)
	}

	s.logger.Info("registered resources", "count", len(m.Topics))
	return nil
}

func (s *Server) makeTopicHandler(topicID string) mcp.ResourceHandler {
	return func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return s.ReadResource(ctx, TopicURIPrefix+topicID)
	}
}

// ReadResource renders the topic resource at uri.
func (s *Server) ReadResource(_ context.Context, uri string) (*mcp.ReadResourceResult, error) {
	id, ok := strings.CutPrefix(uri, TopicURIPrefix)
	if !ok || id == "" {
		return nil, NewResourceNotFoundError(uri)
	}

	m, err := s.manifests.Load()
	if err != nil {
		return nil, MapError(err)
	}
	t := m.Topic(id)
	if t == nil {
		return nil, NewResourceNotFoundError(uri)
	}
	books, err := s.listBooks(ListBooksInput{Topic: t.ID})
	if err != nil {
		return nil, MapError(err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", t.Label)
	if t.Description != "" {
		fmt.Fprintf(&sb, "%s\n\n", t.Description)
	}
	if len(t.Tags) > 0 {
		fmt.Fprintf(&sb, "Tags: %s\n\n", strings.Join(t.Tags, ", "))
	}
	sb.WriteString(FormatBooks(books))

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      uri,
				MIMEType: "text/markdown",
				Text:     sb.String(),
			},
		},
	}, nil
}

func topicNotFound(topic string) error {
	return shelferrors.Newf(shelferrors.ErrCodeTopicNotFound, "topic not found: %s", topic).
		WithSuggestion("call list_topics to see available topics")
}
