package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/philippgille/chromem-go"
)

// DecisionMatch is one semantic search hit over a project's decisions.
type DecisionMatch struct {
	ID         string
	Project    string
	Number     int
	Title      string
	Content    string
	Similarity float32
}

// decisionCollection maps a project to its vector collection name.
func decisionCollection(project string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, project)
	return "decisions_" + sanitized
}

// UpsertDecisionVector indexes a decision under its project collection.
// Embeddings are computed by the caller; chromem only stores them.
func (s *Store) UpsertDecisionVector(ctx context.Context, d *Decision, embedding []float32) error {
	col, err := s.vectors.GetOrCreateCollection(decisionCollection(d.Project), nil, nil)
	if err != nil {
		return err
	}

	content := d.Title
	if d.Body != "" {
		content = d.Title + "\n\n" + d.Body
	}

	return col.AddDocuments(ctx, []chromem.Document{
		{
			ID: d.ID,
			Metadata: map[string]string{
				"project": d.Project,
				"number":  strconv.Itoa(d.Number),
				"title":   d.Title,
			},
			Embedding: embedding,
			Content:   content,
		},
	}, 1)
}

// SearchDecisionVectors returns the closest decisions for an embedding.
// A project with no indexed decisions yields an empty result.
func (s *Store) SearchDecisionVectors(ctx context.Context, project string, embedding []float32, limit int) ([]DecisionMatch, error) {
	col := s.vectors.GetCollection(decisionCollection(project), nil)
	if col == nil {
		return []DecisionMatch{}, nil
	}

	if count := col.Count(); limit > count {
		limit = count
	}
	if limit <= 0 {
		return []DecisionMatch{}, nil
	}

	docs, err := col.QueryEmbedding(ctx, embedding, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}

	matches := make([]DecisionMatch, 0, len(docs))
	for _, doc := range docs {
		number, _ := strconv.Atoi(doc.Metadata["number"])
		matches = append(matches, DecisionMatch{
			ID:         doc.ID,
			Project:    doc.Metadata["project"],
			Number:     number,
			Title:      doc.Metadata["title"],
			Content:    doc.Content,
			Similarity: doc.Similarity,
		})
	}
	return matches, nil
}
