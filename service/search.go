package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/Itish41/IAOMS/models"
	"github.com/elastic/go-elasticsearch/v8"
	"go.uber.org/zap"
)

// SearchIndex keeps a searchable copy of documents in Elasticsearch.
type SearchIndex struct {
	esClient *elasticsearch.Client
	index    string
	log      *zap.Logger
}

// NewSearchIndex returns nil when no Elasticsearch URL is configured.
func NewSearchIndex(url, index string, log *zap.Logger) (*SearchIndex, error) {
	if url == "" {
		return nil, nil
	}
	esClient, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{url},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	return &SearchIndex{esClient: esClient, index: index, log: log}, nil
}

// SearchHit is one matching document.
type SearchHit struct {
	ID           string                `json:"id"`
	Title        string                `json:"title"`
	Type         models.DocumentType   `json:"type"`
	SubmitterID  string                `json:"submitter_id"`
	Submitter    string                `json:"submitter_name"`
	Priority     models.Priority       `json:"priority"`
	Status       models.DocumentStatus `json:"status"`
	Description  string                `json:"description"`
	Recipients   []string              `json:"recipients"`
	RecipientIDs []string              `json:"recipient_ids"`
}

// IndexDocument upserts doc. Failures are logged and never break the write path.
func (s *SearchIndex) IndexDocument(ctx context.Context, doc *models.Document) {
	hit := SearchHit{
		ID:           doc.ID,
		Title:        doc.Title,
		Type:         doc.Type,
		SubmitterID:  doc.SubmitterID,
		Submitter:    doc.SubmitterName,
		Priority:     doc.Priority,
		Status:       doc.Status,
		Description:  doc.Description,
		Recipients:   doc.Recipients,
		RecipientIDs: doc.RecipientIDs,
	}
	body, err := json.Marshal(hit)
	if err != nil {
		s.log.Warn("failed to marshal document for indexing", zap.String("document_id", doc.ID), zap.Error(err))
		return
	}

	res, err := s.esClient.Index(
		s.index,
		bytes.NewReader(body),
		s.esClient.Index.WithDocumentID(doc.ID),
		s.esClient.Index.WithContext(ctx),
	)
	if err != nil {
		s.log.Warn("elasticsearch indexing error", zap.String("document_id", doc.ID), zap.Error(err))
		return
	}
	defer res.Body.Close()

	if res.IsError() {
		s.log.Warn("elasticsearch indexing failed", zap.String("document_id", doc.ID), zap.String("response", res.String()))
	}
}

// RemoveDocument drops doc from the index.
func (s *SearchIndex) RemoveDocument(ctx context.Context, id string) {
	res, err := s.esClient.Delete(s.index, id, s.esClient.Delete.WithContext(ctx))
	if err != nil {
		s.log.Warn("elasticsearch delete error", zap.String("document_id", id), zap.Error(err))
		return
	}
	defer res.Body.Close()
}

// Search runs a full-text query over title and description.
func (s *SearchIndex) Search(ctx context.Context, query string) ([]SearchHit, error) {
	searchQuery := map[string]interface{}{
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  query,
				"fields": []string{"title^2", "description", "submitter_name", "recipients"},
			},
		},
	}
	body, err := json.Marshal(searchQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search query: %w", err)
	}

	res, err := s.esClient.Search(
		s.esClient.Search.WithContext(ctx),
		s.esClient.Search.WithIndex(s.index),
		s.esClient.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch search failed: %s", res.String())
	}

	var result struct {
		Hits struct {
			Hits []struct {
				Source SearchHit `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	hits := make([]SearchHit, 0, len(result.Hits.Hits))
	for _, h := range result.Hits.Hits {
		hits = append(hits, h.Source)
	}
	return hits, nil
}
