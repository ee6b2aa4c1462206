package milvus

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/govdecisions/backend/pkg/logger"
)

type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

// DecisionEmbedding is one indexed decision: the embedded summary plus the
// fields the search surface returns without a storage round trip.
type DecisionEmbedding struct {
	Key              string
	Embedding        []float32
	Title            string
	Summary          string
	PolicyAreas      string
	GovernmentBodies string
	Date             string
	URL              string
}

type SearchResult struct {
	Key              string
	Title            string
	Summary          string
	PolicyAreas      string
	GovernmentBodies string
	Date             string
	URL              string
	Score            float32
}

func NewClient(endpoint, collectionName string, vectorDim int) (*Client, error) {
	c, err := client.NewGrpcClient(
		context.Background(),
		endpoint,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

func (m *Client) EnsureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		logger.Info("Collection already exists", zap.String("collection", m.collectionName))
		return nil
	}

	schema := &entity.Schema{
		CollectionName: m.collectionName,
		Description:    "Government decision summary embeddings",
		Fields: []*entity.Field{
			{
				Name:       "decision_key",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", m.vectorDim),
				},
			},
			{
				Name:     "title",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "512",
				},
			},
			{
				Name:     "summary",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "2048",
				},
			},
			{
				Name:     "policy_areas",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "256",
				},
			},
			{
				Name:     "government_bodies",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "256",
				},
			},
			{
				Name:     "decision_date",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "16",
				},
			},
			{
				Name:     "decision_url",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "512",
				},
			},
		},
	}

	err = m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, _ := entity.NewIndexIvfFlat(entity.L2, 1024)
	err = m.client.CreateIndex(ctx, m.collectionName, "embedding", idx, false)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	err = m.client.LoadCollection(ctx, m.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", m.collectionName))

	return nil
}

func (m *Client) Insert(ctx context.Context, items []DecisionEmbedding) error {
	if len(items) == 0 {
		return nil
	}

	keys := make([]string, len(items))
	embeddings := make([][]float32, len(items))
	titles := make([]string, len(items))
	summaries := make([]string, len(items))
	policyAreas := make([]string, len(items))
	governmentBodies := make([]string, len(items))
	dates := make([]string, len(items))
	urls := make([]string, len(items))

	for i, item := range items {
		keys[i] = item.Key
		embeddings[i] = item.Embedding
		titles[i] = item.Title
		summaries[i] = item.Summary
		policyAreas[i] = item.PolicyAreas
		governmentBodies[i] = item.GovernmentBodies
		dates[i] = item.Date
		urls[i] = item.URL
	}

	_, err := m.client.Insert(
		ctx,
		m.collectionName,
		"",
		entity.NewColumnVarChar("decision_key", keys),
		entity.NewColumnFloatVector("embedding", m.vectorDim, embeddings),
		entity.NewColumnVarChar("title", titles),
		entity.NewColumnVarChar("summary", summaries),
		entity.NewColumnVarChar("policy_areas", policyAreas),
		entity.NewColumnVarChar("government_bodies", governmentBodies),
		entity.NewColumnVarChar("decision_date", dates),
		entity.NewColumnVarChar("decision_url", urls),
	)

	if err != nil {
		return fmt.Errorf("failed to insert embeddings: %w", err)
	}

	err = m.client.Flush(ctx, m.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Decisions indexed in vector DB", zap.Int("count", len(items)))

	return nil
}

// Delete removes indexed decisions by key, used before re-indexing records
// whose summary changed.
func (m *Client) Delete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	expr := "decision_key in ["
	for i, key := range keys {
		if i > 0 {
			expr += ", "
		}
		expr += fmt.Sprintf("%q", key)
	}
	expr += "]"

	if err := m.client.Delete(ctx, m.collectionName, "", expr); err != nil {
		return fmt.Errorf("failed to delete embeddings: %w", err)
	}
	return nil
}

// Search runs nearest-neighbor search over the summaries. A non-empty year
// narrows by decision date prefix.
func (m *Client) Search(ctx context.Context, queryEmbedding []float32, topK int, year string) ([]SearchResult, error) {
	expr := ""
	if year != "" {
		expr = fmt.Sprintf(`decision_date like "%s%%"`, year)
	}

	sp, _ := entity.NewIndexIvfFlatSearchParam(16)

	searchResult, err := m.client.Search(
		ctx,
		m.collectionName,
		[]string{},
		expr,
		[]string{"decision_key", "title", "summary", "policy_areas", "government_bodies", "decision_date", "decision_url"},
		[]entity.Vector{entity.FloatVector(queryEmbedding)},
		"embedding",
		entity.L2,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]SearchResult, 0)
	for _, sr := range searchResult {
		for i := 0; i < sr.ResultCount; i++ {
			keyCol := sr.Fields.GetColumn("decision_key")
			titleCol := sr.Fields.GetColumn("title")
			summaryCol := sr.Fields.GetColumn("summary")
			policyCol := sr.Fields.GetColumn("policy_areas")
			bodiesCol := sr.Fields.GetColumn("government_bodies")
			dateCol := sr.Fields.GetColumn("decision_date")
			urlCol := sr.Fields.GetColumn("decision_url")

			key, _ := keyCol.Get(i)
			title, _ := titleCol.Get(i)
			summary, _ := summaryCol.Get(i)
			policy, _ := policyCol.Get(i)
			bodies, _ := bodiesCol.Get(i)
			date, _ := dateCol.Get(i)
			url, _ := urlCol.Get(i)

			results = append(results, SearchResult{
				Key:              key.(string),
				Title:            title.(string),
				Summary:          summary.(string),
				PolicyAreas:      policy.(string),
				GovernmentBodies: bodies.(string),
				Date:             date.(string),
				URL:              url.(string),
				Score:            sr.Scores[i],
			})
		}
	}

	logger.Info("Vector search completed",
		zap.Int("topK", topK),
		zap.Int("results", len(results)),
		zap.String("filter", expr),
	)

	return results, nil
}
