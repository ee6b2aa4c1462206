// Package search answers free-text queries over enriched decisions. Queries
// are embedded, matched against the vector index, and optionally fed to the
// language model for a grounded answer.
package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/govdecisions/backend/internal/enrich"
	"github.com/govdecisions/backend/internal/metrics"
	"github.com/govdecisions/backend/internal/storage/models"
	"github.com/govdecisions/backend/internal/vector/milvus"
	"github.com/govdecisions/backend/pkg/logger"
	"github.com/govdecisions/backend/pkg/utils"
)

const (
	defaultTopK = 10
	maxTopK     = 50

	// answerSources caps how many results are quoted into the answer prompt.
	answerSources = 5

	indexBatchSize = 50
)

// LLM covers the model operations search needs: query embedding and answer
// generation.
type LLM interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	Complete(ctx context.Context, req enrich.CompletionRequest) (*enrich.CompletionResponse, error)
}

// Index is the vector store the service searches and maintains.
type Index interface {
	Insert(ctx context.Context, items []milvus.DecisionEmbedding) error
	Delete(ctx context.Context, keys []string) error
	Search(ctx context.Context, queryEmbedding []float32, topK int, year string) ([]milvus.SearchResult, error)
}

// Store persists search history and tracks which records are indexed.
type Store interface {
	InsertSearchRecord(record *models.SearchRecord) error
	ListSearchHistory(limit int) ([]models.SearchRecord, error)
	ListUnembedded(limit int) ([]models.Decision, error)
	SetEmbeddingID(key, embeddingID string) error
}

// Cache is the optional response and embedding cache. A nil Cache disables
// caching.
type Cache interface {
	GetSearch(ctx context.Context, queryHash string, response interface{}) (bool, error)
	SetSearch(ctx context.Context, queryHash string, response interface{}, ttl time.Duration) error
	GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error
}

type Request struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
	Year  string `json:"year,omitempty"`
}

type Result struct {
	Key              string  `json:"key"`
	Title            string  `json:"title"`
	Summary          string  `json:"summary,omitempty"`
	PolicyAreas      string  `json:"policy_areas,omitempty"`
	GovernmentBodies string  `json:"government_bodies,omitempty"`
	Date             string  `json:"date,omitempty"`
	URL              string  `json:"url,omitempty"`
	Score            float32 `json:"score"`
}

type Response struct {
	ID        string   `json:"id"`
	Query     string   `json:"query"`
	Results   []Result `json:"results"`
	Answer    string   `json:"answer,omitempty"`
	LatencyMS int      `json:"latency_ms"`
	Cached    bool     `json:"cached,omitempty"`
}

// IndexReport summarizes one indexing pass over un-embedded records.
type IndexReport struct {
	Scanned int `json:"scanned"`
	Indexed int `json:"indexed"`
	Failed  int `json:"failed"`
}

type Service struct {
	llm      LLM
	index    Index
	store    Store
	cache    Cache
	cacheTTL time.Duration
	logger   *zap.Logger
}

func NewService(llm LLM, index Index, store Store, cache Cache, cacheTTL time.Duration) *Service {
	return &Service{
		llm:      llm,
		index:    index,
		store:    store,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   logger.GetLogger(),
	}
}

// Search embeds the query and returns the closest indexed decisions. Results
// are served from cache when an identical query was answered recently.
func (s *Service) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("search query is empty")
	}
	topK := clampTopK(req.TopK)

	cacheKey := searchCacheKey("search", query, topK, req.Year)
	if cached := s.fromCache(ctx, cacheKey); cached != nil {
		return cached, nil
	}

	response := &Response{
		ID:    uuid.New().String(),
		Query: query,
	}

	results, err := s.retrieve(ctx, query, topK, req.Year)
	if err != nil {
		metrics.SearchTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	response.Results = results
	response.LatencyMS = int(time.Since(start).Milliseconds())

	s.finishSearch(ctx, cacheKey, response)
	return response, nil
}

// Ask runs a search and has the language model answer the question using only
// the retrieved summaries. The answer cites decision keys so it can be checked
// against storage.
func (s *Service) Ask(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	question := strings.TrimSpace(req.Query)
	if question == "" {
		return nil, fmt.Errorf("question is empty")
	}
	topK := clampTopK(req.TopK)

	cacheKey := searchCacheKey("ask", question, topK, req.Year)
	if cached := s.fromCache(ctx, cacheKey); cached != nil {
		return cached, nil
	}

	response := &Response{
		ID:    uuid.New().String(),
		Query: question,
	}

	results, err := s.retrieve(ctx, question, topK, req.Year)
	if err != nil {
		metrics.SearchTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	response.Results = results

	answer, err := s.answer(ctx, question, results)
	if err != nil {
		metrics.SearchTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}
	response.Answer = answer
	response.LatencyMS = int(time.Since(start).Milliseconds())

	s.finishSearch(ctx, cacheKey, response)
	return response, nil
}

// History returns recent searches, newest first.
func (s *Service) History(limit int) ([]models.SearchRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.store.ListSearchHistory(limit)
}

// IndexPending embeds stored summaries that have no vector yet and pushes
// them to the index. Each indexed record is stamped with its embedding id so
// the next pass skips it. Single-record failures are counted, not fatal.
func (s *Service) IndexPending(ctx context.Context, limit int) (*IndexReport, error) {
	if limit <= 0 {
		limit = indexBatchSize
	}

	decisions, err := s.store.ListUnembedded(limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unembedded decisions: %w", err)
	}

	report := &IndexReport{Scanned: len(decisions)}
	if len(decisions) == 0 {
		return report, nil
	}

	var batch []milvus.DecisionEmbedding
	var keys []string
	for i := range decisions {
		d := &decisions[i]
		if err := ctx.Err(); err != nil {
			return report, err
		}

		embedding, err := s.llm.GenerateEmbedding(ctx, embeddingText(d))
		if err != nil {
			report.Failed++
			s.logger.Warn("Failed to embed decision",
				zap.String("key", d.Key),
				zap.Error(err))
			continue
		}

		batch = append(batch, milvus.DecisionEmbedding{
			Key:              d.Key,
			Embedding:        embedding,
			Title:            d.Title,
			Summary:          d.Summary,
			PolicyAreas:      d.PolicyAreas,
			GovernmentBodies: d.GovernmentBodies,
			Date:             d.Date,
			URL:              d.URL,
		})
		keys = append(keys, d.Key)
	}

	if len(batch) == 0 {
		return report, nil
	}

	// Replace any stale vectors for these keys before inserting.
	if err := s.index.Delete(ctx, keys); err != nil {
		s.logger.Warn("Failed to clear stale vectors", zap.Error(err))
	}
	if err := s.index.Insert(ctx, batch); err != nil {
		report.Failed += len(batch)
		return report, fmt.Errorf("failed to insert embeddings: %w", err)
	}

	for _, key := range keys {
		if err := s.store.SetEmbeddingID(key, key); err != nil {
			s.logger.Warn("Failed to record embedding id",
				zap.String("key", key),
				zap.Error(err))
			continue
		}
		report.Indexed++
	}

	s.logger.Info("Indexing pass finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("indexed", report.Indexed),
		zap.Int("failed", report.Failed))
	return report, nil
}

func (s *Service) retrieve(ctx context.Context, query string, topK int, year string) ([]Result, error) {
	embedding, err := s.embedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	matches, err := s.index.Search(ctx, embedding, topK, year)
	if err != nil {
		return nil, fmt.Errorf("failed to search index: %w", err)
	}

	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		results = append(results, Result{
			Key:              m.Key,
			Title:            m.Title,
			Summary:          m.Summary,
			PolicyAreas:      m.PolicyAreas,
			GovernmentBodies: m.GovernmentBodies,
			Date:             m.Date,
			URL:              m.URL,
			Score:            m.Score,
		})
	}
	return results, nil
}

// embedQuery embeds the query text, reusing a cached vector when one exists.
// The response cache keys on query plus filters, so the same question asked
// with a different year or topK still skips the embedding call here.
func (s *Service) embedQuery(ctx context.Context, query string) ([]float32, error) {
	hash := utils.HashString(query)
	if s.cache != nil {
		embedding, found, err := s.cache.GetEmbedding(ctx, hash)
		if err != nil {
			s.logger.Warn("Embedding cache read failed", zap.Error(err))
		} else if found {
			return embedding, nil
		}
	}

	embedding, err := s.llm.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetEmbedding(ctx, hash, embedding, s.cacheTTL); err != nil {
			s.logger.Warn("Embedding cache write failed", zap.Error(err))
		}
	}
	return embedding, nil
}

func (s *Service) answer(ctx context.Context, question string, results []Result) (string, error) {
	if len(results) == 0 {
		return "No matching decisions were found for this question.", nil
	}

	resp, err := s.llm.Complete(ctx, enrich.CompletionRequest{
		SystemPrompt: answerSystemPrompt,
		UserPrompt:   formatAnswerPrompt(question, results),
		Temperature:  0.2,
		MaxTokens:    600,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// finishSearch records history, caches the response and bumps metrics. All of
// it is best effort once the results themselves exist.
func (s *Service) finishSearch(ctx context.Context, cacheKey string, response *Response) {
	record := &models.SearchRecord{
		ID:          response.ID,
		QueryText:   response.Query,
		ResultCount: len(response.Results),
		LatencyMS:   response.LatencyMS,
		CreatedAt:   time.Now(),
	}
	if err := s.store.InsertSearchRecord(record); err != nil {
		s.logger.Warn("Failed to record search history", zap.Error(err))
	}

	if s.cache != nil {
		if err := s.cache.SetSearch(ctx, cacheKey, response, s.cacheTTL); err != nil {
			s.logger.Warn("Failed to cache search response", zap.Error(err))
		}
	}

	metrics.SearchDuration.Observe(float64(response.LatencyMS) / 1000)
	metrics.SearchTotal.WithLabelValues("ok").Inc()

	s.logger.Info("Search completed",
		zap.String("id", response.ID),
		zap.Int("results", len(response.Results)),
		zap.Int("latency_ms", response.LatencyMS))
}

func (s *Service) fromCache(ctx context.Context, cacheKey string) *Response {
	if s.cache == nil {
		return nil
	}

	var cached Response
	found, err := s.cache.GetSearch(ctx, cacheKey, &cached)
	if err != nil {
		s.logger.Warn("Search cache lookup failed", zap.Error(err))
		return nil
	}
	if !found {
		return nil
	}

	cached.Cached = true
	metrics.SearchTotal.WithLabelValues("ok").Inc()
	return &cached
}

func clampTopK(topK int) int {
	if topK <= 0 {
		return defaultTopK
	}
	if topK > maxTopK {
		return maxTopK
	}
	return topK
}

func searchCacheKey(kind, query string, topK int, year string) string {
	return utils.HashString(fmt.Sprintf("%s:%s:%d:%s", kind, query, topK, year))
}

// embeddingText is what gets vectorized for a decision: the title plus the
// summary, which together carry the semantic content of the record.
func embeddingText(d *models.Decision) string {
	if d.Summary == "" {
		return d.Title
	}
	return d.Title + "\n" + d.Summary
}

const answerSystemPrompt = `You answer questions about Israeli government decisions.
Use only the numbered sources provided. Cite sources as [decision <key>].
If the sources do not contain the answer, say that no relevant decision was found.
Answer in the language of the question.`

func formatAnswerPrompt(question string, results []Result) string {
	var b strings.Builder

	b.WriteString("Sources:\n\n")
	for i, r := range results {
		if i >= answerSources {
			break
		}
		fmt.Fprintf(&b, "[Source %d] decision %s (%s): %s\n", i+1, r.Key, r.Date, r.Title)
		if r.Summary != "" {
			b.WriteString(r.Summary)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("Question: ")
	b.WriteString(question)
	return b.String()
}
