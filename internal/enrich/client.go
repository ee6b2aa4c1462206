package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/govdecisions/backend/internal/metrics"
	"github.com/govdecisions/backend/internal/storage/models"
	"github.com/govdecisions/backend/pkg/circuitbreaker"
	"github.com/govdecisions/backend/pkg/logger"
	"github.com/govdecisions/backend/pkg/retry"
)

type Client struct {
	client         *openai.Client
	model          string
	embeddingModel string
	temperature    float32
	maxTokens      int
	cb             *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
}

type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
}

type CompletionResponse struct {
	Content string
	Usage   Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Enrichment holds raw AI output for one decision. Tag fields are free text
// and must pass the tag validator before storage.
type Enrichment struct {
	Summary          string `json:"summary"`
	Operativity      string `json:"operativity"`
	PolicyAreas      string `json:"policy_areas"`
	GovernmentBodies string `json:"government_bodies"`
	Locations        string `json:"locations"`
}

func NewClient(apiKey, model, embeddingModel string, temperature float32, maxTokens int) *Client {
	client := openai.NewClient(apiKey)

	cb := circuitbreaker.NewCircuitBreaker("enrich", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("Enrichment client initialized",
		zap.String("model", model),
		zap.String("embedding_model", embeddingModel),
	)

	return &Client{
		client:         client,
		model:          model,
		embeddingModel: embeddingModel,
		temperature:    temperature,
		maxTokens:      maxTokens,
		cb:             cb,
		retryConfig:    retryConfig,
	}
}

func (c *Client) Breaker() *circuitbreaker.CircuitBreaker {
	return c.cb
}

func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		},
		{
			Role:    openai.ChatMessageRoleUser,
			Content: req.UserPrompt,
		},
	}

	var result *CompletionResponse

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(
				ctx,
				openai.ChatCompletionRequest{
					Model:       c.model,
					Messages:    messages,
					Temperature: temperature,
					MaxTokens:   maxTokens,
				},
			)

			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}

			metrics.LLMTokensUsed.WithLabelValues(c.model, "prompt").Add(float64(resp.Usage.PromptTokens))
			metrics.LLMTokensUsed.WithLabelValues(c.model, "completion").Add(float64(resp.Usage.CompletionTokens))

			logger.Debug("Completion generated",
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)

			result = &CompletionResponse{
				Content: resp.Choices[0].Message.Content,
				Usage: Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				},
			}

			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	return result, nil
}

func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var embedding []float32

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateEmbeddings(
				ctx,
				openai.EmbeddingRequest{
					Input: []string{text},
					Model: openai.EmbeddingModel(c.embeddingModel),
				},
			)

			if err != nil {
				return fmt.Errorf("failed to generate embedding: %w", err)
			}

			embedding = make([]float32, len(resp.Data[0].Embedding))
			for i, v := range resp.Data[0].Embedding {
				embedding[i] = v
			}

			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	return embedding, nil
}

// Summarize produces a 2-3 sentence summary of a decision. Input text is
// Hebrew; the summary stays in the source language.
func (c *Client) Summarize(ctx context.Context, title, content string) (string, error) {
	start := time.Now()

	systemPrompt := `You summarize Israeli government decisions. Write a concise 2-3 sentence summary in the language of the source text. State what was decided, which bodies are responsible, and any budget or deadline. No preamble.`

	userPrompt := fmt.Sprintf("Title: %s\n\nDecision text:\n%s", title, content)

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.3,
		MaxTokens:    300,
	})

	metrics.EnrichmentDuration.WithLabelValues("summarize").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.EnrichmentFailures.WithLabelValues("summarize").Inc()
		return "", fmt.Errorf("failed to summarize: %w", err)
	}

	return strings.TrimSpace(resp.Content), nil
}

// ClassifyOperativity labels a decision Operative (allocates budget, sets
// deadlines, orders actions) or Declarative (states positions or intentions).
func (c *Client) ClassifyOperativity(ctx context.Context, content string) (string, error) {
	start := time.Now()

	systemPrompt := `You classify Israeli government decisions. Answer with exactly one word: "Operative" if the decision orders concrete actions, allocates budget, or sets deadlines; "Declarative" if it states positions, intentions, or appreciation without concrete obligations.`

	userPrompt := fmt.Sprintf("Classify this decision:\n\n%s", content)

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.1,
		MaxTokens:    10,
	})

	metrics.EnrichmentDuration.WithLabelValues("operativity").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.EnrichmentFailures.WithLabelValues("operativity").Inc()
		return "", fmt.Errorf("failed to classify operativity: %w", err)
	}

	label, err := parseOperativity(resp.Content)
	if err != nil {
		metrics.EnrichmentFailures.WithLabelValues("operativity").Inc()
		return "", err
	}
	return label, nil
}

// ProposeTags asks for free-text tag candidates for all three tag fields at
// once. Output is unvalidated; only the tag validator may accept it.
func (c *Client) ProposeTags(ctx context.Context, title, content string) (*Enrichment, error) {
	start := time.Now()

	systemPrompt := `You tag Israeli government decisions. Return JSON only:
{"policy_areas": "up to 3 policy areas, semicolon-separated, in English",
 "government_bodies": "up to 3 responsible bodies, semicolon-separated, in English",
 "locations": "specific places named in the decision, semicolon-separated, empty string if none"}`

	userPrompt := fmt.Sprintf("Title: %s\n\nDecision text:\n%s", title, content)

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.2,
		MaxTokens:    200,
	})

	metrics.EnrichmentDuration.WithLabelValues("tags").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.EnrichmentFailures.WithLabelValues("tags").Inc()
		return nil, fmt.Errorf("failed to propose tags: %w", err)
	}

	var proposal Enrichment
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &proposal); err != nil {
		metrics.EnrichmentFailures.WithLabelValues("tags").Inc()
		return nil, fmt.Errorf("failed to parse tag proposal: %w", err)
	}
	return &proposal, nil
}

// ProposeTag is the tag validator's single external call: pick the best
// vocabulary entry for the given text. The answer is free text; membership
// is checked by the caller, never here.
func (c *Client) ProposeTag(ctx context.Context, text string, vocabulary []string) (string, error) {
	start := time.Now()

	systemPrompt := `You map Israeli government decision topics onto a fixed tag list. Answer with exactly one entry from the list, verbatim. No explanation.`

	userPrompt := fmt.Sprintf("Tag list:\n%s\n\nText:\n%s\n\nBest matching tag:",
		strings.Join(vocabulary, "\n"), text)

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.1,
		MaxTokens:    30,
	})

	metrics.EnrichmentDuration.WithLabelValues("propose_tag").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.EnrichmentFailures.WithLabelValues("propose_tag").Inc()
		return "", fmt.Errorf("failed to propose tag: %w", err)
	}

	return cleanAnswer(resp.Content), nil
}

// EnrichDecision runs the full enrichment for one record. A summary failure
// fails the whole call; operativity and tag failures degrade to empty fields
// so the record can still be stored.
func (c *Client) EnrichDecision(ctx context.Context, title, content string) (*Enrichment, error) {
	summary, err := c.Summarize(ctx, title, content)
	if err != nil {
		return nil, err
	}

	enrichment := &Enrichment{Summary: summary}

	operativity, err := c.ClassifyOperativity(ctx, content)
	if err != nil {
		logger.Warn("Operativity classification failed, leaving empty", zap.Error(err))
	} else {
		enrichment.Operativity = operativity
	}

	tags, err := c.ProposeTags(ctx, title, content)
	if err != nil {
		logger.Warn("Tag proposal failed, leaving tags empty", zap.Error(err))
	} else {
		enrichment.PolicyAreas = tags.PolicyAreas
		enrichment.GovernmentBodies = tags.GovernmentBodies
		enrichment.Locations = tags.Locations
	}

	return enrichment, nil
}

// ScoreSummary rates how faithfully a stored summary reflects the decision
// text, 1 (misleading) to 3 (faithful). Used by QA spot checks.
func (c *Client) ScoreSummary(ctx context.Context, content, summary string) (int, string, error) {
	systemPrompt := `You audit summaries of Israeli government decisions. Rate the summary 1-3: 3 faithful and complete, 2 partially accurate, 1 misleading or unrelated. Return JSON only: {"score": 2, "reasoning": "one sentence"}`

	userPrompt := fmt.Sprintf("Decision text:\n%s\n\nSummary:\n%s", content, summary)

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.1,
		MaxTokens:    120,
	})
	if err != nil {
		return 0, "", fmt.Errorf("failed to score summary: %w", err)
	}

	var verdict struct {
		Score     int    `json:"score"`
		Reasoning string `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &verdict); err != nil {
		return 0, "", fmt.Errorf("failed to parse summary score: %w", err)
	}
	if verdict.Score < 1 || verdict.Score > 3 {
		return 0, "", fmt.Errorf("summary score %d out of range", verdict.Score)
	}
	return verdict.Score, verdict.Reasoning, nil
}

func parseOperativity(raw string) (string, error) {
	answer := strings.ToLower(cleanAnswer(raw))
	switch {
	case strings.HasPrefix(answer, "operative"):
		return models.OperativityOperative, nil
	case strings.HasPrefix(answer, "declarative"):
		return models.OperativityDeclarative, nil
	default:
		return "", fmt.Errorf("unrecognized operativity answer %q", raw)
	}
}

// cleanAnswer strips the wrapping models tend to add around short answers:
// whitespace, quotes, trailing period.
func cleanAnswer(raw string) string {
	answer := strings.TrimSpace(raw)
	answer = strings.Trim(answer, `"'`)
	answer = strings.TrimSuffix(answer, ".")
	return strings.TrimSpace(answer)
}

// extractJSON pulls the outermost JSON object out of a completion that may
// be wrapped in code fences or prose.
func extractJSON(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return content
	}
	return content[start : end+1]
}
