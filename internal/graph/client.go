// Package graph mirrors decision tags into Neo4j. Decisions and their policy
// area / government body tags become nodes, tag assignments become edges, and
// the graph answers "which decisions share tags with this one" queries the
// relational store cannot serve cheaply.
package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/govdecisions/backend/pkg/circuitbreaker"
	"github.com/govdecisions/backend/pkg/logger"
	"github.com/govdecisions/backend/pkg/retry"
)

type Client struct {
	driver      neo4j.DriverWithContext
	database    string
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

// DecisionNode is the graph projection of a stored decision: identity and the
// display fields graph queries return. Content stays in SQLite.
type DecisionNode struct {
	Key         string
	Title       string
	Date        string
	Operativity string
	URL         string
}

// RelatedDecision is a decision sharing at least one tag with the queried one.
type RelatedDecision struct {
	Key        string `json:"key"`
	Title      string `json:"title"`
	SharedTags int    `json:"shared_tags"`
}

func NewClient(uri, username, password, database string) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(
		uri,
		neo4j.BasicAuth(username, password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	ctx := context.Background()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("failed to verify connectivity: %w", err)
	}

	cb := circuitbreaker.NewCircuitBreaker("neo4j", circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          20 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       3 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("Neo4j client initialized", zap.String("uri", uri))

	return &Client{
		driver:      driver,
		database:    database,
		cb:          cb,
		retryConfig: retryConfig,
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) Breaker() *circuitbreaker.CircuitBreaker {
	return c.cb
}

func (c *Client) executeWithRetry(ctx context.Context, operation func(neo4j.SessionWithContext) error) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database})
			defer session.Close(ctx)
			return operation(session)
		})
	})
}

// EnsureSchema creates the uniqueness constraints the mirror relies on. Safe
// to call on every startup.
func (c *Client) EnsureSchema(ctx context.Context) error {
	constraints := []string{
		`CREATE CONSTRAINT decision_key IF NOT EXISTS FOR (d:Decision) REQUIRE d.key IS UNIQUE`,
		`CREATE CONSTRAINT policy_area_name IF NOT EXISTS FOR (p:PolicyArea) REQUIRE p.name IS UNIQUE`,
		`CREATE CONSTRAINT government_body_name IF NOT EXISTS FOR (b:GovernmentBody) REQUIRE b.name IS UNIQUE`,
	}

	return c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		for _, constraint := range constraints {
			if _, err := session.Run(ctx, constraint, nil); err != nil {
				return fmt.Errorf("failed to create constraint: %w", err)
			}
		}
		return nil
	})
}

// MergeDecision upserts the decision node. Re-mirroring the same decision
// refreshes its properties and changes nothing else.
func (c *Client) MergeDecision(ctx context.Context, node DecisionNode) error {
	query := `
		MERGE (d:Decision {key: $key})
		SET d.title = $title,
		    d.date = $date,
		    d.operativity = $operativity,
		    d.url = $url,
		    d.updated_at = timestamp()
	`

	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		_, err := session.Run(ctx, query, map[string]interface{}{
			"key":         node.Key,
			"title":       node.Title,
			"date":        node.Date,
			"operativity": node.Operativity,
			"url":         node.URL,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to merge decision %s: %w", node.Key, err)
	}

	logger.Debug("Decision mirrored to graph", zap.String("key", node.Key))
	return nil
}

// LinkPolicyArea connects a decision to a policy area tag, creating the tag
// node on first sight.
func (c *Client) LinkPolicyArea(ctx context.Context, key, name string) error {
	query := `
		MATCH (d:Decision {key: $key})
		MERGE (p:PolicyArea {name: $name})
		MERGE (d)-[:TAGGED_AS]->(p)
	`
	return c.linkTag(ctx, query, key, name)
}

// LinkGovernmentBody connects a decision to the government body it involves.
func (c *Client) LinkGovernmentBody(ctx context.Context, key, name string) error {
	query := `
		MATCH (d:Decision {key: $key})
		MERGE (b:GovernmentBody {name: $name})
		MERGE (d)-[:INVOLVES]->(b)
	`
	return c.linkTag(ctx, query, key, name)
}

func (c *Client) linkTag(ctx context.Context, query, key, name string) error {
	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		_, err := session.Run(ctx, query, map[string]interface{}{
			"key":  key,
			"name": name,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to link tag %q to %s: %w", name, key, err)
	}
	return nil
}

// RelatedDecisions returns decisions sharing tags with key, ordered by how
// many tags they share.
func (c *Client) RelatedDecisions(ctx context.Context, key string, limit int) ([]RelatedDecision, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `
		MATCH (d:Decision {key: $key})-[:TAGGED_AS|INVOLVES]->(t)<-[:TAGGED_AS|INVOLVES]-(o:Decision)
		RETURN o.key AS key, o.title AS title, count(DISTINCT t) AS shared
		ORDER BY shared DESC, key
		LIMIT $limit
	`

	var related []RelatedDecision
	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		related = related[:0]

		result, err := session.Run(ctx, query, map[string]interface{}{
			"key":   key,
			"limit": limit,
		})
		if err != nil {
			return fmt.Errorf("failed to query related decisions: %w", err)
		}

		for result.Next(ctx) {
			record := result.Record()

			relatedKey, _ := record.Get("key")
			title, _ := record.Get("title")
			shared, _ := record.Get("shared")

			entry := RelatedDecision{}
			if s, ok := relatedKey.(string); ok {
				entry.Key = s
			}
			if s, ok := title.(string); ok {
				entry.Title = s
			}
			if n, ok := shared.(int64); ok {
				entry.SharedTags = int(n)
			}
			related = append(related, entry)
		}

		return result.Err()
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("Related decisions queried",
		zap.String("key", key),
		zap.Int("found", len(related)))
	return related, nil
}
