package graph

import (
	"context"

	"go.uber.org/zap"

	"github.com/govdecisions/backend/internal/storage/models"
	"github.com/govdecisions/backend/internal/tagging"
	"github.com/govdecisions/backend/pkg/logger"
)

// Graph is what the mirror needs from the Neo4j client.
type Graph interface {
	MergeDecision(ctx context.Context, node DecisionNode) error
	LinkPolicyArea(ctx context.Context, key, name string) error
	LinkGovernmentBody(ctx context.Context, key, name string) error
	RelatedDecisions(ctx context.Context, key string, limit int) ([]RelatedDecision, error)
}

// MirrorReport summarizes one mirroring pass.
type MirrorReport struct {
	Mirrored int `json:"mirrored"`
	Failed   int `json:"failed"`
}

// Mirror pushes decision tag assignments into the graph. The graph is an
// optional view over SQLite: a nil Mirror (or one built over a nil Graph)
// turns every call into a no-op, and per-record failures are logged and
// counted but never propagate.
type Mirror struct {
	graph  Graph
	logger *zap.Logger
}

func NewMirror(graph Graph) *Mirror {
	return &Mirror{
		graph:  graph,
		logger: logger.GetLogger(),
	}
}

func (m *Mirror) Enabled() bool {
	return m != nil && m.graph != nil
}

// MirrorDecisions upserts each decision and its tag edges. Mirroring is
// idempotent, so callers can replay any slice of records after a sync or a
// tag migration.
func (m *Mirror) MirrorDecisions(ctx context.Context, decisions []models.Decision) *MirrorReport {
	report := &MirrorReport{}
	if !m.Enabled() || len(decisions) == 0 {
		return report
	}

	for i := range decisions {
		if ctx.Err() != nil {
			m.logger.Warn("Mirroring interrupted", zap.Error(ctx.Err()))
			return report
		}

		if err := m.mirrorOne(ctx, &decisions[i]); err != nil {
			report.Failed++
			m.logger.Warn("Failed to mirror decision",
				zap.String("key", decisions[i].Key),
				zap.Error(err))
			continue
		}
		report.Mirrored++
	}

	m.logger.Info("Graph mirror pass finished",
		zap.Int("mirrored", report.Mirrored),
		zap.Int("failed", report.Failed))
	return report
}

func (m *Mirror) mirrorOne(ctx context.Context, d *models.Decision) error {
	node := DecisionNode{
		Key:         d.Key,
		Title:       d.Title,
		Date:        d.Date,
		Operativity: d.Operativity,
		URL:         d.URL,
	}
	if err := m.graph.MergeDecision(ctx, node); err != nil {
		return err
	}

	for _, name := range tagging.SplitTags(d.PolicyAreas) {
		// The fallback sentinel would link most of the graph through one
		// hub node and drown co-occurrence signals.
		if name == tagging.PolicyFallback {
			continue
		}
		if err := m.graph.LinkPolicyArea(ctx, d.Key, name); err != nil {
			return err
		}
	}

	for _, name := range tagging.SplitTags(d.GovernmentBodies) {
		if err := m.graph.LinkGovernmentBody(ctx, d.Key, name); err != nil {
			return err
		}
	}

	return nil
}

// Related proxies the co-occurrence query. Returns nothing when the mirror is
// disabled.
func (m *Mirror) Related(ctx context.Context, key string, limit int) ([]RelatedDecision, error) {
	if !m.Enabled() {
		return nil, nil
	}
	return m.graph.RelatedDecisions(ctx, key, limit)
}
