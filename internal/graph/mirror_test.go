package graph

import (
	"context"
	"fmt"
	"testing"

	"github.com/govdecisions/backend/internal/storage/models"
)

type fakeGraph struct {
	nodes       map[string]DecisionNode
	policyEdges map[string][]string
	bodyEdges   map[string][]string
	failKeys    map[string]bool
	related     []RelatedDecision
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{
		nodes:       make(map[string]DecisionNode),
		policyEdges: make(map[string][]string),
		bodyEdges:   make(map[string][]string),
		failKeys:    make(map[string]bool),
	}
}

func (f *fakeGraph) MergeDecision(ctx context.Context, node DecisionNode) error {
	if f.failKeys[node.Key] {
		return fmt.Errorf("neo4j unavailable")
	}
	f.nodes[node.Key] = node
	return nil
}

func (f *fakeGraph) LinkPolicyArea(ctx context.Context, key, name string) error {
	f.policyEdges[key] = append(f.policyEdges[key], name)
	return nil
}

func (f *fakeGraph) LinkGovernmentBody(ctx context.Context, key, name string) error {
	f.bodyEdges[key] = append(f.bodyEdges[key], name)
	return nil
}

func (f *fakeGraph) RelatedDecisions(ctx context.Context, key string, limit int) ([]RelatedDecision, error) {
	return f.related, nil
}

func TestMirrorDecisionsCreatesNodesAndEdges(t *testing.T) {
	g := newFakeGraph()
	m := NewMirror(g)

	decisions := []models.Decision{
		{
			Key:              "37_100",
			Title:            "Education budget increase",
			Date:             "2024-06-15",
			Operativity:      models.OperativityOperative,
			PolicyAreas:      "Education;Finance",
			GovernmentBodies: "Ministry of Education",
		},
		{
			Key:         "37_101",
			Title:       "Declaration on heritage sites",
			Date:        "2024-06-16",
			Operativity: models.OperativityDeclarative,
			PolicyAreas: "Culture and Heritage",
		},
	}

	report := m.MirrorDecisions(context.Background(), decisions)
	if report.Mirrored != 2 || report.Failed != 0 {
		t.Fatalf("report = %+v", report)
	}

	node, ok := g.nodes["37_100"]
	if !ok {
		t.Fatal("37_100 not mirrored")
	}
	if node.Title != "Education budget increase" || node.Operativity != models.OperativityOperative {
		t.Errorf("node = %+v", node)
	}

	if got := g.policyEdges["37_100"]; len(got) != 2 || got[0] != "Education" || got[1] != "Finance" {
		t.Errorf("policy edges = %v", got)
	}
	if got := g.bodyEdges["37_100"]; len(got) != 1 || got[0] != "Ministry of Education" {
		t.Errorf("body edges = %v", got)
	}
	if got := g.bodyEdges["37_101"]; len(got) != 0 {
		t.Errorf("unexpected body edges for 37_101: %v", got)
	}
}

func TestMirrorSkipsFallbackPolicyTag(t *testing.T) {
	g := newFakeGraph()
	m := NewMirror(g)

	m.MirrorDecisions(context.Background(), []models.Decision{
		{Key: "37_200", Title: "Unclassifiable decision", PolicyAreas: "Miscellaneous"},
	})

	if got := g.policyEdges["37_200"]; len(got) != 0 {
		t.Errorf("fallback tag must not be mirrored, got %v", got)
	}
	if _, ok := g.nodes["37_200"]; !ok {
		t.Error("decision node itself should still be mirrored")
	}
}

func TestMirrorCountsFailuresAndContinues(t *testing.T) {
	g := newFakeGraph()
	g.failKeys["37_301"] = true
	m := NewMirror(g)

	report := m.MirrorDecisions(context.Background(), []models.Decision{
		{Key: "37_300", Title: "First"},
		{Key: "37_301", Title: "Broken"},
		{Key: "37_302", Title: "Third"},
	})

	if report.Mirrored != 2 || report.Failed != 1 {
		t.Errorf("report = %+v", report)
	}
	if _, ok := g.nodes["37_302"]; !ok {
		t.Error("failure must not stop the pass")
	}
}

func TestMirrorDisabled(t *testing.T) {
	var nilMirror *Mirror
	if nilMirror.Enabled() {
		t.Error("nil mirror must report disabled")
	}

	report := nilMirror.MirrorDecisions(context.Background(), []models.Decision{{Key: "37_1"}})
	if report.Mirrored != 0 || report.Failed != 0 {
		t.Errorf("report = %+v", report)
	}

	related, err := nilMirror.Related(context.Background(), "37_1", 5)
	if err != nil || related != nil {
		t.Errorf("Related on disabled mirror = %v, %v", related, err)
	}

	disabled := NewMirror(nil)
	if disabled.Enabled() {
		t.Error("mirror over a nil graph must report disabled")
	}
}

func TestRelatedProxiesGraph(t *testing.T) {
	g := newFakeGraph()
	g.related = []RelatedDecision{
		{Key: "37_2", Title: "Neighbor", SharedTags: 2},
	}
	m := NewMirror(g)

	related, err := m.Related(context.Background(), "37_1", 5)
	if err != nil {
		t.Fatalf("Related: %v", err)
	}
	if len(related) != 1 || related[0].Key != "37_2" || related[0].SharedTags != 2 {
		t.Errorf("related = %+v", related)
	}
}
