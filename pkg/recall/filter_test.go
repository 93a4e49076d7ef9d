package recall

import (
	"context"
	"testing"

	"github.com/driftwood/memcore/pkg/graph"
)

func TestSearchSegmentsFilter(t *testing.T) {
	idx := newTestIndexNoVec(t)
	ctx := context.Background()

	if err := idx.Graph().SetEntity(ctx, graph.Entity{
		Label: "alice",
		Attrs: map[string]any{"age": 12},
	}); err != nil {
		t.Fatalf("SetEntity: %v", err)
	}
	if err := idx.Graph().SetEntity(ctx, graph.Entity{
		Label: "bob",
		Attrs: map[string]any{"age": 30},
	}); err != nil {
		t.Fatalf("SetEntity: %v", err)
	}

	segs := []Segment{
		{ID: "s-alice", Summary: "alice talk", Labels: []string{"alice"}, Timestamp: 1, Bucket: Bucket1H},
		{ID: "s-bob", Summary: "bob talk", Labels: []string{"bob"}, Timestamp: 2, Bucket: Bucket1H},
	}
	for _, seg := range segs {
		if err := idx.StoreSegment(ctx, seg); err != nil {
			t.Fatalf("StoreSegment: %v", err)
		}
	}

	results, err := idx.SearchSegments(ctx, SearchQuery{
		Labels: []string{"alice", "bob"},
		Filter: ".age < 18",
		Limit:  10,
	})
	if err != nil {
		t.Fatalf("SearchSegments: %v", err)
	}
	if len(results) != 1 || results[0].Segment.ID != "s-alice" {
		t.Fatalf("results = %+v, want only s-alice", results)
	}
}

func TestSearchSegmentsFilter_UnresolvedLabelIsEmptyAttrs(t *testing.T) {
	idx := newTestIndexNoVec(t)
	ctx := context.Background()

	// No entity is ever created for "unknown" — mergedAttrs resolves
	// it to an empty map, and jq's total ordering treats a missing field
	// (null) as less than any number, so the segment survives a "< N" filter.
	seg := Segment{ID: "s-1", Summary: "hello", Labels: []string{"unknown"}, Timestamp: 1, Bucket: Bucket1H}
	if err := idx.StoreSegment(ctx, seg); err != nil {
		t.Fatalf("StoreSegment: %v", err)
	}

	results, err := idx.SearchSegments(ctx, SearchQuery{
		Labels: []string{"unknown"},
		Filter: ".age < 18",
		Limit:  10,
	})
	if err != nil {
		t.Fatalf("SearchSegments: %v", err)
	}
	if len(results) != 1 || results[0].Segment.ID != "s-1" {
		t.Fatalf("results = %+v, want s-1 to survive", results)
	}
}

func TestSearchSegmentsFilter_RuntimeError(t *testing.T) {
	idx := newTestIndexNoVec(t)
	ctx := context.Background()

	seg := Segment{ID: "s-1", Summary: "hello", Timestamp: 1, Bucket: Bucket1H}
	if err := idx.StoreSegment(ctx, seg); err != nil {
		t.Fatalf("StoreSegment: %v", err)
	}

	// Indexing a null field (".profile" is absent, so ".profile.age" indexes
	// null) is a genuine jq runtime error, not a falsy value.
	_, err := idx.SearchSegments(ctx, SearchQuery{
		Filter: ".profile.age < 18",
		Limit:  10,
	})
	if err == nil {
		t.Fatal("expected jq runtime error, got nil")
	}
}

func TestSearchSegmentsFilter_InvalidExpr(t *testing.T) {
	idx := newTestIndexNoVec(t)
	ctx := context.Background()

	seg := Segment{ID: "s-1", Summary: "hello", Labels: nil, Timestamp: 1, Bucket: Bucket1H}
	if err := idx.StoreSegment(ctx, seg); err != nil {
		t.Fatalf("StoreSegment: %v", err)
	}

	_, err := idx.SearchSegments(ctx, SearchQuery{
		Filter: "not valid jq (",
		Limit:  10,
	})
	if err == nil {
		t.Fatal("expected parse error, got nil")
	}
}
