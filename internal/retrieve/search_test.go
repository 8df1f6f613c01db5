package retrieve

import (
	"context"
	"errors"
	"testing"

	"github.com/pgvector/pgvector-go"

	"github.com/civickit/k311/internal/log"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return f.vec, f.err
}

type fakeQuerier struct {
	gotLimit int32
	matches  []Match
	err      error
}

func (f *fakeQuerier) SearchMatches(_ context.Context, _ pgvector.Vector, limit int32) ([]Match, error) {
	f.gotLimit = limit
	return f.matches, f.err
}

func TestSearchOverfetches(t *testing.T) {
	q := &fakeQuerier{matches: []Match{{Score: 0.9, Content: "x"}}}
	s := NewSearcher(&fakeEmbedder{vec: []float32{0.1, 0.2}}, q, log.NewNop())

	matches, err := s.Search(context.Background(), "blue box", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if q.gotLimit != 15 {
		t.Errorf("limit = %d, want topK*3 = 15", q.gotLimit)
	}
	if len(matches) != 1 {
		t.Errorf("matches = %d, want 1", len(matches))
	}
}

func TestSearchEmbedderFailure(t *testing.T) {
	s := NewSearcher(&fakeEmbedder{err: errors.New("quota")}, &fakeQuerier{}, log.NewNop())
	if _, err := s.Search(context.Background(), "q", 5); err == nil {
		t.Fatal("expected error from embedder failure")
	}
}

func TestSearchQuerierFailure(t *testing.T) {
	s := NewSearcher(&fakeEmbedder{vec: []float32{1}}, &fakeQuerier{err: errors.New("down")}, log.NewNop())
	if _, err := s.Search(context.Background(), "q", 5); err == nil {
		t.Fatal("expected error from querier failure")
	}
}
