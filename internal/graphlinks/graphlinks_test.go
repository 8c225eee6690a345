package graphlinks

import (
	"context"
	"errors"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

type mockResult struct {
	records []*neo4j.Record
	idx     int
}

func (r *mockResult) Next(_ context.Context) bool {
	if r.idx < len(r.records) {
		r.idx++
		return true
	}
	return false
}

func (r *mockResult) Record() *neo4j.Record {
	if r.idx <= 0 || r.idx > len(r.records) {
		return nil
	}
	return r.records[r.idx-1]
}

func newMockResult(records ...*neo4j.Record) *mockResult {
	return &mockResult{records: records}
}

func makeNodeRecord(key string, props map[string]any) *neo4j.Record {
	return &neo4j.Record{
		Keys:   []string{key},
		Values: []any{dbtype.Node{Props: props}},
	}
}

type mockTx struct {
	runErr error
	calls  []string
}

func (t *mockTx) Run(_ context.Context, cypher string, _ map[string]any) (CypherResult, error) {
	t.calls = append(t.calls, cypher)
	return newMockResult(), t.runErr
}

type mockSession struct {
	result   CypherResult
	runErr   error
	writeErr error
	closed   bool
}

func (s *mockSession) Run(_ context.Context, _ string, _ map[string]any) (CypherResult, error) {
	if s.result == nil {
		return newMockResult(), s.runErr
	}
	return s.result, s.runErr
}

func (s *mockSession) Close(_ context.Context) error {
	s.closed = true
	return nil
}

func (s *mockSession) ExecuteWrite(_ context.Context, work func(tx CypherRunner) (any, error)) (any, error) {
	if s.writeErr != nil {
		return nil, s.writeErr
	}
	return work(&mockTx{})
}

type mockOpener struct {
	session *mockSession
}

func (o *mockOpener) OpenSession(_ context.Context) Session {
	return o.session
}

func TestSaveManufacturerClosesSession(t *testing.T) {
	sess := &mockSession{}
	gs := NewWithOpener(&mockOpener{session: sess})

	if err := gs.SaveManufacturer(context.Background(), "hp", "Hewlett-Packard"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sess.closed {
		t.Fatal("expected session to be closed")
	}
}

func TestSaveManufacturerPropagatesRunError(t *testing.T) {
	sess := &mockSession{runErr: errors.New("boom")}
	gs := NewWithOpener(&mockOpener{session: sess})

	if err := gs.SaveManufacturer(context.Background(), "hp", "Hewlett-Packard"); err == nil {
		t.Fatal("expected error")
	}
}

func TestEnsureHierarchyPropagatesWriteError(t *testing.T) {
	sess := &mockSession{writeErr: errors.New("tx failed")}
	gs := NewWithOpener(&mockOpener{session: sess})

	err := gs.EnsureHierarchy(context.Background(), "hp", "Hewlett-Packard", "hp-m404", "LaserJet M404", "M404", "hp-laserjet", "LaserJet")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestManufacturerForDocumentReadsID(t *testing.T) {
	rec := &neo4j.Record{Keys: []string{"id"}, Values: []any{"hp"}}
	sess := &mockSession{result: newMockResult(rec)}
	gs := NewWithOpener(&mockOpener{session: sess})

	id, err := gs.ManufacturerForDocument(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "hp" {
		t.Fatalf("got %q, want hp", id)
	}
}

func TestManufacturerForDocumentNotFound(t *testing.T) {
	sess := &mockSession{result: newMockResult()}
	gs := NewWithOpener(&mockOpener{session: sess})

	if _, err := gs.ManufacturerForDocument(context.Background(), "doc-missing"); err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestVideosForSeriesCollectsNodes(t *testing.T) {
	rec := makeNodeRecord("v", map[string]any{
		"id": "vid-1", "platform": "youtube", "platform_video_id": "abc123", "title": "Fixing the fuser",
	})
	sess := &mockSession{result: newMockResult(rec)}
	gs := NewWithOpener(&mockOpener{session: sess})

	videos, err := gs.VideosForSeries(context.Background(), "hp-laserjet")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(videos) != 1 || videos[0].ID != "vid-1" {
		t.Fatalf("got %+v, want one video with id vid-1", videos)
	}
}
