package vectorstore

import (
	"context"
	"errors"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"

	"github.com/kunzeritter/manual2vector/internal/domain"
)

type mockPoints struct {
	upsertResp *pb.PointsOperationResponse
	upsertErr  error
	deleteResp *pb.PointsOperationResponse
	deleteErr  error
	searchResp *pb.SearchResponse
	searchErr  error
	lastUpsert *pb.UpsertPoints
}

func (m *mockPoints) Upsert(_ context.Context, req *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.lastUpsert = req
	return m.upsertResp, m.upsertErr
}
func (m *mockPoints) Delete(_ context.Context, _ *pb.DeletePoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	return m.deleteResp, m.deleteErr
}
func (m *mockPoints) Search(_ context.Context, _ *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	return m.searchResp, m.searchErr
}

type mockCollections struct {
	listResp   *pb.ListCollectionsResponse
	listErr    error
	createResp *pb.CollectionOperationResponse
	createErr  error
	deleteResp *pb.CollectionOperationResponse
	deleteErr  error
}

func (m *mockCollections) List(_ context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	return m.listResp, m.listErr
}
func (m *mockCollections) Create(_ context.Context, _ *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	return m.createResp, m.createErr
}
func (m *mockCollections) Delete(_ context.Context, _ *pb.DeleteCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	return m.deleteResp, m.deleteErr
}

func TestNewWithClientsCloseIsNilSafe(t *testing.T) {
	vs := NewWithClients(&mockPoints{}, &mockCollections{}, "test")
	if err := vs.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEnsureCollectionAlreadyExists(t *testing.T) {
	cols := &mockCollections{
		listResp: &pb.ListCollectionsResponse{Collections: []*pb.CollectionDescription{{Name: "test"}}},
	}
	vs := NewWithClients(&mockPoints{}, cols, "test")
	if err := vs.EnsureCollection(context.Background(), 1536); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEnsureCollectionCreatesWhenMissing(t *testing.T) {
	cols := &mockCollections{
		listResp:   &pb.ListCollectionsResponse{},
		createResp: &pb.CollectionOperationResponse{Result: true},
	}
	vs := NewWithClients(&mockPoints{}, cols, "test")
	if err := vs.EnsureCollection(context.Background(), 1536); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEnsureCollectionPropagatesListError(t *testing.T) {
	cols := &mockCollections{listErr: errors.New("unreachable")}
	vs := NewWithClients(&mockPoints{}, cols, "test")
	if err := vs.EnsureCollection(context.Background(), 1536); err == nil {
		t.Fatal("expected error")
	}
}

func TestUpsertBatchEmptyIsNoop(t *testing.T) {
	pts := &mockPoints{}
	vs := NewWithClients(pts, &mockCollections{}, "test")
	if err := vs.UpsertBatch(context.Background(), nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pts.lastUpsert != nil {
		t.Fatal("expected no upsert call for empty batch")
	}
}

func TestUpsertBatchBuildsPointsWithPayload(t *testing.T) {
	pts := &mockPoints{upsertResp: &pb.PointsOperationResponse{}}
	vs := NewWithClients(pts, &mockCollections{}, "test")

	embeddings := []domain.Embedding{
		{ID: "emb-1", SourceType: domain.EmbeddingSourceTextChunk, SourceID: "chunk-1", Vector: []float32{0.1, 0.2}, ModelName: "text-embed-3"},
	}
	payloads := map[string]map[string]any{"emb-1": {"document_id": "doc-1"}}

	if err := vs.UpsertBatch(context.Background(), embeddings, payloads); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pts.lastUpsert == nil || len(pts.lastUpsert.Points) != 1 {
		t.Fatal("expected one point upserted")
	}
	p := pts.lastUpsert.Points[0]
	if p.Id.GetUuid() != "emb-1" {
		t.Fatalf("got id %q, want emb-1", p.Id.GetUuid())
	}
	if p.Payload["source_type"].GetStringValue() != "text_chunk" {
		t.Fatalf("expected source_type payload, got %+v", p.Payload)
	}
	if p.Payload["document_id"].GetStringValue() != "doc-1" {
		t.Fatal("expected caller-supplied payload to be preserved")
	}
}

func TestUpsertBatchPropagatesError(t *testing.T) {
	pts := &mockPoints{upsertErr: errors.New("grpc unavailable")}
	vs := NewWithClients(pts, &mockCollections{}, "test")
	embeddings := []domain.Embedding{{ID: "emb-1", Vector: []float32{0.1}}}
	if err := vs.UpsertBatch(context.Background(), embeddings, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestSearchFilteredMapsPayload(t *testing.T) {
	pts := &mockPoints{
		searchResp: &pb.SearchResponse{
			Result: []*pb.ScoredPoint{
				{
					Id:    &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: "emb-1"}},
					Score: 0.93,
					Payload: map[string]*pb.Value{
						"source_type": {Kind: &pb.Value_StringValue{StringValue: "text_chunk"}},
						"source_id":   {Kind: &pb.Value_StringValue{StringValue: "chunk-1"}},
						"document_id": {Kind: &pb.Value_StringValue{StringValue: "doc-1"}},
					},
				},
			},
		},
	}
	vs := NewWithClients(pts, &mockCollections{}, "test")

	results, err := vs.SearchFiltered(context.Background(), []float32{0.1, 0.2}, 5, map[string]string{"document_id": "doc-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	r := results[0]
	if r.SourceID != "chunk-1" || r.SourceType != "text_chunk" {
		t.Fatalf("unexpected mapped fields: %+v", r)
	}
	if r.Meta["document_id"] != "doc-1" {
		t.Fatalf("expected leftover payload in Meta, got %+v", r.Meta)
	}
}

func TestDeleteBySourceIDPropagatesError(t *testing.T) {
	pts := &mockPoints{deleteErr: errors.New("boom")}
	vs := NewWithClients(pts, &mockCollections{}, "test")
	if err := vs.DeleteBySourceID(context.Background(), "chunk-1"); err == nil {
		t.Fatal("expected error")
	}
}
