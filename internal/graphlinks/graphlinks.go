// Package graphlinks is the cross-reference graph (spec §4): the
// Manufacturer -> Product -> ProductSeries -> Document -> Video hierarchy
// that the classification and series_detection stages attach documents
// to, generalized from the teacher's vehicle knowledge graph (the same
// Make -> VehicleModel -> ModelYear -> Component shape, retargeted from
// automotive electrical systems to technical documentation).
package graphlinks

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// CypherResult is the narrow result cursor the store reads, a subset of
// neo4j.ResultWithContext so tests can supply a fake without satisfying
// the whole driver interface.
type CypherResult interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
}

// CypherRunner is the subset of neo4j.ManagedTransaction (or a plain
// session) that a write needs, kept narrow so tests can supply a fake
// without pulling in a live driver.
type CypherRunner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error)
}

// Session is the subset of neo4j.SessionWithContext the graph store uses.
type Session interface {
	CypherRunner
	Close(ctx context.Context) error
	ExecuteWrite(ctx context.Context, work func(tx CypherRunner) (any, error)) (any, error)
}

// SessionOpener opens a new Session, implemented by a real driver in
// production and by a fake in tests.
type SessionOpener interface {
	OpenSession(ctx context.Context) Session
}

// driverOpener adapts a real neo4j driver to SessionOpener.
type driverOpener struct {
	driver neo4j.DriverWithContext
}

func (d driverOpener) OpenSession(ctx context.Context) Session {
	return driverSession{d.driver.NewSession(ctx, neo4j.SessionConfig{})}
}

// driverSession adapts neo4j.SessionWithContext to Session, narrowing
// both its Run and ExecuteWrite down to the CypherRunner/CypherResult
// seam at the call boundary.
type driverSession struct {
	neo4j.SessionWithContext
}

func (s driverSession) Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error) {
	return s.SessionWithContext.Run(ctx, cypher, params)
}

func (s driverSession) ExecuteWrite(ctx context.Context, work func(tx CypherRunner) (any, error)) (any, error) {
	return s.SessionWithContext.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return work(driverTx{tx})
	})
}

// driverTx narrows neo4j.ManagedTransaction's Run to CypherRunner.
type driverTx struct {
	tx neo4j.ManagedTransaction
}

func (t driverTx) Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error) {
	return t.tx.Run(ctx, cypher, params)
}

// GraphStore provides graph operations over the Neo4j cross-reference
// hierarchy.
type GraphStore struct {
	opener SessionOpener
}

// New wraps a live Neo4j driver.
func New(driver neo4j.DriverWithContext) *GraphStore {
	return &GraphStore{opener: driverOpener{driver: driver}}
}

// NewWithOpener constructs a GraphStore over a custom SessionOpener, the
// seam tests use to inject a fake session.
func NewWithOpener(opener SessionOpener) *GraphStore {
	return &GraphStore{opener: opener}
}

// SaveManufacturer creates or updates a Manufacturer node.
func (g *GraphStore) SaveManufacturer(ctx context.Context, id, name string) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	_, err := sess.Run(ctx, `MERGE (n:Manufacturer {id: $id}) SET n.name = $name`,
		map[string]any{"id": id, "name": name})
	return err
}

// SaveProduct creates or updates a Product node and links it to its
// Manufacturer.
func (g *GraphStore) SaveProduct(ctx context.Context, id, manufacturerID, name, model string) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MERGE (n:Product {id: $id}) SET n.name = $name, n.model = $model, n.manufacturer_id = $mfrID
	           WITH n
	           MATCH (mfr:Manufacturer {id: $mfrID})
	           MERGE (mfr)-[:MAKES]->(n)`
	_, err := sess.Run(ctx, cypher, map[string]any{
		"id": id, "name": name, "model": model, "mfrID": manufacturerID,
	})
	return err
}

// SaveProductSeries creates or updates a ProductSeries node and links it
// to its Manufacturer.
func (g *GraphStore) SaveProductSeries(ctx context.Context, id, manufacturerID, name string) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MERGE (n:ProductSeries {id: $id}) SET n.name = $name, n.manufacturer_id = $mfrID
	           WITH n
	           MATCH (mfr:Manufacturer {id: $mfrID})
	           MERGE (mfr)-[:HAS_SERIES]->(n)`
	_, err := sess.Run(ctx, cypher, map[string]any{
		"id": id, "name": name, "mfrID": manufacturerID,
	})
	return err
}

// LinkProductToSeries attaches a Product to a ProductSeries, the edge
// the series_detection stage writes once it identifies a document's
// product family.
func (g *GraphStore) LinkProductToSeries(ctx context.Context, productID, seriesID string) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (p:Product {id: $pID}), (s:ProductSeries {id: $sID})
	           MERGE (s)-[:INCLUDES]->(p)`
	_, err := sess.Run(ctx, cypher, map[string]any{"pID": productID, "sID": seriesID})
	return err
}

// LinkDocumentToProduct attaches an ingested Document to a Product, the
// edge the series_detection stage writes for each product it links.
func (g *GraphStore) LinkDocumentToProduct(ctx context.Context, documentID, productID string) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MERGE (d:Document {id: $docID})
	           WITH d
	           MATCH (p:Product {id: $pID})
	           MERGE (p)-[:DOCUMENTED_BY]->(d)`
	_, err := sess.Run(ctx, cypher, map[string]any{"docID": documentID, "pID": productID})
	return err
}

// LinkDocumentToSeries attaches an ingested Document directly to a
// ProductSeries, used when a document covers a series rather than a
// single product (e.g. a bulletin spanning a model line).
func (g *GraphStore) LinkDocumentToSeries(ctx context.Context, documentID, seriesID string) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MERGE (d:Document {id: $docID})
	           WITH d
	           MATCH (s:ProductSeries {id: $sID})
	           MERGE (s)-[:DOCUMENTED_BY]->(d)`
	_, err := sess.Run(ctx, cypher, map[string]any{"docID": documentID, "sID": seriesID})
	return err
}

// LinkVideoToDocument attaches a Video discovered via link_extraction to
// the Document it was found in.
func (g *GraphStore) LinkVideoToDocument(ctx context.Context, videoID, documentID string) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MERGE (v:Video {id: $vID})
	           WITH v
	           MATCH (d:Document {id: $docID})
	           MERGE (d)-[:REFERENCES]->(v)`
	_, err := sess.Run(ctx, cypher, map[string]any{"vID": videoID, "docID": documentID})
	return err
}

// LinkVideoToManufacturer attaches a Video to the Manufacturer of a
// document it was found in, the graph-side counterpart of
// store.Gateway.AttachVideoTaxonomy's relational denormalization.
func (g *GraphStore) LinkVideoToManufacturer(ctx context.Context, videoID, manufacturerID string) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MERGE (v:Video {id: $vID})
	           WITH v
	           MATCH (mfr:Manufacturer {id: $mfrID})
	           MERGE (mfr)-[:REFERENCES]->(v)`
	_, err := sess.Run(ctx, cypher, map[string]any{"vID": videoID, "mfrID": manufacturerID})
	return err
}

// EnsureHierarchy creates Manufacturer -> Product -> ProductSeries in a
// single transaction, the write-path analogue of the teacher's
// EnsureVehicleHierarchy.
func (g *GraphStore) EnsureHierarchy(ctx context.Context, manufacturerID, manufacturerName, productID, productName, productModel, seriesID, seriesName string) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx CypherRunner) (any, error) {
		if _, err := tx.Run(ctx, `MERGE (mfr:Manufacturer {id: $id}) SET mfr.name = $name`,
			map[string]any{"id": manufacturerID, "name": manufacturerName}); err != nil {
			return nil, err
		}

		if productID != "" {
			cypher := `MERGE (p:Product {id: $id}) SET p.name = $name, p.model = $model, p.manufacturer_id = $mfrID
			           WITH p
			           MATCH (mfr:Manufacturer {id: $mfrID})
			           MERGE (mfr)-[:MAKES]->(p)`
			if _, err := tx.Run(ctx, cypher, map[string]any{
				"id": productID, "name": productName, "model": productModel, "mfrID": manufacturerID,
			}); err != nil {
				return nil, err
			}
		}

		if seriesID != "" {
			cypher := `MERGE (s:ProductSeries {id: $id}) SET s.name = $name, s.manufacturer_id = $mfrID
			           WITH s
			           MATCH (mfr:Manufacturer {id: $mfrID})
			           MERGE (mfr)-[:HAS_SERIES]->(s)`
			if _, err := tx.Run(ctx, cypher, map[string]any{
				"id": seriesID, "name": seriesName, "mfrID": manufacturerID,
			}); err != nil {
				return nil, err
			}
			if productID != "" {
				if _, err := tx.Run(ctx, `MATCH (p:Product {id: $pID}), (s:ProductSeries {id: $sID}) MERGE (s)-[:INCLUDES]->(p)`,
					map[string]any{"pID": productID, "sID": seriesID}); err != nil {
					return nil, err
				}
			}
		}
		return nil, nil
	})
	return err
}

// VideosForSeries returns videos referenced by any document documented
// under a ProductSeries, a read API the spec's distillation omitted but
// the graph naturally supports once Document/Video edges exist.
func (g *GraphStore) VideosForSeries(ctx context.Context, seriesID string) ([]VideoRef, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (s:ProductSeries {id: $sID})-[:DOCUMENTED_BY]->(:Document)-[:REFERENCES]->(v:Video)
	           RETURN DISTINCT v`
	result, err := sess.Run(ctx, cypher, map[string]any{"sID": seriesID})
	if err != nil {
		return nil, err
	}
	return collectVideos(ctx, result)
}

// ManufacturerForDocument walks Document back up to its Manufacturer,
// used when a stage needs manufacturer context it was not handed
// directly.
func (g *GraphStore) ManufacturerForDocument(ctx context.Context, documentID string) (string, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (mfr:Manufacturer)-[:MAKES|HAS_SERIES]->()-[:DOCUMENTED_BY|INCLUDES*1..2]->(d:Document {id: $docID})
	           RETURN mfr.id AS id LIMIT 1`
	result, err := sess.Run(ctx, cypher, map[string]any{"docID": documentID})
	if err != nil {
		return "", err
	}
	if !result.Next(ctx) {
		return "", fmt.Errorf("graphlinks: no manufacturer found for document %s", documentID)
	}
	id, _ := result.Record().Get("id")
	s, _ := id.(string)
	return s, nil
}

// VideoRef is a lightweight projection of a Video node returned by graph
// reads; the full record lives in the relational store.
type VideoRef struct {
	ID              string
	Platform        string
	PlatformVideoID string
	Title           string
}

func collectVideos(ctx context.Context, result CypherResult) ([]VideoRef, error) {
	var out []VideoRef
	for result.Next(ctx) {
		node, _, err := neo4j.GetRecordValue[dbtype.Node](result.Record(), "v")
		if err != nil {
			return nil, err
		}
		out = append(out, VideoRef{
			ID:              strProp(node.Props, "id"),
			Platform:        strProp(node.Props, "platform"),
			PlatformVideoID: strProp(node.Props, "platform_video_id"),
			Title:           strProp(node.Props, "title"),
		})
	}
	return out, nil
}

func strProp(props map[string]any, key string) string {
	if v, ok := props[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
