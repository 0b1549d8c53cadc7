// Package neo4jgraph implements domain.GraphStore against a Neo4j instance:
// bulk POI and relationship writes go through UNWIND+MERGE Cypher so
// re-ingesting an unchanged file never creates duplicate nodes or edges.
package neo4jgraph

import (
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/cogtriangulate/internal/domain"
)

// Client implements domain.GraphStore against a single Neo4j database.
type Client struct {
	driver   neo4j.DriverWithContext
	database string
}

// New constructs a Client against uri, authenticating with user/password
// and targeting the named database.
func New(uri, user, password, database string) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("op=graphstore.new: %w", err)
	}
	return &Client{driver: driver, database: database}, nil
}

// Close releases the underlying driver's connection pool.
func (c *Client) Close(ctx domain.Context) error {
	return c.driver.Close(ctx)
}

// VerifyConnectivity checks that the configured URI and credentials reach a
// live Neo4j instance, for the `test-connections` CLI subcommand.
func (c *Client) VerifyConnectivity(ctx domain.Context) error {
	if err := c.driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("op=graphstore.verify_connectivity: %w", err)
	}
	return nil
}

// Clear deletes every node and relationship in the database, backing the
// `clear` CLI subcommand's "purge all three stores" contract for the graph
// side.
func (c *Client) Clear(ctx domain.Context) error {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database, AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, `MATCH (n) DETACH DELETE n`, nil)
	})
	if err != nil {
		return fmt.Errorf("op=graphstore.clear: %w", err)
	}
	return nil
}

// UpsertPOIs bulk-merges POI nodes, labeled by their point-of-interest type
// (Function/Class/Variable/File/Directory) with poi_id as the merge key.
func (c *Client) UpsertPOIs(ctx domain.Context, pois []domain.POI) error {
	if len(pois) == 0 {
		return nil
	}
	tracer := otel.Tracer("graph.neo4j")
	ctx, span := tracer.Start(ctx, "graphstore.UpsertPOIs")
	defer span.End()
	span.SetAttributes(attribute.Int("graph.pois", len(pois)))

	session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database, AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	rows := make([]map[string]any, 0, len(pois))
	for _, p := range pois {
		rows = append(rows, map[string]any{
			"poi_id":     p.PoiID,
			"type":       string(p.Type),
			"name":       p.Name,
			"file_path":  p.FilePath,
			"start_line": p.StartLine,
			"end_line":   p.EndLine,
		})
	}

	const query = `
UNWIND $rows AS row
MERGE (p:POI {poi_id: row.poi_id})
SET p.type = row.type, p.name = row.name, p.file_path = row.file_path,
    p.start_line = row.start_line, p.end_line = row.end_line`

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, query, map[string]any{"rows": rows})
	})
	if err != nil {
		return fmt.Errorf("op=graphstore.upsert_pois: %w", err)
	}
	return nil
}

// UpsertRelationships bulk-merges relationship edges between existing POI
// nodes, keyed by (from, to, type) so reconciliation's confidence updates
// overwrite rather than duplicate an edge.
func (c *Client) UpsertRelationships(ctx domain.Context, rels []domain.AcceptedRelationship) error {
	if len(rels) == 0 {
		return nil
	}
	tracer := otel.Tracer("graph.neo4j")
	ctx, span := tracer.Start(ctx, "graphstore.UpsertRelationships")
	defer span.End()
	span.SetAttributes(attribute.Int("graph.relationships", len(rels)))

	session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database, AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	rows := make([]map[string]any, 0, len(rels))
	for _, r := range rels {
		rows = append(rows, map[string]any{
			"from_poi_id": r.FromPoiID,
			"to_poi_id":   r.ToPoiID,
			"type":        r.RelationshipType,
			"confidence":  r.ConfidenceScore,
		})
	}

	const query = `
UNWIND $rows AS row
MATCH (from:POI {poi_id: row.from_poi_id})
MATCH (to:POI {poi_id: row.to_poi_id})
MERGE (from)-[rel:RELATIONSHIP {type: row.type}]->(to)
SET rel.confidence_score = row.confidence`

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, query, map[string]any{"rows": rows})
	})
	if err != nil {
		return fmt.Errorf("op=graphstore.upsert_relationships: %w", err)
	}
	return nil
}
