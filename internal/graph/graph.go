// Package graph maintains the Neo4j projection of the main store:
// node upserts, relationship refreshes, deletion replay, and the
// housekeeping that keeps the graph deduplicated and free of staging
// properties.
package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/edwardbensa/storiedbc-db/internal/logging"
)

// Session runs Cypher and returns the result rows. The maintenance
// functions depend on this surface only, so tests can record queries
// without a live database.
type Session interface {
	Run(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
}

// DB wraps a Neo4j driver. Explicit connection object, passed to
// whoever needs a session.
type DB struct {
	driver neo4j.DriverWithContext
}

// Connect opens and verifies a driver against the graph database.
func Connect(ctx context.Context, uri, user, password string) (*DB, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create graph driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("connect graph database: %w", err)
	}
	logging.Info("Connected to graph database", "uri", uri)
	return &DB{driver: driver}, nil
}

// Session opens a write session.
func (d *DB) Session(ctx context.Context) *DriverSession {
	return &DriverSession{
		sess: d.driver.NewSession(ctx, neo4j.SessionConfig{}),
	}
}

// Close shuts the underlying driver down.
func (d *DB) Close(ctx context.Context) error {
	return d.driver.Close(ctx)
}

// DriverSession adapts a Neo4j session to the Session interface.
type DriverSession struct {
	sess neo4j.SessionWithContext
}

// Run executes one Cypher statement and collects its result rows.
func (s *DriverSession) Run(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	result, err := s.sess.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}

	records, err := result.Collect(ctx)
	if err != nil {
		return nil, err
	}

	rows := make([]map[string]any, len(records))
	for i, rec := range records {
		rows[i] = rec.AsMap()
	}
	return rows, nil
}

// Close releases the session.
func (s *DriverSession) Close(ctx context.Context) error {
	return s.sess.Close(ctx)
}
