// Package graph records the invocation relationships between jobs —
// (:Job)-[:INVOKES]->(:Job) — in Neo4j, so an operator can trace a chain
// of cross-workflow invokes beyond whatever a single job's own
// JobState.Invocations slice shows. Env-driven URI/auth/pool config, with
// a VerifyConnectivity probe at startup so a misconfigured graph fails
// loudly at boot instead of silently dropping edges.
package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/flowkit/durable/internal/platform/config"
	"github.com/flowkit/durable/internal/platform/logger"
)

// Client owns a Neo4j driver used only by Recorder. A nil *Client (no
// NEO4J_URI configured) makes Recorder a no-op, so the invocation graph
// is always an optional add-on, never a hard dependency of dispatch.
type Client struct {
	driver   neo4j.DriverWithContext
	database string
	log      *logger.Logger
}

// NewFromEnv dials Neo4j using NEO4J_URI/NEO4J_USER/NEO4J_PASSWORD/
// NEO4J_DATABASE. Returns (nil, nil) when NEO4J_URI is unset, so callers
// can wire graph.NewRecorder(client) unconditionally.
func NewFromEnv(log *logger.Logger) (*Client, error) {
	uri := strings.TrimSpace(config.GetEnv("NEO4J_URI", "", nil))
	if uri == "" {
		return nil, nil
	}
	user := config.GetEnv("NEO4J_USER", "neo4j", log)
	password := config.GetEnv("NEO4J_PASSWORD", "", nil)
	database := config.GetEnv("NEO4J_DATABASE", "", log)
	timeout := config.GetEnvAsDuration("NEO4J_TIMEOUT_SECS", 10*time.Second, log)
	maxPool := config.GetEnvAsInt("NEO4J_MAX_POOL_SIZE", 50, log)

	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""), func(cfg *neo4j.Config) {
		cfg.MaxConnectionPoolSize = maxPool
		cfg.SocketConnectTimeout = timeout
	})
	if err != nil {
		return nil, fmt.Errorf("graph: init driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("graph: verify connectivity: %w", err)
	}

	clientLog := log
	if clientLog != nil {
		clientLog = clientLog.With("client", "graph.Client")
	}
	return &Client{driver: driver, database: database, log: clientLog}, nil
}

func (c *Client) Close(ctx context.Context) error {
	if c == nil || c.driver == nil {
		return nil
	}
	err := c.driver.Close(ctx)
	c.driver = nil
	return err
}

func (c *Client) session(ctx context.Context) neo4j.SessionWithContext {
	return c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database})
}
