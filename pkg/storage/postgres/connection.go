package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flakestry/flakestry/pkg/observability"
	"github.com/flakestry/flakestry/pkg/storage"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// ConnectionManager manages PostgreSQL primary and read replica connections.
// Replicas that stop answering are benched rather than closed, so queries
// already handed a pool can finish and the pool can rejoin the rotation.
type ConnectionManager struct {
	primary  *sql.DB
	replicas []*sql.DB // in rotation
	benched  []*sql.DB // failed a ping, retried by RestoreReplicas
	missing  []string  // configured URLs that never connected
	current  uint32    // round-robin cursor
	mu       sync.RWMutex
	config   ConnectionConfig
	logger   *observability.Logger
	open     func(url string) (*sql.DB, error)
}

// ConnectionConfig holds database connection configuration
type ConnectionConfig struct {
	PrimaryURL  string
	ReplicaURLs []string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// ConnectionConfigFrom takes the PostgreSQL settings out of a storage config
func ConnectionConfigFrom(cfg storage.Config) ConnectionConfig {
	return ConnectionConfig{
		PrimaryURL:  cfg.PostgresURL,
		ReplicaURLs: cfg.PostgresReplicaURLs,
		MaxConns:    cfg.PostgresMaxConns,
		MinConns:    cfg.PostgresMinConns,
		Timeout:     cfg.PostgresTimeout,
		MaxLifetime: cfg.MaxLifetime,
		MaxIdleTime: cfg.MaxIdleTime,
	}
}

func (c ConnectionConfig) withDefaults() ConnectionConfig {
	if c.MaxConns <= 0 {
		c.MaxConns = 20
	}
	if c.MinConns <= 0 {
		c.MinConns = 2
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

func openPostgres(url string) (*sql.DB, error) {
	return sql.Open("postgres", url)
}

// NewConnectionManager connects to the primary and every reachable replica.
// An unreachable primary is fatal; unreachable replicas are logged and skipped.
func NewConnectionManager(config ConnectionConfig, logger *observability.Logger) (*ConnectionManager, error) {
	return newConnectionManager(config, logger, openPostgres)
}

func newConnectionManager(config ConnectionConfig, logger *observability.Logger, open func(string) (*sql.DB, error)) (*ConnectionManager, error) {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	cm := &ConnectionManager{
		config:   config.withDefaults(),
		replicas: make([]*sql.DB, 0, len(config.ReplicaURLs)),
		logger:   logger.WithField("component", "postgres"),
		open:     open,
	}

	primary, err := cm.connect(context.Background(), config.PrimaryURL, cm.config.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to primary: %w", err)
	}
	cm.primary = primary

	for i, replicaURL := range config.ReplicaURLs {
		replica, err := cm.connect(context.Background(), replicaURL, cm.replicaMaxConns())
		if err != nil {
			cm.logger.WithError(err).WithField("replica", i).Warn("skipping unreachable replica")
			cm.missing = append(cm.missing, replicaURL)
			continue
		}
		cm.replicas = append(cm.replicas, replica)
	}

	cm.logger.WithField("replicas", len(cm.replicas)).Info("connection manager initialized")
	return cm, nil
}

// NewConnectionManagerFromDB wraps already opened handles, typically in tests
func NewConnectionManagerFromDB(primary *sql.DB, replicas ...*sql.DB) *ConnectionManager {
	return &ConnectionManager{
		primary:  primary,
		replicas: replicas,
		config:   ConnectionConfig{}.withDefaults(),
		logger:   observability.NewLogger(observability.InfoLevel, nil).WithField("component", "postgres"),
		open:     openPostgres,
	}
}

// connect opens and pings a pool
func (cm *ConnectionManager) connect(ctx context.Context, url string, maxConns int) (*sql.DB, error) {
	db, err := cm.open(url)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}

	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(cm.config.MinConns)
	db.SetConnMaxLifetime(cm.config.MaxLifetime)
	db.SetConnMaxIdleTime(cm.config.MaxIdleTime)

	ctx, cancel := context.WithTimeout(ctx, cm.config.Timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping: %w", err)
	}
	return db, nil
}

// replica pools are slightly smaller than the primary's
func (cm *ConnectionManager) replicaMaxConns() int {
	n := cm.config.MaxConns / 2
	if n < 2 {
		n = 2
	}
	return n
}

// Primary returns the primary database connection
func (cm *ConnectionManager) Primary() *sql.DB {
	return cm.primary
}

// Replica returns a read replica using round-robin selection.
// Falls back to primary if no replicas are available.
func (cm *ConnectionManager) Replica() *sql.DB {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if len(cm.replicas) == 0 {
		return cm.primary
	}

	index := atomic.AddUint32(&cm.current, 1)
	return cm.replicas[int(index%uint32(len(cm.replicas)))]
}

// ReplicaCount returns the number of replicas currently in rotation
func (cm *ConnectionManager) ReplicaCount() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.replicas)
}

// ReplicasConfigured reports whether any read replica was configured
func (cm *ConnectionManager) ReplicasConfigured() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.replicas)+len(cm.benched)+len(cm.missing) > 0
}

// PingReplicas fails when replicas are configured but none in rotation
// answers; reads are then served by the primary
func (cm *ConnectionManager) PingReplicas(ctx context.Context) error {
	cm.mu.RLock()
	replicas := slices.Clone(cm.replicas)
	out := len(cm.benched) + len(cm.missing)
	cm.mu.RUnlock()

	if len(replicas) == 0 {
		if out > 0 {
			return fmt.Errorf("no replicas in rotation, %d out of rotation", out)
		}
		return nil
	}

	var unhealthy []string
	for i, replica := range replicas {
		if err := replica.PingContext(ctx); err != nil {
			unhealthy = append(unhealthy, fmt.Sprintf("replica-%d", i))
		}
	}

	if len(unhealthy) == len(replicas) {
		return fmt.Errorf("all replicas unhealthy: %s", strings.Join(unhealthy, ", "))
	}

	return nil
}

// Stats returns connection pool statistics for primary and replicas
func (cm *ConnectionManager) Stats() ConnectionStats {
	stats := ConnectionStats{
		Primary: cm.primary.Stats(),
	}

	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats.Replicas = make([]sql.DBStats, len(cm.replicas))
	for i, replica := range cm.replicas {
		stats.Replicas[i] = replica.Stats()
	}

	return stats
}

// ConnectionStats holds statistics for all database connections
type ConnectionStats struct {
	Primary  sql.DBStats
	Replicas []sql.DBStats
}

// RemoveUnhealthyReplicas takes replicas that fail a ping out of rotation.
// Pings run on a snapshot without holding the lock. Reads fall back to the
// primary once every replica is out.
func (cm *ConnectionManager) RemoveUnhealthyReplicas(ctx context.Context) int {
	cm.mu.RLock()
	snapshot := slices.Clone(cm.replicas)
	cm.mu.RUnlock()

	failed := make(map[*sql.DB]bool)
	for _, replica := range snapshot {
		if err := replica.PingContext(ctx); err != nil {
			failed[replica] = true
		}
	}
	if len(failed) == 0 {
		return 0
	}

	cm.mu.Lock()
	healthy := make([]*sql.DB, 0, len(cm.replicas))
	removed := 0
	for _, replica := range cm.replicas {
		if failed[replica] {
			cm.benched = append(cm.benched, replica)
			removed++
		} else {
			healthy = append(healthy, replica)
		}
	}
	cm.replicas = healthy
	cm.mu.Unlock()

	if removed > 0 {
		cm.logger.WithField("removed", removed).WithField("remaining", len(healthy)).Warn("removed unhealthy replicas")
	}
	return removed
}

// RestoreReplicas returns benched replicas that answer a ping to the
// rotation and dials configured replicas that never connected
func (cm *ConnectionManager) RestoreReplicas(ctx context.Context) int {
	cm.mu.RLock()
	benched := slices.Clone(cm.benched)
	missing := slices.Clone(cm.missing)
	cm.mu.RUnlock()

	recovered := make(map[*sql.DB]bool)
	for _, replica := range benched {
		if err := replica.PingContext(ctx); err == nil {
			recovered[replica] = true
		}
	}

	restored := 0
	if len(recovered) > 0 {
		cm.mu.Lock()
		still := make([]*sql.DB, 0, len(cm.benched))
		for _, replica := range cm.benched {
			if recovered[replica] {
				cm.replicas = append(cm.replicas, replica)
				restored++
			} else {
				still = append(still, replica)
			}
		}
		cm.benched = still
		cm.mu.Unlock()
	}

	for _, replicaURL := range missing {
		if ctx.Err() != nil {
			break
		}
		if err := cm.AddReplica(ctx, replicaURL); err != nil {
			cm.logger.WithError(err).Debug("replica still unreachable")
			continue
		}
		restored++
	}

	if restored > 0 {
		cm.logger.WithField("restored", restored).WithField("replicas", cm.ReplicaCount()).Info("restored replicas")
	}
	return restored
}

// AddReplica connects to a replica and puts it into rotation
func (cm *ConnectionManager) AddReplica(ctx context.Context, replicaURL string) error {
	replica, err := cm.connect(ctx, replicaURL, cm.replicaMaxConns())
	if err != nil {
		return fmt.Errorf("failed to add replica: %w", err)
	}

	cm.mu.Lock()
	cm.replicas = append(cm.replicas, replica)
	cm.missing = slices.DeleteFunc(cm.missing, func(u string) bool { return u == replicaURL })
	cm.mu.Unlock()

	return nil
}

// Close closes all database connections
func (cm *ConnectionManager) Close() error {
	var errs []error

	if err := cm.primary.Close(); err != nil {
		errs = append(errs, fmt.Errorf("primary close error: %w", err))
	}

	cm.mu.Lock()
	replicas := append(cm.replicas, cm.benched...)
	cm.replicas = nil
	cm.benched = nil
	cm.mu.Unlock()

	for i, replica := range replicas {
		if err := replica.Close(); err != nil {
			errs = append(errs, fmt.Errorf("replica-%d close error: %w", i, err))
		}
	}

	return errors.Join(errs...)
}
