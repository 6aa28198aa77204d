package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/restoreassist/trial-engine/pkg/config"
	"github.com/restoreassist/trial-engine/pkg/logger"
	"github.com/restoreassist/trial-engine/pkg/resilience"
	"go.uber.org/zap"
)

// ========================================
// RESILIENT POOL
// ========================================

// DBPool routes reads to replicas and writes to the primary, with retry and
// circuit breaker protection layered on top.
type DBPool struct {
	Primary  *pgxpool.Pool
	Replicas []*pgxpool.Pool

	replicaCursor uint64
	breaker       *resilience.CircuitBreaker
	retryConfig   resilience.RetryConfig
	metrics       *DBMetrics
}

// NewDBPool connects the primary and any configured read replicas. Replicas
// that fail to connect are skipped rather than failing startup, since every
// read path falls back to the primary.
func NewDBPool(cfg *config.DatabaseConfig, serviceName string) (*DBPool, error) {
	primary, err := newPoolWithTimeout(cfg.DSN(), cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to connect primary database: %w", err)
	}

	pool := &DBPool{
		Primary:     primary,
		retryConfig: DefaultRetryConfig(),
		metrics:     NewDBMetrics(serviceName),
	}

	for _, host := range cfg.ReplicaHosts {
		replica, err := newPoolWithTimeout(cfg.ReplicaDSN(host), cfg)
		if err != nil {
			logger.Warn("Skipping unreachable read replica",
				zap.String("host", host),
				zap.Error(err))
			continue
		}
		pool.Replicas = append(pool.Replicas, replica)
	}

	if cfg.Breaker.Enabled {
		settings := resilience.BuildSettings(
			sanitizeBreakerName(serviceName+" database"),
			cfg.Breaker.IntervalSeconds,
			cfg.Breaker.TimeoutSeconds,
			cfg.Breaker.FailureThreshold,
			cfg.Breaker.SuccessThreshold,
		)
		pool.breaker = resilience.NewCircuitBreaker(settings, resilience.GracefulDegradation(settings.Name))
	}

	return pool, nil
}

// newPoolWithTimeout builds a pgx pool that enforces a statement timeout on
// every connection it opens.
func newPoolWithTimeout(dsn string, cfg *config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = int32(max(cfg.MaxConns, 1))
	poolConfig.MinConns = int32(max(cfg.MinConns, 0))
	poolConfig.AfterConnect = createStatementTimeoutCallback(resolveQueryTimeout(cfg.QueryTimeoutSeconds))

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return pool, nil
}

// createStatementTimeoutCallback caps per-statement runtime on every new
// connection so a runaway query cannot hold the pool hostage.
func createStatementTimeoutCallback(timeoutSeconds int) func(context.Context, *pgx.Conn) error {
	return func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, fmt.Sprintf("SET statement_timeout = %d", timeoutSeconds*1000))
		return err
	}
}

// GetPrimary returns the read-write pool.
func (p *DBPool) GetPrimary() *pgxpool.Pool {
	return p.Primary
}

// GetReplica returns the next read replica in round-robin order, falling
// back to the primary when none are available.
func (p *DBPool) GetReplica() *pgxpool.Pool {
	if len(p.Replicas) == 0 {
		return p.Primary
	}
	idx := atomic.AddUint64(&p.replicaCursor, 1)
	return p.Replicas[idx%uint64(len(p.Replicas))]
}

// Close shuts down the primary and all replica pools.
func (p *DBPool) Close() {
	Close(p.Primary)
	for _, replica := range p.Replicas {
		Close(replica)
	}
}

// Close shuts down a single pool, tolerating nil.
func Close(pool *pgxpool.Pool) {
	if pool != nil {
		pool.Close()
	}
}

// Execute runs a database operation with retry and, when enabled, circuit
// breaker protection. The outcome is recorded against queryType.
func (p *DBPool) Execute(ctx context.Context, queryType string, op func(context.Context) error) error {
	wrapped := func(ctx context.Context) (interface{}, error) {
		return nil, op(ctx)
	}

	start := time.Now()
	var err error
	if p.breaker != nil {
		_, err = resilience.RetryWithBreaker(ctx, p.retryConfig, p.breaker, wrapped)
	} else {
		_, err = resilience.Retry(ctx, p.retryConfig, wrapped)
	}
	p.RecordQuery(queryType, time.Since(start), err)
	return err
}

// RecordQuery records a query outcome and refreshes the pool gauge.
func (p *DBPool) RecordQuery(queryType string, duration time.Duration, err error) {
	if p.metrics == nil {
		return
	}
	p.metrics.queriesTotal.WithLabelValues(queryType).Inc()
	p.metrics.queryDuration.WithLabelValues(queryType).Observe(duration.Seconds())
	if err != nil {
		p.metrics.queryErrors.WithLabelValues(queryType).Inc()
	}
	if p.Primary != nil {
		p.metrics.poolConnections.Set(float64(p.Primary.Stat().TotalConns()))
	}
}

// ========================================
// METRICS
// ========================================

// DBMetrics tracks query outcomes for a service's database pool. Metric
// names embed the service name, which must be a valid Prometheus identifier.
type DBMetrics struct {
	queriesTotal    *prometheus.CounterVec
	queryErrors     *prometheus.CounterVec
	queryDuration   *prometheus.HistogramVec
	poolConnections prometheus.Gauge
}

// NewDBMetrics registers database metrics under the service's name.
func NewDBMetrics(serviceName string) *DBMetrics {
	return &DBMetrics{
		queriesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_db_queries_total", serviceName),
			Help: "Total number of database queries",
		}, []string{"query_type"}),
		queryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_db_query_errors_total", serviceName),
			Help: "Total number of failed database queries",
		}, []string{"query_type"}),
		queryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    fmt.Sprintf("%s_db_query_duration_seconds", serviceName),
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"query_type"}),
		poolConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_db_pool_connections", serviceName),
			Help: "Total connections held by the primary pool",
		}),
	}
}

// ========================================
// RETRY POLICIES
// ========================================

// DefaultRetryConfig is the standard retry policy for database operations.
func DefaultRetryConfig() resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.RetryableChecker = isPostgresRetryable
	return cfg
}

// AggressiveRetryConfig retries harder. Use for idempotent reads.
func AggressiveRetryConfig() resilience.RetryConfig {
	cfg := resilience.AggressiveRetryConfig()
	cfg.RetryableChecker = isPostgresRetryable
	return cfg
}

// ConservativeRetryConfig retries once. Use for writes that are expensive
// to repeat.
func ConservativeRetryConfig() resilience.RetryConfig {
	cfg := resilience.ConservativeRetryConfig()
	cfg.RetryableChecker = isPostgresRetryable
	return cfg
}

// retryableConnectionErrors are substrings of transient network and server
// failures that plain errors (no pg code) can carry.
var retryableConnectionErrors = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"network is unreachable",
	"timeout",
	"too many connections",
	"server closed",
	"temporary failure",
}

// isPostgresRetryable classifies an error as transient. PgError codes are
// authoritative when present; otherwise the message is matched against known
// connection failure patterns.
func isPostgresRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"55P03", // lock_not_available
			"53000", // insufficient_resources
			"53300", // too_many_connections
			"53400", // configuration_limit_exceeded
			"57P01", // admin_shutdown
			"57P02", // crash_shutdown
			"57P03", // cannot_connect_now
			"XX000": // internal_error
			return true
		}
		// Whole classes: connection exceptions and system errors.
		if strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "58") {
			return true
		}
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range retryableConnectionErrors {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// ========================================
// HELPERS
// ========================================

// sanitizeBreakerName normalizes a display name into a breaker identifier.
func sanitizeBreakerName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "-")
}

// resolveQueryTimeout returns the first positive timeout or the default.
func resolveQueryTimeout(timeoutSeconds ...int) int {
	if len(timeoutSeconds) > 0 && timeoutSeconds[0] > 0 {
		return timeoutSeconds[0]
	}
	return config.DefaultDatabaseQueryTimeout
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
