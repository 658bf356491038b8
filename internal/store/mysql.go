package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	"github.com/lmeterx/stress-engine/internal/events"
)

//go:embed migrations/mysql/*.sql
var migrationFiles embed.FS

// MySQLGateway is the production Gateway, backed by MySQL/MariaDB via
// sqlx (spec.md §6 "Job table schema"). Grounded on
// ClusterCockpit-cc-backend's internal/repository/dbConnection.go
// (sqlx.Open + connection-pool tuning) and migration.go (golang-migrate
// with an embedded iofs source), adapted from its sqlite3-or-mysql
// dual-driver setup to mysql-only since the Task Pipeline has no
// single-writer constraint that would favor sqlite.
type MySQLGateway struct {
	db     *sqlx.DB
	logger *events.EventLogger
}

// Open connects to dsn and returns a MySQLGateway. Migrations are not
// run automatically; call MigrateUp once at deploy time or from an init
// container, mirroring cc-backend's explicit --migrate-db flag rather
// than running migrations on every process start.
func Open(dsn string) (*MySQLGateway, error) {
	db, err := sqlx.Open("mysql", dsn+"?parseTime=true&multiStatements=true")
	if err != nil {
		return nil, fmt.Errorf("store: open mysql: %w", err)
	}
	db.SetConnMaxLifetime(3 * time.Minute)
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(20)

	return &MySQLGateway{db: db, logger: events.GetGlobalEventLogger()}, nil
}

// MigrateUp applies every pending migration under migrations/mysql.
func MigrateUp(dsn string) error {
	d, err := iofs.New(migrationFiles, "migrations/mysql")
	if err != nil {
		return fmt.Errorf("store: open migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", d, "mysql://"+dsn+"?multiStatements=true")
	if err != nil {
		return fmt.Errorf("store: init migrator: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("store: migrate up: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (g *MySQLGateway) Close() error {
	return g.db.Close()
}

// isTransient classifies a raw driver error as transient per spec.md
// §4.1/§7 ("connection reset, deadlock... recover locally"). Grounded on
// bc-dunia-mcpdrill's retry_client.go-style error-string sniffing, since
// the mysql driver does not expose a typed "connection lost" error.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driverErrBadConn) {
		return true
	}
	msg := err.Error()
	for _, frag := range []string{
		"driver: bad connection",
		"invalid connection",
		"connection reset",
		"broken pipe",
		"Lost connection",
		"Deadlock found",
		"try restarting transaction",
		"i/o timeout",
	} {
		if strings.Contains(strings.ToLower(msg), strings.ToLower(frag)) {
			return true
		}
	}
	return false
}

// NewRetryBackoff builds the 10s/30s back-off policy spec.md §7 assigns
// to transient DB errors ("retry on next poll (back-off 10s / 30s if
// 'lost connection' seen)"). cmd/engine wraps startup reconciliation and
// other one-shot gateway calls in backoff.Retry using this policy;
// ClaimNextPending itself just returns nil on a transient error and lets
// the claim-poll ticker provide the retry cadence.
func NewRetryBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 90 * time.Second
	return b
}

// ClaimNextPending implements Gateway.ClaimNextPending using
// SELECT ... FOR UPDATE SKIP LOCKED so concurrent engine replicas never
// claim the same row (spec.md §4.1, §8 property 1).
func (g *MySQLGateway) ClaimNextPending(ctx context.Context) (*Job, error) {
	tx, err := g.db.BeginTxx(ctx, nil)
	if err != nil {
		if isTransient(err) {
			g.logTransient("claim_next_pending.begin", err)
			return nil, nil
		}
		return nil, fmt.Errorf("store: begin claim tx: %w", err)
	}
	defer tx.Rollback()

	var job Job
	err = tx.GetContext(ctx, &job, `
		SELECT * FROM tasks
		WHERE status = ? AND is_deleted = FALSE
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, StatusCreated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if isTransient(err) {
			g.logTransient("claim_next_pending.select", err)
			return nil, nil
		}
		return nil, fmt.Errorf("store: select claimable job: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET status = ?, updated_at = NOW() WHERE id = ?`, StatusLocked, job.ID); err != nil {
		if isTransient(err) {
			g.logTransient("claim_next_pending.update", err)
			return nil, nil
		}
		return nil, fmt.Errorf("store: lock claimed job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isTransient(err) {
			g.logTransient("claim_next_pending.commit", err)
			return nil, nil
		}
		return nil, fmt.Errorf("store: commit claim: %w", err)
	}

	job.Status = StatusLocked
	return &job, nil
}

func (g *MySQLGateway) GetJob(ctx context.Context, id string) (*Job, error) {
	var job Job
	err := g.db.GetContext(ctx, &job, `SELECT * FROM tasks WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		if isTransient(err) {
			g.logTransient("get_job", err)
			return nil, fmt.Errorf("%w: %v", ErrTransient, err)
		}
		return nil, fmt.Errorf("store: get job: %w", err)
	}
	return &job, nil
}

func (g *MySQLGateway) ListStoppingIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := g.db.SelectContext(ctx, &ids, `SELECT id FROM tasks WHERE status = ?`, StatusStopping)
	if err != nil {
		if isTransient(err) {
			g.logTransient("list_stopping_ids", err)
			return nil, nil
		}
		return nil, fmt.Errorf("store: list stopping ids: %w", err)
	}
	return ids, nil
}

func (g *MySQLGateway) UpdateStatus(ctx context.Context, id string, newStatus Status, errMsg string) error {
	current, err := g.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if !CanTransition(current.Status, newStatus) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, newStatus)
	}

	truncated := TruncateErrorMessage(errMsg, DefaultErrorMessageMaxBytes)
	_, err = g.db.ExecContext(ctx, `UPDATE tasks SET status = ?, error_message = ?, updated_at = NOW() WHERE id = ?`, newStatus, truncated, id)
	if err != nil {
		if isTransient(err) {
			g.logTransient("update_status", err)
			return fmt.Errorf("%w: %v", ErrTransient, err)
		}
		return fmt.Errorf("store: update status: %w", err)
	}
	return nil
}

func (g *MySQLGateway) InsertResultRows(ctx context.Context, jobID string, rows []ResultRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := g.db.BeginTxx(ctx, nil)
	if err != nil {
		if isTransient(err) {
			g.logTransient("insert_result_rows.begin", err)
			return fmt.Errorf("%w: %v", ErrTransient, err)
		}
		return err
	}
	defer tx.Rollback()

	const insert = `INSERT INTO task_results
		(task_id, metric_type, num_requests, num_failures, avg_latency, min_latency, max_latency, median_latency, p95_latency, rps, avg_content_length, created_at)
		VALUES (:task_id, :metric_type, :num_requests, :num_failures, :avg_latency, :min_latency, :max_latency, :median_latency, :p95_latency, :rps, :avg_content_length, NOW())`

	for i := range rows {
		rows[i].TaskID = jobID
		if _, err := tx.NamedExecContext(ctx, insert, rows[i]); err != nil {
			if isTransient(err) {
				g.logTransient("insert_result_rows.exec", err)
				return fmt.Errorf("%w: %v", ErrTransient, err)
			}
			return fmt.Errorf("store: insert result row: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit result rows: %w", err)
	}
	return nil
}

func (g *MySQLGateway) InsertRealtimeSamples(ctx context.Context, jobID string, samples []RealtimeSampleRow) error {
	if len(samples) == 0 {
		return nil
	}
	tx, err := g.db.BeginTxx(ctx, nil)
	if err != nil {
		if isTransient(err) {
			g.logTransient("insert_realtime_samples.begin", err)
			return fmt.Errorf("%w: %v", ErrTransient, err)
		}
		return err
	}
	defer tx.Rollback()

	const insert = `INSERT INTO task_realtime_metrics
		(task_id, timestamp, current_users, current_rps, current_fail_per_sec, avg_response_time, min_response_time, max_response_time, median_response_time, p95_response_time, total_requests, total_failures)
		VALUES (:task_id, :timestamp, :current_users, :current_rps, :current_fail_per_sec, :avg_response_time, :min_response_time, :max_response_time, :median_response_time, :p95_response_time, :total_requests, :total_failures)`

	for i := range samples {
		samples[i].TaskID = jobID
		if _, err := tx.NamedExecContext(ctx, insert, samples[i]); err != nil {
			if isTransient(err) {
				g.logTransient("insert_realtime_samples.exec", err)
				return fmt.Errorf("%w: %v", ErrTransient, err)
			}
			return fmt.Errorf("store: insert realtime sample: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit realtime samples: %w", err)
	}
	return nil
}

// ReconcileOnStartup implements Gateway.ReconcileOnStartup (spec.md
// §4.1, scenario S6).
func (g *MySQLGateway) ReconcileOnStartup(ctx context.Context, liveCheck func(jobID string) bool, terminate func(jobID string)) error {
	var ids []struct {
		ID     string `db:"id"`
		Status Status `db:"status"`
	}
	if err := g.db.SelectContext(ctx, &ids, `SELECT id, status FROM tasks WHERE status IN (?, ?)`, StatusRunning, StatusLocked); err != nil {
		return fmt.Errorf("store: select orphans: %w", err)
	}

	for _, row := range ids {
		var msg string
		switch {
		case row.Status == StatusLocked:
			msg = "Task process was aborted before execution."
		case liveCheck != nil && liveCheck(row.ID):
			msg = "Task process was terminated during engine restart reconciliation."
			if terminate != nil {
				terminate(row.ID)
			}
		default:
			msg = "Task process was not found after an engine restart."
		}

		if err := g.UpdateStatus(ctx, row.ID, StatusFailed, msg); err != nil && !errors.Is(err, ErrInvalidTransition) {
			return fmt.Errorf("store: reconcile %s: %w", row.ID, err)
		}
	}
	return nil
}

func (g *MySQLGateway) logTransient(op string, err error) {
	if g.logger == nil {
		return
	}
	g.logger.LogDBRetry(op, 1, 10000, err)
}

var driverErrBadConn = errors.New("driver: bad connection")
