package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pressly/goose"
	"golang.org/x/sync/singleflight"

	"github.com/evidchain/ai-analysis-service/internal/domain"
)

// Config holds PostgreSQL connection configuration
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	MigrationsDir   string
}

type connState int

const (
	stateNotStarted connState = iota
	stateConnecting
	stateReady
	stateFailed
)

// Postgres is the durable store adapter. It persists lightweight analysis
// records and full result blobs in separate tables. The connection is
// established lazily on first use; concurrent first-use attempts collapse
// into a single dial through singleflight.
type Postgres struct {
	config *Config
	logger *slog.Logger

	mu    sync.Mutex
	state connState
	db    *sqlx.DB
	sf    singleflight.Group
}

// New creates a Postgres adapter without dialing. Call EnsureReady or let the
// first operation trigger the connection.
func New(config *Config, logger *slog.Logger) *Postgres {
	return &Postgres{
		config: config,
		logger: logger,
	}
}

// EnsureReady establishes the connection if it is not already up. A failed
// attempt leaves the adapter in a retryable state; the next call dials again.
func (p *Postgres) EnsureReady(ctx context.Context) error {
	p.mu.Lock()
	if p.state == stateReady {
		p.mu.Unlock()
		return nil
	}
	p.state = stateConnecting
	p.mu.Unlock()

	_, err, _ := p.sf.Do("connect", func() (interface{}, error) {
		return nil, p.connect(ctx)
	})

	p.mu.Lock()
	if err != nil {
		p.state = stateFailed
	} else {
		p.state = stateReady
	}
	p.mu.Unlock()

	return err
}

// Ready reports availability without propagating the connection error.
func (p *Postgres) Ready(ctx context.Context) bool {
	return p.EnsureReady(ctx) == nil
}

func (p *Postgres) connect(ctx context.Context) error {
	p.mu.Lock()
	if p.db != nil {
		db := p.db
		p.mu.Unlock()
		// Connection object exists from an earlier attempt; re-verify it.
		if err := db.PingContext(ctx); err == nil {
			return nil
		}
		p.mu.Lock()
	}
	p.mu.Unlock()

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.config.Host,
		p.config.Port,
		p.config.User,
		p.config.Password,
		p.config.Database,
		p.config.SSLMode,
	)

	p.logger.Info("Connecting to PostgreSQL",
		slog.String("host", p.config.Host),
		slog.Int("port", p.config.Port),
		slog.String("database", p.config.Database),
	)

	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		p.logger.Warn("Failed to connect to PostgreSQL",
			slog.Any("error", err),
		)
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(p.config.MaxOpenConns)
	db.SetMaxIdleConns(p.config.MaxIdleConns)
	db.SetConnMaxLifetime(p.config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(p.config.ConnMaxIdleTime)

	if p.config.MigrationsDir != "" {
		if err := goose.SetDialect("postgres"); err != nil {
			db.Close()
			return fmt.Errorf("failed to set migration dialect: %w", err)
		}
		if err := goose.Up(db.DB, p.config.MigrationsDir); err != nil {
			db.Close()
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	p.mu.Lock()
	p.db = db
	p.mu.Unlock()

	p.logger.Info("PostgreSQL connection established",
		slog.Int("max_open_conns", p.config.MaxOpenConns),
	)

	return nil
}

// Close closes the database connection.
func (p *Postgres) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.db == nil {
		return nil
	}

	p.logger.Info("Closing PostgreSQL connection")
	err := p.db.Close()
	p.db = nil
	p.state = stateNotStarted
	return err
}

// handle returns the live db or an unavailability error after one lazy
// connection attempt.
func (p *Postgres) handle(ctx context.Context) (*sqlx.DB, error) {
	if err := p.EnsureReady(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.db, nil
}

// analysisRow mirrors the analyses table for sqlx scanning.
type analysisRow struct {
	AnalysisID   string         `db:"analysis_id"`
	EvidenceID   string         `db:"evidence_id"`
	MediaType    string         `db:"media_type"`
	Priority     int            `db:"priority"`
	Status       string         `db:"status"`
	Progress     int            `db:"progress"`
	FilePath     string         `db:"file_path"`
	UserID       sql.NullString `db:"user_id"`
	SubmittedAt  time.Time      `db:"submitted_at"`
	StartedAt    sql.NullTime   `db:"started_at"`
	CompletedAt  sql.NullTime   `db:"completed_at"`
	ErrorMessage sql.NullString `db:"error_message"`
}

func (r *analysisRow) toJob() *domain.Job {
	job := &domain.Job{
		ID:          r.AnalysisID,
		EvidenceID:  r.EvidenceID,
		MediaType:   domain.MediaType(r.MediaType),
		Priority:    r.Priority,
		Status:      domain.Status(r.Status),
		Progress:    r.Progress,
		PayloadRef:  r.FilePath,
		UserID:      r.UserID.String,
		SubmittedAt: r.SubmittedAt,
	}
	if r.StartedAt.Valid {
		t := r.StartedAt.Time
		job.StartedAt = &t
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		job.CompletedAt = &t
	}
	if r.ErrorMessage.Valid {
		job.ErrorMessage = r.ErrorMessage.String
	}
	return job
}

// SaveJob upserts the lightweight analysis record. Result blobs never travel
// through this path; see SaveResult.
func (p *Postgres) SaveJob(ctx context.Context, job *domain.Job) error {
	db, err := p.handle(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO analyses (
			analysis_id, evidence_id, media_type, priority, status, progress,
			file_path, user_id, submitted_at, started_at, completed_at,
			error_message, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, NOW()
		)
		ON CONFLICT (analysis_id) DO UPDATE SET
			status = EXCLUDED.status,
			progress = EXCLUDED.progress,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			error_message = EXCLUDED.error_message,
			updated_at = NOW()
	`

	_, err = db.ExecContext(
		ctx,
		query,
		job.ID,
		job.EvidenceID,
		string(job.MediaType),
		job.Priority,
		string(job.Status),
		job.Progress,
		job.PayloadRef,
		nullString(job.UserID),
		job.SubmittedAt,
		nullTime(job.StartedAt),
		nullTime(job.CompletedAt),
		nullString(job.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("failed to save analysis record: %w", err)
	}

	return nil
}

// GetJob fetches one analysis record. Returns domain.ErrNotFound for an
// unknown id.
func (p *Postgres) GetJob(ctx context.Context, analysisID string) (*domain.Job, error) {
	db, err := p.handle(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT analysis_id, evidence_id, media_type, priority, status, progress,
		       file_path, user_id, submitted_at, started_at, completed_at, error_message
		FROM analyses
		WHERE analysis_id = $1
	`

	var row analysisRow
	if err := db.GetContext(ctx, &row, query, analysisID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get analysis record: %w", err)
	}

	return row.toJob(), nil
}

// SaveResult upserts the full result blob, keyed by analysis id and decoupled
// from the status record.
func (p *Postgres) SaveResult(ctx context.Context, analysisID string, results json.RawMessage) error {
	db, err := p.handle(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO analysis_results (analysis_id, results, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (analysis_id) DO UPDATE SET results = EXCLUDED.results
	`

	if _, err := db.ExecContext(ctx, query, analysisID, []byte(results)); err != nil {
		return fmt.Errorf("failed to save analysis results: %w", err)
	}

	return nil
}

// GetResult fetches the full result blob. Returns domain.ErrNotFound when no
// blob was recorded for the id.
func (p *Postgres) GetResult(ctx context.Context, analysisID string) (json.RawMessage, error) {
	db, err := p.handle(ctx)
	if err != nil {
		return nil, err
	}

	var raw []byte
	query := `SELECT results FROM analysis_results WHERE analysis_id = $1`
	if err := db.GetContext(ctx, &raw, query, analysisID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get analysis results: %w", err)
	}

	return json.RawMessage(raw), nil
}

// ListByEvidence returns analyses referencing one evidence item, newest first.
func (p *Postgres) ListByEvidence(ctx context.Context, evidenceID string, skip, limit int) ([]domain.Job, error) {
	db, err := p.handle(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT analysis_id, evidence_id, media_type, priority, status, progress,
		       file_path, user_id, submitted_at, started_at, completed_at, error_message
		FROM analyses
		WHERE evidence_id = $1
		ORDER BY submitted_at DESC, analysis_id DESC
		LIMIT $2 OFFSET $3
	`

	var rows []analysisRow
	if err := db.SelectContext(ctx, &rows, query, evidenceID, limit, skip); err != nil {
		return nil, fmt.Errorf("failed to list analyses for evidence: %w", err)
	}

	jobs := make([]domain.Job, len(rows))
	for i := range rows {
		jobs[i] = *rows[i].toJob()
	}
	return jobs, nil
}

// HealthCheck verifies the connection with a trivial query.
func (p *Postgres) HealthCheck(ctx context.Context) error {
	db, err := p.handle(ctx)
	if err != nil {
		return fmt.Errorf("database unavailable: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var result int
	if err := db.GetContext(ctx, &result, "SELECT 1"); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
