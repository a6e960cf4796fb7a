package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"simjobs/internal/apperrors"
	"simjobs/internal/auth"
	"simjobs/internal/job"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const jobColumns = `id, owner_id, parameters, status, result, attempts, created_at, updated_at`

// jobRow is the flat SQL shape of a job.
type jobRow struct {
	ID         string         `db:"id"`
	OwnerID    string         `db:"owner_id"`
	Parameters string         `db:"parameters"`
	Status     job.Status     `db:"status"`
	Result     sql.NullString `db:"result"`
	Attempts   int            `db:"attempts"`
	CreatedAt  time.Time      `db:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at"`
}

func (r jobRow) toJob() (*job.Job, error) {
	j := &job.Job{
		ID:        r.ID,
		OwnerID:   r.OwnerID,
		Status:    r.Status,
		Attempts:  r.Attempts,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
	if err := json.Unmarshal([]byte(r.Parameters), &j.Parameters); err != nil {
		return nil, apperrors.Internal("store.decode", fmt.Errorf("job %s parameters: %w", r.ID, err))
	}
	if r.Result.Valid {
		j.Result = job.Result(r.Result.String)
	}
	return j, nil
}

// SQL is a Backend on PostgreSQL or SQLite.
type SQL struct {
	db    *sqlx.DB
	now   func() time.Time
	newID func() string
}

// OpenSQL connects to cfg.URL, tunes the pool for the driver and migrates the schema.
func OpenSQL(ctx context.Context, cfg Config, opts ...Option) (*SQL, error) {
	cfg = cfg.withDefaults()
	driverName, dsn := cfg.Driver, cfg.URL
	if cfg.Driver == DriverSQLite {
		driverName = "sqlite3"
	} else if !strings.Contains(dsn, "connect_timeout") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += fmt.Sprintf("%sconnect_timeout=%d", sep, int(cfg.ConnectTimeout.Seconds()))
	}

	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}

	if cfg.Driver == DriverSQLite {
		// One connection: SQLite serializes writers anyway, and ":memory:" is per connection.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns / 2)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}

	if cfg.Driver == DriverSQLite {
		for _, pragma := range []string{`PRAGMA foreign_keys=ON`, `PRAGMA busy_timeout=5000`} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("%s: %w", pragma, err)
			}
		}
		if cfg.URL != ":memory:" {
			if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("enable WAL: %w", err)
			}
		}
	}

	if err := migrate(ctx, db, cfg.Driver); err != nil {
		_ = db.Close()
		return nil, err
	}

	o := buildOptions(opts)
	return &SQL{db: db, now: o.now, newID: o.newID}, nil
}

func (s *SQL) timestamp() time.Time {
	return s.now().UTC()
}

// Create inserts a Submitted job.
func (s *SQL) Create(ctx context.Context, ownerID string, params job.Parameters) (*job.Job, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, apperrors.Internal("store.create", err)
	}
	now := s.timestamp()
	j := &job.Job{
		ID:         s.newID(),
		OwnerID:    ownerID,
		Parameters: params.Clone(),
		Status:     job.StatusSubmitted,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, NULL, 0, ?, ?)`),
		j.ID, j.OwnerID, string(body), j.Status, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperrors.Conflict("job", j.ID, "job "+j.ID+" already exists")
		}
		return nil, unavailable("store.create", err)
	}
	return j, nil
}

// Get returns a job owned by ownerID.
func (s *SQL) Get(ctx context.Context, id, ownerID string) (*job.Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(
		`SELECT `+jobColumns+` FROM jobs WHERE id = ? AND owner_id = ?`), id, ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("job", id)
	}
	if err != nil {
		return nil, unavailable("store.get", err)
	}
	return row.toJob()
}

// List returns ownerID's jobs, newest first.
func (s *SQL) List(ctx context.Context, ownerID string) ([]job.Job, error) {
	var rows []jobRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		`SELECT `+jobColumns+` FROM jobs WHERE owner_id = ? ORDER BY created_at DESC, id DESC`), ownerID)
	if err != nil {
		return nil, unavailable("store.list", err)
	}
	return toJobs(rows)
}

// Transition applies a conditional status update. Exactly one of any number of
// concurrent callers with the same from status succeeds.
func (s *SQL) Transition(ctx context.Context, id string, from, to job.Status, result job.Result) (*job.Job, error) {
	if err := job.CheckTransition(from, to, result); err != nil {
		return nil, err
	}
	attemptDelta := 0
	if to == job.StatusRunning {
		attemptDelta = 1
	}
	var stored sql.NullString
	if to == job.StatusDone {
		stored = sql.NullString{String: string(result), Valid: true}
	}

	return s.updateOne(ctx, "store.transition", id, from, time.Time{},
		`UPDATE jobs SET status = ?, result = ?, attempts = attempts + ?, updated_at = ?`,
		to, stored, attemptDelta, s.timestamp())
}

// Touch stamps updated_at on a job still in status and older than olderThan.
func (s *SQL) Touch(ctx context.Context, id string, status job.Status, olderThan time.Time) (*job.Job, error) {
	return s.updateOne(ctx, "store.touch", id, status, olderThan,
		`UPDATE jobs SET updated_at = ?`, s.timestamp())
}

// Release returns a Running job to Submitted and gives back its attempt.
func (s *SQL) Release(ctx context.Context, id string, olderThan time.Time) (*job.Job, error) {
	return s.updateOne(ctx, "store.release", id, job.StatusRunning, olderThan,
		`UPDATE jobs SET status = ?, attempts = CASE WHEN attempts > 0 THEN attempts - 1 ELSE 0 END, updated_at = ?`,
		job.StatusSubmitted, s.timestamp())
}

// updateOne runs "update WHERE id AND status [AND updated_at < olderThan]" in a
// transaction and returns the updated row. args bind the SET clause.
func (s *SQL) updateOne(ctx context.Context, op, id string, from job.Status, olderThan time.Time, update string, args ...any) (*job.Job, error) {
	query := update + ` WHERE id = ? AND status = ?`
	args = append(args, id, from)
	if !olderThan.IsZero() {
		query += ` AND updated_at < ?`
		args = append(args, olderThan.UTC())
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, tx.Rebind(query), args...)
	if err != nil {
		return nil, unavailable(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, unavailable(op, err)
	}
	if n == 0 {
		return nil, updateMiss(ctx, tx, op, id, from)
	}

	// The updated row stays locked until commit, so this read sees our write.
	var row jobRow
	if err := tx.GetContext(ctx, &row, tx.Rebind(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`), id); err != nil {
		return nil, unavailable(op, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, unavailable(op, err)
	}
	return row.toJob()
}

// updateMiss tells a missing job apart from one in another status or one
// updated after the cutoff.
func updateMiss(ctx context.Context, tx *sqlx.Tx, op, id string, from job.Status) error {
	var current job.Status
	err := tx.GetContext(ctx, &current, tx.Rebind(`SELECT status FROM jobs WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NotFound("job", id)
	}
	if err != nil {
		return unavailable(op, err)
	}
	if current == from {
		return job.StaleConflict(id, from)
	}
	return job.TransitionConflict(id, from, current)
}

// Delete removes ownerID's job in any status.
func (s *SQL) Delete(ctx context.Context, id, ownerID string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM jobs WHERE id = ? AND owner_id = ?`), id, ownerID)
	if err != nil {
		return unavailable("store.delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("store.delete", err)
	}
	if n == 0 {
		return apperrors.NotFound("job", id)
	}
	return nil
}

// ListStale returns jobs stuck in status since before olderThan, oldest first.
func (s *SQL) ListStale(ctx context.Context, status job.Status, olderThan time.Time, limit int) ([]job.Job, error) {
	var rows []jobRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		`SELECT `+jobColumns+` FROM jobs WHERE status = ? AND updated_at < ? ORDER BY updated_at ASC, id ASC LIMIT ?`),
		status, olderThan.UTC(), limit)
	if err != nil {
		return nil, unavailable("store.list_stale", err)
	}
	return toJobs(rows)
}

// CreateUser inserts a user; duplicate usernames are a Conflict.
func (s *SQL) CreateUser(ctx context.Context, username, passwordHash string) (*auth.User, error) {
	u := &auth.User{
		ID:           s.newID(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    s.timestamp(),
	}
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, created_at) VALUES (:id, :username, :password_hash, :created_at)`, u)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperrors.Conflict("user", username, "username already taken")
		}
		return nil, unavailable("store.create_user", err)
	}
	return u, nil
}

// GetUserByUsername looks a user up by login name.
func (s *SQL) GetUserByUsername(ctx context.Context, username string) (*auth.User, error) {
	var u auth.User
	err := s.db.GetContext(ctx, &u, s.db.Rebind(
		`SELECT id, username, password_hash, created_at FROM users WHERE username = ?`), username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("user", username)
	}
	if err != nil {
		return nil, unavailable("store.get_user", err)
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}

// Ready pings the database.
func (s *SQL) Ready(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("store.ping", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *SQL) Close() error {
	return s.db.Close()
}

func toJobs(rows []jobRow) ([]job.Job, error) {
	jobs := make([]job.Job, 0, len(rows))
	for _, r := range rows {
		j, err := r.toJob()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, nil
}
