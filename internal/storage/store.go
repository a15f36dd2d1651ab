package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	createReadingsSQL = `CREATE TABLE IF NOT EXISTS readings (
        id            BIGSERIAL PRIMARY KEY,
        location      TEXT             NOT NULL,
        condition     TEXT             NOT NULL,
        temperature_c DOUBLE PRECISION NOT NULL,
        feels_like_c  DOUBLE PRECISION NOT NULL,
        observed_at   BIGINT           NOT NULL,
        created_at    TIMESTAMPTZ      NOT NULL DEFAULT now()
    );`

	createReadingsIndexSQL = `CREATE INDEX IF NOT EXISTS readings_location_observed_idx
        ON readings (location, observed_at);`

	createSummariesSQL = `CREATE TABLE IF NOT EXISTS daily_summaries (
        location           TEXT             NOT NULL,
        summary_date       DATE             NOT NULL,
        avg_temp_c         DOUBLE PRECISION NOT NULL,
        max_temp_c         DOUBLE PRECISION NOT NULL,
        min_temp_c         DOUBLE PRECISION NOT NULL,
        dominant_condition TEXT             NOT NULL,
        updated_at         TIMESTAMPTZ      NOT NULL DEFAULT now(),
        PRIMARY KEY (location, summary_date)
    );`

	createAlertsSQL = `CREATE TABLE IF NOT EXISTS alerts (
        id            BIGSERIAL PRIMARY KEY,
        location      TEXT             NOT NULL,
        temperature_c DOUBLE PRECISION NOT NULL,
        observed_at   BIGINT           NOT NULL,
        created_at    TIMESTAMPTZ      NOT NULL DEFAULT now()
    );`

	insertReadingSQL = `INSERT INTO readings (
        location,
        condition,
        temperature_c,
        feels_like_c,
        observed_at
    ) VALUES (
        $1,$2,$3,$4,$5
    );`

	listAllReadingsSQL = `SELECT
        id,
        location,
        condition,
        temperature_c,
        feels_like_c,
        observed_at
    FROM readings
    ORDER BY id;`

	listReadingsBetweenSQL = `SELECT
        id,
        location,
        condition,
        temperature_c,
        feels_like_c,
        observed_at
    FROM readings
    WHERE location = $1
      AND observed_at >= $2
      AND observed_at < $3
    ORDER BY observed_at, id;`

	listRecentReadingsSQL = `SELECT
        id,
        location,
        condition,
        temperature_c,
        feels_like_c,
        observed_at
    FROM readings
    WHERE ($1 = '' OR location = $1)
    ORDER BY id DESC
    LIMIT $2;`

	upsertSummarySQL = `INSERT INTO daily_summaries (
        location,
        summary_date,
        avg_temp_c,
        max_temp_c,
        min_temp_c,
        dominant_condition,
        updated_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,now()
    )
    ON CONFLICT (location, summary_date) DO UPDATE
    SET
        avg_temp_c         = EXCLUDED.avg_temp_c,
        max_temp_c         = EXCLUDED.max_temp_c,
        min_temp_c         = EXCLUDED.min_temp_c,
        dominant_condition = EXCLUDED.dominant_condition,
        updated_at         = EXCLUDED.updated_at;`

	listSummariesSQL = `SELECT
        location,
        summary_date,
        avg_temp_c,
        max_temp_c,
        min_temp_c,
        dominant_condition,
        updated_at
    FROM daily_summaries
    WHERE ($1 = '' OR location = $1)
    ORDER BY location, summary_date;`

	insertAlertSQL = `INSERT INTO alerts (
        location,
        temperature_c,
        observed_at
    ) VALUES (
        $1,$2,$3
    );`

	listRecentAlertsSQL = `SELECT
        id,
        location,
        temperature_c,
        observed_at,
        created_at
    FROM alerts
    WHERE ($1 = '' OR location = $1)
    ORDER BY id DESC
    LIMIT $2;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// ReadingStore is the append-only raw reading log.
type ReadingStore interface {
	AppendReading(ctx context.Context, reading Reading) error
	// AllReadings returns every reading in insertion order.
	AllReadings(ctx context.Context) ([]Reading, error)
	ReadingsForDate(ctx context.Context, location string, date time.Time, zone *time.Location) ([]Reading, error)
	ListRecentReadings(ctx context.Context, location string, limit int) ([]Reading, error)
}

// SummaryStore holds daily summaries keyed by (location, date).
type SummaryStore interface {
	UpsertSummary(ctx context.Context, summary DailySummary) error
	// ListSummaries lists summaries for one location, or all when location is empty.
	ListSummaries(ctx context.Context, location string) ([]DailySummary, error)
}

// AlertStore is the append-only alert log.
type AlertStore interface {
	AppendAlert(ctx context.Context, alert Alert) error
	ListRecentAlerts(ctx context.Context, location string, limit int) ([]Alert, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// SchemaEnsurer creates the persisted tables when missing.
type SchemaEnsurer interface {
	EnsureSchema(ctx context.Context) error
}

// Store aggregates access to readings, daily summaries and alerts in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the readings, daily_summaries and alerts tables.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, stmt := range []string{createReadingsSQL, createReadingsIndexSQL, createSummariesSQL, createAlertsSQL} {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the lock is dropped with the session anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// AppendReading inserts a raw reading.
func (s *Store) AppendReading(ctx context.Context, reading Reading) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, insertReadingSQL,
		reading.Location,
		reading.Condition,
		reading.TemperatureC,
		reading.FeelsLikeC,
		reading.ObservedAt,
	)
	if execErr != nil {
		return fmt.Errorf("append reading: %w", execErr)
	}
	return nil
}

// AllReadings lists the whole raw log ordered by insertion.
func (s *Store) AllReadings(ctx context.Context) ([]Reading, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listAllReadingsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list all readings: %w", queryErr)
	}
	return collectReadings(rows)
}

// ReadingsForDate lists one location's readings whose observation falls on date in zone.
func (s *Store) ReadingsForDate(ctx context.Context, location string, date time.Time, zone *time.Location) ([]Reading, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	from, to := DayBounds(date, zone)
	rows, queryErr := pool.Query(ctx, listReadingsBetweenSQL, location, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list readings for date: %w", queryErr)
	}
	return collectReadings(rows)
}

// ListRecentReadings lists the most recently appended readings, newest first.
func (s *Store) ListRecentReadings(ctx context.Context, location string, limit int) ([]Reading, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listRecentReadingsSQL, location, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent readings: %w", queryErr)
	}
	return collectReadings(rows)
}

// UpsertSummary inserts or replaces the summary for (location, date).
func (s *Store) UpsertSummary(ctx context.Context, summary DailySummary) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, upsertSummarySQL,
		summary.Location,
		summary.Date,
		summary.AvgTempC,
		summary.MaxTempC,
		summary.MinTempC,
		summary.DominantCondition,
	)
	if execErr != nil {
		return fmt.Errorf("upsert summary %s/%s: %w", summary.Location, summary.Date.Format(time.DateOnly), execErr)
	}
	return nil
}

// ListSummaries lists daily summaries ordered by location and date.
func (s *Store) ListSummaries(ctx context.Context, location string) ([]DailySummary, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listSummariesSQL, location)
	if queryErr != nil {
		return nil, fmt.Errorf("list summaries: %w", queryErr)
	}
	defer rows.Close()

	summaries := make([]DailySummary, 0)
	for rows.Next() {
		var sum DailySummary
		if err := rows.Scan(
			&sum.Location,
			&sum.Date,
			&sum.AvgTempC,
			&sum.MaxTempC,
			&sum.MinTempC,
			&sum.DominantCondition,
			&sum.UpdatedAt,
		); err != nil {
			return nil, err
		}
		sum.Date = CalendarDate(sum.Date, time.UTC)
		summaries = append(summaries, sum)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return summaries, nil
}

// AppendAlert inserts a fired alert.
func (s *Store) AppendAlert(ctx context.Context, alert Alert) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, insertAlertSQL, alert.Location, alert.TemperatureC, alert.ObservedAt); execErr != nil {
		return fmt.Errorf("append alert: %w", execErr)
	}
	return nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, location string, limit int) ([]Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, location, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]Alert, 0, limit)
	for rows.Next() {
		var rec Alert
		if err := rows.Scan(
			&rec.ID,
			&rec.Location,
			&rec.TemperatureC,
			&rec.ObservedAt,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

func collectReadings(rows pgx.Rows) ([]Reading, error) {
	defer rows.Close()

	readings := make([]Reading, 0)
	for rows.Next() {
		var r Reading
		if err := rows.Scan(
			&r.Seq,
			&r.Location,
			&r.Condition,
			&r.TemperatureC,
			&r.FeelsLikeC,
			&r.ObservedAt,
		); err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return readings, nil
}

var (
	_ ReadingStore   = (*Store)(nil)
	_ SummaryStore   = (*Store)(nil)
	_ AlertStore     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
	_ SchemaEnsurer  = (*Store)(nil)
)
