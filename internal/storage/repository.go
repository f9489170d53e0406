package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"bundleradar/internal/detector"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	ensureSchemaSQL = `CREATE TABLE IF NOT EXISTS bundle_alerts (
        id              UUID PRIMARY KEY,
        mint            TEXT        NOT NULL,
        name            TEXT        NOT NULL DEFAULT '',
        tier            TEXT        NOT NULL,
        trade_count     INTEGER     NOT NULL,
        total_sol       NUMERIC     NOT NULL,
        max_single_sol  NUMERIC     NOT NULL,
        dominance_pct   NUMERIC     NOT NULL,
        market_cap_sol  NUMERIC     NOT NULL,
        market_cap_usd  NUMERIC     NOT NULL,
        age_seconds     BIGINT,
        window_ms       BIGINT      NOT NULL,
        detected_at     TIMESTAMPTZ NOT NULL,
        created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE INDEX IF NOT EXISTS bundle_alerts_detected_at_idx ON bundle_alerts (detected_at);
    CREATE INDEX IF NOT EXISTS bundle_alerts_mint_idx ON bundle_alerts (mint);`

	insertAlertSQL = `INSERT INTO bundle_alerts (
        id,
        mint,
        name,
        tier,
        trade_count,
        total_sol,
        max_single_sol,
        dominance_pct,
        market_cap_sol,
        market_cap_usd,
        age_seconds,
        window_ms,
        detected_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
    )
    ON CONFLICT (id) DO UPDATE
    SET market_cap_usd = EXCLUDED.market_cap_usd
    RETURNING created_at;`

	selectAlertColumns = `SELECT
        id::text,
        mint,
        name,
        tier,
        trade_count,
        total_sol::text,
        max_single_sol::text,
        dominance_pct::text,
        market_cap_sol::text,
        market_cap_usd::text,
        age_seconds,
        window_ms,
        detected_at,
        created_at
    FROM bundle_alerts`

	listRecentAlertsSQL = selectAlertColumns + `
    ORDER BY detected_at DESC
    LIMIT $1;`

	listAlertsBetweenSQL = selectAlertColumns + `
    WHERE detected_at >= $1
      AND detected_at < $2
    ORDER BY detected_at;`

	countAlertsSQL = `SELECT COUNT(*) FROM bundle_alerts;`

	deleteAlertsBeforeSQL = `DELETE FROM bundle_alerts WHERE detected_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	ListAlertsBetween(ctx context.Context, from, to time.Time) ([]AlertRecord, error)
	CountAlerts(ctx context.Context) (int64, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store is the write-only audit log of emitted alerts. It never feeds
// detection state back into the engine.
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

// EnsureSchema creates the audit table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, ensureSchemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
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
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// SaveAlert records a detector alert.
func (s *Store) SaveAlert(ctx context.Context, alert detector.Alert, marketCapUSD decimal.Decimal) error {
	_, err := s.InsertAlert(ctx, NewAlertRecord(alert, marketCapUSD))
	return err
}

// InsertAlert persists an alert emission. Re-inserting the same id is a no-op
// apart from refreshing the USD figure.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	var age any
	if alert.AgeSeconds != nil {
		age = *alert.AgeSeconds
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.ID.String(),
		alert.Mint,
		alert.Name,
		alert.Tier,
		alert.TradeCount,
		alert.TotalSol.String(),
		alert.MaxSingleSol.String(),
		alert.DominancePct.String(),
		alert.MarketCapSol.String(),
		alert.MarketCapUSD.String(),
		age,
		alert.WindowMs,
		alert.DetectedAt,
	)

	if scanErr := row.Scan(&alert.CreatedAt); scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return alert, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	return collectAlerts(rows, limit)
}

// ListAlertsBetween lists alerts detected in [from, to).
func (s *Store) ListAlertsBetween(ctx context.Context, from, to time.Time) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listAlertsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list alerts between: %w", queryErr)
	}
	defer rows.Close()

	return collectAlerts(rows, 0)
}

// CountAlerts counts stored alerts.
func (s *Store) CountAlerts(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countAlertsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count alerts: %w", scanErr)
	}
	return count, nil
}

// DeleteAlertsBefore deletes historical alerts and reports how many went.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete alerts before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

func collectAlerts(rows pgx.Rows, capacity int) ([]AlertRecord, error) {
	alerts := make([]AlertRecord, 0, capacity)
	for rows.Next() {
		rec, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

func scanAlert(rows pgx.Rows) (AlertRecord, error) {
	var (
		rec      AlertRecord
		idStr    string
		totalStr string
		maxStr   string
		domStr   string
		mcSol    string
		mcUSD    string
		age      sql.NullInt64
	)

	if err := rows.Scan(
		&idStr,
		&rec.Mint,
		&rec.Name,
		&rec.Tier,
		&rec.TradeCount,
		&totalStr,
		&maxStr,
		&domStr,
		&mcSol,
		&mcUSD,
		&age,
		&rec.WindowMs,
		&rec.DetectedAt,
		&rec.CreatedAt,
	); err != nil {
		return AlertRecord{}, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return AlertRecord{}, fmt.Errorf("parse alert id: %w", err)
	}
	rec.ID = id

	for _, f := range []struct {
		name string
		src  string
		dst  *decimal.Decimal
	}{
		{"total_sol", totalStr, &rec.TotalSol},
		{"max_single_sol", maxStr, &rec.MaxSingleSol},
		{"dominance_pct", domStr, &rec.DominancePct},
		{"market_cap_sol", mcSol, &rec.MarketCapSol},
		{"market_cap_usd", mcUSD, &rec.MarketCapUSD},
	} {
		v, convErr := decimal.NewFromString(f.src)
		if convErr != nil {
			return AlertRecord{}, fmt.Errorf("parse %s: %w", f.name, convErr)
		}
		*f.dst = v
	}

	if age.Valid {
		value := age.Int64
		rec.AgeSeconds = &value
	}
	return rec, nil
}

var (
	_ AlertStore     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
