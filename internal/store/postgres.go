package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

type Store struct{ DB *sql.DB }

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Store{DB: db}, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.DB.PingContext(ctx) }

func (s *Store) Close() error { return s.DB.Close() }

var migrations = []string{
	`CREATE EXTENSION IF NOT EXISTS pgcrypto;`,
	`CREATE TABLE IF NOT EXISTS properties (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		property_key    TEXT NOT NULL,
		address_line1   TEXT NOT NULL,
		city            TEXT NOT NULL,
		state           TEXT NOT NULL,
		zip             TEXT NOT NULL,
		lat             DOUBLE PRECISION,
		lon             DOUBLE PRECISION,
		attom_id        TEXT,
		beds            SMALLINT,
		baths           NUMERIC,
		sqft            INTEGER,
		property_type   TEXT,
		year_built      SMALLINT,
		avm_value       NUMERIC,
		assessed_value  NUMERIC,
		last_sale_date  DATE,
		last_sale_price NUMERIC,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_fetch_at   TIMESTAMPTZ,
		stale_after     TIMESTAMPTZ
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_properties_property_key ON properties(property_key);`,
	`CREATE INDEX IF NOT EXISTS idx_properties_zip ON properties(zip);`,
	`CREATE TABLE IF NOT EXISTS provider_raw_snapshots (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		provider       TEXT NOT NULL,
		endpoint       TEXT NOT NULL,
		external_id    TEXT,
		payload        JSONB NOT NULL,
		fetched_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		payload_sha256 TEXT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_provider ON provider_raw_snapshots(provider, endpoint, fetched_at DESC);`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_external ON provider_raw_snapshots(provider, external_id);`,
	`CREATE TABLE IF NOT EXISTS comparable_searches (
		id                 UUID PRIMARY KEY,
		mode               TEXT NOT NULL,
		subject_key        TEXT,
		subject_address    TEXT NOT NULL,
		outcome            TEXT NOT NULL,
		final_radius_miles DOUBLE PRECISION,
		iterations         INTEGER NOT NULL DEFAULT 0,
		comparables        INTEGER NOT NULL DEFAULT 0,
		result             JSONB,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_searches_subject ON comparable_searches(subject_key, created_at DESC);`,
}

func (s *Store) Migrate(ctx context.Context) error {
	for _, q := range migrations {
		if _, err := s.DB.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// PropertyInput is one normalized provider record.
type PropertyInput struct {
	PropertyKey   string
	Address1      string
	City          string
	State         string
	Zip           string
	Lat           sql.NullFloat64
	Lon           sql.NullFloat64
	AttomID       sql.NullString
	Beds          sql.NullInt64
	Baths         sql.NullFloat64
	Sqft          sql.NullInt64
	PropertyType  sql.NullString
	YearBuilt     sql.NullInt64
	AVMValue      sql.NullFloat64
	AssessedValue sql.NullFloat64
	LastSaleDate  sql.NullTime
	LastSalePrice sql.NullFloat64
}

// SnapshotInput is one raw provider payload.
type SnapshotInput struct {
	Provider    string
	Endpoint    string
	ExternalID  string
	PayloadJSON []byte
	StaleAfter  time.Duration
}

type SnapshotResult struct {
	SnapshotID  string
	PropertyIDs []string
}

const upsertProperty = `
	INSERT INTO properties (property_key, address_line1, city, state, zip, lat, lon, attom_id, beds, baths, sqft,
		property_type, year_built, avm_value, assessed_value, last_sale_date, last_sale_price, last_fetch_at, stale_after)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17, now(), now() + $18::interval)
	ON CONFLICT (property_key)
	DO UPDATE SET address_line1=EXCLUDED.address_line1, city=EXCLUDED.city, state=EXCLUDED.state, zip=EXCLUDED.zip,
		lat=COALESCE(EXCLUDED.lat, properties.lat), lon=COALESCE(EXCLUDED.lon, properties.lon),
		attom_id=COALESCE(EXCLUDED.attom_id, properties.attom_id),
		beds=COALESCE(EXCLUDED.beds, properties.beds), baths=COALESCE(EXCLUDED.baths, properties.baths),
		sqft=COALESCE(EXCLUDED.sqft, properties.sqft), property_type=COALESCE(EXCLUDED.property_type, properties.property_type),
		year_built=COALESCE(EXCLUDED.year_built, properties.year_built),
		avm_value=COALESCE(EXCLUDED.avm_value, properties.avm_value),
		assessed_value=COALESCE(EXCLUDED.assessed_value, properties.assessed_value),
		last_sale_date=COALESCE(EXCLUDED.last_sale_date, properties.last_sale_date),
		last_sale_price=COALESCE(EXCLUDED.last_sale_price, properties.last_sale_price),
		updated_at=now(), last_fetch_at=now(), stale_after=EXCLUDED.stale_after
	RETURNING id`

// WriteSnapshotAndUpsert stores the raw payload once and upserts every
// property it carried, in one transaction. Partial records never erase
// values already known for a property.
func (s *Store) WriteSnapshotAndUpsert(ctx context.Context, snap SnapshotInput, props []PropertyInput) (res SnapshotResult, err error) {
	if s.DB == nil {
		return res, errors.New("nil db")
	}
	stale := snap.StaleAfter
	if stale <= 0 {
		stale = 24 * time.Hour
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, p := range props {
		var id string
		err = tx.QueryRowContext(ctx, upsertProperty,
			p.PropertyKey, p.Address1, p.City, p.State, p.Zip, p.Lat, p.Lon, p.AttomID,
			p.Beds, p.Baths, p.Sqft, p.PropertyType, p.YearBuilt, p.AVMValue, p.AssessedValue,
			p.LastSaleDate, p.LastSalePrice, fmt.Sprintf("%d seconds", int64(stale/time.Second)),
		).Scan(&id)
		if err != nil {
			return res, fmt.Errorf("upsert property %s: %w", p.PropertyKey, err)
		}
		res.PropertyIDs = append(res.PropertyIDs, id)
	}

	sum := sha256.Sum256(snap.PayloadJSON)
	sha := hex.EncodeToString(sum[:])
	err = tx.QueryRowContext(ctx, `
		INSERT INTO provider_raw_snapshots (provider, endpoint, external_id, payload, payload_sha256)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id`,
		snap.Provider, snap.Endpoint, snap.ExternalID, string(snap.PayloadJSON), sha,
	).Scan(&res.SnapshotID)
	if err != nil {
		return res, fmt.Errorf("insert snapshot: %w", err)
	}

	err = tx.Commit()
	return res, err
}

// SearchRecord is the archived outcome of one comparable search.
type SearchRecord struct {
	ID               uuid.UUID `json:"search_id"`
	Mode             string    `json:"mode"`
	SubjectKey       string    `json:"subject_key"`
	SubjectAddress   string    `json:"subject_address"`
	Outcome          string    `json:"outcome"`
	FinalRadiusMiles float64   `json:"final_radius_miles"`
	Iterations       int       `json:"iterations"`
	Comparables      int       `json:"comparables"`
	ResultJSON       []byte    `json:"-"`
	// CreatedAt is set by the database.
	CreatedAt time.Time `json:"created_at"`
}

func (s *Store) SaveSearch(ctx context.Context, r SearchRecord) error {
	if s.DB == nil {
		return errors.New("nil db")
	}
	var result any
	if len(r.ResultJSON) > 0 {
		result = string(r.ResultJSON)
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO comparable_searches (id, mode, subject_key, subject_address, outcome, final_radius_miles, iterations, comparables, result)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO NOTHING`,
		r.ID.String(), r.Mode, r.SubjectKey, r.SubjectAddress, r.Outcome, r.FinalRadiusMiles, r.Iterations, r.Comparables, result,
	)
	return err
}

// RecentSearches returns the latest searches for a subject, newest first.
func (s *Store) RecentSearches(ctx context.Context, subjectKey string, limit int) ([]SearchRecord, error) {
	if s.DB == nil {
		return nil, errors.New("nil db")
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, mode, subject_key, subject_address, outcome, final_radius_miles, iterations, comparables, created_at
		FROM comparable_searches
		WHERE subject_key = $1
		ORDER BY created_at DESC
		LIMIT $2`, subjectKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SearchRecord
	for rows.Next() {
		var r SearchRecord
		var id string
		var radius sql.NullFloat64
		if err := rows.Scan(&id, &r.Mode, &r.SubjectKey, &r.SubjectAddress, &r.Outcome, &radius, &r.Iterations, &r.Comparables, &r.CreatedAt); err != nil {
			return nil, err
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		r.FinalRadiusMiles = radius.Float64
		out = append(out, r)
	}
	return out, rows.Err()
}
