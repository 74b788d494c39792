package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"photo-critic/api/internal/critique/types"
)

// ErrDisabled is returned by a nil repo (no database configured).
var ErrDisabled = errors.New("history store disabled")

// CritiqueRepo is an append-only audit log of answered critiques.
// It is never read to answer a critique.
type CritiqueRepo struct{ DB *sql.DB }

func NewCritiqueRepo(db *sql.DB) *CritiqueRepo { return &CritiqueRepo{DB: db} }

type Record struct {
	ID          uuid.UUID
	CreatedAt   time.Time
	ImageHash   string
	Engine      string
	Model       string
	ViewerLevel string
	Detailed    bool
	Result      types.Result
	Strategy    string
	Degraded    bool
}

const schema = `
create table if not exists critiques (
  id           uuid primary key,
  created_at   timestamptz not null default now(),
  image_hash   text not null,
  engine       text not null,
  model        text not null,
  viewer_level text not null default '',
  detailed     boolean not null default false,
  full_text    text not null,
  result_json  jsonb not null,
  regions      integer not null default 0,
  strategy     text not null default '',
  degraded     boolean not null default false
);
create index if not exists critiques_image_hash_idx on critiques (image_hash, created_at desc);`

func (r *CritiqueRepo) enabled() bool { return r != nil && r.DB != nil }

func (r *CritiqueRepo) Enabled() bool { return r.enabled() }

func (r *CritiqueRepo) EnsureSchema(ctx context.Context) error {
	if !r.enabled() {
		return ErrDisabled
	}
	_, err := r.DB.ExecContext(ctx, schema)
	return err
}

// Insert stores a record, filling ID and CreatedAt when empty.
func (r *CritiqueRepo) Insert(ctx context.Context, rec *Record) error {
	if !r.enabled() {
		return ErrDisabled
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	js, err := json.Marshal(rec.Result)
	if err != nil {
		return err
	}
	const q = `
insert into critiques (
  id, created_at, image_hash, engine, model, viewer_level, detailed,
  full_text, result_json, regions, strategy, degraded
) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	_, err = r.DB.ExecContext(ctx, q,
		rec.ID, rec.CreatedAt, rec.ImageHash, rec.Engine, rec.Model, rec.ViewerLevel, rec.Detailed,
		rec.Result.FullText, js, len(rec.Result.Regions), rec.Strategy, rec.Degraded,
	)
	return err
}

// ListByHash returns the newest records for an image hash.
func (r *CritiqueRepo) ListByHash(ctx context.Context, imageHash string, limit int) ([]Record, error) {
	if !r.enabled() {
		return nil, ErrDisabled
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	const q = `
select id, created_at, image_hash, engine, model, viewer_level, detailed,
       result_json, strategy, degraded
from critiques
where image_hash = $1
order by created_at desc
limit $2`
	rows, err := r.DB.QueryContext(ctx, q, imageHash, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec Record
			js  []byte
		)
		if err := rows.Scan(&rec.ID, &rec.CreatedAt, &rec.ImageHash, &rec.Engine, &rec.Model,
			&rec.ViewerLevel, &rec.Detailed, &js, &rec.Strategy, &rec.Degraded); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(js, &rec.Result); err != nil {
			continue
		}
		if rec.Result.Regions == nil {
			rec.Result.Regions = []types.Region{}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PurgeOlderThan удаляет старые записи, чтобы не раздувать БД.
func (r *CritiqueRepo) PurgeOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	if !r.enabled() {
		return 0, ErrDisabled
	}
	if olderThan <= 0 {
		return 0, errors.New("olderThan must be > 0")
	}
	cutoff := time.Now().Add(-olderThan)
	const q = `delete from critiques where created_at < $1`
	res, err := r.DB.ExecContext(ctx, q, cutoff)
	if err != nil {
		return 0, err
	}
	aff, _ := res.RowsAffected()
	return aff, nil
}
