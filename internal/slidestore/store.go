package slidestore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/followspot-labs/followspot-core/internal/config"
	"github.com/followspot-labs/followspot-core/internal/follow"
	_ "modernc.org/sqlite"
)

// Advance is one recorded slide change, kept so an operator can review
// what the matcher did during a live run.
type Advance struct {
	ID        int64
	SlideID   string
	Reason    string
	Score     float64
	Excerpt   string
	CreatedAt time.Time
}

// Store persists the ordered slide sequence and the advance history in
// SQLite. The editor replaces the sequence wholesale; the director only
// reads snapshots and appends history.
type Store struct {
	db    *sql.DB
	cfg   config.SlideStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the slide store according to config.
func Open(ctx context.Context, cfg config.SlideStoreConfig, log *slog.Logger) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("slide store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("slide store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS slides (
    slide_id TEXT PRIMARY KEY,
    body TEXT NOT NULL,
    position INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS advances (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    slide_id TEXT NOT NULL,
    reason TEXT NOT NULL,
    score REAL,
    excerpt TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_advances_created ON advances(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ReplaceSlides swaps the whole sequence atomically.
func (s *Store) ReplaceSlides(ctx context.Context, slides []follow.Slide) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM slides`); err != nil {
		return err
	}
	for _, slide := range slides {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO slides(slide_id, body, position) VALUES(?, ?, ?)`,
			slide.ID, slide.Text, slide.Order); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Slides returns an ordered snapshot of the sequence. Position ties
// break by insertion order.
func (s *Store) Slides(ctx context.Context) ([]follow.Slide, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT slide_id, body, position FROM slides ORDER BY position ASC, rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slides []follow.Slide
	for rows.Next() {
		var slide follow.Slide
		if err := rows.Scan(&slide.ID, &slide.Text, &slide.Order); err != nil {
			return nil, err
		}
		slides = append(slides, slide)
	}
	return slides, rows.Err()
}

// RecordAdvance appends one slide change to the history.
func (s *Store) RecordAdvance(ctx context.Context, adv Advance) error {
	if adv.CreatedAt.IsZero() {
		adv.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO advances(slide_id, reason, score, excerpt, created_at) VALUES(?, ?, ?, ?, ?)`,
		adv.SlideID, adv.Reason, adv.Score, adv.Excerpt, adv.CreatedAt)
	return err
}

// RecentAdvances lists history newest first.
func (s *Store) RecentAdvances(ctx context.Context, limit int) ([]Advance, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, slide_id, reason, score, excerpt, created_at
		 FROM advances ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var advances []Advance
	for rows.Next() {
		var adv Advance
		var created string
		if err := rows.Scan(&adv.ID, &adv.SlideID, &adv.Reason, &adv.Score, &adv.Excerpt, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			adv.CreatedAt = ts
		}
		advances = append(advances, adv)
	}
	return advances, rows.Err()
}

// Prune trims history beyond the configured limit.
func (s *Store) Prune(ctx context.Context) error {
	if s.cfg.HistoryLimit <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM advances WHERE id IN (
		SELECT id FROM advances ORDER BY id DESC LIMIT -1 OFFSET ?
	)`, s.cfg.HistoryLimit)
	return err
}
