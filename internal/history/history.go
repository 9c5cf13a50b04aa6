// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package history provides a persistent record of radar renders.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	// For sql.DB registration.
	_ "modernc.org/sqlite"
)

// DB is a persistent render history store.
type DB struct {
	mu    sync.Mutex
	store *sql.DB
	log   *slog.Logger
}

// Render is the record of a single render request.
type Render struct {
	ID       string        `json:"id"`
	Product  string        `json:"product"`
	Start    time.Time     `json:"start"`
	Duration time.Duration `json:"duration"`

	// Frames holds the source names of the scans in the
	// rendered loop and Skipped holds the names of scans
	// dropped by a skip failure policy.
	Frames  []string `json:"frames,omitempty"`
	Skipped []string `json:"skipped,omitempty"`

	// Size is the length of the encoded animation.
	Size int `json:"size"`

	// Kind and Error describe a failed render.
	Kind  string `json:"kind,omitempty"`
	Error string `json:"error,omitempty"`
}

// Schema is the DB schema. Start times are stored as Unix nanoseconds and
// the frame lists as JSON arrays.
const Schema = `
create table if not exists renders(
	id       TEXT    NOT NULL PRIMARY KEY,
	product  TEXT    NOT NULL,
	start    INTEGER NOT NULL,
	duration INTEGER NOT NULL,
	frames   TEXT    NOT NULL,
	skipped  TEXT    NOT NULL,
	size     INTEGER NOT NULL,
	kind     TEXT    NOT NULL,
	error    TEXT    NOT NULL
);
create index if not exists renders_product_start on renders(product, start);
`

const (
	insert = `
insert into renders values(?, ?, ?, ?, ?, ?, ?, ?, ?);
`

	recent = `
select id, product, start, duration, frames, skipped, size, kind, error
  from renders where product is ? order by start desc, rowid desc limit ?;
`

	prune = `
delete from renders where product is ? and id not in (
  select id from renders where product is ? order by start desc, rowid desc limit ?
);
`
)

// Open opens a DB, creating the tables if required.
// See https://pkg.go.dev/modernc.org/sqlite#Driver.Open for name handling
// details.
func Open(name string, log *slog.Logger) (*DB, error) {
	db, err := sql.Open("sqlite", name)
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(Schema)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &DB{store: db, log: log.With(slog.String("component", "history"))}, nil
}

// Record adds r to the history.
func (db *DB) Record(ctx context.Context, r Render) error {
	db.log.LogAttrs(ctx, slog.LevelDebug, "record", slog.String("id", r.ID), slog.String("product", r.Product))
	frames, err := json.Marshal(nonNil(r.Frames))
	if err != nil {
		return err
	}
	skipped, err := json.Marshal(nonNil(r.Skipped))
	if err != nil {
		return err
	}
	db.mu.Lock()
	_, err = db.store.ExecContext(ctx, insert,
		r.ID, r.Product, r.Start.UnixNano(), int64(r.Duration),
		string(frames), string(skipped), r.Size, r.Kind, r.Error,
	)
	db.mu.Unlock()
	if err != nil {
		db.log.LogAttrs(ctx, slog.LevelError, "record", slog.String("id", r.ID), slog.Any("error", err))
	}
	return err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Recent returns up to n of the most recent renders of product, most
// recent first.
func (db *DB) Recent(ctx context.Context, product string, n int) ([]Render, error) {
	db.log.LogAttrs(ctx, slog.LevelDebug, "recent", slog.String("product", product), slog.Int("n", n))
	db.mu.Lock()
	renders, err := db.recent(ctx, product, n)
	db.mu.Unlock()
	if err != nil {
		db.log.LogAttrs(ctx, slog.LevelError, "recent", slog.String("product", product), slog.Any("error", err))
	}
	return renders, err
}

func (db *DB) recent(ctx context.Context, product string, n int) ([]Render, error) {
	rows, err := db.store.QueryContext(ctx, recent, product, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var renders []Render
	for rows.Next() {
		var (
			r               Render
			start, duration int64
			frames, skipped string
		)
		err = rows.Scan(&r.ID, &r.Product, &start, &duration, &frames, &skipped, &r.Size, &r.Kind, &r.Error)
		if err != nil {
			return nil, err
		}
		r.Start = time.Unix(0, start).UTC()
		r.Duration = time.Duration(duration)
		err = json.Unmarshal([]byte(frames), &r.Frames)
		if err != nil {
			return nil, err
		}
		err = json.Unmarshal([]byte(skipped), &r.Skipped)
		if err != nil {
			return nil, err
		}
		if len(r.Frames) == 0 {
			r.Frames = nil
		}
		if len(r.Skipped) == 0 {
			r.Skipped = nil
		}
		renders = append(renders, r)
	}
	return renders, rows.Err()
}

// Prune removes all but the n most recent renders of product. It returns
// the number of records removed.
func (db *DB) Prune(ctx context.Context, product string, n int) (int64, error) {
	db.log.LogAttrs(ctx, slog.LevelDebug, "prune", slog.String("product", product), slog.Int("keep", n))
	db.mu.Lock()
	res, err := db.store.ExecContext(ctx, prune, product, product, n)
	db.mu.Unlock()
	if err != nil {
		db.log.LogAttrs(ctx, slog.LevelError, "prune", slog.String("product", product), slog.Any("error", err))
		return 0, err
	}
	return res.RowsAffected()
}

// Close closes the database.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.store.Close()
}
