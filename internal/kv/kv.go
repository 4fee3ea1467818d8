// Package kv is a string key/value store kept in its own database.
package kv

import (
	"context"
	"fmt"

	"github.com/roach88/sqlbridge/internal/registry"
	"github.com/roach88/sqlbridge/internal/sqlerr"
	"github.com/roach88/sqlbridge/internal/store"
	"github.com/roach88/sqlbridge/internal/value"
)

// DefaultName is the database name used when Options.Name is empty.
const DefaultName = "__sqlbridge_storage.sqlite"

const (
	schemaSQL = "CREATE TABLE IF NOT EXISTS storage (key TEXT PRIMARY KEY, value TEXT NOT NULL) WITHOUT ROWID"
	getSQL    = "SELECT value FROM storage WHERE key = ?"
	setSQL    = "INSERT OR REPLACE INTO storage (key, value) VALUES (?, ?)"
	removeSQL = "DELETE FROM storage WHERE key = ?"
	clearSQL  = "DELETE FROM storage"
	keysSQL   = "SELECT key FROM storage ORDER BY key"
)

// DB is the part of the bridge Storage needs.
type DB interface {
	Open(name string, opts registry.Options) error
	Execute(ctx context.Context, name, sql string, params []any) (*store.Result, error)
	Remove(name, location string) error
}

// Options configure Open.
type Options struct {
	Name     string
	Location string
}

// Storage is a key/value view over one database.
type Storage struct {
	db       DB
	name     string
	location string
}

// Open opens the storage database and creates its table if needed.
func Open(ctx context.Context, db DB, opts Options) (*Storage, error) {
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if err := db.Open(opts.Name, registry.Options{Location: opts.Location}); err != nil {
		return nil, err
	}
	s := &Storage{db: db, name: opts.Name, location: opts.Location}
	if _, err := db.Execute(ctx, s.name, schemaSQL, nil); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the value for key and whether it exists.
func (s *Storage) Get(ctx context.Context, key string) (string, bool, error) {
	res, err := s.db.Execute(ctx, s.name, getSQL, []any{key})
	if err != nil {
		return "", false, err
	}
	if len(res.Rows) == 0 {
		return "", false, nil
	}
	v, _ := res.Rows[0].Get("value")
	text, ok := v.(value.Text)
	if !ok {
		return "", false, sqlerr.Map(sqlerr.OpStorage, s.name,
			fmt.Errorf("value for %q must be text, got %s", key, v.Kind()))
	}
	return string(text), true, nil
}

// Set stores value under key, replacing any previous value.
func (s *Storage) Set(ctx context.Context, key, val string) error {
	_, err := s.db.Execute(ctx, s.name, setSQL, []any{key, val})
	return err
}

// Remove deletes key. Removing a missing key is not an error.
func (s *Storage) Remove(ctx context.Context, key string) error {
	_, err := s.db.Execute(ctx, s.name, removeSQL, []any{key})
	return err
}

// Clear deletes every key.
func (s *Storage) Clear(ctx context.Context) error {
	_, err := s.db.Execute(ctx, s.name, clearSQL, nil)
	return err
}

// Keys returns every key in sorted order.
func (s *Storage) Keys(ctx context.Context) ([]string, error) {
	res, err := s.db.Execute(ctx, s.name, keysSQL, nil)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		v, _ := row.Get("key")
		if t, ok := v.(value.Text); ok {
			keys = append(keys, string(t))
		}
	}
	return keys, nil
}

// Delete closes the storage database and removes its file.
func (s *Storage) Delete() error {
	return s.db.Remove(s.name, s.location)
}
