// Package storage persists the small string-valued state of the application
// (last search, favorites) in a pluggable key-value backend.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/kjstillabower/city-weather/internal/observability"
)

// Well-known keys.
const (
	KeySearch    = "searchKey"
	KeyFavorites = "favorites"
)

// Backend types accepted by New.
const (
	TypeMemory = "memory"
	TypeFile   = "file"
	TypeSQLite = "sqlite"
	TypeRedis  = "redis"
)

const DefaultProfile = "default"

var ErrUnknownType = errors.New("unknown storage type")

// KV is a string key-value store scoped to one profile.
// Get reports ok=false for an absent key.
type KV interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Close() error
}

type Config struct {
	Type     string
	Path     string // file and sqlite
	RedisURL string
	Profile  string
}

// New opens the backend named by cfg.Type. Every operation is counted in the
// storage metrics under the backend name.
func New(ctx context.Context, cfg Config) (KV, error) {
	if cfg.Profile == "" {
		cfg.Profile = DefaultProfile
	}

	var (
		kv  KV
		err error
	)
	switch cfg.Type {
	case TypeMemory:
		kv = NewMemoryKV()
	case TypeFile, "":
		cfg.Type = TypeFile
		kv, err = NewFileKV(cfg.Path, cfg.Profile)
	case TypeSQLite:
		kv, err = NewSQLiteKV(ctx, cfg.Path, cfg.Profile)
	case TypeRedis:
		kv, err = NewRedisKV(ctx, cfg.RedisURL, cfg.Profile)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.Type, err)
	}
	return &instrumented{kv: kv, backend: cfg.Type}, nil
}

type instrumented struct {
	kv      KV
	backend string
}

func (i *instrumented) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok, err := i.kv.Get(ctx, key)
	observability.RecordStorageOp(i.backend, "get", err)
	return v, ok, err
}

func (i *instrumented) Set(ctx context.Context, key, value string) error {
	err := i.kv.Set(ctx, key, value)
	observability.RecordStorageOp(i.backend, "set", err)
	return err
}

func (i *instrumented) Close() error {
	return i.kv.Close()
}
