// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 Monas Authors

// Package sqlite implements the message store on SQLite using GORM.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Monas-project/Prot-Prototype/internal/components/store"
	"github.com/Monas-project/Prot-Prototype/internal/platform/cfg"
	"github.com/Monas-project/Prot-Prototype/internal/platform/logutil"
)

func init() {
	store.Register("sqlite", func(raw map[string]any, log *slog.Logger) (store.Driver, error) {
		var c Config
		unused, err := cfg.DecodeWithUnused(raw, &c)
		if err != nil {
			return nil, fmt.Errorf("store.drivers.sqlite: %w", err)
		}
		log = logutil.NoopIfNil(log)
		for _, k := range unused {
			log.Warn("unknown config key ignored", "section", "store.drivers.sqlite", "key", k)
		}
		return NewDriver(c, log)
	})
}

// Config is the [store.drivers.sqlite] table.
type Config struct {
	// Path of the database file. ":memory:" keeps it in process.
	Path string `mapstructure:"path"`
}

// ApplyDefaults implements cfg.Setter.
func (c *Config) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "sharebox.db"
	}
}

// Driver implements store.Driver on SQLite.
type Driver struct {
	path   string
	db     *gorm.DB
	logger *slog.Logger
}

// NewDriver creates a driver. Call Init before use.
func NewDriver(c Config, log *slog.Logger) (*Driver, error) {
	c.ApplyDefaults()
	return &Driver{path: c.Path, logger: logutil.NoopIfNil(log)}, nil
}

func (d *Driver) Name() string { return "sqlite" }

// Init opens the database and migrates the schema.
func (d *Driver) Init(ctx context.Context) error {
	db, err := Open(d.path)
	if err != nil {
		return err
	}
	d.db = db
	d.logger.Debug("message store opened", "driver", "sqlite", "path", d.path)
	return nil
}

// Open opens the database at path and migrates the message table.
// The mirror driver shares it.
func Open(path string) (*gorm.DB, error) {
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}

	if err := db.AutoMigrate(&store.Message{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (d *Driver) Close() error {
	if d.db == nil {
		return nil
	}
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Create inserts m.
func (d *Driver) Create(ctx context.Context, m *store.Message) error {
	return Create(ctx, d.db, m)
}

func (d *Driver) ByReceiver(ctx context.Context, addr string) ([]store.Message, error) {
	return List(ctx, d.db, "receiver_key", addr)
}

func (d *Driver) BySender(ctx context.Context, addr string) ([]store.Message, error) {
	return List(ctx, d.db, "sender_key", addr)
}

// Create inserts m into db.
func Create(ctx context.Context, db *gorm.DB, m *store.Message) error {
	if db == nil {
		return store.ErrClosed
	}
	if err := m.Prepare(); err != nil {
		return err
	}
	err := db.WithContext(ctx).Create(m).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) || (err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")) {
		return store.ErrAlreadyExists
	}
	return err
}

// List returns the messages whose column matches addr, oldest first.
func List(ctx context.Context, db *gorm.DB, column, addr string) ([]store.Message, error) {
	if db == nil {
		return nil, store.ErrClosed
	}
	k, err := store.LookupKey(addr)
	if err != nil {
		return nil, err
	}
	var out []store.Message
	err = db.WithContext(ctx).
		Where(column+" = ?", k).
		Order("timestamp ASC").Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []store.Message{}
	}
	return out, nil
}

var _ store.Driver = (*Driver)(nil)
