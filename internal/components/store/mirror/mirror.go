// Package mirror implements a SQLite + JSON mirror message store.
// SQLite is the source of truth; the JSON file is a one-way export for
// operators to inspect. The program never reads the JSON back.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gorm.io/gorm"

	"github.com/Monas-project/Prot-Prototype/internal/components/store"
	"github.com/Monas-project/Prot-Prototype/internal/components/store/sqlite"
	"github.com/Monas-project/Prot-Prototype/internal/platform/cfg"
	"github.com/Monas-project/Prot-Prototype/internal/platform/logutil"
)

func init() {
	store.Register("mirror", func(raw map[string]any, log *slog.Logger) (store.Driver, error) {
		var c Config
		if err := cfg.Decode(raw, &c); err != nil {
			return nil, fmt.Errorf("store.drivers.mirror: %w", err)
		}
		return NewDriver(c, log)
	})
}

// ExportFile is the name of the JSON export inside Config.Dir.
const ExportFile = "messages.json"

// Config is the [store.drivers.mirror] table.
type Config struct {
	// Path of the SQLite database.
	Path string `mapstructure:"path"`

	// Dir receives the JSON export. Defaults to "mirror" next to Path.
	Dir string `mapstructure:"dir"`

	// RedactContent blanks message content in the export.
	RedactContent bool `mapstructure:"redact_content"`
}

// ApplyDefaults implements cfg.Setter.
func (c *Config) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "sharebox.db"
	}
	if c.Dir == "" {
		c.Dir = filepath.Join(filepath.Dir(c.Path), "mirror")
	}
}

// Driver implements store.Driver with SQLite plus a JSON mirror.
type Driver struct {
	cfg    Config
	db     *gorm.DB
	logger *slog.Logger
	mu     sync.Mutex // protects JSON export
}

// NewDriver creates a mirror driver. Call Init before use.
func NewDriver(c Config, log *slog.Logger) (*Driver, error) {
	c.ApplyDefaults()
	if c.Path == ":memory:" {
		return nil, fmt.Errorf("mirror driver needs a database file, not :memory:")
	}
	return &Driver{cfg: c, logger: logutil.NoopIfNil(log)}, nil
}

func (d *Driver) Name() string { return "mirror" }

// Init opens the database and writes the initial export.
func (d *Driver) Init(ctx context.Context) error {
	if err := os.MkdirAll(d.cfg.Dir, 0700); err != nil {
		return fmt.Errorf("failed to create mirror dir: %w", err)
	}
	db, err := sqlite.Open(d.cfg.Path)
	if err != nil {
		return err
	}
	d.db = db

	if err := d.export(ctx); err != nil {
		return fmt.Errorf("failed to export mirror: %w", err)
	}
	return nil
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

// Create inserts m and refreshes the export. An export failure is logged;
// the message is already committed.
func (d *Driver) Create(ctx context.Context, m *store.Message) error {
	if err := sqlite.Create(ctx, d.db, m); err != nil {
		return err
	}
	if err := d.export(ctx); err != nil {
		d.logger.Warn("mirror export failed", "error", err)
	}
	return nil
}

func (d *Driver) ByReceiver(ctx context.Context, addr string) ([]store.Message, error) {
	return sqlite.List(ctx, d.db, "receiver_key", addr)
}

func (d *Driver) BySender(ctx context.Context, addr string) ([]store.Message, error) {
	return sqlite.List(ctx, d.db, "sender_key", addr)
}

func (d *Driver) export(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var msgs []store.Message
	if err := d.db.WithContext(ctx).Order("timestamp ASC").Order("id ASC").Find(&msgs).Error; err != nil {
		return err
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	if d.cfg.RedactContent {
		for i := range msgs {
			msgs[i].Content = ""
		}
	}
	return writeJSON(filepath.Join(d.cfg.Dir, ExportFile), msgs)
}

// writeJSON atomically replaces path with the JSON encoding of data.
func writeJSON(path string, data any) error {
	tempPath := path + ".tmp"

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	f, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := f.Write(jsonData); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

var _ store.Driver = (*Driver)(nil)
