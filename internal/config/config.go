package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	Log        Log        `yaml:"log"`
	Bus        Bus        `yaml:"bus"`
	Compaction Compaction `yaml:"compaction"`
	Cursors    Cursors    `yaml:"cursors"`
	Server     Server     `yaml:"server"`
	Logging    Logging    `yaml:"logging"`
}

// Log configures the durable log file.
type Log struct {
	Path           string `yaml:"path" validate:"required"`
	Sync           string `yaml:"sync" validate:"oneof=always never"`
	MaxRecordBytes int    `yaml:"max_record_bytes" validate:"gt=0,lte=1073741824"`
	IndexInterval  int    `yaml:"index_interval" validate:"gt=0"`
}

// Bus configures the event bus.
type Bus struct {
	TailBuffer int `yaml:"tail_buffer" validate:"gte=0"`
}

// Compaction configures when the manager compacts. A zero threshold
// disables that trigger; with both zero only explicit compaction runs.
type Compaction struct {
	MaxBytes      int64         `yaml:"max_bytes" validate:"gte=0"`
	MaxRecords    uint64        `yaml:"max_records"`
	RetainRecords uint64        `yaml:"retain_records"`
	Interval      time.Duration `yaml:"interval" validate:"gte=0"`
	ArchiveDir    string        `yaml:"archive_dir"`
}

// Cursors configures the durable consumer cursor database. An empty
// Database disables it.
type Cursors struct {
	Database string `yaml:"database"`
}

// Server configures the HTTP listener of fxd run. An empty Addr disables
// it.
type Server struct {
	Addr            string        `yaml:"addr" validate:"omitempty,hostname_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

// Logging configures the process logger.
type Logging struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Log: Log{
			Path:           "fxd.wal",
			Sync:           "always",
			MaxRecordBytes: 16 << 20,
			IndexInterval:  64,
		},
		Bus: Bus{TailBuffer: 1024},
		Compaction: Compaction{
			MaxBytes:      256 << 20,
			RetainRecords: 1000,
			Interval:      time.Minute,
		},
		Server:  Server{ShutdownTimeout: 5 * time.Second},
		Logging: Logging{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a YAML file over the defaults. If path is
// empty, returns defaults. Unknown keys are an error.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s fails %q (got %v)", fe.Namespace(), fe.Tag()+paramSuffix(fe.Param()), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func paramSuffix(p string) string {
	if p == "" {
		return ""
	}
	return "=" + p
}
