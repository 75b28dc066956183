package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// FromEnv overlays FXD_* environment variables onto cfg. A variable that
// does not parse is an error naming it.
func FromEnv(cfg *Config) error {
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	str("FXD_LOG_PATH", &cfg.Log.Path)
	str("FXD_LOG_SYNC", &cfg.Log.Sync)
	str("FXD_COMPACTION_ARCHIVE_DIR", &cfg.Compaction.ArchiveDir)
	str("FXD_CURSORS_DATABASE", &cfg.Cursors.Database)
	str("FXD_SERVER_ADDR", &cfg.Server.Addr)
	str("FXD_LOGGING_LEVEL", &cfg.Logging.Level)
	str("FXD_LOGGING_FORMAT", &cfg.Logging.Format)

	if v := os.Getenv("FXD_LOG_MAX_RECORD_BYTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return envErr("FXD_LOG_MAX_RECORD_BYTES", err)
		}
		cfg.Log.MaxRecordBytes = n
	}
	if v := os.Getenv("FXD_BUS_TAIL_BUFFER"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return envErr("FXD_BUS_TAIL_BUFFER", err)
		}
		cfg.Bus.TailBuffer = n
	}
	if v := os.Getenv("FXD_COMPACTION_MAX_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return envErr("FXD_COMPACTION_MAX_BYTES", err)
		}
		cfg.Compaction.MaxBytes = n
	}
	if v := os.Getenv("FXD_COMPACTION_MAX_RECORDS"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return envErr("FXD_COMPACTION_MAX_RECORDS", err)
		}
		cfg.Compaction.MaxRecords = n
	}
	if v := os.Getenv("FXD_COMPACTION_RETAIN_RECORDS"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return envErr("FXD_COMPACTION_RETAIN_RECORDS", err)
		}
		cfg.Compaction.RetainRecords = n
	}
	if v := os.Getenv("FXD_COMPACTION_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return envErr("FXD_COMPACTION_INTERVAL", err)
		}
		cfg.Compaction.Interval = d
	}
	if v := os.Getenv("FXD_SERVER_SHUTDOWN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return envErr("FXD_SERVER_SHUTDOWN_TIMEOUT", err)
		}
		cfg.Server.ShutdownTimeout = d
	}
	return nil
}

func envErr(name string, err error) error {
	return fmt.Errorf("config: %s: %w", name, err)
}
