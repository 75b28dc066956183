package wal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// ZstdArchiver writes records dropped by compaction to
// Dir/<first>-<last>.wal.zst as a zstd stream of log frames.
type ZstdArchiver struct {
	Dir   string
	Level zstd.EncoderLevel
}

// NewZstdArchiver returns an archiver writing to dir at the default level.
func NewZstdArchiver(dir string) *ZstdArchiver {
	return &ZstdArchiver{Dir: dir, Level: zstd.SpeedDefault}
}

// ArchiveName returns the file name used for the range [first, last].
func ArchiveName(first, last uint64) string {
	return fmt.Sprintf("%020d-%020d.wal.zst", first, last)
}

// Archive writes the range through a temp file so a partial archive is
// never left under its final name.
func (a *ZstdArchiver) Archive(ctx context.Context, first, last uint64, records iter.Seq2[Record, error]) (err error) {
	if err := os.MkdirAll(a.Dir, 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	final := filepath.Join(a.Dir, ArchiveName(first, last))
	f, err := os.CreateTemp(a.Dir, ".archive-*")
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	level := a.Level
	if level == 0 {
		level = zstd.SpeedDefault
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(level))
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}
	n := 0
	for rec, rerr := range records {
		if rerr != nil {
			zw.Close()
			return rerr
		}
		if n%1024 == 0 {
			if cerr := ctx.Err(); cerr != nil {
				zw.Close()
				return cerr
			}
		}
		if _, err := zw.Write(encodeFrame(rec.Seq, rec.Kind, rec.Payload)); err != nil {
			zw.Close()
			return fmt.Errorf("write archive: %w", err)
		}
		n++
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync archive: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	if err := os.Rename(f.Name(), final); err != nil {
		return fmt.Errorf("rename archive: %w", err)
	}
	return syncDir(a.Dir)
}

// ReadArchive streams the records of an archive written by ZstdArchiver.
func ReadArchive(r io.Reader, fn func(Record) error) error {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return fmt.Errorf("zstd reader: %w", err)
	}
	defer zr.Close()

	fr := newFrameReader(bufio.NewReader(zr), -1)
	var off int64
	for {
		rec, err := fr.next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if isFrameDamage(err) {
				return &CorruptionError{Offset: off, Err: err}
			}
			return fmt.Errorf("read archive: %w", err)
		}
		if err := fn(rec); err != nil {
			return err
		}
		off += rec.frameSize()
	}
}
