package wal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Backend is one open log file.
type Backend interface {
	io.ReaderAt
	io.WriterAt
	Size() (int64, error)
	Truncate(size int64) error
	Sync() error
	Close() error
}

// Storage owns the log file, its replacement during compaction, and the
// checkpoint sidecar.
type Storage interface {
	// Open opens or creates the log file.
	Open() (Backend, error)
	// CreateTemp creates an empty file that Replace can later swap in.
	CreateTemp() (Backend, error)
	// Replace atomically installs tmp as the log file and returns it
	// reopened. On failure the returned error is a *ReplaceError.
	Replace(tmp Backend) (Backend, error)
	// Discard removes a temp file that will not be installed.
	Discard(tmp Backend) error
	// LoadCheckpoint returns nil, nil if no checkpoint exists.
	LoadCheckpoint() ([]byte, error)
	SaveCheckpoint(data []byte) error
	// Name identifies the storage in logs.
	Name() string
}

// ReplaceError reports a failed swap. Swapped is true when the new file
// is already in place and only a later step (such as reopening) failed.
type ReplaceError struct {
	Swapped bool
	Err     error
}

func (e *ReplaceError) Error() string {
	return fmt.Sprintf("replace log file (swapped=%t): %v", e.Swapped, e.Err)
}

func (e *ReplaceError) Unwrap() error { return e.Err }

// FileStorage keeps the log at Path and the checkpoint at Path+".ckpt".
type FileStorage struct {
	Path string
}

// NewFileStorage returns file storage for path.
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{Path: path}
}

func (s *FileStorage) Name() string { return s.Path }

func (s *FileStorage) checkpointPath() string { return s.Path + ".ckpt" }

type fileBackend struct {
	*os.File
}

func (f fileBackend) Size() (int64, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// Open opens the log read-write. Appends go through WriteAt at the
// committed end, so the file is not opened with O_APPEND.
func (s *FileStorage) Open() (Backend, error) {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(s.Path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	return fileBackend{f}, nil
}

func (s *FileStorage) CreateTemp() (Backend, error) {
	f, err := os.CreateTemp(filepath.Dir(s.Path), filepath.Base(s.Path)+".compact-*")
	if err != nil {
		return nil, err
	}
	return fileBackend{f}, nil
}

func (s *FileStorage) Replace(tmp Backend) (Backend, error) {
	fb, ok := tmp.(fileBackend)
	if !ok {
		return nil, &ReplaceError{Err: fmt.Errorf("foreign backend %T", tmp)}
	}
	name := fb.Name()
	if err := fb.Sync(); err != nil {
		fb.Close()
		os.Remove(name)
		return nil, &ReplaceError{Err: err}
	}
	if err := fb.Close(); err != nil {
		os.Remove(name)
		return nil, &ReplaceError{Err: err}
	}
	if err := os.Rename(name, s.Path); err != nil {
		os.Remove(name)
		return nil, &ReplaceError{Err: err}
	}
	if err := syncDir(filepath.Dir(s.Path)); err != nil {
		return nil, &ReplaceError{Swapped: true, Err: err}
	}
	f, err := os.OpenFile(s.Path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, &ReplaceError{Swapped: true, Err: err}
	}
	return fileBackend{f}, nil
}

func (s *FileStorage) Discard(tmp Backend) error {
	fb, ok := tmp.(fileBackend)
	if !ok {
		return tmp.Close()
	}
	name := fb.Name()
	fb.Close()
	return os.Remove(name)
}

func (s *FileStorage) LoadCheckpoint() ([]byte, error) {
	data, err := os.ReadFile(s.checkpointPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

// SaveCheckpoint writes the sidecar through a temp file and rename so a
// crash never leaves a half-written checkpoint.
func (s *FileStorage) SaveCheckpoint(data []byte) error {
	tmp := s.checkpointPath() + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, s.checkpointPath()); err != nil {
		os.Remove(tmp)
		return err
	}
	return syncDir(filepath.Dir(s.Path))
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// MemoryStorage is an in-process Storage for tests and ephemeral logs.
type MemoryStorage struct {
	mu         sync.Mutex
	current    *MemoryBackend
	checkpoint []byte
}

// NewMemoryStorage returns empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (s *MemoryStorage) Name() string { return "memory" }

func (s *MemoryStorage) Open() (Backend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		s.current = &MemoryBackend{}
	}
	s.current.reopen()
	return s.current, nil
}

func (s *MemoryStorage) CreateTemp() (Backend, error) {
	return &MemoryBackend{}, nil
}

func (s *MemoryStorage) Replace(tmp Backend) (Backend, error) {
	mb, ok := tmp.(*MemoryBackend)
	if !ok {
		return nil, &ReplaceError{Err: fmt.Errorf("foreign backend %T", tmp)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = mb
	return mb, nil
}

func (s *MemoryStorage) Discard(tmp Backend) error {
	return tmp.Close()
}

func (s *MemoryStorage) LoadCheckpoint() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checkpoint == nil {
		return nil, nil
	}
	return append([]byte(nil), s.checkpoint...), nil
}

func (s *MemoryStorage) SaveCheckpoint(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoint = append([]byte(nil), data...)
	return nil
}

// Bytes returns a copy of the current log contents.
func (s *MemoryStorage) Bytes() []byte {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur == nil {
		return nil
	}
	return cur.Bytes()
}

// Mutate edits the current log contents in place. Tests use it to
// simulate torn writes and bit rot.
func (s *MemoryStorage) Mutate(f func([]byte) []byte) {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur == nil {
		return
	}
	cur.mu.Lock()
	cur.data = f(cur.data)
	cur.mu.Unlock()
}

// MemoryBackend is a growable byte slice. Its contents survive Close so
// that MemoryStorage can be reopened like a file.
type MemoryBackend struct {
	mu     sync.RWMutex
	data   []byte
	closed bool
}

func (m *MemoryBackend) reopen() {
	m.mu.Lock()
	m.closed = false
	m.mu.Unlock()
}

func (m *MemoryBackend) ReadAt(p []byte, off int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, os.ErrClosed
	}
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *MemoryBackend) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, os.ErrClosed
	}
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	end := off + int64(len(p))
	if end > int64(len(m.data)) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	copy(m.data[off:], p)
	return len(p), nil
}

func (m *MemoryBackend) Size() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.data)), nil
}

func (m *MemoryBackend) Truncate(size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return os.ErrClosed
	}
	if size < int64(len(m.data)) {
		m.data = m.data[:size]
	} else {
		grown := make([]byte, size)
		copy(grown, m.data)
		m.data = grown
	}
	return nil
}

func (m *MemoryBackend) Sync() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return os.ErrClosed
	}
	return nil
}

func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Bytes returns a copy of the contents.
func (m *MemoryBackend) Bytes() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]byte(nil), m.data...)
}
