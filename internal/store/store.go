// Package store implements the persisted key-value state file shared by all
// clipvault contexts. Values are JSON documents keyed by name, written
// atomically (temp file + rename) on every Put so that a context killed
// mid-write never leaves a truncated state file behind.
//
// Concurrent writers from separate processes are last-write-wins per key;
// callers are expected to keep every mutation idempotent.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Store is a JSON-file-backed key-value store with in-process change
// notification.
type Store struct {
	path string

	mu   sync.Mutex
	data map[string]json.RawMessage

	subMu sync.RWMutex
	subs  []func(key string)
}

// Open loads the state file at path, creating parent directories as needed.
// A missing file is not an error. A corrupt file is moved aside to
// <path>.corrupt and replaced with an empty store — state is always
// recoverable from defaults, never a startup failure.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("store dir: %w", err)
	}

	s := &Store{
		path: path,
		data: make(map[string]json.RawMessage),
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store read: %w", err)
	}

	if err := json.Unmarshal(raw, &s.data); err != nil {
		backup := path + ".corrupt"
		slog.Warn("state file corrupt, starting fresh", "path", path, "backup", backup, "err", err)
		_ = os.Rename(path, backup)
		s.data = make(map[string]json.RawMessage)
	}
	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Get unmarshals the value stored under key into v. The second return is
// false if the key is absent; v is left untouched in that case.
func (s *Store) Get(key string, v any) (bool, error) {
	s.mu.Lock()
	raw, ok := s.data[key]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("store get %q: %w", key, err)
	}
	return true, nil
}

// Put stores v under key and persists synchronously before returning. Only
// this key is merged into the on-disk document, so writers in other
// processes are last-write-wins per key, not per file. Subscribers are
// notified after the write lands.
func (s *Store) Put(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store put %q: %w", key, err)
	}

	s.mu.Lock()
	s.data[key] = raw
	err = s.writeKeyLocked(key, raw, false)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.notify(key)
	return nil
}

// Delete removes key and persists. Deleting an absent key is a no-op.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	_, ok := s.data[key]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.data, key)
	err := s.writeKeyLocked(key, nil, true)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.notify(key)
	return nil
}

// Subscribe registers fn to be called with the key name after every
// successful Put or Delete. Callbacks run on the mutating goroutine and must
// not block.
func (s *Store) Subscribe(fn func(key string)) {
	s.subMu.Lock()
	s.subs = append(s.subs, fn)
	s.subMu.Unlock()
}

// writeKeyLocked merges one key change into the on-disk document and writes
// it back via temp file + rename. The file is re-read first so keys written
// by other processes since we opened are preserved — mutations land per key,
// never clobbering the whole file. Must be called with s.mu held.
func (s *Store) writeKeyLocked(key string, raw json.RawMessage, remove bool) error {
	onDisk := make(map[string]json.RawMessage)
	if b, err := os.ReadFile(s.path); err == nil {
		// A file corrupted since Open is simply overwritten with our key.
		_ = json.Unmarshal(b, &onDisk)
	}
	if remove {
		delete(onDisk, key)
	} else {
		onDisk[key] = raw
	}

	out, err := json.MarshalIndent(onDisk, "", "  ")
	if err != nil {
		return fmt.Errorf("store marshal: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return fmt.Errorf("store write: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("store rename: %w", err)
	}
	return nil
}

func (s *Store) notify(key string) {
	s.subMu.RLock()
	subs := s.subs
	s.subMu.RUnlock()
	for _, fn := range subs {
		fn(key)
	}
}
