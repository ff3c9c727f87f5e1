// Package sourcestore is the filesystem-backed SourceStorage extension
// named in spec §6: documents live as plain files under a root directory,
// discovered by glob pattern, written back atomically so a crash mid-save
// never leaves a half-written document for the pipeline to parse.
package sourcestore

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/femtomc/monowiki-sub001/internal/invalidate"
)

// Scope bounds a directory walk: the root to scan plus glob include/exclude
// patterns, mirrored after the teacher's own file-scope struct.
type Scope struct {
	Root    string
	Include []string
	Exclude []string
}

// Store is a SourceStorage backed by real files under Scope.Root, keyed by
// each document's path relative to the root. Block text has no durable
// filesystem representation of its own — it is cached in memory, populated
// by SetBlock, since blocks are an ephemeral CRDT-session concept layered
// over the durable document.
type Store struct {
	scope Scope

	mu     sync.RWMutex
	blocks map[invalidate.BlockKey]string

	writer *AtomicWriter
}

// New builds a store over scope. It does not eagerly scan; Discover does.
func New(scope Scope) *Store {
	return &Store{
		scope:  scope,
		blocks: make(map[invalidate.BlockKey]string),
		writer: NewAtomicWriter(DefaultAtomicConfig()),
	}
}

// Discover walks Scope.Root and returns every document ID (path relative to
// the root) matching Include and not matching Exclude.
func (s *Store) Discover() ([]string, error) {
	info, err := os.Stat(s.scope.Root)
	if err != nil {
		return nil, fmt.Errorf("sourcestore: cannot access root %s: %w", s.scope.Root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("sourcestore: root %s is not a directory", s.scope.Root)
	}

	var docs []string
	err = filepath.WalkDir(s.scope.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries rather than aborting the whole walk
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(s.scope.Root, path)
		if relErr != nil {
			return nil
		}
		if s.isExcluded(rel) || !s.isIncluded(rel) {
			return nil
		}
		docs = append(docs, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *Store) isIncluded(rel string) bool {
	if len(s.scope.Include) == 0 {
		return true
	}
	for _, pattern := range s.scope.Include {
		if matched, _ := doublestar.Match(pattern, rel); matched {
			return true
		}
	}
	return false
}

func (s *Store) isExcluded(rel string) bool {
	for _, pattern := range s.scope.Exclude {
		if matched, _ := doublestar.Match(pattern, rel); matched {
			return true
		}
	}
	return false
}

// GetDocument reads a document's full text from disk.
func (s *Store) GetDocument(doc string) (string, bool) {
	path := filepath.Join(s.scope.Root, filepath.FromSlash(doc))
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return string(data), true
}

// SetDocument atomically writes a document's full text back to disk.
func (s *Store) SetDocument(doc, source string) error {
	path := filepath.Join(s.scope.Root, filepath.FromSlash(doc))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("sourcestore: cannot create directory for %s: %w", doc, err)
	}
	return s.writer.WriteFile(path, source)
}

// GetBlock returns the last text set for a block, if any.
func (s *Store) GetBlock(doc string, block invalidate.BlockID) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.blocks[invalidate.BlockKey{Doc: doc, Block: block}]
	return v, ok
}

// SetBlock caches a block's text in memory.
func (s *Store) SetBlock(doc string, block invalidate.BlockID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[invalidate.BlockKey{Doc: doc, Block: block}] = text
}

// FileLock serializes concurrent writers to the same path, the same pattern
// the teacher's own atomic writer uses for in-process coordination.
type FileLock struct {
	mu     sync.Mutex
	cond   *sync.Cond
	locked bool
	file   *os.File
	path   string
	refCnt int
}

// AtomicWriteConfig controls AtomicWriter's durability/backup behavior.
type AtomicWriteConfig struct {
	UseFsync       bool
	LockTimeout    time.Duration
	TempSuffix     string
	BackupOriginal bool
}

// DefaultAtomicConfig favors throughput over durability, matching the
// teacher's own defaults.
func DefaultAtomicConfig() AtomicWriteConfig {
	return AtomicWriteConfig{
		UseFsync:       false,
		LockTimeout:    5 * time.Second,
		TempSuffix:     ".docengine.tmp",
		BackupOriginal: false,
	}
}

// AtomicWriter writes a document to a temp file then renames it into place,
// so a reader can never observe a half-written document.
type AtomicWriter struct {
	config AtomicWriteConfig

	mu    sync.RWMutex
	locks map[string]*FileLock
}

// NewAtomicWriter builds a writer with the given config.
func NewAtomicWriter(config AtomicWriteConfig) *AtomicWriter {
	return &AtomicWriter{config: config, locks: make(map[string]*FileLock)}
}

// WriteFile atomically replaces path's contents with content.
func (aw *AtomicWriter) WriteFile(path, content string) error {
	if err := aw.acquireLock(path); err != nil {
		return fmt.Errorf("sourcestore: failed to acquire lock for %s: %w", path, err)
	}
	defer aw.releaseLock(path)

	fileMode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		fileMode = info.Mode()
	}

	tempPath := path + aw.config.TempSuffix
	tempFile, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fileMode)
	if err != nil {
		return fmt.Errorf("sourcestore: failed to create temp file: %w", err)
	}

	if _, err := tempFile.WriteString(content); err != nil {
		tempFile.Close()
		os.Remove(tempPath)
		return fmt.Errorf("sourcestore: failed to write content: %w", err)
	}

	if aw.config.UseFsync {
		if err := tempFile.Sync(); err != nil {
			tempFile.Close()
			os.Remove(tempPath)
			return fmt.Errorf("sourcestore: failed to sync: %w", err)
		}
	}
	tempFile.Close()

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("sourcestore: failed to atomic rename: %w", err)
	}
	return nil
}

func (aw *AtomicWriter) acquireLock(path string) error {
	aw.mu.Lock()
	lock, exists := aw.locks[path]
	if !exists {
		lock = &FileLock{}
		aw.locks[path] = lock
	}
	if lock.cond == nil {
		lock.cond = sync.NewCond(&lock.mu)
	}
	lock.path = path + ".lock"
	lock.refCnt++
	aw.mu.Unlock()

	lock.mu.Lock()
	for lock.locked {
		lock.cond.Wait()
	}
	lock.locked = true
	lock.mu.Unlock()
	return nil
}

func (aw *AtomicWriter) releaseLock(path string) {
	aw.mu.RLock()
	lock, exists := aw.locks[path]
	aw.mu.RUnlock()
	if !exists {
		return
	}

	lock.mu.Lock()
	lock.locked = false
	lock.refCnt--
	remove := lock.refCnt == 0
	lock.cond.Broadcast()
	lock.mu.Unlock()

	if remove {
		aw.mu.Lock()
		if l, ok := aw.locks[path]; ok && l.refCnt <= 0 && !l.locked {
			delete(aw.locks, path)
		}
		aw.mu.Unlock()
	}
}

// workerCount sizes a worker pool for I/O bound discovery, unused by
// Discover's single-goroutine walk but kept for batch-load callers.
func workerCount() int {
	n := runtime.NumCPU() * 2
	if n < 1 {
		return 1
	}
	return n
}

// batchLoad reads every discovered document's text concurrently, returning a
// map keyed the same way Discover names documents.
func (s *Store) batchLoad(docs []string) map[string]string {
	results := make(map[string]string, len(docs))
	var mu sync.Mutex
	var wg sync.WaitGroup

	sem := make(chan struct{}, workerCount())
	for _, doc := range docs {
		wg.Add(1)
		sem <- struct{}{}
		go func(doc string) {
			defer wg.Done()
			defer func() { <-sem }()
			if text, ok := s.GetDocument(doc); ok {
				mu.Lock()
				results[doc] = text
				mu.Unlock()
			}
		}(doc)
	}
	wg.Wait()
	return results
}

// LoadAll discovers and reads every document under Scope.Root in parallel.
func (s *Store) LoadAll() (map[string]string, error) {
	docs, err := s.Discover()
	if err != nil {
		return nil, err
	}
	return s.batchLoad(docs), nil
}
