// Package diagstore is the optional diagnostic archive named in spec §6: a
// durable record of what diag.Collector held at each revision, for
// after-the-fact inspection across sessions. Nothing in the reactive
// pipeline depends on it; it is an external consumer wired the same way
// the teacher's own db package wires a gorm connection for its stage/apply
// history.
package diagstore

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	libsql "github.com/tursodatabase/libsql-client-go/libsql"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/femtomc/monowiki-sub001/internal/diag"
)

// Store wraps a gorm connection to the diagnostic archive plus the
// retention policy bounding how many runs it keeps.
type Store struct {
	db            *gorm.DB
	retentionRuns int
}

// Open connects to dsn (a sqlite file path, or a libsql:// / https:// URL
// for Turso) and migrates the schema, mirroring db.Connect's dialector
// selection. retentionRuns bounds how many runs pruneOld keeps; 0 disables
// pruning entirely.
func Open(dsn string, retentionRuns int, debug bool) (*Store, error) {
	if !isRemoteURL(dsn) {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("diagstore: failed to create database directory: %w", err)
			}
		}
	}

	config := &gorm.Config{}
	if debug {
		config.Logger = logger.Default.LogMode(logger.Info)
	}

	var (
		dialector gorm.Dialector
		conn      *sql.DB
	)
	if isRemoteURL(dsn) {
		var (
			connector driver.Connector
			err       error
		)
		if token := os.Getenv("DOCENGINE_LIBSQL_AUTH_TOKEN"); token != "" {
			connector, err = libsql.NewConnector(dsn, libsql.WithAuthToken(token))
		} else {
			connector, err = libsql.NewConnector(dsn)
		}
		if err != nil {
			return nil, fmt.Errorf("diagstore: failed to create libsql connector: %w", err)
		}
		conn = sql.OpenDB(connector)
		dialector = sqlite.New(sqlite.Config{DriverName: "libsql", Conn: conn, DSN: dsn})
	} else {
		dialector = sqlite.Open(dsn)
	}

	gdb, err := gorm.Open(dialector, config)
	if err != nil {
		if conn != nil {
			conn.Close()
		}
		return nil, fmt.Errorf("diagstore: failed to connect: %w", err)
	}

	if err := gdb.AutoMigrate(&Run{}, &Record{}); err != nil {
		return nil, fmt.Errorf("diagstore: migration failed: %w", err)
	}

	return &Store{db: gdb, retentionRuns: retentionRuns}, nil
}

func isRemoteURL(dsn string) bool {
	return strings.HasPrefix(dsn, "http://") || strings.HasPrefix(dsn, "https://") || strings.HasPrefix(dsn, "libsql")
}

// RecordRun archives one pipeline pass's diagnostics for doc at revision,
// then enforces the retention policy so the archive never grows unbounded.
func (s *Store) RecordRun(doc string, revision uint64, diags []diag.Diagnostic) (string, error) {
	run := Run{
		ID:       uuid.NewString(),
		Doc:      doc,
		Revision: revision,
	}
	for _, d := range diags {
		record := Record{
			ID:        uuid.NewString(),
			Code:      string(d.Code),
			Message:   d.Message,
			Severity:  d.Severity.String(),
			SpanStart: d.Span.Start,
			SpanEnd:   d.Span.End,
		}
		if context := d.Context(); context != "" {
			if blob, err := json.Marshal(struct {
				Context string `json:"context"`
			}{Context: context}); err == nil {
				record.Extra = datatypes.JSON(blob)
			}
		}
		run.Records = append(run.Records, record)
	}

	if err := s.db.Create(&run).Error; err != nil {
		return "", fmt.Errorf("diagstore: recording run: %w", err)
	}

	if err := s.pruneOld(doc); err != nil {
		return run.ID, fmt.Errorf("diagstore: recorded run %s but pruning failed: %w", run.ID, err)
	}
	return run.ID, nil
}

// pruneOld deletes every run for doc beyond the most recent retentionRuns,
// the same "keep the newest N, delete the rest" policy the teacher's own
// EnforceRetentionPolicy implements over its runs table.
func (s *Store) pruneOld(doc string) error {
	if s.retentionRuns <= 0 {
		return nil
	}

	var staleIDs []string
	sub := s.db.Model(&Run{}).
		Select("id").
		Where("doc = ?", doc).
		Order("started_at DESC").
		Offset(s.retentionRuns)

	if err := sub.Find(&staleIDs).Error; err != nil {
		return fmt.Errorf("querying stale runs: %w", err)
	}
	if len(staleIDs) == 0 {
		return nil
	}

	if err := s.db.Where("run_id IN ?", staleIDs).Delete(&Record{}).Error; err != nil {
		return fmt.Errorf("deleting stale records: %w", err)
	}
	if err := s.db.Where("id IN ?", staleIDs).Delete(&Run{}).Error; err != nil {
		return fmt.Errorf("deleting stale runs: %w", err)
	}
	return nil
}

// RunsForDoc returns every archived run for a document, most recent first.
func (s *Store) RunsForDoc(doc string) ([]Run, error) {
	var runs []Run
	err := s.db.Preload("Records").Where("doc = ?", doc).Order("started_at DESC").Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("diagstore: listing runs: %w", err)
	}
	return runs, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
