package audit

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// DefaultQueueSize is the audit queue capacity. Entries recorded while
// the queue is full are dropped, never blocking the turn that produced
// them.
const DefaultQueueSize = 256

// SQLiteSink persists audit entries to a local SQLite database. Writes
// happen on a single background goroutine fed by a bounded queue.
type SQLiteSink struct {
	db      *sql.DB
	queue   chan Entry
	done    chan struct{}
	dropped atomic.Int64
	onDrop  func()

	mu     sync.RWMutex
	closed bool
}

// SQLiteConfig holds configuration for the audit sink.
type SQLiteConfig struct {
	DBPath    string
	QueueSize int
	OnDrop    func()
}

// NewSQLiteSink opens (or creates) the audit database at cfg.DBPath and
// starts the writer goroutine.
func NewSQLiteSink(cfg SQLiteConfig) (*SQLiteSink, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("audit database path is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}

	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}

	s := &SQLiteSink{
		db:     db,
		queue:  make(chan Entry, cfg.QueueSize),
		done:   make(chan struct{}),
		onDrop: cfg.OnDrop,
	}
	go s.writeLoop()

	log.Info().Str("db_path", cfg.DBPath).Int("queue_size", cfg.QueueSize).Msg("Audit sink initialized")
	return s, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts INTEGER NOT NULL,
		identity TEXT NOT NULL,
		session_id TEXT NOT NULL,
		message TEXT,
		reply TEXT,
		invocations TEXT,
		advisory_permissions TEXT,
		context TEXT,
		outcome TEXT NOT NULL,
		duration_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_log(ts);
	CREATE INDEX IF NOT EXISTS idx_audit_identity ON audit_log(identity);
	`
	_, err := db.Exec(schema)
	return err
}

// Record enqueues an entry for persistence. If the queue is full or the
// sink is closed the entry is dropped and the drop counter incremented.
func (s *SQLiteSink) Record(entry Entry) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.drop()
		return
	}

	select {
	case s.queue <- entry:
	default:
		s.drop()
	}
}

func (s *SQLiteSink) drop() {
	n := s.dropped.Add(1)
	if s.onDrop != nil {
		s.onDrop()
	}
	log.Warn().Int64("total_dropped", n).Msg("Audit entry dropped")
}

// Dropped returns the number of entries discarded since the sink was
// created.
func (s *SQLiteSink) Dropped() int64 {
	return s.dropped.Load()
}

// Close drains the queue, stops the writer and closes the database.
func (s *SQLiteSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
	return s.db.Close()
}

func (s *SQLiteSink) writeLoop() {
	defer close(s.done)
	for entry := range s.queue {
		if err := s.insert(entry); err != nil {
			log.Error().Err(err).Str("session_id", entry.SessionID).Msg("Failed to persist audit entry")
		}
	}
}

func (s *SQLiteSink) insert(entry Entry) error {
	_, err := s.db.Exec(
		`INSERT INTO audit_log (ts, identity, session_id, message, reply, invocations, advisory_permissions, context, outcome, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Timestamp.UnixMilli(),
		entry.Identity,
		entry.SessionID,
		entry.Message,
		entry.Reply,
		marshalColumn(entry.Invocations),
		marshalColumn(entry.AdvisoryPermissions),
		marshalColumn(entry.Context),
		entry.Outcome,
		entry.DurationMs,
	)
	return err
}

// marshalColumn renders an optional structured field as JSON text.
func marshalColumn(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []string:
		if len(x) == 0 {
			return ""
		}
	case map[string]string:
		if len(x) == 0 {
			return ""
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf(`{"marshal_error":%q}`, err.Error())
	}
	return string(b)
}
