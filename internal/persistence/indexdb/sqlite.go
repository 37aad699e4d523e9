package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"landclaim.ai/internal/claim/gate"
)

// SQLiteIndex is a queryable secondary index of claim decisions. Writes are
// queued and committed in batches by one goroutine; the JSONL decision log
// stays the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	// sendMu orders queue sends against close(ch).
	sendMu sync.RWMutex
	closed bool

	dropDecision atomic.Uint64
	dropConfig   atomic.Uint64
	written      atomic.Uint64
}

type reqKind int

const (
	reqDecision reqKind = iota + 1
	reqConfig
)

type req struct {
	kind reqKind

	decision gate.DecisionEntry
	config   configRow
}

type configRow struct {
	Digest     string
	JSON       []byte
	RecordedAt string
}

// Stats reports queue pressure for health endpoints.
type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	Written           uint64 `json:"written"`
	DropDecisionTotal uint64 `json:"drop_decision_total"`
	DropConfigTotal   uint64 `json:"drop_config_total"`
}

// Decision is one indexed row.
type Decision struct {
	Time      string
	SessionID string
	RequestID string
	World     string
	X, Z      int32
	Existing  int
	Mode      string
	Allowed   bool
	Reason    string
}

const defaultQueue = 65536

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, defaultQueue)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{db: db, ch: make(chan req, queue)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS configs (
			digest TEXT PRIMARY KEY,
			json TEXT NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS decisions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			time TEXT NOT NULL,
			session_id TEXT NOT NULL,
			request_id TEXT NOT NULL,
			world TEXT NOT NULL,
			x INTEGER NOT NULL,
			z INTEGER NOT NULL,
			existing INTEGER NOT NULL,
			mode TEXT NOT NULL,
			allowed INTEGER NOT NULL,
			reason TEXT,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_world_pos ON decisions(world, x, z);`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_session ON decisions(session_id, id);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.sendMu.Lock()
		s.closed = true
		close(s.ch)
		s.sendMu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

var _ gate.Recorder = (*SQLiteIndex)(nil)

// RecordDecision queues e. It never blocks: when the queue is full the entry
// is dropped and counted.
func (s *SQLiteIndex) RecordDecision(e gate.DecisionEntry) error {
	if s == nil {
		return nil
	}
	s.enqueue(req{kind: reqDecision, decision: e}, &s.dropDecision)
	return nil
}

// RecordConfig stores the active configuration under its digest.
func (s *SQLiteIndex) RecordConfig(digest string, raw []byte) {
	if s == nil || digest == "" {
		return
	}
	r := configRow{Digest: digest, JSON: raw, RecordedAt: time.Now().UTC().Format(time.RFC3339Nano)}
	s.enqueue(req{kind: reqConfig, config: r}, &s.dropConfig)
}

// enqueue never blocks. Requests after Close are ignored.
func (s *SQLiteIndex) enqueue(r req, drops *atomic.Uint64) {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- r:
	default:
		drops.Add(1)
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		Written:           s.written.Load(),
		DropDecisionTotal: s.dropDecision.Load(),
		DropConfigTotal:   s.dropConfig.Load(),
	}
}

// Decisions returns the most recent decisions for world, newest first.
// Queued entries not yet committed are not visible.
func (s *SQLiteIndex) Decisions(ctx context.Context, world string, limit int) ([]Decision, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT time,session_id,request_id,world,x,z,existing,mode,allowed,COALESCE(reason,'')
		 FROM decisions WHERE world=? ORDER BY id DESC LIMIT ?`, world, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Decision
	for rows.Next() {
		var d Decision
		if err := rows.Scan(&d.Time, &d.SessionID, &d.RequestID, &d.World, &d.X, &d.Z, &d.Existing, &d.Mode, &d.Allowed, &d.Reason); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertDecision, _ := s.db.Prepare(`INSERT INTO decisions(time,session_id,request_id,world,x,z,existing,mode,allowed,reason,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?)`)
	insertConfig, _ := s.db.Prepare(`INSERT OR REPLACE INTO configs(digest,json,recorded_at) VALUES(?,?,?)`)
	defer func() {
		if insertDecision != nil {
			_ = insertDecision.Close()
		}
		if insertConfig != nil {
			_ = insertConfig.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		pending       uint64
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		pending = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err == nil {
			s.written.Add(pending)
		}
		tx = nil
		opCount = 0
		pending = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		pending = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqDecision:
			d := r.decision
			raw, _ := json.Marshal(d)
			if insertDecision != nil {
				if _, err := tx.Stmt(insertDecision).Exec(
					d.Time,
					d.SessionID,
					d.RequestID,
					d.World,
					d.Chunk[0], d.Chunk[1],
					d.Existing,
					d.Mode,
					d.Allowed,
					d.Reason,
					string(raw),
				); err != nil {
					rollback()
					continue
				}
				opCount++
				pending++
			}

		case reqConfig:
			c := r.config
			if insertConfig != nil {
				if _, err := tx.Stmt(insertConfig).Exec(c.Digest, string(c.JSON), c.RecordedAt); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		// Commit when idle so readers see recent rows without waiting for a full batch.
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait || len(s.ch) == 0 {
			commit()
		}
	}

	commit()
}
