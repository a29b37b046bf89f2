package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	sourceKindProvenance = "provenance"
	sourceKindConflict   = "conflict"
)

// Storage handles all database operations
type Storage struct {
	db *sql.DB
}

// NewStorage creates a new Storage instance, opening/creating the DB and initializing schema
func NewStorage(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	storage := &Storage{db: db}

	if err := storage.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// initSchema creates tables and indices if they don't exist
func (s *Storage) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS crawl_runs (
		run_id INTEGER PRIMARY KEY AUTOINCREMENT,
		seed_url TEXT NOT NULL,
		site TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP NOT NULL,
		termination_reason TEXT,
		fetched_count INTEGER DEFAULT 0,
		failed_count INTEGER DEFAULT 0,
		skipped_count INTEGER DEFAULT 0,
		pending_count INTEGER DEFAULT 0,
		elapsed_ms INTEGER DEFAULT 0,
		finalized_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS pages (
		page_id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		url TEXT NOT NULL,
		depth INTEGER NOT NULL,
		parent_url TEXT,
		state TEXT NOT NULL,
		fetch_attempts INTEGER DEFAULT 0,
		last_error TEXT,
		discovered_at TIMESTAMP NOT NULL,
		position INTEGER NOT NULL,
		contributed INTEGER DEFAULT 0,
		FOREIGN KEY (run_id) REFERENCES crawl_runs(run_id),
		UNIQUE(run_id, url)
	);

	CREATE TABLE IF NOT EXISTS fields (
		field_id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		value TEXT NOT NULL,
		confidence REAL NOT NULL,
		FOREIGN KEY (run_id) REFERENCES crawl_runs(run_id),
		UNIQUE(run_id, name)
	);

	CREATE TABLE IF NOT EXISTS field_sources (
		source_id INTEGER PRIMARY KEY AUTOINCREMENT,
		field_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		url TEXT NOT NULL,
		value TEXT,
		confidence REAL,
		FOREIGN KEY (field_id) REFERENCES fields(field_id)
	);

	CREATE INDEX IF NOT EXISTS idx_pages_run ON pages(run_id);
	CREATE INDEX IF NOT EXISTS idx_fields_run ON fields(run_id);
	CREATE INDEX IF NOT EXISTS idx_field_sources_field ON field_sources(field_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveCrawl persists a finished crawl run in one transaction and returns its run_id
func (s *Storage) SaveCrawl(run *CrawlRun) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO crawl_runs (seed_url, site, started_at, finished_at, termination_reason,
			fetched_count, failed_count, skipped_count, pending_count, elapsed_ms, finalized_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.SeedURL, run.Site, run.StartedAt.UTC(), run.FinishedAt.UTC(), run.TerminationReason,
		run.Progress.FetchedCount, run.Progress.FailedCount, run.Progress.SkippedCount,
		run.Progress.PendingCount, run.Progress.ElapsedMs, run.Aggregate.FinalizedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to insert crawl run: %w", err)
	}

	runID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to retrieve run_id: %w", err)
	}

	contributed := make(map[string]bool, len(run.Aggregate.Pages))
	for _, url := range run.Aggregate.Pages {
		contributed[url] = true
	}

	for i, node := range run.Nodes {
		_, err := tx.Exec(`
			INSERT INTO pages (run_id, url, depth, parent_url, state, fetch_attempts, last_error, discovered_at, position, contributed)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, runID, node.URL, node.Depth, node.ParentURL, node.State.String(), node.FetchAttempts,
			node.LastError, node.DiscoveredAt.UTC(), i, contributed[node.URL])
		if err != nil {
			return 0, fmt.Errorf("failed to insert page %s: %w", node.URL, err)
		}
	}

	for _, name := range run.Aggregate.FieldNames() {
		field := run.Aggregate.Fields[name]
		res, err := tx.Exec(`
			INSERT INTO fields (run_id, name, value, confidence)
			VALUES (?, ?, ?, ?)
		`, runID, field.Name, field.Value, field.Confidence)
		if err != nil {
			return 0, fmt.Errorf("failed to insert field %s: %w", name, err)
		}

		fieldID, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("failed to retrieve field_id: %w", err)
		}

		for _, url := range field.Provenance {
			if _, err := tx.Exec(`
				INSERT INTO field_sources (field_id, kind, url) VALUES (?, ?, ?)
			`, fieldID, sourceKindProvenance, url); err != nil {
				return 0, fmt.Errorf("failed to insert provenance for %s: %w", name, err)
			}
		}
		for _, c := range field.Conflicts {
			if _, err := tx.Exec(`
				INSERT INTO field_sources (field_id, kind, url, value, confidence) VALUES (?, ?, ?, ?, ?)
			`, fieldID, sourceKindConflict, c.SourceURL, c.Value, c.Confidence); err != nil {
				return 0, fmt.Errorf("failed to insert conflict for %s: %w", name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit crawl run: %w", err)
	}

	run.ID = runID
	return runID, nil
}

// LoadCrawl retrieves a crawl run by id, returns nil if not found
func (s *Storage) LoadCrawl(runID int64) (*CrawlRun, error) {
	run := &CrawlRun{ID: runID}
	var finalizedAt sql.NullTime
	err := s.db.QueryRow(`
		SELECT seed_url, site, started_at, finished_at, termination_reason,
			fetched_count, failed_count, skipped_count, pending_count, elapsed_ms, finalized_at
		FROM crawl_runs
		WHERE run_id = ?
	`, runID).Scan(&run.SeedURL, &run.Site, &run.StartedAt, &run.FinishedAt, &run.TerminationReason,
		&run.Progress.FetchedCount, &run.Progress.FailedCount, &run.Progress.SkippedCount,
		&run.Progress.PendingCount, &run.Progress.ElapsedMs, &finalizedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get crawl run: %w", err)
	}
	if finalizedAt.Valid {
		run.Aggregate.FinalizedAt = finalizedAt.Time
	}

	if run.Nodes, run.Aggregate.Pages, err = s.loadPages(runID); err != nil {
		return nil, err
	}

	run.Aggregate.Site = run.Site
	if run.Aggregate.Fields, err = s.loadFields(runID); err != nil {
		return nil, err
	}

	return run, nil
}

// loadPages returns the nodes of a run and the URLs that contributed a record
func (s *Storage) loadPages(runID int64) ([]PageNode, []string, error) {
	rows, err := s.db.Query(`
		SELECT url, depth, parent_url, state, fetch_attempts, last_error, discovered_at, contributed
		FROM pages
		WHERE run_id = ?
		ORDER BY position ASC
	`, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load pages: %w", err)
	}
	defer rows.Close()

	var nodes []PageNode
	var pages []string
	for rows.Next() {
		var node PageNode
		var state string
		var parent, lastErr sql.NullString
		var contributed bool
		if err := rows.Scan(&node.URL, &node.Depth, &parent, &state, &node.FetchAttempts, &lastErr, &node.DiscoveredAt, &contributed); err != nil {
			return nil, nil, fmt.Errorf("failed to scan page: %w", err)
		}
		node.ParentURL = parent.String
		node.LastError = lastErr.String
		node.State = ParseNodeState(state)
		nodes = append(nodes, node)
		if contributed {
			pages = append(pages, node.URL)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating pages: %w", err)
	}

	return nodes, pages, nil
}

func (s *Storage) loadFields(runID int64) (map[string]AggregateField, error) {
	rows, err := s.db.Query(`
		SELECT f.name, f.value, f.confidence, fs.kind, fs.url, fs.value, fs.confidence
		FROM fields f
		LEFT JOIN field_sources fs ON fs.field_id = f.field_id
		WHERE f.run_id = ?
		ORDER BY f.field_id ASC, fs.source_id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load fields: %w", err)
	}
	defer rows.Close()

	fields := make(map[string]AggregateField)
	for rows.Next() {
		var name, value string
		var confidence float64
		var kind, url, conflictValue sql.NullString
		var conflictConfidence sql.NullFloat64
		if err := rows.Scan(&name, &value, &confidence, &kind, &url, &conflictValue, &conflictConfidence); err != nil {
			return nil, fmt.Errorf("failed to scan field: %w", err)
		}

		field, ok := fields[name]
		if !ok {
			field = AggregateField{Name: name, Value: value, Confidence: confidence}
		}
		switch kind.String {
		case sourceKindProvenance:
			field.Provenance = append(field.Provenance, url.String)
		case sourceKindConflict:
			field.Conflicts = append(field.Conflicts, ConflictingValue{
				SourceURL:  url.String,
				Value:      conflictValue.String,
				Confidence: conflictConfidence.Float64,
			})
		}
		fields[name] = field
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fields: %w", err)
	}

	return fields, nil
}

// CrawlSummary is one row of ListCrawls
type CrawlSummary struct {
	ID                int64
	SeedURL           string
	FinishedAt        time.Time
	TerminationReason string
	FetchedCount      int
	FailedCount       int
}

// ListCrawls returns all stored runs, newest first
func (s *Storage) ListCrawls() ([]CrawlSummary, error) {
	rows, err := s.db.Query(`
		SELECT run_id, seed_url, finished_at, termination_reason, fetched_count, failed_count
		FROM crawl_runs
		ORDER BY run_id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list crawl runs: %w", err)
	}
	defer rows.Close()

	var runs []CrawlSummary
	for rows.Next() {
		var r CrawlSummary
		if err := rows.Scan(&r.ID, &r.SeedURL, &r.FinishedAt, &r.TerminationReason, &r.FetchedCount, &r.FailedCount); err != nil {
			return nil, fmt.Errorf("failed to scan crawl run: %w", err)
		}
		runs = append(runs, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating crawl runs: %w", err)
	}

	return runs, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}
