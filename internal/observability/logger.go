// Package observability records what each demo user could see.
//
// Every step of a user's turn (sign-in, each select, sign-out) emits a
// VisibilityEntry. Entries go to one or more sinks: JSON lines on a writer, or
// rows in a SQL database so runs can be compared later.
package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// Operations recorded in the audit log.
const (
	OpSignIn  = "sign_in"
	OpSelect  = "select"
	OpSignOut = "sign_out"
)

// Outcomes recorded in the audit log.
const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeNoSession = "no_session"
)

// VisibilityEntry is one audited step of a demo run.
type VisibilityEntry struct {
	// RunID ties together the entries of one `rlsdemo run`.
	RunID string

	// EntryID is unique per entry.
	EntryID string

	// Operation is one of OpSignIn, OpSelect, OpSignOut.
	Operation string

	// User is the email the step ran as.
	User string

	// UserID is the auth service's id for User, once known.
	UserID string

	// Group is the tenant group the user belongs to.
	Group string

	// Table is set for selects.
	Table string

	// RowCount is the number of rows a select returned.
	RowCount int

	// CompanyIDs are the distinct company ids a documents select returned.
	CompanyIDs []string

	// Outcome is OutcomeSuccess, OutcomeError or OutcomeNoSession.
	Outcome string

	// Error is the one-line failure text, empty on success.
	Error string

	// Duration is how long the step took. Must be non-negative.
	Duration time.Duration
}

// Validate checks that all required fields are present.
func (e *VisibilityEntry) Validate() error {
	if e.RunID == "" {
		return fmt.Errorf("observability: run_id is required")
	}
	if e.EntryID == "" {
		return fmt.Errorf("observability: entry_id is required")
	}
	if e.User == "" {
		return fmt.Errorf("observability: user is required")
	}
	switch e.Operation {
	case OpSignIn, OpSignOut:
	case OpSelect:
		if e.Table == "" {
			return fmt.Errorf("observability: table is required for select")
		}
	default:
		return fmt.Errorf("observability: unknown operation %q", e.Operation)
	}
	if e.Duration < 0 {
		return fmt.Errorf("observability: duration cannot be negative")
	}
	return nil
}

// AuditLogger is the interface for visibility audit sinks.
type AuditLogger interface {
	// Record stores one entry. Returns an error if the entry is invalid or
	// the sink fails.
	Record(ctx context.Context, entry VisibilityEntry) error

	// Summary aggregates what the sink has recorded.
	Summary(ctx context.Context) (*AuditSummary, error)
}

// AuditSummary represents aggregated audit statistics.
type AuditSummary struct {
	SucceededCount    int                `json:"succeeded_count" yaml:"succeeded_count"`
	FailedCount       int                `json:"failed_count" yaml:"failed_count"`
	TopFailureReasons []FailureReasonStat `json:"top_failure_reasons" yaml:"top_failure_reasons"`
	TopQueriedTables  []TableQueryStat   `json:"top_queried_tables" yaml:"top_queried_tables"`
	Visibility        []UserVisibility   `json:"visibility" yaml:"visibility"`
}

// FailureReasonStat represents failure reason statistics.
type FailureReasonStat struct {
	Reason string `json:"reason" yaml:"reason"`
	Count  int    `json:"count" yaml:"count"`
}

// TableQueryStat represents table query statistics.
type TableQueryStat struct {
	Table string `json:"table" yaml:"table"`
	Count int    `json:"count" yaml:"count"`
}

// UserVisibility is the largest row count a user saw on a table across
// recorded successful selects.
type UserVisibility struct {
	User    string `json:"user" yaml:"user"`
	Table   string `json:"table" yaml:"table"`
	MaxRows int    `json:"max_rows" yaml:"max_rows"`
}

// jsonLogOutput is the structured format for JSON logs.
type jsonLogOutput struct {
	Timestamp  string   `json:"timestamp"`
	Level      string   `json:"level"`
	RunID      string   `json:"run_id"`
	EntryID    string   `json:"entry_id"`
	Operation  string   `json:"operation"`
	User       string   `json:"user"`
	UserID     string   `json:"user_id,omitempty"`
	Group      string   `json:"group,omitempty"`
	Table      string   `json:"table,omitempty"`
	RowCount   int      `json:"row_count"`
	CompanyIDs []string `json:"company_ids"`
	Outcome    string   `json:"outcome"`
	Error      string   `json:"error,omitempty"`
	DurationMs int64    `json:"duration_ms"`
}

func toJSONOutput(entry VisibilityEntry) jsonLogOutput {
	level := "info"
	if entry.Error != "" {
		level = "error"
	}
	out := jsonLogOutput{
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Level:      level,
		RunID:      entry.RunID,
		EntryID:    entry.EntryID,
		Operation:  entry.Operation,
		User:       entry.User,
		UserID:     entry.UserID,
		Group:      entry.Group,
		Table:      entry.Table,
		RowCount:   entry.RowCount,
		CompanyIDs: entry.CompanyIDs,
		Outcome:    entry.Outcome,
		Error:      entry.Error,
		DurationMs: entry.Duration.Milliseconds(),
	}
	// Ensure company_ids is never null in JSON
	if out.CompanyIDs == nil {
		out.CompanyIDs = []string{}
	}
	return out
}

// JSONLogger implements AuditLogger with JSON lines output.
type JSONLogger struct {
	writer  io.Writer
	entries []VisibilityEntry // Track entries for the summary
	mu      sync.Mutex
}

// NewJSONLogger creates a new JSON logger writing to the given writer.
func NewJSONLogger(w io.Writer) *JSONLogger {
	return &JSONLogger{
		writer:  w,
		entries: make([]VisibilityEntry, 0),
	}
}

// Record writes entry as one JSON line.
func (l *JSONLogger) Record(ctx context.Context, entry VisibilityEntry) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("observability: context error: %w", err)
	}
	if err := entry.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(toJSONOutput(entry))
	if err != nil {
		return fmt.Errorf("observability: failed to marshal log: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.writer.Write(data); err != nil {
		return fmt.Errorf("observability: failed to write log: %w", err)
	}
	l.entries = append(l.entries, entry)
	return nil
}

// Summary aggregates the entries written so far.
func (l *JSONLogger) Summary(ctx context.Context) (*AuditSummary, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return summarize(l.entries), nil
}

// summarize builds an AuditSummary from in-memory entries.
func summarize(entries []VisibilityEntry) *AuditSummary {
	summary := emptySummary()

	failureReasons := make(map[string]int)
	tableCounts := make(map[string]int)
	visibility := make(map[[2]string]int)

	for _, entry := range entries {
		if entry.Outcome == OutcomeSuccess {
			summary.SucceededCount++
		} else {
			summary.FailedCount++
			reason := entry.Error
			if reason == "" {
				reason = entry.Outcome
			}
			failureReasons[reason]++
		}

		if entry.Operation != OpSelect {
			continue
		}
		tableCounts[entry.Table]++
		if entry.Outcome == OutcomeSuccess {
			key := [2]string{entry.User, entry.Table}
			if n, ok := visibility[key]; !ok || entry.RowCount > n {
				visibility[key] = entry.RowCount
			}
		}
	}

	for reason, count := range failureReasons {
		summary.TopFailureReasons = append(summary.TopFailureReasons, FailureReasonStat{Reason: reason, Count: count})
	}
	sort.Slice(summary.TopFailureReasons, func(i, j int) bool {
		a, b := summary.TopFailureReasons[i], summary.TopFailureReasons[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Reason < b.Reason
	})
	if len(summary.TopFailureReasons) > 5 {
		summary.TopFailureReasons = summary.TopFailureReasons[:5]
	}

	for table, count := range tableCounts {
		summary.TopQueriedTables = append(summary.TopQueriedTables, TableQueryStat{Table: table, Count: count})
	}
	sort.Slice(summary.TopQueriedTables, func(i, j int) bool {
		a, b := summary.TopQueriedTables[i], summary.TopQueriedTables[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Table < b.Table
	})
	if len(summary.TopQueriedTables) > 5 {
		summary.TopQueriedTables = summary.TopQueriedTables[:5]
	}

	for key, rows := range visibility {
		summary.Visibility = append(summary.Visibility, UserVisibility{User: key[0], Table: key[1], MaxRows: rows})
	}
	sortVisibility(summary.Visibility)

	return summary
}

func emptySummary() *AuditSummary {
	return &AuditSummary{
		TopFailureReasons: []FailureReasonStat{},
		TopQueriedTables:  []TableQueryStat{},
		Visibility:        []UserVisibility{},
	}
}

func sortVisibility(v []UserVisibility) {
	sort.Slice(v, func(i, j int) bool {
		if v[i].User != v[j].User {
			return v[i].User < v[j].User
		}
		return v[i].Table < v[j].Table
	})
}

// NoopLogger is a logger that discards all entries.
type NoopLogger struct{}

// NewNoopLogger creates a new no-op logger.
func NewNoopLogger() *NoopLogger {
	return &NoopLogger{}
}

// Record does nothing and always succeeds.
func (l *NoopLogger) Record(ctx context.Context, entry VisibilityEntry) error {
	return nil
}

// Summary returns an empty summary.
func (l *NoopLogger) Summary(ctx context.Context) (*AuditSummary, error) {
	return emptySummary(), nil
}

// Tee fans entries out to several sinks. Summary comes from the first sink.
type Tee []AuditLogger

// Record writes to every sink and joins their errors.
func (t Tee) Record(ctx context.Context, entry VisibilityEntry) error {
	var msgs []string
	for _, l := range t {
		if err := l.Record(ctx, entry); err != nil {
			msgs = append(msgs, err.Error())
		}
	}
	if len(msgs) > 0 {
		return fmt.Errorf("observability: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// Summary returns the first sink's summary.
func (t Tee) Summary(ctx context.Context) (*AuditSummary, error) {
	if len(t) == 0 {
		return emptySummary(), nil
	}
	return t[0].Summary(ctx)
}

// PersistentLogger implements AuditLogger on a SQL database. The schema comes
// from the embedded migrations (see storage.MigrationRunner).
type PersistentLogger struct {
	db     *sql.DB
	writer io.Writer // optional: also write JSON lines for debugging
}

// NewPersistentLogger creates a logger that persists entries to db.
func NewPersistentLogger(db *sql.DB) (*PersistentLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("observability: database connection is required for persistent logging")
	}
	return &PersistentLogger{db: db}, nil
}

// NewPersistentLoggerWithWriter creates a logger that persists to both db and w.
func NewPersistentLoggerWithWriter(db *sql.DB, w io.Writer) (*PersistentLogger, error) {
	l, err := NewPersistentLogger(db)
	if err != nil {
		return nil, err
	}
	l.writer = w
	return l, nil
}

// Record inserts entry into visibility_log.
func (l *PersistentLogger) Record(ctx context.Context, entry VisibilityEntry) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("observability: context error: %w", err)
	}
	if err := entry.Validate(); err != nil {
		return err
	}

	companies := entry.CompanyIDs
	if companies == nil {
		companies = []string{}
	}
	companiesJSON, err := json.Marshal(companies)
	if err != nil {
		companiesJSON = []byte("[]")
	}

	query := `
		INSERT INTO visibility_log (
			entry_id, run_id, operation, user_email, user_id, user_group,
			table_name, row_count, company_ids_json, outcome, error_message,
			duration_ms, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = l.db.ExecContext(ctx, query,
		entry.EntryID,
		entry.RunID,
		entry.Operation,
		entry.User,
		nullableString(entry.UserID),
		nullableString(entry.Group),
		nullableString(entry.Table),
		entry.RowCount,
		string(companiesJSON),
		entry.Outcome,
		nullableString(entry.Error),
		entry.Duration.Milliseconds(),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("observability: failed to persist audit entry: %w", err)
	}

	if l.writer != nil {
		if data, err := json.Marshal(toJSONOutput(entry)); err == nil {
			l.writer.Write(append(data, '\n'))
		}
	}
	return nil
}

// Summary aggregates every persisted entry.
func (l *PersistentLogger) Summary(ctx context.Context) (*AuditSummary, error) {
	summary := emptySummary()

	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM visibility_log WHERE outcome = $1`, OutcomeSuccess,
	).Scan(&summary.SucceededCount)
	if err != nil {
		return nil, fmt.Errorf("observability: count succeeded: %w", err)
	}
	err = l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM visibility_log WHERE outcome <> $1`, OutcomeSuccess,
	).Scan(&summary.FailedCount)
	if err != nil {
		return nil, fmt.Errorf("observability: count failed: %w", err)
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT COALESCE(error_message, outcome) AS reason, COUNT(*) AS cnt
		FROM visibility_log
		WHERE outcome <> $1
		GROUP BY COALESCE(error_message, outcome)
		ORDER BY cnt DESC, reason ASC
		LIMIT 5
	`, OutcomeSuccess)
	if err != nil {
		return nil, fmt.Errorf("observability: failure reasons: %w", err)
	}
	for rows.Next() {
		var stat FailureReasonStat
		if err := rows.Scan(&stat.Reason, &stat.Count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("observability: scan failure reason: %w", err)
		}
		summary.TopFailureReasons = append(summary.TopFailureReasons, stat)
	}
	rows.Close()

	rows, err = l.db.QueryContext(ctx, `
		SELECT table_name, COUNT(*) AS cnt
		FROM visibility_log
		WHERE operation = $1
		GROUP BY table_name
		ORDER BY cnt DESC, table_name ASC
		LIMIT 5
	`, OpSelect)
	if err != nil {
		return nil, fmt.Errorf("observability: queried tables: %w", err)
	}
	for rows.Next() {
		var stat TableQueryStat
		if err := rows.Scan(&stat.Table, &stat.Count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("observability: scan table stat: %w", err)
		}
		summary.TopQueriedTables = append(summary.TopQueriedTables, stat)
	}
	rows.Close()

	rows, err = l.db.QueryContext(ctx, `
		SELECT user_email, table_name, MAX(row_count)
		FROM visibility_log
		WHERE operation = $1 AND outcome = $2
		GROUP BY user_email, table_name
		ORDER BY user_email ASC, table_name ASC
	`, OpSelect, OutcomeSuccess)
	if err != nil {
		return nil, fmt.Errorf("observability: visibility: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var v UserVisibility
		if err := rows.Scan(&v.User, &v.Table, &v.MaxRows); err != nil {
			return nil, fmt.Errorf("observability: scan visibility: %w", err)
		}
		summary.Visibility = append(summary.Visibility, v)
	}
	return summary, rows.Err()
}

// nullableString converts empty strings to nil for SQL NULL.
func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
