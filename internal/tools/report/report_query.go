// Package report implements the report_query tool: read-only SQL analytics
// against the studio's business database.
//
// Security:
//   - Only read-only SQL statements allowed (SELECT, EXPLAIN, WITH)
//   - All write/DDL statements blocked (INSERT, UPDATE, DELETE, DROP, ...)
//   - One statement per call; trailing semicolons only
//   - Query timeout enforced via context
//   - Row limit enforced to keep output bounded
//   - Connection DSN configurable separately from the engine's own store
package report

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver.

	"github.com/fokalhq/fokal/internal/policy"
)

// Default limits.
const (
	defaultMaxRows    = 500
	defaultTimeoutSec = 20
)

// blockedPrefixes are SQL statement prefixes that indicate write/DDL
// operations.
var blockedPrefixes = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "ALTER", "CREATE",
	"TRUNCATE", "GRANT", "REVOKE", "COPY", "VACUUM", "REINDEX",
	"COMMENT", "LOCK", "DISCARD", "SET ", "RESET", "BEGIN",
	"COMMIT", "ROLLBACK", "SAVEPOINT", "RELEASE", "PREPARE",
	"EXECUTE", "DEALLOCATE", "LISTEN", "NOTIFY", "UNLISTEN",
	"LOAD", "CLUSTER", "REFRESH", "SECURITY",
}

// allowedPrefixes are the only SQL statement prefixes permitted.
var allowedPrefixes = []string{"SELECT", "EXPLAIN", "WITH"}

// Config holds report tool settings.
type Config struct {
	DSN            string // Connection string for the reporting database.
	MaxRows        int    // Maximum rows returned per query. Default: 500.
	TimeoutSeconds int    // Per-query timeout. Default: 20.
}

// QueryTool runs read-only SQL queries against the reporting database.
type QueryTool struct {
	config Config
	db     *sql.DB
	logger *slog.Logger
}

// NewQueryTool creates a report_query tool. The connection is opened lazily
// on first Execute.
func NewQueryTool(cfg Config, logger *slog.Logger) *QueryTool {
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = defaultMaxRows
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = defaultTimeoutSec
	}
	return &QueryTool{config: cfg, logger: logger}
}

func (t *QueryTool) Name() string { return "report_query" }

func (t *QueryTool) Description() string {
	return "Run a read-only SQL query against the studio's reporting database " +
		"(SELECT, EXPLAIN, WITH). Use for revenue, booking, and lead reports."
}

func (t *QueryTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "SQL query to execute (must be read-only: SELECT, EXPLAIN, WITH)",
			},
			"max_rows": map[string]any{
				"type":        "number",
				"description": "Maximum number of rows to return (default: 500)",
			},
		},
		"required": []string{"query"},
	}
}

func (t *QueryTool) Authority() string { return policy.AuthorityRunReport }

func (t *QueryTool) RiskLevel() policy.RiskLevel { return policy.RiskLow }

func (t *QueryTool) Validate(params map[string]any) error {
	query, ok := params["query"].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return fmt.Errorf("missing required parameter: query")
	}
	return validateReadOnly(query)
}

// Execute runs the query. Read-only queries are side-effect free, so
// simulate mode executes them for real.
func (t *QueryTool) Execute(ctx context.Context, ectx *policy.ExecutionContext, params map[string]any) (any, error) {
	query, _ := params["query"].(string)

	if err := t.ensureConnected(); err != nil {
		return nil, fmt.Errorf("reporting database connection: %w", err)
	}

	maxRows := t.config.MaxRows
	if v, ok := params["max_rows"].(float64); ok && int(v) > 0 && int(v) < maxRows {
		maxRows = int(v)
	}

	timeout := time.Duration(t.config.TimeoutSeconds) * time.Second
	queryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	t.logger.InfoContext(ctx, "report query executing",
		slog.String("tenant_id", ectx.TenantID),
		slog.String("query_prefix", truncateQuery(query, 100)),
		slog.Int("max_rows", maxRows),
	)

	rows, err := t.db.QueryContext(queryCtx, query)
	if err != nil {
		return nil, fmt.Errorf("query execution: %w", err)
	}
	defer rows.Close()

	table, rowCount, err := formatRows(rows, maxRows)
	if err != nil {
		return nil, fmt.Errorf("reading results: %w", err)
	}
	if rowCount == 0 {
		return nil, nil
	}
	return map[string]any{
		"rows_returned": rowCount,
		"table":         table,
	}, nil
}

// Close releases the database connection, if one was opened.
func (t *QueryTool) Close() error {
	if t.db == nil {
		return nil
	}
	return t.db.Close()
}

func (t *QueryTool) ensureConnected() error {
	if t.db != nil {
		return t.db.Ping()
	}
	if t.config.DSN == "" {
		return fmt.Errorf("reporting database DSN not configured")
	}

	db, err := sql.Open("pgx", t.config.DSN)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	// Conservative pool for a tool, not a web server.
	db.SetMaxOpenConns(3)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("pinging database: %w", err)
	}

	t.db = db
	return nil
}

// validateReadOnly checks that a SQL statement is safe for read-only
// execution.
func validateReadOnly(query string) error {
	normalized := stripLeadingComments(strings.TrimSpace(query))
	if normalized == "" {
		return fmt.Errorf("query must not be empty")
	}
	upper := strings.ToUpper(normalized)

	for _, prefix := range blockedPrefixes {
		if strings.HasPrefix(upper, prefix) {
			return fmt.Errorf("query blocked: %s statements are not allowed (read-only mode)", strings.TrimSpace(prefix))
		}
	}

	allowed := false
	for _, prefix := range allowedPrefixes {
		if strings.HasPrefix(upper, prefix) {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("query must start with one of: %s", strings.Join(allowedPrefixes, ", "))
	}

	// Block multiple statements (semicolons not at the end).
	trimmed := strings.TrimRight(normalized, "; \t\n\r")
	if strings.Contains(trimmed, ";") {
		return fmt.Errorf("multiple statements not allowed; submit one query at a time")
	}
	return nil
}

// stripLeadingComments removes SQL comments from the beginning of a query.
func stripLeadingComments(s string) string {
	for {
		s = strings.TrimSpace(s)
		switch {
		case strings.HasPrefix(s, "--"):
			idx := strings.Index(s, "\n")
			if idx < 0 {
				return ""
			}
			s = s[idx+1:]
		case strings.HasPrefix(s, "/*"):
			idx := strings.Index(s, "*/")
			if idx < 0 {
				return ""
			}
			s = s[idx+2:]
		default:
			return s
		}
	}
}

// formatRows reads SQL rows into a tab-separated table with headers.
func formatRows(rows *sql.Rows, maxRows int) (string, int, error) {
	cols, err := rows.Columns()
	if err != nil {
		return "", 0, fmt.Errorf("getting columns: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(strings.Join(cols, "\t"))
	sb.WriteString("\n")

	values := make([]any, len(cols))
	scanArgs := make([]any, len(cols))
	for i := range values {
		scanArgs[i] = &values[i]
	}

	rowCount := 0
	for rows.Next() {
		if rowCount >= maxRows {
			sb.WriteString(fmt.Sprintf("\n... [results truncated at %d rows]", maxRows))
			break
		}
		if err := rows.Scan(scanArgs...); err != nil {
			return "", rowCount, fmt.Errorf("scanning row %d: %w", rowCount, err)
		}
		for i, v := range values {
			if i > 0 {
				sb.WriteString("\t")
			}
			sb.WriteString(formatValue(v))
		}
		sb.WriteString("\n")
		rowCount++
	}
	if err := rows.Err(); err != nil {
		return "", rowCount, fmt.Errorf("iterating rows: %w", err)
	}
	return sb.String(), rowCount, nil
}

// formatValue converts a scanned SQL value to a display string.
func formatValue(v any) string {
	if v == nil {
		return "NULL"
	}
	switch val := v.(type) {
	case []byte:
		s := string(val)
		if len(s) > 500 {
			return s[:500] + "..."
		}
		return s
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// truncateQuery returns the first n characters of a query for logging.
func truncateQuery(q string, n int) string {
	q = strings.ReplaceAll(q, "\n", " ")
	if len(q) > n {
		return q[:n] + "..."
	}
	return q
}
