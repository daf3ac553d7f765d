// Package apply loads a SQL dump into a live MySQL database, statement by
// statement. It exists so an anonymized dump can be replayed into a scratch
// database directly from the pipeline, without an intermediate file.
package apply

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
)

// Options configures the loader.
type Options struct {
	DSN    string
	DryRun bool
	Out    io.Writer
}

// Loader replays dump statements against a database connection.
type Loader struct {
	db      *sql.DB
	options Options
	out     io.Writer
}

// NewLoader returns a Loader with the provided options.
func NewLoader(options Options) *Loader {
	out := options.Out
	if out == nil {
		out = io.Discard
	}
	return &Loader{options: options, out: out}
}

func (l *Loader) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(l.out, format, args...)
}

// Connect establishes a connection with the target database and pings it.
func (l *Loader) Connect(ctx context.Context) error {
	db, err := sql.Open("mysql", l.options.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	if pingErr := db.PingContext(ctx); pingErr != nil {
		if closeErr := db.Close(); closeErr != nil {
			return fmt.Errorf("failed to ping database: %w; additionally failed to close connection: %w", pingErr, closeErr)
		}
		return fmt.Errorf("failed to ping database: %w", pingErr)
	}

	l.db = db
	return nil
}

// Close closes the database connection if one was opened.
func (l *Loader) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

// Load streams statements from r and executes each one, returning the
// number executed. In dry-run mode statements are printed instead.
// Execution stops at the first failing statement.
func (l *Loader) Load(ctx context.Context, r io.Reader) (int, error) {
	executed := 0
	err := EachStatement(r, func(stmt string) error {
		if l.options.DryRun {
			l.printf("%s\n", stmt)
			executed++
			return nil
		}
		if _, execErr := l.db.ExecContext(ctx, stmt); execErr != nil {
			return fmt.Errorf("statement %d: %w", executed+1, execErr)
		}
		executed++
		return nil
	})
	return executed, err
}

// EachStatement splits dump content into statements and calls fn for each.
// A statement ends at a line whose trimmed form ends with a semicolon;
// blank lines and "--" comment lines outside a statement are skipped. This relies
// on the dump convention of terminating statements at end of line, so a
// semicolon inside a string literal never splits a statement.
func EachStatement(r io.Reader, fn func(stmt string) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var current strings.Builder
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		if current.Len() == 0 && (trimmed == "" || strings.HasPrefix(trimmed, "--")) {
			continue
		}

		current.WriteString(line)
		current.WriteString("\n")
		if strings.HasSuffix(trimmed, ";") {
			stmt := strings.TrimSpace(current.String())
			current.Reset()
			if stmt != "" {
				if err := fn(stmt); err != nil {
					return err
				}
			}
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read dump: %w", err)
	}

	if remaining := strings.TrimSpace(current.String()); remaining != "" {
		if err := fn(remaining); err != nil {
			return err
		}
	}
	return nil
}
