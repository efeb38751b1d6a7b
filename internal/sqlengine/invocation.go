package sqlengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/roach88/datagate/internal/security"
)

type statementKind int

const (
	kindQuery statementKind = iota
	kindUpdate
)

type invocationSpec struct {
	db        *sql.DB
	kind      statementKind
	statement string
	args      []any
	requires  security.Permission
	mediaType string
	format    formatter
	timeout   time.Duration
	props     map[string][]string
}

// invocation runs one statement on a dedicated connection.
//
// Cancellation never comes from the context passed to Execute: it arrives
// through Cancel, which cancels the statement context shared by Execute and
// Write. The statement timeout covers both.
type invocation struct {
	invocationSpec

	base   context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	release  context.CancelFunc
	conn     *sql.Conn
	rows     *sql.Rows
	affected int64

	closeOnce sync.Once
	closeErr  error
}

func newInvocation(spec invocationSpec) *invocation {
	base, cancel := context.WithCancel(context.Background())
	return &invocation{invocationSpec: spec, base: base, cancel: cancel}
}

func (i *invocation) Requires() security.Permission { return i.requires }
func (i *invocation) Produces() string              { return i.mediaType }

func (i *invocation) Properties() map[string][]string {
	out := make(map[string][]string, len(i.props))
	for k, vs := range i.props {
		if len(vs) > 0 {
			out[k] = slices.Clone(vs)
		}
	}
	return out
}

func (i *invocation) Execute(context.Context) error {
	stmtCtx, release := context.WithTimeout(i.base, i.timeout)
	i.mu.Lock()
	i.release = release
	i.mu.Unlock()

	conn, err := i.db.Conn(stmtCtx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	i.mu.Lock()
	i.conn = conn
	i.mu.Unlock()

	switch i.kind {
	case kindQuery:
		rows, err := conn.QueryContext(stmtCtx, i.statement, i.args...)
		if err != nil {
			return err
		}
		i.mu.Lock()
		i.rows = rows
		i.mu.Unlock()
	case kindUpdate:
		res, err := conn.ExecContext(stmtCtx, i.statement, i.args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		i.mu.Lock()
		i.affected = n
		i.mu.Unlock()
	}
	return nil
}

func (i *invocation) Write(w io.Writer) error {
	i.mu.Lock()
	rows, affected := i.rows, i.affected
	i.mu.Unlock()

	if i.kind == kindUpdate {
		out := i.format(w, []string{"statement", "affected"})
		if err := out.Row([]any{i.statement, affected}); err != nil {
			return err
		}
		return out.Flush()
	}

	if rows == nil {
		return errors.New("query not executed")
	}
	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("columns: %w", err)
	}

	out := i.format(w, columns)
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for k := range values {
		ptrs[k] = &values[k]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("scan row: %w", err)
		}
		if err := out.Row(values); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return out.Flush()
}

func (i *invocation) Cancel() {
	i.cancel()
}

func (i *invocation) Close() error {
	i.closeOnce.Do(func() {
		i.cancel()

		i.mu.Lock()
		rows, conn, release := i.rows, i.conn, i.release
		i.mu.Unlock()

		var errs []error
		if rows != nil {
			errs = append(errs, rows.Close())
		}
		if conn != nil {
			if err := conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
				errs = append(errs, err)
			}
		}
		if release != nil {
			release()
		}
		i.closeErr = errors.Join(errs...)
	})
	return i.closeErr
}
