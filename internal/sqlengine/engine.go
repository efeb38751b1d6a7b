// Package sqlengine executes SQL commands against a database/sql pool.
//
// A command carries either a "query" (read, permission invoke:query) or an
// "update" (write, permission invoke:update) statement, optionally with
// positional "arg" values bound to its placeholders. A query whose leading
// keyword is not a read keyword requires invoke:update. Query results stream
// as CSV or JSON depending on the command's accepted media types.
package sqlengine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/roach88/datagate/internal/command"
	"github.com/roach88/datagate/internal/config"
	"github.com/roach88/datagate/internal/engine"
	"github.com/roach88/datagate/internal/security"
)

// Command parameter keys.
const (
	ParamQuery  = "query"
	ParamUpdate = "update"
	ParamArg    = "arg"
)

// Media types produced by the engine.
const (
	MediaTypeCSV  = "text/csv"
	MediaTypeJSON = "application/json"
)

// Engine is the SQL engine of one container.
//
// Thread-safety: Engine is safe for concurrent use; every invocation takes
// its own connection from the pool.
type Engine struct {
	language  command.Language
	db        *sql.DB
	whitelist map[string]bool
	timeout   time.Duration
	formats   *engine.Resolver[formatter]
}

// Open connects to the database described by s and runs its init statements.
func Open(ctx context.Context, s config.EngineSettings) (*Engine, error) {
	db, err := sql.Open(s.Driver, s.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", s.Driver, err)
	}
	if s.MaxOpenConns > 0 {
		db.SetMaxOpenConns(s.MaxOpenConns)
	}
	if s.MaxIdleConns > 0 {
		db.SetMaxIdleConns(s.MaxIdleConns)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to %s database: %w", s.Driver, err)
	}

	for i, stmt := range s.Init {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init statement %d: %w", i, err)
		}
	}

	e := &Engine{
		language: command.ParseLanguage(s.Language),
		db:       db,
		timeout:  s.StatementTimeout(),
		formats: engine.NewResolver[formatter]().
			Register(MediaTypeCSV, csvFormatter, "application/csv").
			Register(MediaTypeJSON, jsonFormatter, "text/json"),
	}
	if len(s.Whitelist) > 0 {
		e.whitelist = make(map[string]bool, len(s.Whitelist))
		for _, kw := range s.Whitelist {
			e.whitelist[strings.ToUpper(strings.TrimSpace(kw))] = true
		}
	}

	slog.Debug("sql engine opened", "language", e.language, "driver", s.Driver, "init_statements", len(s.Init))
	return e, nil
}

// Language implements engine.Engine.
func (e *Engine) Language() command.Language {
	return e.language
}

// Prepare implements engine.Engine.
func (e *Engine) Prepare(cmd command.Command) (engine.Invocation, error) {
	if err := cmd.FailIfNotValid(); err != nil {
		return nil, err
	}

	hasQuery, hasUpdate := cmd.Has(ParamQuery), cmd.Has(ParamUpdate)
	var (
		key      string
		kind     statementKind
		requires security.Permission
	)
	switch {
	case hasQuery && hasUpdate:
		return nil, &PayloadError{Message: "parameters query and update are mutually exclusive"}
	case hasQuery:
		key, kind, requires = ParamQuery, kindQuery, security.InvokeQuery
	case hasUpdate:
		key, kind, requires = ParamUpdate, kindUpdate, security.InvokeUpdate
	default:
		return nil, &PayloadError{Message: "parameter query or update is required"}
	}

	stmt, err := cmd.Require(key)
	if err != nil {
		return nil, err
	}
	if err := e.checkWhitelist(stmt); err != nil {
		return nil, err
	}
	if kind == kindQuery && !readKeywords[leadingKeyword(stmt)] {
		requires = security.InvokeUpdate
	}

	accepted, err := cmd.Accepted()
	if err != nil {
		return nil, err
	}
	mediaType, format, err := e.formats.Select(accepted)
	if err != nil {
		return nil, err
	}

	rawArgs, err := cmd.Get(ParamArg)
	if err != nil {
		return nil, err
	}
	args := make([]any, len(rawArgs))
	for i, a := range rawArgs {
		args[i] = a
	}

	return newInvocation(invocationSpec{
		db:        e.db,
		kind:      kind,
		statement: stmt,
		args:      args,
		requires:  requires,
		mediaType: mediaType,
		format:    format,
		timeout:   e.timeout,
		props: map[string][]string{
			key:                   {stmt},
			ParamArg:              rawArgs,
			command.ParamLanguage: {e.language.String()},
			"media_type":          {mediaType},
		},
	}), nil
}

// Close closes the connection pool.
func (e *Engine) Close() error {
	return e.db.Close()
}

// checkWhitelist rejects statements whose leading keyword is not allowed.
func (e *Engine) checkWhitelist(stmt string) error {
	if e.whitelist == nil {
		return nil
	}
	if !e.whitelist[leadingKeyword(stmt)] {
		return &PayloadError{Message: fmt.Sprintf("Illegal sql command <%s>", stmt)}
	}
	return nil
}

// readKeywords lead statements that only read. A query starting with any
// other keyword requires the update permission.
var readKeywords = map[string]bool{
	"SELECT":   true,
	"WITH":     true,
	"VALUES":   true,
	"EXPLAIN":  true,
	"SHOW":     true,
	"DESCRIBE": true,
	"TABLE":    true,
}

// leadingKeyword returns the upper-cased first word of stmt, skipping
// whitespace and opening parentheses.
func leadingKeyword(stmt string) string {
	s := strings.TrimLeft(stmt, " \t\r\n(")
	end := strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
	})
	if end >= 0 {
		s = s[:end]
	}
	return strings.ToUpper(s)
}

// PayloadError reports a malformed SQL command.
type PayloadError struct {
	Message string
}

// Error implements the error interface.
func (e *PayloadError) Error() string {
	return e.Message
}

// Is reports PayloadError as a usage error.
func (e *PayloadError) Is(target error) bool {
	return target == command.ErrUsage
}
