// Package config holds the two kinds of configuration datagate reads:
// container Settings, submitted at runtime in YAML, CUE or JSON and
// persisted in canonical JSON, and the process Env, read from environment
// variables at startup.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/roach88/datagate/internal/command"
)

// Supported database/sql driver names.
const (
	DriverSQLite3 = "sqlite3" // github.com/mattn/go-sqlite3
	DriverSQLite  = "sqlite"  // modernc.org/sqlite
	DriverPgx     = "pgx"     // github.com/jackc/pgx/v5/stdlib
	DriverMySQL   = "mysql"   // github.com/go-sql-driver/mysql
)

// Drivers lists the supported drivers.
var Drivers = []string{DriverSQLite3, DriverSQLite, DriverPgx, DriverMySQL}

// DefaultStatementTimeout bounds a statement without an explicit timeout.
const DefaultStatementTimeout = 30 * time.Second

// Settings is the canonical description of a container: a named schema and
// the engines serving it, one per language.
type Settings struct {
	Name       string           `json:"name" yaml:"name"`
	Identifier string           `json:"identifier,omitempty" yaml:"identifier"`
	Engines    []EngineSettings `json:"engines" yaml:"engines"`
}

// EngineSettings configures one engine.
type EngineSettings struct {
	Language     string   `json:"language" yaml:"language"`
	Driver       string   `json:"driver" yaml:"driver"`
	DSN          string   `json:"dsn" yaml:"dsn"`
	MaxOpenConns int      `json:"max_open_conns,omitempty" yaml:"max_open_conns"`
	MaxIdleConns int      `json:"max_idle_conns,omitempty" yaml:"max_idle_conns"`
	Timeout      string   `json:"timeout,omitempty" yaml:"timeout"`
	Whitelist    []string `json:"whitelist,omitempty" yaml:"whitelist"`
	Init         []string `json:"init,omitempty" yaml:"init"`
}

// StatementTimeout returns the parsed Timeout, DefaultStatementTimeout when unset.
// Validate guarantees it parses.
func (e EngineSettings) StatementTimeout() time.Duration {
	if e.Timeout == "" {
		return DefaultStatementTimeout
	}
	d, err := time.ParseDuration(e.Timeout)
	if err != nil {
		return DefaultStatementTimeout
	}
	return d
}

// Normalize fills defaults for a container deployed under name and
// canonicalizes languages. The receiver is not modified.
func (s Settings) Normalize(name command.Id) Settings {
	out := s
	if out.Name == "" {
		out.Name = string(name)
	}
	if out.Identifier == "" {
		out.Identifier = "urn:datagate:schema:" + out.Name
	}
	out.Engines = make([]EngineSettings, len(s.Engines))
	for i, e := range s.Engines {
		e.Language = command.ParseLanguage(e.Language).String()
		e.Driver = strings.ToLower(strings.TrimSpace(e.Driver))
		e.Whitelist = slices.Clone(e.Whitelist)
		e.Init = slices.Clone(e.Init)
		out.Engines[i] = e
	}
	return out
}

// Validate checks settings to be deployed under name.
func (s Settings) Validate(name command.Id) error {
	if s.Name != "" && s.Name != string(name) {
		return &Error{Field: "name", Message: fmt.Sprintf("%q does not match deployment name %q", s.Name, name)}
	}
	if len(s.Engines) == 0 {
		return &Error{Field: "engines", Message: "at least one engine is required"}
	}

	seen := make(map[command.Language]bool, len(s.Engines))
	for i, e := range s.Engines {
		field := fmt.Sprintf("engines[%d]", i)
		lang := command.ParseLanguage(e.Language)
		switch {
		case lang.IsUnknown():
			return &Error{Field: field + ".language", Message: "language is required"}
		case seen[lang]:
			return &Error{Field: field + ".language", Message: fmt.Sprintf("duplicate engine for %s", lang)}
		case !slices.Contains(Drivers, strings.ToLower(strings.TrimSpace(e.Driver))):
			return &Error{Field: field + ".driver", Message: fmt.Sprintf("unsupported driver %q, expected one of %v", e.Driver, Drivers)}
		case strings.TrimSpace(e.DSN) == "":
			return &Error{Field: field + ".dsn", Message: "dsn is required"}
		case e.MaxOpenConns < 0 || e.MaxIdleConns < 0:
			return &Error{Field: field, Message: "connection limits must not be negative"}
		}
		if e.Timeout != "" {
			if d, err := time.ParseDuration(e.Timeout); err != nil || d <= 0 {
				return &Error{Field: field + ".timeout", Message: fmt.Sprintf("invalid duration %q", e.Timeout)}
			}
		}
		seen[lang] = true
	}
	return nil
}

// Languages returns the normalized engine languages in declaration order.
func (s Settings) Languages() []string {
	out := make([]string, len(s.Engines))
	for i, e := range s.Engines {
		out[i] = command.ParseLanguage(e.Language).String()
	}
	return out
}
