package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/datagate/internal/command"
	"github.com/roach88/datagate/internal/config"
	"github.com/roach88/datagate/internal/engine"
	"github.com/roach88/datagate/internal/sqlengine"
)

// EngineFactory opens an engine from its settings.
type EngineFactory func(ctx context.Context, s config.EngineSettings) (engine.Engine, error)

// Assembler builds containers from validated settings.
//
// An Assembler is configured before use and then only read.
type Assembler struct {
	factories map[command.Language]EngineFactory
}

// NewAssembler creates an assembler with the built-in SQL engine.
func NewAssembler() *Assembler {
	a := &Assembler{factories: make(map[command.Language]EngineFactory)}
	a.Register(command.SQL, func(ctx context.Context, s config.EngineSettings) (engine.Engine, error) {
		return sqlengine.Open(ctx, s)
	})
	return a
}

// Register sets the factory for lang, replacing any previous one.
func (a *Assembler) Register(lang command.Language, f EngineFactory) *Assembler {
	a.factories[lang] = f
	return a
}

// Assemble opens every engine of s and wraps them in a container. If any
// engine fails to open, the ones already opened are closed.
func (a *Assembler) Assemble(ctx context.Context, name command.Id, s config.Settings) (*Container, error) {
	fingerprint, err := config.Fingerprint(s)
	if err != nil {
		return nil, err
	}

	engines := make([]engine.Engine, 0, len(s.Engines))
	fail := func(err error) (*Container, error) {
		for _, e := range engines {
			if cerr := e.Close(); cerr != nil {
				slog.Warn("failed to close engine", "schema", name, "language", e.Language(), "error", cerr)
			}
		}
		return nil, err
	}

	for i, es := range s.Engines {
		lang := command.ParseLanguage(es.Language)
		factory, ok := a.factories[lang]
		if !ok {
			return fail(&engine.LanguageNotSupportedError{Schema: name.String(), Language: lang})
		}
		e, err := factory(ctx, es)
		if err != nil {
			return fail(fmt.Errorf("engine %d (%s): %w", i, lang, err))
		}
		if e.Language() != lang {
			engines = append(engines, e)
			return fail(fmt.Errorf("engine %d: opened %s engine for %s", i, e.Language(), lang))
		}
		engines = append(engines, e)
	}

	return NewContainer(name, s.Identifier, fingerprint, engines...), nil
}
