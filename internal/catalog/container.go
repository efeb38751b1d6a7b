// Package catalog tracks the deployed containers and manages their
// lifecycle.
//
// A Container is one schema: a name, a global identifier and one engine per
// query language. The Catalog is the lock-free registry the request path
// reads from; the Director is the single writer that assembles, persists,
// replaces and disposes containers.
package catalog

import (
	"errors"
	"slices"
	"sync"

	"github.com/roach88/datagate/internal/command"
	"github.com/roach88/datagate/internal/engine"
)

// Container is a deployed schema and the engines serving it.
//
// Thread-safety: Container is immutable after assembly; Close is safe to
// call concurrently and closes each engine exactly once.
type Container struct {
	name        command.Id
	identifier  string
	fingerprint string
	engines     map[command.Language]engine.Engine

	closeOnce sync.Once
	closeErr  error
}

// NewContainer creates a container from already opened engines.
func NewContainer(name command.Id, identifier, fingerprint string, engines ...engine.Engine) *Container {
	byLang := make(map[command.Language]engine.Engine, len(engines))
	for _, e := range engines {
		byLang[e.Language()] = e
	}
	return &Container{
		name:        name,
		identifier:  identifier,
		fingerprint: fingerprint,
		engines:     byLang,
	}
}

// Name returns the schema name.
func (c *Container) Name() command.Id {
	return c.name
}

// Identifier returns the global identifier, e.g. urn:datagate:schema:sales.
func (c *Container) Identifier() string {
	return c.identifier
}

// Fingerprint returns the hash of the settings the container was assembled from.
func (c *Container) Fingerprint() string {
	return c.fingerprint
}

// Engine returns the engine for lang.
func (c *Container) Engine(lang command.Language) (engine.Engine, bool) {
	e, ok := c.engines[lang]
	return e, ok
}

// Languages returns the served languages in sorted order.
func (c *Container) Languages() []string {
	out := make([]string, 0, len(c.engines))
	for l := range c.engines {
		out = append(out, l.String())
	}
	slices.Sort(out)
	return out
}

// Close closes every engine. Errors are joined.
func (c *Container) Close() error {
	c.closeOnce.Do(func() {
		var errs []error
		for _, e := range c.engines {
			if err := e.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}
