package catalog

import (
	"github.com/roach88/datagate/internal/command"
	"github.com/roach88/datagate/internal/engine"
)

// Router selects engines by the schema and language parameters of a command.
type Router struct {
	catalog *Catalog
}

// NewRouter creates a router reading from cat.
func NewRouter(cat *Catalog) *Router {
	return &Router{catalog: cat}
}

// Select implements engine.Router.
func (r *Router) Select(cmd command.Command) (engine.Engine, error) {
	if err := cmd.FailIfNotValid(); err != nil {
		return nil, err
	}
	name, err := cmd.Schema()
	if err != nil {
		return nil, err
	}
	lang, err := cmd.Language()
	if err != nil {
		return nil, err
	}

	c, ok := r.catalog.FindByName(name)
	if !ok {
		return nil, &SchemaNotFoundError{Name: name}
	}
	e, ok := c.Engine(lang)
	if !ok {
		return nil, &engine.LanguageNotSupportedError{Schema: name.String(), Language: lang}
	}
	return e, nil
}
