package catalog

import (
	"slices"
	"strings"
	"sync"

	"github.com/roach88/datagate/internal/command"
	"github.com/roach88/datagate/internal/insight"
)

// Catalog maps schema names to deployed containers.
//
// Reads never block. Writes are atomic per name, so at most one container
// is registered under a name at any instant; coordinating the lifecycle
// around a write is the Director's job.
type Catalog struct {
	containers sync.Map // command.Id -> *Container
	events     insight.Emitter
}

// New creates an empty catalog reporting deployments to events.
func New(events insight.Emitter) *Catalog {
	if events == nil {
		events = insight.Discard
	}
	return &Catalog{events: events}
}

// Deploy registers c, replacing and returning the container previously
// registered under the same name. The replaced container is not closed.
func (cat *Catalog) Deploy(c *Container) (replaced *Container) {
	prev, loaded := cat.containers.Swap(c.Name(), c)
	if loaded {
		replaced = prev.(*Container)
		cat.emitDropped(replaced)
	}
	cat.events.Emit(insight.Event{
		Kind:   insight.KindDeployed,
		Schema: c.Name().String(),
		Attributes: map[string][]string{
			insight.AttrIdentifier: {c.Identifier()},
			insight.AttrLanguages:  c.Languages(),
		},
	})
	return replaced
}

// Drop unregisters the container named name and returns it. The container
// is not closed.
func (cat *Catalog) Drop(name command.Id) (*Container, bool) {
	v, ok := cat.containers.LoadAndDelete(name)
	if !ok {
		return nil, false
	}
	c := v.(*Container)
	cat.emitDropped(c)
	return c, true
}

// FindByName returns the container registered under name.
func (cat *Catalog) FindByName(name command.Id) (*Container, bool) {
	v, ok := cat.containers.Load(name)
	if !ok {
		return nil, false
	}
	return v.(*Container), true
}

// FindAll returns a snapshot of all registered containers, sorted by name.
func (cat *Catalog) FindAll() []*Container {
	var out []*Container
	cat.containers.Range(func(_, v any) bool {
		out = append(out, v.(*Container))
		return true
	})
	slices.SortFunc(out, func(a, b *Container) int {
		return strings.Compare(a.Name().String(), b.Name().String())
	})
	return out
}

// Clear drops every container and returns them.
func (cat *Catalog) Clear() []*Container {
	var out []*Container
	for _, c := range cat.FindAll() {
		if dropped, ok := cat.Drop(c.Name()); ok {
			out = append(out, dropped)
		}
	}
	return out
}

func (cat *Catalog) emitDropped(c *Container) {
	cat.events.Emit(insight.Event{
		Kind:   insight.KindDropped,
		Schema: c.Name().String(),
		Attributes: map[string][]string{
			insight.AttrIdentifier: {c.Identifier()},
		},
	})
}
