// Package insight carries what happens inside the gateway to the outside:
// per-command lifecycle events, lifecycle events of deployed schemas, and
// the emitters that log, count and persist them.
//
// Events are fire-and-forget. Emit must never block the request path, so
// persistent emitters queue events and write them from a single goroutine.
package insight

import (
	"maps"
	"slices"
)

// Kind names an event.
type Kind string

// Command lifecycle events, emitted in this order for one flow:
//
//	received → accepted → executed → completed
//
// failed replaces whichever step could not happen.
const (
	KindReceived  Kind = "received"
	KindAccepted  Kind = "accepted"
	KindExecuted  Kind = "executed"
	KindCompleted Kind = "completed"
	KindFailed    Kind = "failed"
)

// Schema lifecycle events.
const (
	KindDeployed Kind = "deployed"
	KindDropped  Kind = "dropped"
)

// Well-known attribute keys.
const (
	AttrAccept     = "accept"
	AttrReason     = "reason"
	AttrIdentifier = "identifier"
	AttrLanguages  = "languages"
	AttrMediaType  = "media_type"
)

// Event is a single observation.
type Event struct {
	// Seq is the logical timestamp, stamped by Stamp. Zero until stamped.
	Seq int64

	// Flow correlates all events of one command. Empty for schema events.
	Flow string

	Kind   Kind
	Schema string

	// Message is a human-readable detail, the error text for failed events.
	Message string

	Attributes map[string][]string
}

// WithAttr returns a copy of e with key set to values.
func (e Event) WithAttr(key string, values ...string) Event {
	attrs := make(map[string][]string, len(e.Attributes)+1)
	for k, vs := range e.Attributes {
		attrs[k] = slices.Clone(vs)
	}
	attrs[key] = values
	e.Attributes = attrs
	return e
}

// Attr returns the first value of key.
func (e Event) Attr(key string) string {
	if vs := e.Attributes[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// AttributeKeys returns the attribute keys in sorted order.
func (e Event) AttributeKeys() []string {
	return slices.Sorted(maps.Keys(e.Attributes))
}
