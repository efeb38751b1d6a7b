package engine

import (
	"strings"
)

// Resolver maps media types to values (typically result writers) and picks
// the best match for a client's preference list.
//
// Registration order matters: wildcards resolve to the first registered
// type that matches. A Resolver is built once and then only read, so it
// needs no locking.
type Resolver[T any] struct {
	entries []resolverEntry[T]
}

type resolverEntry[T any] struct {
	mediaType string
	aliases   []string
	value     T
}

// NewResolver creates an empty resolver.
func NewResolver[T any]() *Resolver[T] {
	return &Resolver[T]{}
}

// Register adds mediaType, reachable also through aliases.
func (r *Resolver[T]) Register(mediaType string, value T, aliases ...string) *Resolver[T] {
	normalized := make([]string, len(aliases))
	for i, a := range aliases {
		normalized[i] = normalizeMediaType(a)
	}
	r.entries = append(r.entries, resolverEntry[T]{
		mediaType: normalizeMediaType(mediaType),
		aliases:   normalized,
		value:     value,
	})
	return r
}

// Supported returns the registered media types in registration order.
func (r *Resolver[T]) Supported() []string {
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.mediaType
	}
	return out
}

// Select returns the canonical media type and value for the first entry
// in accepted that matches. Parameters such as ";q=0.9" are ignored;
// preference is given by position. An empty list accepts anything.
func (r *Resolver[T]) Select(accepted []string) (string, T, error) {
	var zero T
	if len(r.entries) == 0 {
		return "", zero, &NotAcceptableError{Accepted: accepted}
	}
	if len(accepted) == 0 {
		return r.entries[0].mediaType, r.entries[0].value, nil
	}
	for _, raw := range accepted {
		if e, ok := r.match(normalizeMediaType(raw)); ok {
			return e.mediaType, e.value, nil
		}
	}
	return "", zero, &NotAcceptableError{Accepted: accepted, Supported: r.Supported()}
}

func (r *Resolver[T]) match(want string) (resolverEntry[T], bool) {
	if want == "" || want == "*/*" || want == "*" {
		return r.entries[0], true
	}
	if prefix, ok := strings.CutSuffix(want, "/*"); ok {
		for _, e := range r.entries {
			if strings.HasPrefix(e.mediaType, prefix+"/") {
				return e, true
			}
		}
		return resolverEntry[T]{}, false
	}
	for _, e := range r.entries {
		if e.mediaType == want {
			return e, true
		}
		for _, a := range e.aliases {
			if a == want {
				return e, true
			}
		}
	}
	return resolverEntry[T]{}, false
}

func normalizeMediaType(raw string) string {
	if i := strings.IndexByte(raw, ';'); i >= 0 {
		raw = raw[:i]
	}
	return strings.ToLower(strings.TrimSpace(raw))
}
