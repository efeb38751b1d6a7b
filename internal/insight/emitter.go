package insight

import "sync"

// Emitter receives events. Emit must not block on I/O.
type Emitter interface {
	Emit(e Event)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(e Event)

// Emit calls f(e).
func (f EmitterFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Emitter = EmitterFunc(func(Event) {})

// Fanout forwards every event to each emitter in order.
type Fanout []Emitter

// Emit implements Emitter.
func (f Fanout) Emit(e Event) {
	for _, em := range f {
		em.Emit(e)
	}
}

// Stamp returns an emitter assigning each event the next clock value
// before forwarding it to next.
func Stamp(clock *Clock, next Emitter) Emitter {
	var mu sync.Mutex
	return EmitterFunc(func(e Event) {
		// Stamping and forwarding happen under one lock so that downstream
		// emitters observe strictly increasing seq values.
		mu.Lock()
		defer mu.Unlock()
		e.Seq = clock.Next()
		next.Emit(e)
	})
}

// Recorder keeps events in memory in emission order. Used by tests and
// the scenario harness.
//
// Thread-safety: Recorder is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Emit implements Emitter.
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of all recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Flow returns the recorded events of one flow.
func (r *Recorder) Flow(flow string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Flow == flow {
			out = append(out, e)
		}
	}
	return out
}

// Kinds returns the kinds of the recorded events of one flow.
func (r *Recorder) Kinds(flow string) []Kind {
	var out []Kind
	for _, e := range r.Flow(flow) {
		out = append(out, e.Kind)
	}
	return out
}

// Reset drops all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
