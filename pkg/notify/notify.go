// Package notify delivers fire-and-forget events to connected viewers.
package notify

import "sync"

// Event names pushed to viewers.
const (
	EventMeshUpdated      = "mesh_updated"
	EventCodeUpdated      = "code_updated"
	EventModelListUpdated = "model_list_updated"
)

// Event names accepted from viewers.
const (
	EventChangeMesh = "change_mesh"
)

// Publisher broadcasts an event to every subscriber. Implementations must
// not block on slow subscribers.
type Publisher interface {
	Publish(event string, payload any)
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(event string, payload any)

// Publish calls f(event, payload).
func (f PublisherFunc) Publish(event string, payload any) {
	f(event, payload)
}

// Discard is a Publisher that drops every event.
var Discard Publisher = PublisherFunc(func(string, any) {})

// Message is the frame sent to viewers.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// FileChange is the payload of code_updated and model_list_updated.
type FileChange struct {
	File string `json:"file"`
}

// Command is a frame received from a viewer.
type Command struct {
	Event       string  `json:"event"`
	File        string  `json:"file"`
	LevelScalar float64 `json:"levelScalar"`
}

// Recorder is a Publisher that keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Message
}

// Publish records the event.
func (r *Recorder) Publish(event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Message{Event: event, Data: payload})
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.events...)
}

// Count returns how many events named event were recorded.
func (r *Recorder) Count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.events {
		if m.Event == event {
			n++
		}
	}
	return n
}

// Reset forgets all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
