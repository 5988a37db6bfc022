// internal/agent/inflight.go
package agent

import (
	"sync"

	"github.com/user/docchat/internal/stream"
)

// inflightRuns is the per-instance duplicate-query guard. A second Stream
// call with the same literal message text joins the existing run instead
// of starting a second billable execution.
type inflightRuns struct {
	mu   sync.Mutex
	runs map[string]*broadcastRun
}

func newInflightRuns() *inflightRuns {
	return &inflightRuns{runs: make(map[string]*broadcastRun)}
}

// joinOrStart returns the run for the message text, reporting whether the
// caller started it and must produce its events.
func (f *inflightRuns) joinOrStart(text string) (*broadcastRun, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if run, ok := f.runs[text]; ok {
		return run, false
	}
	run := newBroadcastRun()
	f.runs[text] = run
	return run, true
}

// finish removes the run so later identical queries start fresh.
func (f *inflightRuns) finish(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.runs, text)
}

// broadcastRun fans one event stream out to every subscriber. Late joiners
// get a replay of events emitted so far followed by the live tail.
type broadcastRun struct {
	mu      sync.Mutex
	history []stream.Event
	subs    []chan stream.Event
	closed  bool
}

func newBroadcastRun() *broadcastRun {
	return &broadcastRun{}
}

// subscribe returns a channel that replays history and then follows the
// live stream until the run finishes.
func (r *broadcastRun) subscribe() <-chan stream.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan stream.Event, len(r.history)+64)
	for _, ev := range r.history {
		ch <- ev
	}
	if r.closed {
		close(ch)
		return ch
	}
	r.subs = append(r.subs, ch)
	return ch
}

// publish delivers one event to all subscribers in order. A subscriber
// that has stopped draining is disconnected once its buffer fills;
// publishing never blocks the run on one abandoned consumer.
func (r *broadcastRun) publish(ev stream.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.history = append(r.history, ev)
	kept := r.subs[:0]
	for _, sub := range r.subs {
		select {
		case sub <- ev:
			kept = append(kept, sub)
		default:
			close(sub)
		}
	}
	r.subs = kept
}

// close ends the stream for every subscriber.
func (r *broadcastRun) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for _, sub := range r.subs {
		close(sub)
	}
	r.subs = nil
}
