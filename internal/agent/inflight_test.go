package agent

import (
	"testing"

	"github.com/user/docchat/internal/stream"
)

func TestBroadcastRunDisconnectsStalledSubscriber(t *testing.T) {
	run := newBroadcastRun()
	stalled := run.subscribe()

	// The subscriber never drains; its 64-event buffer fills and the run
	// must keep publishing instead of blocking on it.
	for i := 0; i < 70; i++ {
		run.publish(stream.Event{Type: stream.EventContent, Content: "x"})
	}

	late := run.subscribe()
	run.close()

	var gotStalled int
	for range stalled {
		gotStalled++
	}
	if gotStalled != 64 {
		t.Errorf("stalled subscriber received %d events before disconnect, want 64", gotStalled)
	}

	var gotLate int
	for range late {
		gotLate++
	}
	if gotLate != 70 {
		t.Errorf("late subscriber replayed %d events, want 70", gotLate)
	}
}

func TestBroadcastRunSubscribeAfterClose(t *testing.T) {
	run := newBroadcastRun()
	run.publish(stream.Event{Type: stream.EventContent, Content: "only"})
	run.close()

	ch := run.subscribe()
	var got []stream.Event
	for ev := range ch {
		got = append(got, ev)
	}
	if len(got) != 1 || got[0].Content != "only" {
		t.Errorf("replay after close = %+v", got)
	}
}
