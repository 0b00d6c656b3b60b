package member

import (
	"encoding/json"

	"backend-caravan/internal/stream"
)

// SelfRemovalWatcher consumes membership events for one session and reports
// when the watched user's own row disappears. It runs client-side, feeding
// an ingest pipeline's Removed channel; the server only publishes the events
// it consumes. Absence is the only signal the
// store sends for a kick; the watcher distinguishes three cases:
//
//   - never joined yet: the first snapshots without the row emit nothing
//   - voluntary leave: removal metadata names the user itself, suppressed
//   - kick (or any external delete): emits true exactly once per removal
type SelfRemovalWatcher struct {
	userID string
	events <-chan stream.Event
	out    chan bool
}

func WatchSelfRemoval(events <-chan stream.Event, userID string) *SelfRemovalWatcher {
	w := &SelfRemovalWatcher{
		userID: userID,
		events: events,
		out:    make(chan bool, 1),
	}
	go w.loop()
	return w
}

func (w *SelfRemovalWatcher) Updates() <-chan bool {
	return w.out
}

func (w *SelfRemovalWatcher) loop() {
	defer close(w.out)

	seen := false
	for evt := range w.events {
		if evt.Type != stream.EventMembership {
			continue
		}
		var change Change
		if err := json.Unmarshal(evt.Payload, &change); err != nil {
			continue
		}

		present := false
		for _, p := range change.Participants {
			if p.UserID == w.userID {
				present = true
				break
			}
		}
		if present {
			seen = true
			continue
		}

		voluntary := change.Removed != nil && change.Removed.UserID == w.userID && change.Removed.By == w.userID
		if voluntary {
			seen = false
			continue
		}

		externallyRemoved := change.Removed != nil && change.Removed.UserID == w.userID && change.Removed.By != w.userID
		if externallyRemoved || seen {
			select {
			case w.out <- true:
			default:
			}
			seen = false
		}
	}
}
