// Package view builds the read model a connected client renders. It runs on
// the consumer side of the event stream; the HTTP server never imports it.
package view

import (
	"encoding/json"
	"sync"
	"time"

	"backend-caravan/internal/member"
	"backend-caravan/internal/presence"
	"backend-caravan/internal/session"
	"backend-caravan/internal/stream"
)

// Snapshot is the read-model a UI consumes: one consistent view derived
// from the session, membership and presence feeds.
type Snapshot struct {
	Session      session.Session      `json:"session"`
	Participants []member.Participant `json:"participants"`
	Active       bool                 `json:"active"`
	Removed      bool                 `json:"removed"`
	IsViewerHost bool                 `json:"is_viewer_host"`
}

// Projection folds stream events into the latest snapshot. It re-derives on
// every emission and caches nothing beyond the current snapshot. IsViewerHost
// is computed, never stored.
type Projection struct {
	viewerID string

	mu       sync.RWMutex
	snap     Snapshot
	seenSelf bool

	updates chan Snapshot
}

func NewProjection(events <-chan stream.Event, viewerID string, initial session.Session, participants []member.Participant) *Projection {
	p := &Projection{
		viewerID: viewerID,
		updates:  make(chan Snapshot, 1),
	}
	p.snap = Snapshot{
		Session:      initial,
		Participants: participants,
		Active:       initial.IsActive && !initial.Expired(time.Now()),
		IsViewerHost: initial.HostID == viewerID,
	}
	for _, part := range participants {
		if part.UserID == viewerID {
			p.seenSelf = true
			break
		}
	}

	go p.loop(events)
	return p
}

// Updates delivers the latest snapshot after each change; a slow consumer
// only ever misses intermediate states, never the newest one.
func (p *Projection) Updates() <-chan Snapshot {
	return p.updates
}

func (p *Projection) Current() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return copySnapshot(p.snap)
}

func (p *Projection) loop(events <-chan stream.Event) {
	defer close(p.updates)

	for evt := range events {
		p.mu.Lock()
		switch evt.Type {
		case stream.EventSession:
			p.applySession(evt.Payload)
		case stream.EventMembership:
			p.applyMembership(evt.Payload)
		case stream.EventPresence:
			p.applyPresence(evt.Payload)
		case stream.EventTelemetry:
			p.applyTelemetry(evt.Payload)
		}
		snap := copySnapshot(p.snap)
		p.mu.Unlock()

		// latest-wins delivery
		select {
		case p.updates <- snap:
		default:
			select {
			case <-p.updates:
			default:
			}
			p.updates <- snap
		}
	}
}

func (p *Projection) applySession(payload []byte) {
	var change session.Change
	if err := json.Unmarshal(payload, &change); err != nil {
		return
	}
	if change.Deleted {
		p.snap.Active = false
		return
	}
	p.snap.Session = change.Session
	p.snap.IsViewerHost = change.Session.HostID == p.viewerID
	p.snap.Active = change.Session.IsActive && !change.Session.Expired(time.Now())
}

func (p *Projection) applyMembership(payload []byte) {
	var change member.Change
	if err := json.Unmarshal(payload, &change); err != nil {
		return
	}
	p.snap.Participants = change.Participants

	present := false
	for _, part := range change.Participants {
		if part.UserID == p.viewerID {
			present = true
			break
		}
	}
	if present {
		p.seenSelf = true
		p.snap.Removed = false
		return
	}

	if change.Removed != nil && change.Removed.UserID == p.viewerID {
		if change.Removed.By == p.viewerID {
			p.seenSelf = false
			return
		}
		p.snap.Removed = true
		p.seenSelf = false
		return
	}
	if p.seenSelf {
		p.snap.Removed = true
		p.seenSelf = false
	}
}

func (p *Projection) applyPresence(payload []byte) {
	var change presence.StatusChange
	if err := json.Unmarshal(payload, &change); err != nil {
		return
	}
	for i := range p.snap.Participants {
		if p.snap.Participants[i].UserID == change.UserID {
			p.snap.Participants[i].Status = change.Status
			p.snap.Participants[i].LastUpdated = change.LastUpdated
			return
		}
	}
}

func (p *Projection) applyTelemetry(payload []byte) {
	var part member.Participant
	if err := json.Unmarshal(payload, &part); err != nil {
		return
	}
	for i := range p.snap.Participants {
		if p.snap.Participants[i].UserID == part.UserID {
			p.snap.Participants[i] = part
			return
		}
	}
}

func copySnapshot(s Snapshot) Snapshot {
	out := s
	out.Participants = make([]member.Participant, len(s.Participants))
	copy(out.Participants, s.Participants)
	return out
}
