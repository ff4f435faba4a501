package world

import (
	"charmcity.ai/internal/protocol"
)

type Player struct {
	ID   string
	Name string

	// ResumeToken is a transport-level token used for reconnects.
	// It is intentionally NOT included in snapshots/digests.
	ResumeToken string

	// Placed counts buildings placed by this player over its lifetime,
	// including ones later removed.
	Placed int

	Events []protocol.Event

	// Rate limiting windows (per action type).
	rl map[string]*rateWindow
}

type rateWindow struct {
	StartTick uint64
	Count     int
	Window    uint64
	Max       int
}

func (p *Player) initDefaults() {
	if p.rl == nil {
		p.rl = map[string]*rateWindow{}
	}
}

func (p *Player) AddEvent(e protocol.Event) {
	p.Events = append(p.Events, e)
	// Bound per-tick event backlog.
	if len(p.Events) > 256 {
		p.Events = p.Events[len(p.Events)-256:]
	}
}

// TakeEvents drains the pending events for this tick's STATE message.
func (p *Player) TakeEvents() []protocol.Event {
	evs := p.Events
	p.Events = nil
	return evs
}

func (p *Player) RateLimitAllow(kind string, nowTick uint64, window uint64, max int) bool {
	if p.rl == nil {
		p.rl = map[string]*rateWindow{}
	}
	w, ok := p.rl[kind]
	if !ok {
		w = &rateWindow{StartTick: nowTick, Window: window, Max: max}
		p.rl[kind] = w
	}
	w.Window = window
	w.Max = max
	if w.Window == 0 || w.Max <= 0 {
		return true
	}
	if nowTick >= w.StartTick+w.Window {
		w.StartTick = nowTick
		w.Count = 0
	}
	if w.Count >= w.Max {
		return false
	}
	w.Count++
	return true
}
