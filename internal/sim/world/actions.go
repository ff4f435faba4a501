package world

import (
	"strings"
	"unicode/utf8"

	"charmcity.ai/internal/protocol"
	"charmcity.ai/internal/sim/city"
)

const maxSayLen = 240

// applyAct validates and applies one ACT envelope at the current tick.
// Staleness window: an ACT is accepted if its tick is within 2 ticks of now
// and never from the future.
func (w *World) applyAct(p *Player, act protocol.ActMsg, nowTick uint64) {
	if act.Tick > nowTick || act.Tick+2 < nowTick {
		for _, inst := range act.Instants {
			w.actionResult(p, inst.ID, false, protocol.ErrStale, "act tick outside window")
		}
		return
	}
	for _, inst := range act.Instants {
		w.applyInstant(p, inst, nowTick)
	}
}

func (w *World) applyInstant(p *Player, inst protocol.InstantReq, nowTick uint64) {
	switch inst.Type {
	case "PLACE_BUILDING":
		w.instPlace(p, inst, nowTick)
	case "REMOVE_BUILDING":
		w.instRemove(p, inst, nowTick)
	case "QUERY_BUILDING":
		w.instQuery(p, inst)
	case "SAY":
		w.instSay(p, inst, nowTick)
	default:
		w.actionResult(p, inst.ID, false, protocol.ErrBadRequest, "unknown instant type")
	}
}

func (w *World) instPlace(p *Player, inst protocol.InstantReq, nowTick uint64) {
	rl := w.cfg.RateLimits
	if !p.RateLimitAllow("place", nowTick, uint64(rl.PlaceWindowTicks), rl.PlaceMax) {
		w.actionResult(p, inst.ID, false, protocol.ErrRateLimit, "too many placements")
		return
	}

	def, ok := w.catalogs.Buildings.Defs[inst.BuildingType]
	if !ok {
		w.actionResult(p, inst.ID, false, protocol.ErrBadRequest, "unknown building type")
		return
	}

	anchor := city.Coord{Row: inst.Anchor[0], Col: inst.Anchor[1]}
	if !w.grid.CanPlace(anchor, def.Width, def.Height) {
		w.actionResult(p, inst.ID, false, protocol.ErrBlocked, "cells unavailable")
		return
	}

	b, err := w.grid.Place(anchor, city.Descriptor{
		Type:      def.ID,
		Width:     def.Width,
		Height:    def.Height,
		BaseCharm: def.BaseCharm,
	}, p.ID, nowTick)
	if err != nil {
		w.actionResult(p, inst.ID, false, protocol.ErrInternal, err.Error())
		return
	}
	p.Placed++

	if w.auditLogger != nil {
		_ = w.auditLogger.WriteAudit(AuditEntry{
			Tick:       nowTick,
			Actor:      p.ID,
			Action:     "PLACE",
			BuildingID: b.ID,
			Type:       b.Type,
			Anchor:     [2]int{b.Anchor.Row, b.Anchor.Col},
			Charm:      w.grid.CharmTotal(),
		})
	}

	w.broadcast(protocol.Event{
		"type":          "BUILDING_PLACED",
		"building_id":   b.ID,
		"building_type": b.Type,
		"anchor":        [2]int{b.Anchor.Row, b.Anchor.Col},
		"owner":         p.ID,
		"charm_total":   w.grid.CharmTotal(),
	})
	w.actionResult(p, inst.ID, true, "", b.ID)
}

func (w *World) instRemove(p *Player, inst protocol.InstantReq, nowTick uint64) {
	rl := w.cfg.RateLimits
	if !p.RateLimitAllow("remove", nowTick, uint64(rl.RemoveWindowTicks), rl.RemoveMax) {
		w.actionResult(p, inst.ID, false, protocol.ErrRateLimit, "too many removals")
		return
	}

	target, ok := w.resolveBuilding(inst)
	if !ok {
		w.actionResult(p, inst.ID, false, protocol.ErrInvalidTarget, "no building there")
		return
	}
	if target.Owner != "" && target.Owner != p.ID {
		w.actionResult(p, inst.ID, false, protocol.ErrNoPermission, "not the owner")
		return
	}

	removed, ok := w.grid.RemoveAt(target.Anchor)
	if !ok {
		w.actionResult(p, inst.ID, false, protocol.ErrInternal, "removal failed")
		return
	}

	if w.auditLogger != nil {
		_ = w.auditLogger.WriteAudit(AuditEntry{
			Tick:       nowTick,
			Actor:      p.ID,
			Action:     "REMOVE",
			BuildingID: removed.ID,
			Type:       removed.Type,
			Anchor:     [2]int{removed.Anchor.Row, removed.Anchor.Col},
			Charm:      w.grid.CharmTotal(),
		})
	}

	w.broadcast(protocol.Event{
		"type":        "BUILDING_REMOVED",
		"building_id": removed.ID,
		"anchor":      [2]int{removed.Anchor.Row, removed.Anchor.Col},
		"actor":       p.ID,
		"charm_total": w.grid.CharmTotal(),
	})
	w.actionResult(p, inst.ID, true, "", removed.ID)
}

func (w *World) instQuery(p *Player, inst protocol.InstantReq) {
	target, ok := w.resolveBuilding(inst)
	if !ok {
		w.actionResult(p, inst.ID, false, protocol.ErrInvalidTarget, "no building there")
		return
	}
	area := make([][2]int, 0, 8)
	for _, c := range w.grid.DetectionAreaFor(target) {
		area = append(area, [2]int{c.Row, c.Col})
	}
	p.AddEvent(protocol.Event{
		"type":           "BUILDING_INFO",
		"action_id":      inst.ID,
		"building_id":    target.ID,
		"building_type":  target.Type,
		"anchor":         [2]int{target.Anchor.Row, target.Anchor.Col},
		"owner":          target.Owner,
		"charm":          target.Charm,
		"covered":        target.Covered,
		"covering":       target.Covering,
		"detection_area": area,
	})
}

func (w *World) instSay(p *Player, inst protocol.InstantReq, nowTick uint64) {
	rl := w.cfg.RateLimits
	if !p.RateLimitAllow("say", nowTick, uint64(rl.SayWindowTicks), rl.SayMax) {
		w.actionResult(p, inst.ID, false, protocol.ErrRateLimit, "too chatty")
		return
	}
	text := strings.TrimSpace(inst.Text)
	if text == "" {
		w.actionResult(p, inst.ID, false, protocol.ErrBadRequest, "empty message")
		return
	}
	if len(text) > maxSayLen {
		cut := maxSayLen
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	w.broadcast(protocol.Event{
		"type": "CHAT",
		"from": p.ID,
		"name": p.Name,
		"text": text,
		"tick": nowTick,
	})
	w.actionResult(p, inst.ID, true, "", "")
}

// resolveBuilding finds an instant's target either by id or by any cell the
// building occupies.
func (w *World) resolveBuilding(inst protocol.InstantReq) (*city.Building, bool) {
	if inst.BuildingID != "" {
		return w.grid.Building(inst.BuildingID)
	}
	return w.grid.BuildingAt(city.Coord{Row: inst.Pos[0], Col: inst.Pos[1]})
}

func (w *World) broadcast(e protocol.Event) {
	for _, p := range w.players {
		p.AddEvent(e)
	}
}

func (w *World) actionResult(p *Player, actionID string, ok bool, code, detail string) {
	if !protocol.IsKnownCode(code) {
		code = protocol.ErrInternal
	}
	e := protocol.Event{
		"type":      "ACTION_RESULT",
		"action_id": actionID,
		"ok":        ok,
	}
	if code != "" {
		e["code"] = code
	}
	if detail != "" {
		e["detail"] = detail
	}
	p.AddEvent(e)
}
