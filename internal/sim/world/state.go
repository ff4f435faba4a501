package world

import (
	"encoding/json"

	"charmcity.ai/internal/protocol"
)

// encodeState builds this player's STATE message for the tick. The map is
// fully visible so every player receives the same building list.
func (w *World) encodeState(p *Player, nowTick uint64) ([]byte, error) {
	msg := protocol.StateMsg{
		Type:            protocol.TypeState,
		ProtocolVersion: protocol.Version,
		Tick:            nowTick,
		PlayerID:        p.ID,
		World: protocol.WorldState{
			TimeOfDay:  w.timeOfDay(nowTick),
			Buildings:  w.grid.Count(),
			CharmTotal: w.grid.CharmTotal(),
		},
		Buildings: w.observeBuildings(),
		Events:    p.TakeEvents(),
	}
	if msg.Events == nil {
		msg.Events = []protocol.Event{}
	}
	return json.Marshal(msg)
}

func (w *World) observeBuildings() []protocol.BuildingObs {
	all := w.grid.Buildings()
	obs := make([]protocol.BuildingObs, 0, len(all))
	for _, b := range all {
		obs = append(obs, protocol.BuildingObs{
			ID:           b.ID,
			Type:         b.Type,
			Anchor:       [2]int{b.Anchor.Row, b.Anchor.Col},
			Width:        b.Width,
			Height:       b.Height,
			Owner:        b.Owner,
			Charm:        b.Charm,
			CoveredCount: len(b.Covered),
		})
	}
	return obs
}

func (w *World) timeOfDay(nowTick uint64) float64 {
	if w.cfg.DayTicks <= 0 {
		return 0
	}
	return float64(nowTick%uint64(w.cfg.DayTicks)) / float64(w.cfg.DayTicks)
}
