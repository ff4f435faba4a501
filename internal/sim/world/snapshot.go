package world

import (
	"fmt"
	"sort"

	"charmcity.ai/internal/persistence/snapshot"
	"charmcity.ai/internal/sim/city"
)

// ExportSnapshot captures the full deterministic state at a tick.
// Must be called from the world loop goroutine (or before Run starts).
func (w *World) ExportSnapshot(nowTick uint64) snapshot.SnapshotV1 {
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version: 1,
			CityID:  w.cfg.ID,
			Tick:    nowTick,
		},
		Seed:               w.cfg.Seed,
		TickRate:           w.cfg.TickRateHz,
		DayTicks:           w.cfg.DayTicks,
		Rows:               w.cfg.Rows,
		Cols:               w.cfg.Cols,
		CoverageBonus:      w.cfg.CoverageBonus,
		SnapshotEveryTicks: w.cfg.SnapshotEveryTicks,
		RateLimits: snapshot.RateLimitsV1{
			PlaceWindowTicks:  w.cfg.RateLimits.PlaceWindowTicks,
			PlaceMax:          w.cfg.RateLimits.PlaceMax,
			RemoveWindowTicks: w.cfg.RateLimits.RemoveWindowTicks,
			RemoveMax:         w.cfg.RateLimits.RemoveMax,
			SayWindowTicks:    w.cfg.RateLimits.SayWindowTicks,
			SayMax:            w.cfg.RateLimits.SayMax,
		},
		Counters: snapshot.CountersV1{
			NextPlayer:   w.nextPlayerNum.Load(),
			NextBuilding: w.grid.NextCounter(),
		},
	}

	all := w.grid.Buildings()
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	for _, b := range all {
		snap.Buildings = append(snap.Buildings, snapshot.BuildingV1{
			ID:         b.ID,
			Type:       b.Type,
			Anchor:     [2]int{b.Anchor.Row, b.Anchor.Col},
			Width:      b.Width,
			Height:     b.Height,
			BaseCharm:  b.BaseCharm,
			Owner:      b.Owner,
			PlacedTick: b.PlacedTick,
		})
	}

	ids := make([]string, 0, len(w.players))
	for id := range w.players {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		p := w.players[id]
		snap.Players = append(snap.Players, snapshot.PlayerV1{ID: p.ID, Name: p.Name, Placed: p.Placed})
	}

	return snap
}

// ImportSnapshot restores state into a freshly constructed world. It must be
// called before Run; the world's tick resumes from the snapshot tick.
func (w *World) ImportSnapshot(snap snapshot.SnapshotV1) error {
	if snap.Header.Version != 1 {
		return fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	if snap.Rows != w.cfg.Rows || snap.Cols != w.cfg.Cols {
		return fmt.Errorf("snapshot map %dx%d does not match configured %dx%d",
			snap.Rows, snap.Cols, w.cfg.Rows, w.cfg.Cols)
	}

	for _, bv := range snap.Buildings {
		b := &city.Building{
			ID:         bv.ID,
			Type:       bv.Type,
			Anchor:     city.Coord{Row: bv.Anchor[0], Col: bv.Anchor[1]},
			Width:      bv.Width,
			Height:     bv.Height,
			BaseCharm:  bv.BaseCharm,
			Owner:      bv.Owner,
			PlacedTick: bv.PlacedTick,
		}
		if err := w.grid.Restore(b); err != nil {
			return fmt.Errorf("restore building %s: %w", bv.ID, err)
		}
	}
	w.grid.Recompute()
	w.grid.RestoreCounter(snap.Counters.NextBuilding)

	for _, pv := range snap.Players {
		p := &Player{ID: pv.ID, Name: pv.Name, Placed: pv.Placed}
		p.initDefaults()
		w.players[pv.ID] = p
	}
	w.nextPlayerNum.Store(snap.Counters.NextPlayer)

	w.tick.Store(snap.Header.Tick)
	return nil
}
