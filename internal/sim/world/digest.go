package world

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// stateDigest hashes the canonical simulation state at a tick. Two worlds
// that applied the same inputs in the same order must produce identical
// digests, so only deterministic state participates (no resume tokens,
// no client channels).
func (w *World) stateDigest(nowTick uint64) string {
	h := sha256.New()
	fmt.Fprintf(h, "tick=%d rows=%d cols=%d bonus=%d\n", nowTick, w.cfg.Rows, w.cfg.Cols, w.cfg.CoverageBonus)

	all := w.grid.Buildings()
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	for _, b := range all {
		fmt.Fprintf(h, "b %s %s %d,%d %dx%d base=%d charm=%d owner=%s placed=%d cov=%d\n",
			b.ID, b.Type, b.Anchor.Row, b.Anchor.Col, b.Width, b.Height,
			b.BaseCharm, b.Charm, b.Owner, b.PlacedTick, len(b.Covered))
	}
	fmt.Fprintf(h, "charm_total=%d\n", w.grid.CharmTotal())

	ids := make([]string, 0, len(w.players))
	for id := range w.players {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		p := w.players[id]
		fmt.Fprintf(h, "p %s %s placed=%d\n", p.ID, p.Name, p.Placed)
	}

	return hex.EncodeToString(h.Sum(nil))
}
