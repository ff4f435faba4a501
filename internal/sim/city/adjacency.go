package city

// adjacentBuildings computes both halves of the adjacency relation for b.
//
// covered: buildings whose anchor cell falls inside b's own detection area.
// covering: other buildings whose own detection area (their radius, not b's)
// reaches any of b's footprint cells.
//
// The two sets are independent and not symmetric, because each side uses its
// own radius. Both are deduplicated by id in discovery order.
func (g *Grid) adjacentBuildings(b *Building) (covered, covering []string) {
	seen := map[string]bool{b.ID: true}
	for _, cell := range g.DetectionAreaFor(b) {
		id, ok := g.cells[cell]
		if !ok || seen[id] {
			continue
		}
		if other := g.buildings[id]; other != nil && other.Anchor == cell {
			seen[id] = true
			covered = append(covered, id)
		}
	}

	footprint := map[Coord]bool{}
	for _, cell := range Footprint(b.Anchor, b.Width, b.Height) {
		footprint[cell] = true
	}
	for _, id := range g.order {
		if id == b.ID {
			continue
		}
		other := g.buildings[id]
		for _, cell := range g.DetectionAreaFor(other) {
			if footprint[cell] {
				covering = append(covering, id)
				break
			}
		}
	}
	return covered, covering
}

// Recompute rebuilds adjacency and charm for every placed building and the
// map total. Whole-map recompute on each placement/removal is deliberate:
// maps hold tens of buildings, not thousands.
func (g *Grid) Recompute() {
	total := 0
	for _, id := range g.order {
		b := g.buildings[id]
		b.Covered, b.Covering = g.adjacentBuildings(b)
		b.Charm = b.BaseCharm + len(b.Covered)*g.coverageBonus
		total += b.Charm
	}
	g.charmTotal = total
}
