// Package city implements the tile-occupancy and building-adjacency engine:
// footprints on a row/col grid, overlap checks for placement, ring-based
// detection areas between buildings, and charm aggregation over the map.
package city

import (
	"fmt"
)

// Coord identifies one grid cell.
type Coord struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Descriptor is the catalog-side shape of a building type.
type Descriptor struct {
	Type      string
	Width     int
	Height    int
	BaseCharm int
}

// Building is the single occupancy record for one placed building.
// Cells are indexed separately (cell -> building id); the record itself
// is never duplicated per cell.
type Building struct {
	ID     string
	Type   string
	Anchor Coord // bottom-left-most footprint cell
	Width  int
	Height int

	BaseCharm  int
	Owner      string
	PlacedTick uint64

	// Recomputed on every placement/removal.
	Covered  []string // ids whose anchor falls inside this building's detection area
	Covering []string // ids whose own detection area reaches this building's cells
	Charm    int
}

// Grid holds all placed buildings and the cell occupancy index.
// It is not safe for concurrent use; the world loop owns it.
type Grid struct {
	rows, cols    int
	coverageBonus int

	buildings map[string]*Building
	order     []string         // placement order, drives deterministic recompute
	cells     map[Coord]string // occupied cell -> building id

	nextID     uint64
	charmTotal int
}

func NewGrid(rows, cols, coverageBonus int) *Grid {
	return &Grid{
		rows:          rows,
		cols:          cols,
		coverageBonus: coverageBonus,
		buildings:     map[string]*Building{},
		cells:         map[Coord]string{},
	}
}

func (g *Grid) Rows() int       { return g.rows }
func (g *Grid) Cols() int       { return g.cols }
func (g *Grid) Count() int      { return len(g.buildings) }
func (g *Grid) CharmTotal() int { return g.charmTotal }

// Footprint lists the cells covered by a w x h building anchored at its
// bottom-left-most cell, row-major from the top-left of the rectangle.
func Footprint(anchor Coord, w, h int) []Coord {
	out := make([]Coord, 0, w*h)
	for r := anchor.Row - h + 1; r <= anchor.Row; r++ {
		for c := anchor.Col - w + 1; c <= anchor.Col; c++ {
			out = append(out, Coord{Row: r, Col: c})
		}
	}
	return out
}

// CanPlace reports whether a w x h building may be anchored at anchor.
// Only the lower bound is enforced: cells with negative row/col are
// rejected, occupied cells are rejected. Cells at or beyond rows/cols are
// NOT rejected here; the original placement rule never checked the upper
// edge and detection areas are clipped instead.
func (g *Grid) CanPlace(anchor Coord, w, h int) bool {
	if w <= 0 || h <= 0 {
		return false
	}
	for _, c := range Footprint(anchor, w, h) {
		if c.Row < 0 || c.Col < 0 {
			return false
		}
		if _, occupied := g.cells[c]; occupied {
			return false
		}
	}
	return true
}

// Place inserts a building and recomputes adjacency and charm for the
// whole map. The returned building carries its fresh id.
func (g *Grid) Place(anchor Coord, d Descriptor, owner string, placedTick uint64) (*Building, error) {
	if !g.CanPlace(anchor, d.Width, d.Height) {
		return nil, fmt.Errorf("cannot place %s at (%d,%d): cell occupied or out of bounds", d.Type, anchor.Row, anchor.Col)
	}

	g.nextID++
	b := &Building{
		ID:         fmt.Sprintf("B%d", g.nextID),
		Type:       d.Type,
		Anchor:     anchor,
		Width:      d.Width,
		Height:     d.Height,
		BaseCharm:  d.BaseCharm,
		Owner:      owner,
		PlacedTick: placedTick,
	}
	g.buildings[b.ID] = b
	g.order = append(g.order, b.ID)
	for _, c := range Footprint(anchor, d.Width, d.Height) {
		g.cells[c] = b.ID
	}

	g.Recompute()
	return b, nil
}

// RemoveAt removes the building occupying the given cell, if any, and
// recomputes adjacency and charm for the whole map.
func (g *Grid) RemoveAt(cell Coord) (*Building, bool) {
	id, ok := g.cells[cell]
	if !ok {
		return nil, false
	}
	b := g.buildings[id]
	for _, c := range Footprint(b.Anchor, b.Width, b.Height) {
		delete(g.cells, c)
	}
	delete(g.buildings, id)
	for i, oid := range g.order {
		if oid == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}

	g.Recompute()
	return b, true
}

// BuildingAt resolves the building occupying a cell.
func (g *Grid) BuildingAt(cell Coord) (*Building, bool) {
	id, ok := g.cells[cell]
	if !ok {
		return nil, false
	}
	return g.buildings[id], true
}

// Building resolves a building by id.
func (g *Grid) Building(id string) (*Building, bool) {
	b, ok := g.buildings[id]
	return b, ok
}

// Buildings returns all placed buildings in placement order.
func (g *Grid) Buildings() []*Building {
	out := make([]*Building, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.buildings[id])
	}
	return out
}

// RestoreCounter is used when resuming from a snapshot so fresh ids do not
// collide with restored ones.
func (g *Grid) RestoreCounter(next uint64) {
	if next > g.nextID {
		g.nextID = next
	}
}

// NextCounter exposes the id counter for snapshots.
func (g *Grid) NextCounter() uint64 { return g.nextID }

// Restore re-inserts a building with its existing id (snapshot import).
// The caller recomputes once after the last restore.
func (g *Grid) Restore(b *Building) error {
	if b == nil || b.ID == "" {
		return fmt.Errorf("restore: missing building id")
	}
	if _, exists := g.buildings[b.ID]; exists {
		return fmt.Errorf("restore: duplicate building id %s", b.ID)
	}
	for _, c := range Footprint(b.Anchor, b.Width, b.Height) {
		if c.Row < 0 || c.Col < 0 {
			return fmt.Errorf("restore: building %s out of bounds at (%d,%d)", b.ID, c.Row, c.Col)
		}
		if other, occupied := g.cells[c]; occupied {
			return fmt.Errorf("restore: building %s overlaps %s at (%d,%d)", b.ID, other, c.Row, c.Col)
		}
	}
	g.buildings[b.ID] = b
	g.order = append(g.order, b.ID)
	for _, c := range Footprint(b.Anchor, b.Width, b.Height) {
		g.cells[c] = b.ID
	}
	return nil
}
