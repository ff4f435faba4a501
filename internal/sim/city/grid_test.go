package city

import (
	"testing"
)

func testGrid() *Grid {
	return NewGrid(30, 30, 1)
}

func TestFootprint_AnchorIsBottomLeftMostCell(t *testing.T) {
	cells := Footprint(Coord{Row: 5, Col: 7}, 3, 2)
	if len(cells) != 6 {
		t.Fatalf("footprint size: got %d want 6", len(cells))
	}
	want := map[Coord]bool{
		{4, 5}: true, {4, 6}: true, {4, 7}: true,
		{5, 5}: true, {5, 6}: true, {5, 7}: true,
	}
	for _, c := range cells {
		if !want[c] {
			t.Fatalf("unexpected footprint cell %+v", c)
		}
	}
}

func TestCanPlace_RejectsNegativeCells(t *testing.T) {
	g := testGrid()
	// A 2x2 anchored at (0,0) reaches row -1 and col -1.
	if g.CanPlace(Coord{Row: 0, Col: 0}, 2, 2) {
		t.Fatal("expected placement reaching negative cells to be rejected")
	}
	if !g.CanPlace(Coord{Row: 1, Col: 1}, 2, 2) {
		t.Fatal("expected 2x2 at (1,1) to fit")
	}
}

func TestCanPlace_NoUpperBoundCheck(t *testing.T) {
	g := testGrid()
	// Historic placement rule: only the lower edge is enforced.
	if !g.CanPlace(Coord{Row: g.Rows() + 10, Col: g.Cols() + 10}, 1, 1) {
		t.Fatal("upper edge must not be enforced by CanPlace")
	}
}

func TestCanPlace_RejectsOverlap(t *testing.T) {
	g := testGrid()
	if _, err := g.Place(Coord{Row: 5, Col: 5}, Descriptor{Type: "HOUSE", Width: 2, Height: 2, BaseCharm: 3}, "P1", 0); err != nil {
		t.Fatalf("place: %v", err)
	}
	// Overlaps the existing 2x2 at its top-left cell (4,4).
	if g.CanPlace(Coord{Row: 4, Col: 4}, 1, 1) {
		t.Fatal("expected overlap to be rejected")
	}
	if !g.CanPlace(Coord{Row: 3, Col: 3}, 1, 1) {
		t.Fatal("expected free cell to be accepted")
	}
}

func TestPlace_IndexesEveryFootprintCell(t *testing.T) {
	g := testGrid()
	b, err := g.Place(Coord{Row: 6, Col: 6}, Descriptor{Type: "PARK", Width: 3, Height: 3, BaseCharm: 5}, "P1", 7)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	for _, c := range Footprint(b.Anchor, b.Width, b.Height) {
		got, ok := g.BuildingAt(c)
		if !ok || got.ID != b.ID {
			t.Fatalf("cell %+v not indexed to %s", c, b.ID)
		}
	}
	if b.PlacedTick != 7 || b.Owner != "P1" {
		t.Fatalf("building metadata not recorded: %+v", b)
	}
}

func TestPlace_AssignsFreshIDs(t *testing.T) {
	g := testGrid()
	a, _ := g.Place(Coord{Row: 2, Col: 2}, Descriptor{Type: "HOUSE", Width: 1, Height: 1}, "P1", 0)
	b, _ := g.Place(Coord{Row: 9, Col: 9}, Descriptor{Type: "HOUSE", Width: 1, Height: 1}, "P1", 0)
	if a.ID == b.ID {
		t.Fatalf("duplicate ids: %s", a.ID)
	}
	if a.ID != "B1" || b.ID != "B2" {
		t.Fatalf("ids: got %s,%s want B1,B2", a.ID, b.ID)
	}
}

func TestRemoveAt_RemovesAllCellsOfTheBuilding(t *testing.T) {
	g := testGrid()
	b, _ := g.Place(Coord{Row: 6, Col: 6}, Descriptor{Type: "PARK", Width: 3, Height: 3}, "P1", 0)

	removed, ok := g.RemoveAt(Coord{Row: 5, Col: 5}) // interior cell, not anchor
	if !ok || removed.ID != b.ID {
		t.Fatalf("remove at interior cell: got %v,%v", removed, ok)
	}
	for _, c := range Footprint(b.Anchor, b.Width, b.Height) {
		if _, still := g.BuildingAt(c); still {
			t.Fatalf("cell %+v still occupied after removal", c)
		}
	}
	if g.Count() != 0 {
		t.Fatalf("count after removal: got %d want 0", g.Count())
	}
}

func TestRemoveAt_EmptyCell(t *testing.T) {
	g := testGrid()
	if _, ok := g.RemoveAt(Coord{Row: 3, Col: 3}); ok {
		t.Fatal("remove on empty cell must fail")
	}
}

func TestRestore_RejectsOverlapAndDuplicates(t *testing.T) {
	g := testGrid()
	b := &Building{ID: "B9", Type: "HOUSE", Anchor: Coord{Row: 4, Col: 4}, Width: 2, Height: 2}
	if err := g.Restore(b); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if err := g.Restore(&Building{ID: "B9", Anchor: Coord{Row: 20, Col: 20}, Width: 1, Height: 1}); err == nil {
		t.Fatal("duplicate id must be rejected")
	}
	if err := g.Restore(&Building{ID: "B10", Anchor: Coord{Row: 4, Col: 4}, Width: 1, Height: 1}); err == nil {
		t.Fatal("overlapping restore must be rejected")
	}
	g.RestoreCounter(9)
	nb, _ := g.Place(Coord{Row: 15, Col: 15}, Descriptor{Type: "HOUSE", Width: 1, Height: 1}, "P1", 0)
	if nb.ID != "B10" {
		t.Fatalf("counter not restored: got %s want B10", nb.ID)
	}
}
