package city

// DetectionRadius derives a building's detection radius from its footprint
// area. Step function: large (>4 cells) buildings look 3 rings out, medium
// (2..4) 2 rings, single-cell buildings 1 ring.
func DetectionRadius(area int) int {
	switch {
	case area > 4:
		return 3
	case area >= 2:
		return 2
	default:
		return 1
	}
}

// DetectionArea returns the cells of the Chebyshev shells 1..radius around
// the footprint's bounding box, excluding the footprint itself and inner
// shells, clipped to the grid bounds. Traversal is shell-major and walks
// each shell row by row, so the order is deterministic.
func (g *Grid) DetectionArea(anchor Coord, w, h, radius int) []Coord {
	minRow := anchor.Row - h + 1
	maxRow := anchor.Row
	minCol := anchor.Col - w + 1
	maxCol := anchor.Col

	var out []Coord
	for k := 1; k <= radius; k++ {
		for r := minRow - k; r <= maxRow+k; r++ {
			for c := minCol - k; c <= maxCol+k; c++ {
				dr := chebyshevToBox(r, minRow, maxRow)
				dc := chebyshevToBox(c, minCol, maxCol)
				// Perimeter of the expanded box only; inner shells were
				// emitted by smaller k, the footprint itself by none.
				if maxInt(dr, dc) != k {
					continue
				}
				if r < 0 || c < 0 || r >= g.rows || c >= g.cols {
					continue
				}
				out = append(out, Coord{Row: r, Col: c})
			}
		}
	}
	return out
}

// DetectionAreaFor is DetectionArea with the building's own derived radius.
func (g *Grid) DetectionAreaFor(b *Building) []Coord {
	return g.DetectionArea(b.Anchor, b.Width, b.Height, DetectionRadius(b.Width*b.Height))
}

func chebyshevToBox(v, lo, hi int) int {
	if v < lo {
		return lo - v
	}
	if v > hi {
		return v - hi
	}
	return 0
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
