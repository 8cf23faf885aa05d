package grid

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	flatRe = regexp.MustCompile(`^\d+$`)
	// "R3C12", "r3 c12", "3-12", "3x12" (row first, 1-based)
	cellRe = regexp.MustCompile(`(?i)^r?\s*(\d+)\s*(?:c|-|x|,)\s*(\d+)$`)
)

// Grid is the fixed overlay drawn on a machine image. A location is the flat
// index row*Columns+col of one cell, with 0 in the top-left corner.
type Grid struct {
	Columns int
	Rows    int
}

// Default is the 30x20 overlay used by the schematic editor.
var Default = Grid{Columns: 30, Rows: 20}

// Cell is a zero-based row/column position.
type Cell struct {
	Row int
	Col int
}

// Size is the number of addressable locations.
func (g Grid) Size() int {
	return g.Columns * g.Rows
}

// Contains reports whether loc addresses a cell of the grid.
func (g Grid) Contains(loc int) bool {
	return loc >= 0 && loc < g.Size()
}

// CellOf converts a flat location into its row and column.
func (g Grid) CellOf(loc int) (Cell, error) {
	if !g.Contains(loc) {
		return Cell{}, fmt.Errorf("location %d is outside the %dx%d grid", loc, g.Columns, g.Rows)
	}
	return Cell{Row: loc / g.Columns, Col: loc % g.Columns}, nil
}

// Location converts a zero-based cell into its flat location.
func (g Grid) Location(c Cell) (int, error) {
	if c.Row < 0 || c.Row >= g.Rows || c.Col < 0 || c.Col >= g.Columns {
		return 0, fmt.Errorf("cell row=%d col=%d is outside the %dx%d grid", c.Row, c.Col, g.Columns, g.Rows)
	}
	return c.Row*g.Columns + c.Col, nil
}

// Label renders loc the way operators read it off the overlay: "R<row>C<col>",
// both 1-based.
func (g Grid) Label(loc int) string {
	c, err := g.CellOf(loc)
	if err != nil {
		return strconv.Itoa(loc)
	}
	return fmt.Sprintf("R%dC%d", c.Row+1, c.Col+1)
}

// Parse accepts either a flat location ("125") or a 1-based row/column label
// ("R5C6", "5-6") and returns the flat location.
func (g Grid) Parse(raw string) (int, error) {
	s := strings.TrimSpace(raw)

	if flatRe.MatchString(s) {
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("unable to parse location %q: %w", raw, err)
		}
		if !g.Contains(n) {
			return 0, fmt.Errorf("location %d is outside the %dx%d grid", n, g.Columns, g.Rows)
		}
		return n, nil
	}

	m := cellRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("unable to parse location: %q", raw)
	}
	row, errRow := strconv.Atoi(m[1])
	col, errCol := strconv.Atoi(m[2])
	if errRow != nil || errCol != nil || row == 0 || col == 0 {
		return 0, fmt.Errorf("unable to parse location: %q", raw)
	}
	return g.Location(Cell{Row: row - 1, Col: col - 1})
}
