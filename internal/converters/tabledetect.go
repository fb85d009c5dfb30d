package converters

import (
	"math"
	"sort"
	"strings"
)

// textRun is one positioned string on a text line, in PDF points.
type textRun struct {
	X, W     float64
	FontSize float64
	S        string
}

const minCellGap = 8.0

// segmentRow splits a line of text runs into cells. A horizontal gap wider
// than 1.5 em (at least 8pt) starts a new cell; smaller gaps are word spaces.
func segmentRow(runs []textRun) []string {
	if len(runs) == 0 {
		return nil
	}
	sorted := make([]textRun, len(runs))
	copy(sorted, runs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].X < sorted[j].X })

	var (
		cells []string
		cell  strings.Builder
		end   = sorted[0].X
	)
	for i, r := range sorted {
		gap := r.X - end
		if i > 0 {
			if gap > math.Max(r.FontSize*1.5, minCellGap) {
				cells = append(cells, strings.TrimSpace(cell.String()))
				cell.Reset()
			} else if gap > r.FontSize*0.25 {
				cell.WriteByte(' ')
			}
		}
		cell.WriteString(r.S)
		end = math.Max(end, r.X+r.W)
	}
	return append(cells, strings.TrimSpace(cell.String()))
}

// groupTables collects runs of consecutive rows that split into the same
// number of cells (two or more). Each run is a candidate table.
func groupTables(rows [][]string) [][][]string {
	var (
		tables  [][][]string
		current [][]string
	)
	flush := func() {
		if len(current) > 0 {
			tables = append(tables, current)
		}
		current = nil
	}
	for _, row := range rows {
		if len(row) < 2 {
			flush()
			continue
		}
		if len(current) > 0 && len(current[0]) != len(row) {
			flush()
		}
		current = append(current, row)
	}
	flush()
	return tables
}

// filterTables turns raw candidates into tables. Candidates with fewer than
// two rows are dropped; the first row becomes the header.
func filterTables(raw [][][]string, page int) []ExtractedTable {
	var out []ExtractedTable
	for _, t := range raw {
		if len(t) < 2 {
			continue
		}
		table := ExtractedTable{
			Headers:    cleanCells(t[0]),
			Rows:       make([][]string, 0, len(t)-1),
			PageNumber: page,
		}
		for _, row := range t[1:] {
			table.Rows = append(table.Rows, cleanCells(row))
		}
		out = append(out, table)
	}
	return out
}

func cleanCells(row []string) []string {
	out := make([]string, len(row))
	for i, c := range row {
		out[i] = strings.TrimSpace(c)
	}
	return out
}
