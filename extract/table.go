package extract

import (
	"regexp"
	"strings"
)

// Table is a header row followed by data rows.
type Table [][]string

func (t Table) Header() []string {
	if len(t) == 0 {
		return nil
	}
	return t[0]
}

func (t Table) Rows() [][]string {
	if len(t) < 2 {
		return nil
	}
	return t[1:]
}

const minTableCells = 3

var cellSeparator = regexp.MustCompile(`\s*\|\s*|\t+| {2,}`)

// SplitCells splits a text line on runs of two or more spaces, tabs or pipes.
func SplitCells(line string) []string {
	line = strings.Trim(strings.TrimSpace(line), "|")
	if line == "" {
		return nil
	}
	parts := cellSeparator.Split(line, -1)
	cells := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			cells = append(cells, p)
		}
	}
	return cells
}

// GroupTables collects runs of consecutive lines that split into at least
// three cells. The first row of each run is the header. Runs of a single row
// carry no data and are dropped.
func GroupTables(text string) []Table {
	var (
		tables  []Table
		current Table
	)
	flush := func() {
		if len(current) >= 2 {
			tables = append(tables, current)
		}
		current = nil
	}
	for _, line := range strings.Split(text, "\n") {
		cells := SplitCells(line)
		if len(cells) >= minTableCells {
			current = append(current, cells)
			continue
		}
		flush()
	}
	flush()
	return tables
}
