package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mmdatafocus/purchase_backend/extract"
)

var (
	batchLabel   = regexp.MustCompile(`(?i)\bbatch\s*(?:no\.?)?\s*[:#]?\s*([A-Za-z0-9][A-Za-z0-9\-/]*)`)
	batchToken   = regexp.MustCompile(`\b(B\d+|[A-Za-z]+\d*-\d+)\b`)
	batchCell    = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9\-/]*$`)
	expiryMarker = regexp.MustCompile(`(?i)\bexp(?:iry)?\b`)
	fullDate     = regexp.MustCompile(`\b(\d{1,2}[-/.]\d{1,2}[-/.]\d{2,4})\b`)
	monthYear    = regexp.MustCompile(`\b(0?[1-9]|1[0-2])[-/.](\d{4}|\d{2})\b`)
)

// findBatch prefers a batch column, then a "Batch: X" label, then a batch-shaped
// token in any non-description cell.
func findBatch(row []string, cols columns) string {
	if v := cell(row, cols.batch); cols.batch >= 0 && batchCell.MatchString(v) && cols.batch != cols.expiry {
		return v
	}
	for i, c := range row {
		if m := batchLabel.FindStringSubmatch(c); m != nil {
			return m[1]
		}
		if i == cols.description {
			continue
		}
		if m := batchToken.FindStringSubmatch(c); m != nil && !fullDate.MatchString(c) {
			return m[1]
		}
	}
	return ""
}

// findExpiry reads the expiry column, else any cell mentioning exp/expiry.
// Month/year expiries resolve to the last day of that month.
func findExpiry(row []string, cols columns) *time.Time {
	if cols.expiry >= 0 {
		if t := parseExpiry(cell(row, cols.expiry)); t != nil {
			return t
		}
	}
	for _, c := range row {
		if expiryMarker.MatchString(c) {
			if t := parseExpiry(c); t != nil {
				return t
			}
		}
	}
	return nil
}

func parseExpiry(s string) *time.Time {
	if s == "" {
		return nil
	}
	if m := fullDate.FindStringSubmatch(s); m != nil {
		if t, ok := extract.ParseDate(m[1]); ok {
			return &t
		}
	}
	if m := monthYear.FindStringSubmatch(s); m != nil {
		month, _ := strconv.Atoi(m[1])
		year, _ := strconv.Atoi(m[2])
		if len(m[2]) == 2 {
			year += 2000
		}
		t := time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC)
		return &t
	}
	return nil
}

func trimDescription(s string) string {
	s = strings.TrimSpace(strings.Trim(s, "-:|,"))
	return strings.Join(strings.Fields(s), " ")
}
