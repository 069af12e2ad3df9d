package domain

import (
	"strings"
	"time"

	"github.com/samber/lo"
)

// Severity filter values accepted by ImageFilter.
const (
	SeverityAll      = "all"
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
)

// Last-scan window values accepted by ImageFilter.
const (
	LastScanAll   = "all"
	LastScanToday = "today"
	LastScanWeek  = "week"
	LastScanMonth = "month"
)

// ImageFilter narrows an owner's image list. Zero values mean "no filter".
type ImageFilter struct {
	Search   string
	Severity string
	LastScan string
	IDs      []string
}

// Normalize fills defaults and trims the search term.
func (f ImageFilter) Normalize() ImageFilter {
	f.Search = strings.TrimSpace(f.Search)
	if f.Severity == "" {
		f.Severity = SeverityAll
	}
	if f.LastScan == "" {
		f.LastScan = LastScanAll
	}
	return f
}

// Key identifies the filter for caching purposes.
func (f ImageFilter) Key() string {
	f = f.Normalize()
	return strings.Join([]string{strings.ToLower(f.Search), f.Severity, f.LastScan, strings.Join(f.IDs, ",")}, "|")
}

// Since returns the lower bound on last_scan for the filter's window, or nil
// when the filter does not restrict by scan time.
func (f ImageFilter) Since(now time.Time) *time.Time {
	var t time.Time
	switch f.LastScan {
	case LastScanToday:
		y, m, d := now.Date()
		t = time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	case LastScanWeek:
		t = now.AddDate(0, 0, -7)
	case LastScanMonth:
		t = now.AddDate(0, -1, 0)
	default:
		return nil
	}
	return &t
}

// Matches applies the filter in memory. since is the value of Since for the
// current time. Stores with a query language push the same predicates down instead.
func (f ImageFilter) Matches(img Image, since *time.Time) bool {
	f = f.Normalize()
	if f.Search != "" && !strings.Contains(strings.ToLower(img.Name), strings.ToLower(f.Search)) {
		return false
	}
	switch f.Severity {
	case SeverityCritical:
		if img.Vulnerabilities.Critical <= 0 {
			return false
		}
	case SeverityHigh:
		if img.Vulnerabilities.High <= 0 {
			return false
		}
	case SeverityMedium:
		if img.Vulnerabilities.Medium <= 0 {
			return false
		}
	}
	if since != nil {
		if img.LastScan == nil || img.LastScan.Before(*since) {
			return false
		}
	}
	if len(f.IDs) > 0 && !lo.Contains(f.IDs, img.ID) {
		return false
	}
	return true
}

// CountFilter selects images for the stats aggregator.
type CountFilter struct {
	MinCritical       bool // critical_vulnerabilities > 0
	MinHigh           bool // high_vulnerabilities > 0
	CreatedOnOrBefore *time.Time
}
