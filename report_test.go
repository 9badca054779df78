package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unixAt returns Unix seconds for a UTC calendar date.
func unixAt(date string) int64 {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		panic(err)
	}
	return t.Unix()
}

// makeApp builds a minimal application fixture.
func makeApp(id string, created, updated int64, state string) application {
	return application{ID: id, Created: created, Updated: updated, State: state}
}

// testDataset builds a two-domain fixture used across the test files.
func testDataset() *grantDataset {
	jan10 := unixAt("2024-01-10")
	feb10 := unixAt("2024-02-10")
	return &grantDataset{
		LastUpdated: "2024-03-01T00:00:00Z",
		Domains: map[string]domainRecord{
			"tooling": {
				Info:   domainInfo{Name: "Dev Tooling", Allocator: "Alice"},
				States: map[string]int{"approved": 1, "submitted": 1, "rejected": 1},
				Meta:   domainMeta{DisbursedUSD: 125000},
				Applications: []application{
					makeApp("tool-1", jan10, feb10, "approved"),
					makeApp("tool-2", jan10, jan10, "submitted"),
					makeApp("tool-3", feb10, feb10, "rejected"),
				},
			},
			"gaming": {
				Info:   domainInfo{Name: "Gaming", Allocator: "Bob"},
				States: map[string]int{"approved": 1},
				Meta:   domainMeta{DisbursedUSD: 50000},
				Applications: []application{
					makeApp("game-1", jan10, feb10, "approved"),
				},
			},
		},
	}
}

func TestBuildReport_NilDataset(t *testing.T) {
	assert.Equal(t, noDataSentinel, buildReport(nil, reportingPeriod{}))
}

func TestBuildReport_EmptyDataset(t *testing.T) {
	ds := &grantDataset{LastUpdated: "2024-03-01", Domains: map[string]domainRecord{}}
	out := buildReport(ds, reportingPeriod{})

	assert.Contains(t, out, reportTitle)
	assert.Contains(t, out, "Data last updated: 2024-03-01")
	assert.Contains(t, out, "PROGRAM TOTALS: 0 applications | 0 approved | $0 disbursed")
	assert.Contains(t, out, "PROGRAM FACTS:")
}

func TestBuildReport_NonRejectedListing(t *testing.T) {
	ds := testDataset()
	out := buildReport(ds, reportingPeriod{})

	assert.Contains(t, out, "id=tool-1")
	assert.Contains(t, out, "id=tool-2")
	assert.NotContains(t, out, "id=tool-3", "rejected applications are not listed without a period")
	assert.Contains(t, out, "id=game-1")
	assert.Contains(t, out, "PROGRAM TOTALS: 4 applications | 2 approved | $175,000 disbursed")
}

func TestBuildReport_ListingCapAndTruncation(t *testing.T) {
	jan10 := unixAt("2024-01-10")
	apps := make([]application, 0, 90)
	for i := 0; i < 85; i++ {
		apps = append(apps, makeApp(fmt.Sprintf("app-%03d", i), jan10, jan10, "submitted"))
	}
	for i := 0; i < 5; i++ {
		apps = append(apps, makeApp(fmt.Sprintf("rej-%03d", i), jan10, jan10, "rejected"))
	}
	ds := &grantDataset{
		LastUpdated: "2024-03-01",
		Domains: map[string]domainRecord{
			"big": {
				Info:         domainInfo{Name: "Big Domain", Allocator: "Carol"},
				States:       map[string]int{"submitted": 85, "rejected": 5},
				Applications: apps,
			},
		},
	}
	out := buildReport(ds, reportingPeriod{})

	listed := strings.Count(out, "id=app-")
	assert.Equal(t, maxListedApps, listed)
	assert.Contains(t, out, "… and 5 more applications not shown")
	assert.NotContains(t, out, "id=rej-")
}

func TestBuildReport_PeriodMembership(t *testing.T) {
	period := parsePeriod("2024-02-01", "2024-03-01")
	require.True(t, period.active)

	jan10 := unixAt("2024-01-10")
	feb10 := unixAt("2024-02-10")
	mar10 := unixAt("2024-03-10")
	ds := &grantDataset{
		LastUpdated: "2024-03-01",
		Domains: map[string]domainRecord{
			"d": {
				Info: domainInfo{Name: "Domain", Allocator: "Dana"},
				Applications: []application{
					// created in window -> received
					makeApp("in-created", feb10, mar10, "submitted"),
					// updated in window, non-submitted -> processed
					makeApp("in-updated", jan10, feb10, "approved"),
					// updated in window but still submitted -> excluded
					makeApp("submitted-updated", jan10, feb10, "submitted"),
					// rejected counts as processed when updated in window
					makeApp("in-rejected", jan10, feb10, "rejected"),
					// nothing in window -> excluded
					makeApp("outside", jan10, jan10, "approved"),
					// upper bound is exclusive
					makeApp("at-end", unixAt("2024-03-01"), jan10, "submitted"),
				},
			},
		},
	}
	out := buildReport(ds, period)

	assert.Contains(t, out, "id=in-created")
	assert.Contains(t, out, "id=in-updated")
	assert.Contains(t, out, "id=in-rejected")
	assert.NotContains(t, out, "id=submitted-updated")
	assert.NotContains(t, out, "id=outside")
	assert.NotContains(t, out, "id=at-end")

	assert.Contains(t, out, "Received in period: 1 | processed in period: 2")
	assert.Contains(t, out, "PERIOD TOTALS: 1 received | 2 processed")
}

func TestBuildReport_ReceivedAndProcessedOverlap(t *testing.T) {
	period := parsePeriod("2024-02-01", "2024-03-01")
	feb10 := unixAt("2024-02-10")
	ds := &grantDataset{
		Domains: map[string]domainRecord{
			"d": {
				Info: domainInfo{Name: "Domain", Allocator: "Dana"},
				Applications: []application{
					// in both subsets, listed once
					makeApp("both", feb10, feb10, "approved"),
				},
			},
		},
	}
	out := buildReport(ds, period)

	assert.Equal(t, 1, strings.Count(out, "id=both"))
	assert.Contains(t, out, "Received in period: 1 | processed in period: 1")
}

func TestBuildReport_Deterministic(t *testing.T) {
	ds := testDataset()
	period := parsePeriod("2024-01-01", "2024-06-01")

	first := buildReport(ds, period)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, buildReport(ds, period))
	}
}

func TestParsePeriod(t *testing.T) {
	t.Run("both bounds", func(t *testing.T) {
		p := parsePeriod("2024-01-01", "2024-02-01")
		assert.True(t, p.active)
		assert.Equal(t, unixAt("2024-01-01"), p.start)
		assert.Equal(t, unixAt("2024-02-01"), p.end)
		assert.Equal(t, "2024-01-01 to 2024-02-01", p.label)
	})

	t.Run("open lower bound", func(t *testing.T) {
		p := parsePeriod("", "2024-02-01")
		assert.True(t, p.active)
		assert.Equal(t, int64(0), p.start)
		assert.Equal(t, "until 2024-02-01", p.label)
	})

	t.Run("open upper bound", func(t *testing.T) {
		p := parsePeriod("2024-01-01", "")
		assert.True(t, p.active)
		assert.Greater(t, p.end, unixAt("2100-01-01"))
		assert.Equal(t, "from 2024-01-01", p.label)
	})

	t.Run("absent", func(t *testing.T) {
		p := parsePeriod("", "")
		assert.False(t, p.active)
	})

	t.Run("unparseable treated as absent", func(t *testing.T) {
		p := parsePeriod("not-a-date", "also-bad")
		assert.False(t, p.active)
	})

	t.Run("rfc3339 accepted", func(t *testing.T) {
		p := parsePeriod("2024-01-01T12:00:00Z", "")
		assert.True(t, p.active)
		assert.Equal(t, unixAt("2024-01-01")+12*3600, p.start)
	})
}

func TestFormatAppLine(t *testing.T) {
	jan10 := unixAt("2024-01-10")

	t.Run("name preferred", func(t *testing.T) {
		a := makeApp("abcdef123456", jan10, jan10, "approved")
		a.Name = "Project X"
		a.Applicant = "team-x"
		line := formatAppLine(a)
		assert.True(t, strings.HasPrefix(line, "Project X | approved | 2024-01-10"))
		assert.Contains(t, line, "id=abcdef123456")
	})

	t.Run("applicant fallback", func(t *testing.T) {
		a := makeApp("abcdef123456", jan10, jan10, "approved")
		a.Applicant = "team-x"
		assert.True(t, strings.HasPrefix(formatAppLine(a), "team-x | "))
	})

	t.Run("truncated id fallback", func(t *testing.T) {
		a := makeApp("abcdef123456", jan10, jan10, "approved")
		assert.True(t, strings.HasPrefix(formatAppLine(a), "abcdef12… | "))
	})

	t.Run("optional fields", func(t *testing.T) {
		a := makeApp("x", jan10, jan10, "approved")
		a.Category = "infra"
		a.FundingAsk = "25000"
		a.Milestones = []json.RawMessage{json.RawMessage(`{}`), json.RawMessage(`{}`)}
		line := formatAppLine(a)
		assert.Contains(t, line, "infra")
		assert.Contains(t, line, "ask 25000")
		assert.Contains(t, line, "2 milestones")
	})
}

func TestFormatUSD(t *testing.T) {
	assert.Equal(t, "0", formatUSD(0))
	assert.Equal(t, "999", formatUSD(999))
	assert.Equal(t, "1,000", formatUSD(1000))
	assert.Equal(t, "125,000", formatUSD(125000))
	assert.Equal(t, "1,234,567", formatUSD(1234567))
}
