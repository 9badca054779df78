package main

import (
	"fmt"
	"log"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Text report (chat context) generation
// ─────────────────────────────────────────────────────────────────────────────

const (
	// maxListedApps caps the per-domain application listing so the prompt
	// stays bounded even for large domains.
	maxListedApps = 80

	noDataSentinel = "No grant data available."

	reportTitle = "ARBITRUM DAO SEASON 3 GRANT PROGRAM — DATASET REPORT"
)

// reportingPeriod is an optional half-open time window [start, end) in
// Unix seconds. An absent lower bound is 0, an absent upper bound is
// +infinity.
type reportingPeriod struct {
	active bool
	start  int64
	end    int64
	label  string
}

// parsePeriod builds a reportingPeriod from the optional date strings of a
// chat request. Unparseable strings are treated as absent (logged); if both
// bounds end up absent the period is inactive and the report covers all
// time.
func parsePeriod(startStr, endStr string) reportingPeriod {
	p := reportingPeriod{start: 0, end: math.MaxInt64}

	var startLabel, endLabel string
	if startStr != "" {
		if ts, ok := parseDateUnix(startStr); ok {
			p.start = ts
			p.active = true
			startLabel = startStr
		} else {
			log.Printf("WARN: unparseable periodStart %q, ignoring", startStr)
		}
	}
	if endStr != "" {
		if ts, ok := parseDateUnix(endStr); ok {
			p.end = ts
			p.active = true
			endLabel = endStr
		} else {
			log.Printf("WARN: unparseable periodEnd %q, ignoring", endStr)
		}
	}

	switch {
	case startLabel != "" && endLabel != "":
		p.label = startLabel + " to " + endLabel
	case startLabel != "":
		p.label = "from " + startLabel
	case endLabel != "":
		p.label = "until " + endLabel
	}
	return p
}

// parseDateUnix parses an ISO calendar date or RFC 3339 timestamp into
// Unix seconds.
func parseDateUnix(s string) (int64, bool) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.Unix(), true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Unix(), true
	}
	return 0, false
}

// buildReport deterministically renders the dataset (optionally windowed by
// the period) into a plain-text report for embedding in the LLM system
// prompt. It is a pure function of its inputs: two calls with the same
// dataset and period produce byte-identical output.
func buildReport(ds *grantDataset, period reportingPeriod) string {
	if ds == nil {
		return noDataSentinel
	}

	var lines []string
	lines = append(lines, reportTitle)
	lines = append(lines, "Data last updated: "+ds.LastUpdated)
	if period.active {
		lines = append(lines, "Reporting period: "+period.label)
	}

	totalApps := 0
	totalApproved := 0
	totalDisbursed := 0.0
	totalReceived := 0
	totalProcessed := 0

	for _, key := range ds.domainKeys() {
		dom := ds.Domains[key]
		apps := dom.Applications

		totalApps += len(apps)
		totalApproved += dom.States["approved"]
		totalDisbursed += dom.Meta.DisbursedUSD

		// Period subsets. Received and processed may overlap; the listing
		// below dedups by application id, the period counts do not.
		receivedN := 0
		processedN := 0
		relevant := map[string]bool{}
		if period.active {
			for _, a := range apps {
				inCreated := a.Created >= period.start && a.Created < period.end
				inUpdated := a.Updated >= period.start && a.Updated < period.end && a.State != "submitted"
				if inCreated {
					receivedN++
				}
				if inUpdated {
					processedN++
				}
				if inCreated || inUpdated {
					relevant[a.ID] = true
				}
			}
			totalReceived += receivedN
			totalProcessed += processedN
		}

		lines = append(lines, "")
		lines = append(lines, fmt.Sprintf("## %s (allocator: %s)", dom.Info.Name, dom.Info.Allocator))
		lines = append(lines, "States: "+formatStates(dom.States))
		lines = append(lines, "Disbursed: $"+formatUSD(dom.Meta.DisbursedUSD))
		if period.active {
			lines = append(lines, fmt.Sprintf("Received in period: %d | processed in period: %d", receivedN, processedN))
		}

		lines = append(lines, "Applications:")
		listed := 0
		skipped := 0
		for _, a := range apps {
			include := false
			if period.active {
				include = relevant[a.ID]
			} else {
				include = a.State != "rejected"
			}
			if !include {
				continue
			}
			if listed >= maxListedApps {
				skipped++
				continue
			}
			lines = append(lines, "- "+formatAppLine(a))
			listed++
		}
		if skipped > 0 {
			lines = append(lines, fmt.Sprintf("… and %d more applications not shown", skipped))
		}
	}

	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("PROGRAM TOTALS: %d applications | %d approved | $%s disbursed",
		totalApps, totalApproved, formatUSD(totalDisbursed)))
	if period.active {
		lines = append(lines, fmt.Sprintf("PERIOD TOTALS: %d received | %d processed", totalReceived, totalProcessed))
	}

	lines = append(lines, "")
	lines = append(lines, "PROGRAM FACTS:")
	lines = append(lines, "- Season 3 runs January 2025 through June 2025.")
	lines = append(lines, "- Grants range from $10,000 to $50,000 per application.")
	for _, key := range ds.domainKeys() {
		dom := ds.Domains[key]
		lines = append(lines, fmt.Sprintf("- %s applications are allocated by %s.", dom.Info.Name, dom.Info.Allocator))
	}

	return strings.Join(lines, "\n")
}

// formatAppLine renders one application as a single report line.
func formatAppLine(a application) string {
	name := a.Name
	if name == "" {
		name = a.Applicant
	}
	if name == "" {
		name = truncateID(a.ID)
	}
	parts := []string{name, a.State, unixDate(a.Created)}
	if a.Category != "" {
		parts = append(parts, a.Category)
	}
	if a.FundingAsk != "" {
		parts = append(parts, "ask "+string(a.FundingAsk))
	}
	if n := len(a.Milestones); n > 0 {
		parts = append(parts, fmt.Sprintf("%d milestones", n))
	}
	parts = append(parts, "id="+a.ID)
	return strings.Join(parts, " | ")
}

// formatStates renders a state-count map as "approved=3, submitted=9" in
// sorted state order.
func formatStates(states map[string]int) string {
	if len(states) == 0 {
		return "none"
	}
	keys := make([]string, 0, len(states))
	for k := range states {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, states[k]))
	}
	return strings.Join(parts, ", ")
}

// truncateID shortens an application id for display.
func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8] + "…"
}

// unixDate formats Unix seconds as a UTC calendar date.
func unixDate(ts int64) string {
	return time.Unix(ts, 0).UTC().Format("2006-01-02")
}

// formatUSD renders a dollar amount with thousands separators and no
// fractional part.
func formatUSD(v float64) string {
	s := strconv.FormatFloat(v, 'f', 0, 64)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	if len(s) > 3 {
		var b strings.Builder
		lead := len(s) % 3
		if lead == 0 {
			lead = 3
		}
		b.WriteString(s[:lead])
		for i := lead; i < len(s); i += 3 {
			b.WriteByte(',')
			b.WriteString(s[i : i+3])
		}
		s = b.String()
	}
	if neg {
		return "-" + s
	}
	return s
}
