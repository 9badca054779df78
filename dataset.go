package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
)

// ─────────────────────────────────────────────────────────────────────────────
// Grant dataset model
// ─────────────────────────────────────────────────────────────────────────────

// flexString accepts a JSON string or number and stores it as a string.
// Funding amounts in older exports were written as raw numbers, newer
// exports quote them.
type flexString string

// UnmarshalJSON implements json.Unmarshaler for flexString.
func (f *flexString) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// application is one grant request flowing through the review states.
type application struct {
	ID          string            `json:"id"`
	Created     int64             `json:"created"`
	Updated     int64             `json:"updated"`
	State       string            `json:"state"`
	Name        string            `json:"name,omitempty"`
	Applicant   string            `json:"applicant,omitempty"`
	Category    string            `json:"category,omitempty"`
	FundingAsk  flexString        `json:"fundingAsk,omitempty"`
	GrantAmount flexString        `json:"grantAmount,omitempty"`
	Milestones  []json.RawMessage `json:"milestones,omitempty"`
}

// domainInfo holds the display strings for one grant domain.
type domainInfo struct {
	Name      string `json:"name"`
	Allocator string `json:"allocator"`
}

// domainMeta carries per-domain bookkeeping fields.
type domainMeta struct {
	DisbursedUSD float64 `json:"disbursedUSD"`
}

// domainRecord is one grant-program sub-category with its own allocator
// and application pool.
type domainRecord struct {
	Info         domainInfo     `json:"info"`
	States       map[string]int `json:"states"`
	Meta         domainMeta     `json:"meta"`
	Applications []application  `json:"applications"`
}

// grantDataset is the top-level dataset document. It is loaded at most
// once per process and treated as read-only afterwards.
type grantDataset struct {
	LastUpdated string                  `json:"lastUpdated"`
	Domains     map[string]domainRecord `json:"domains"`
}

// domainKeys returns the domain keys in sorted order. Report output must
// be deterministic and JSON object order is not, so sorted keys are the
// canonical iteration order everywhere.
func (d *grantDataset) domainKeys() []string {
	keys := make([]string, 0, len(d.Domains))
	for k := range d.Domains {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// appCount returns the total number of applications across all domains.
func (d *grantDataset) appCount() int {
	n := 0
	for _, dom := range d.Domains {
		n += len(dom.Applications)
	}
	return n
}

// ─────────────────────────────────────────────────────────────────────────────
// Dataset loader
// ─────────────────────────────────────────────────────────────────────────────

// loaderStrategy is one step of the ordered fallback chain: primary file,
// then legacy export, then nothing.
type loaderStrategy struct {
	label string
	load  func() (*grantDataset, error)
}

// loadDataset tries each loader strategy in order and returns the first
// dataset that parses. If every strategy fails it returns nil and chat
// context generation stays unavailable for the process lifetime; a restart
// is required to pick up data changes.
func loadDataset(primaryPath, legacyPath string) *grantDataset {
	strategies := []loaderStrategy{
		{label: primaryPath, load: func() (*grantDataset, error) { return loadPrimary(primaryPath) }},
		{label: legacyPath + " (legacy)", load: func() (*grantDataset, error) { return loadLegacy(legacyPath) }},
	}
	for _, st := range strategies {
		ds, err := st.load()
		if err != nil {
			log.Printf("dataset: %s: %v", st.label, err)
			continue
		}
		log.Printf("dataset: loaded %d domains / %d applications from %s (last updated %s)",
			len(ds.Domains), ds.appCount(), st.label, ds.LastUpdated)
		return ds
	}
	log.Printf("dataset: no dataset found, chat disabled")
	return nil
}

// loadPrimary reads the native dataset shape.
func loadPrimary(path string) (*grantDataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ds grantDataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("dataset JSON parse error: %w", err)
	}
	if ds.Domains == nil {
		ds.Domains = map[string]domainRecord{}
	}
	return &ds, nil
}

// legacyProgram is one entry of the pre-rework export, which kept domains
// in an array and had no precomputed state counts.
type legacyProgram struct {
	Key          string        `json:"key"`
	Name         string        `json:"name"`
	Allocator    string        `json:"allocator"`
	DisbursedUSD float64       `json:"disbursedUSD"`
	Applications []application `json:"applications"`
}

// legacyExport is the top-level shape of the old export format.
type legacyExport struct {
	Updated  string          `json:"updated"`
	Programs []legacyProgram `json:"programs"`
}

// loadLegacy reads the old export format and adapts it to grantDataset.
// State counts are rebuilt from the application list.
func loadLegacy(path string) (*grantDataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var le legacyExport
	if err := json.Unmarshal(data, &le); err != nil {
		return nil, fmt.Errorf("legacy JSON parse error: %w", err)
	}
	ds := &grantDataset{
		LastUpdated: le.Updated,
		Domains:     make(map[string]domainRecord, len(le.Programs)),
	}
	for _, p := range le.Programs {
		states := map[string]int{}
		for _, a := range p.Applications {
			if a.State != "" {
				states[a.State]++
			}
		}
		ds.Domains[p.Key] = domainRecord{
			Info:         domainInfo{Name: p.Name, Allocator: p.Allocator},
			States:       states,
			Meta:         domainMeta{DisbursedUSD: p.DisbursedUSD},
			Applications: p.Applications,
		}
	}
	return ds, nil
}
