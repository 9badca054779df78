package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	tinysql "github.com/SimonWaldherr/tinySQL"
)

// ─────────────────────────────────────────────────────────────────────────────
// tinySQL stats mirror
// ─────────────────────────────────────────────────────────────────────────────

// statsDB mirrors the loaded dataset into an in-memory tinySQL database so
// the stats endpoint can answer aggregate queries with SQL. The mirror is
// written once at startup and read-only afterwards.
type statsDB struct {
	db *tinysql.DB

	// tinySQL isn't designed for heavy concurrent access
	mu sync.Mutex
}

// newStatsDB opens an ephemeral in-memory database and creates the mirror
// tables.
func newStatsDB() (*statsDB, error) {
	db, err := tinysql.OpenDB(tinysql.StorageConfig{Mode: tinysql.ModeMemory})
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	s := &statsDB{db: db}
	schema := []string{
		"CREATE TABLE IF NOT EXISTS domains (dkey TEXT, name TEXT, allocator TEXT)",
		"CREATE TABLE IF NOT EXISTS applications (id TEXT, dkey TEXT, state TEXT, created INT, updated INT)",
	}
	for _, q := range schema {
		if err := s.exec(q); err != nil {
			return nil, fmt.Errorf("create table: %w", err)
		}
	}
	return s, nil
}

// close releases the underlying database.
func (s *statsDB) close() error {
	return s.db.Close()
}

// exec parses and runs a statement that returns no rows.
func (s *statsDB) exec(q string) error {
	stmt, err := tinysql.ParseSQL(q)
	if err != nil {
		return fmt.Errorf("parse %q: %w", q, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = tinysql.Execute(context.Background(), s.db, "default", stmt)
	return err
}

// escapeSQ escapes single quotes for safe SQL insertion.
func escapeSQ(v string) string {
	return strings.ReplaceAll(v, "'", "''")
}

// loadDataset inserts every domain and application into the mirror tables.
func (s *statsDB) loadDataset(ds *grantDataset) error {
	for _, key := range ds.domainKeys() {
		dom := ds.Domains[key]
		q := fmt.Sprintf("INSERT INTO domains VALUES ('%s', '%s', '%s')",
			escapeSQ(key), escapeSQ(dom.Info.Name), escapeSQ(dom.Info.Allocator))
		if err := s.exec(q); err != nil {
			return fmt.Errorf("insert domain %s: %w", key, err)
		}
		for _, a := range dom.Applications {
			q := fmt.Sprintf("INSERT INTO applications VALUES ('%s', '%s', '%s', %d, %d)",
				escapeSQ(a.ID), escapeSQ(key), escapeSQ(a.State), a.Created, a.Updated)
			if err := s.exec(q); err != nil {
				return fmt.Errorf("insert application %s: %w", a.ID, err)
			}
		}
	}
	return nil
}

// countWhere returns COUNT(*) over the applications table for an optional
// WHERE condition ("" counts everything).
func (s *statsDB) countWhere(cond string) int {
	q := "SELECT COUNT(*) AS cnt FROM applications"
	if cond != "" {
		q += " WHERE " + cond
	}
	stmt, err := tinysql.ParseSQL(q)
	if err != nil {
		return 0
	}

	s.mu.Lock()
	rs, err := tinysql.Execute(context.Background(), s.db, "default", stmt)
	s.mu.Unlock()

	if err != nil || rs == nil || len(rs.Rows) == 0 {
		return 0
	}
	v, ok := tinysql.GetVal(rs.Rows[0], "cnt")
	if !ok || v == nil {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

// mirroredDomain is one row of the domains mirror table.
type mirroredDomain struct {
	Key       string
	Name      string
	Allocator string
}

// listDomains reads the domains mirror table, sorted by key.
func (s *statsDB) listDomains() []mirroredDomain {
	stmt, err := tinysql.ParseSQL("SELECT dkey, name, allocator FROM domains")
	if err != nil {
		return nil
	}

	s.mu.Lock()
	rs, err := tinysql.Execute(context.Background(), s.db, "default", stmt)
	s.mu.Unlock()

	if err != nil || rs == nil {
		return nil
	}
	out := make([]mirroredDomain, 0, len(rs.Rows))
	for _, row := range rs.Rows {
		key, ok := tinysql.GetVal(row, "dkey")
		if !ok || key == nil {
			continue
		}
		name, _ := tinysql.GetVal(row, "name")
		alloc, _ := tinysql.GetVal(row, "allocator")
		out = append(out, mirroredDomain{
			Key:       fmt.Sprint(key),
			Name:      fmt.Sprint(name),
			Allocator: fmt.Sprint(alloc),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// domainStats is the per-domain block of the stats response.
type domainStats struct {
	Key          string  `json:"key"`
	Name         string  `json:"name"`
	Allocator    string  `json:"allocator"`
	Applications int     `json:"applications"`
	Approved     int     `json:"approved"`
	DisbursedUSD float64 `json:"disbursedUSD"`
}

// programStats is the response shape of GET /api/stats.
type programStats struct {
	LastUpdated       string         `json:"lastUpdated"`
	TotalApplications int            `json:"totalApplications"`
	States            map[string]int `json:"states"`
	Domains           []domainStats  `json:"domains"`
}

// summary recomputes program aggregates from the SQL mirror. Disbursed
// amounts come from the dataset since the mirror only carries counts.
func (s *statsDB) summary(ds *grantDataset) programStats {
	out := programStats{
		States:  map[string]int{},
		Domains: []domainStats{},
	}
	if ds == nil {
		return out
	}
	out.LastUpdated = ds.LastUpdated
	out.TotalApplications = s.countWhere("")

	for _, md := range s.listDomains() {
		keyCond := fmt.Sprintf("dkey = '%s'", escapeSQ(md.Key))
		out.Domains = append(out.Domains, domainStats{
			Key:          md.Key,
			Name:         md.Name,
			Allocator:    md.Allocator,
			Applications: s.countWhere(keyCond),
			Approved:     s.countWhere(keyCond + " AND state = 'approved'"),
			DisbursedUSD: ds.Domains[md.Key].Meta.DisbursedUSD,
		})
	}

	for _, state := range datasetStates(ds) {
		out.States[state] = s.countWhere(fmt.Sprintf("state = '%s'", escapeSQ(state)))
	}
	return out
}

// datasetStates returns the sorted union of application states present in
// the dataset.
func datasetStates(ds *grantDataset) []string {
	seen := map[string]bool{}
	for _, dom := range ds.Domains {
		for _, a := range dom.Applications {
			if a.State != "" {
				seen[a.State] = true
			}
		}
	}
	states := make([]string, 0, len(seen))
	for st := range seen {
		states = append(states, st)
	}
	sort.Strings(states)
	return states
}
