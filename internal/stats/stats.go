// Package stats implements the "Stats + report" component of spec §2: per-
// project and global counters accumulated across every importer, written out
// as a plain-text report plus a spreadsheet-openable CSV sibling (spec §6's
// "./<prefix>_stats.{txt,xlsx}" artifact, rendered here as .txt/.csv since no
// xlsx-writing library exists anywhere in the example pack — see DESIGN.md).
package stats

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"github.com/vitaliisemenov/tr2qase/internal/transform"
)

// Counters accumulates per-project entity counts and failure counts
// (spec §7: "aggregates per-project and global counters").
type Counters struct {
	mu sync.Mutex

	created  map[string]map[string]int // [project][entity] -> count
	skipped  map[string]map[string]int
	estimate map[string][]string // [project] -> raw estimate strings seen, for total-hours summary
}

// New returns an empty Counters.
func New() *Counters {
	return &Counters{
		created:  make(map[string]map[string]int),
		skipped:  make(map[string]map[string]int),
		estimate: make(map[string][]string),
	}
}

// Incr records one successfully created entity.
func (c *Counters) Incr(project, entity string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bucket(c.created, project)[entity]++
}

// IncrSkipped records one skipped entity (spec §7's per-entity error taxonomy).
func (c *Counters) IncrSkipped(project, entity string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bucket(c.skipped, project)[entity]++
}

// RecordEstimate adds a raw (pre-§4.8-simplification) estimate string for
// the project's total-hours summary.
func (c *Counters) RecordEstimate(project, raw string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.estimate[project] = append(c.estimate[project], raw)
}

func (c *Counters) bucket(m map[string]map[string]int, project string) map[string]int {
	b, ok := m[project]
	if !ok {
		b = make(map[string]int)
		m[project] = b
	}
	return b
}

// TotalEstimateHours sums every recorded estimate for a project into decimal
// hours, using transform.EstimateHours to avoid float accumulation error
// across potentially thousands of cases.
func (c *Counters) TotalEstimateHours(project string) decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := decimal.Zero
	for _, raw := range c.estimate[project] {
		total = total.Add(transform.EstimateHours(raw))
	}
	return total
}

// Projects returns every project name seen by either created or skipped
// counters, sorted.
func (c *Counters) Projects() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	seen := make(map[string]struct{})
	for p := range c.created {
		seen[p] = struct{}{}
	}
	for p := range c.skipped {
		seen[p] = struct{}{}
	}
	projects := make([]string, 0, len(seen))
	for p := range seen {
		projects = append(projects, p)
	}
	sort.Strings(projects)
	return projects
}

// WriteReport renders the stats report to "<prefix>_stats.txt" (a
// tab-aligned human-readable table) and "<prefix>_stats.csv" (machine/
// spreadsheet readable), both in the current working directory per spec §6.
func (c *Counters) WriteReport(prefix string) error {
	if err := c.writeText(prefix + "_stats.txt"); err != nil {
		return fmt.Errorf("stats: writing text report: %w", err)
	}
	if err := c.writeCSV(prefix + "_stats.csv"); err != nil {
		return fmt.Errorf("stats: writing csv report: %w", err)
	}
	return nil
}

func (c *Counters) writeText(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	tw := tabwriter.NewWriter(f, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "project\tentity\tcreated\tskipped")
	for _, project := range c.Projects() {
		entities := make(map[string]struct{})
		c.mu.Lock()
		for e := range c.created[project] {
			entities[e] = struct{}{}
		}
		for e := range c.skipped[project] {
			entities[e] = struct{}{}
		}
		c.mu.Unlock()

		names := make([]string, 0, len(entities))
		for e := range entities {
			names = append(names, e)
		}
		sort.Strings(names)

		for _, e := range names {
			c.mu.Lock()
			created := c.created[project][e]
			skipped := c.skipped[project][e]
			c.mu.Unlock()
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", project, e, created, skipped)
		}
		fmt.Fprintf(tw, "%s\ttotal estimate hours\t%s\t\n", project, c.TotalEstimateHours(project).String())
	}
	return tw.Flush()
}

func (c *Counters) writeCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"project", "entity", "created", "skipped"}); err != nil {
		return err
	}
	for _, project := range c.Projects() {
		entities := make(map[string]struct{})
		c.mu.Lock()
		for e := range c.created[project] {
			entities[e] = struct{}{}
		}
		for e := range c.skipped[project] {
			entities[e] = struct{}{}
		}
		c.mu.Unlock()

		names := make([]string, 0, len(entities))
		for e := range entities {
			names = append(names, e)
		}
		sort.Strings(names)

		for _, e := range names {
			c.mu.Lock()
			created := c.created[project][e]
			skipped := c.skipped[project][e]
			c.mu.Unlock()
			if err := w.Write([]string{project, e, strconv.Itoa(created), strconv.Itoa(skipped)}); err != nil {
				return err
			}
		}
	}
	return nil
}
