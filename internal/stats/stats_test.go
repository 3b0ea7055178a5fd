package stats

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCounters_IncrAndProjects(t *testing.T) {
	c := New()
	c.Incr("PRJ", "cases")
	c.Incr("PRJ", "cases")
	c.Incr("PRJ", "runs")
	c.IncrSkipped("PRJ", "cases")
	c.Incr("OTHER", "users")

	require.Equal(t, []string{"OTHER", "PRJ"}, c.Projects())
}

func TestCounters_TotalEstimateHours(t *testing.T) {
	c := New()
	c.RecordEstimate("PRJ", "1h")
	c.RecordEstimate("PRJ", "30m")

	total := c.TotalEstimateHours("PRJ")
	require.Equal(t, "1.5", total.Round(2).String())
}

func TestCounters_WriteReport(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(wd)

	c := New()
	c.Incr("PRJ", "cases")
	c.IncrSkipped("PRJ", "runs")
	c.RecordEstimate("PRJ", "2h")

	require.NoError(t, c.WriteReport("demo"))

	txt, err := os.ReadFile(filepath.Join(dir, "demo_stats.txt"))
	require.NoError(t, err)
	require.Contains(t, string(txt), "PRJ")
	require.Contains(t, string(txt), "cases")

	csvData, err := os.ReadFile(filepath.Join(dir, "demo_stats.csv"))
	require.NoError(t, err)
	require.Contains(t, string(csvData), "project,entity,created,skipped")
	require.Contains(t, string(csvData), "PRJ,cases,1,0")
	require.Contains(t, string(csvData), "PRJ,runs,0,1")
}
