package transform

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFixNumbering_Scenario5(t *testing.T) {
	in := "0. A\n0. B\ntext\n0. C\n0. D"
	want := "1. A\n2. B\ntext\n1. C\n2. D"
	require.Equal(t, want, FixNumbering(in))
}

func TestFixNumbering_Idempotent(t *testing.T) {
	in := "0. A\n0. B\ntext\n0. C\n0. D"
	once := FixNumbering(in)
	twice := FixNumbering(once)
	require.Equal(t, once, twice)
}

func TestFormatLinksAsMarkdown_WrapsBareURL(t *testing.T) {
	in := "see https://example.com/path for details"
	want := "see [https://example.com/path](https://example.com/path) for details"
	require.Equal(t, want, FormatLinksAsMarkdown(in))
}

func TestFormatLinksAsMarkdown_Idempotent(t *testing.T) {
	in := "see https://example.com/path and https://other.com"
	once := FormatLinksAsMarkdown(in)
	twice := FormatLinksAsMarkdown(once)
	require.Equal(t, once, twice)
}

func TestConvertTablesToMarkdown_Identity(t *testing.T) {
	in := "| a | b |\n|---|---|"
	require.Equal(t, in, ConvertTablesToMarkdown(in))
}

func TestConvertTestrailDateToISO_Scenario4(t *testing.T) {
	require.Equal(t, "2023-03-23 00:00:00", ConvertTestrailDateToISO("3/23/2023"))
}

func TestConvertTestrailDateToISO_PassThroughOnFailure(t *testing.T) {
	require.Equal(t, "not-a-date", ConvertTestrailDateToISO("not-a-date"))
}

func TestConvertEstimateTimeToHours_Scenarios(t *testing.T) {
	cases := map[string]string{
		"1wk 1d 1hr 1min 1sec": "1 week 1 day",
		"5hr 30min":            "5 hours 30 minutes",
		"1d 3h 50m":            "1 day 4 hours",
		"2d 3h 50m":            "2 days 4 hours",
	}
	for in, want := range cases {
		require.Equal(t, want, ConvertEstimateTimeToHours(in), "input %q", in)
	}
}

func TestConvertEstimateTimeToHours_PassThroughOnNoMatch(t *testing.T) {
	require.Equal(t, "garbage", ConvertEstimateTimeToHours("garbage"))
}
