package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeTitle_StripsAccentsAndCollapsesWhitespace(t *testing.T) {
	require.Equal(t, "verify login", normalizeTitle("  Vérify   Login "))
}

func TestSafeExtractInt_ParsesBareAndPrefixedIDs(t *testing.T) {
	n, ok := safeExtractInt("6")
	require.True(t, ok)
	require.EqualValues(t, 6, n)

	n, ok = safeExtractInt("CASE-42")
	require.True(t, ok)
	require.EqualValues(t, 42, n)

	n, ok = safeExtractInt(float64(7))
	require.True(t, ok)
	require.EqualValues(t, 7, n)

	_, ok = safeExtractInt("no digits here")
	require.False(t, ok)
}

func TestExtractCFValue_HandlesMapShape(t *testing.T) {
	v, ok := extractCFValue(map[string]any{"linked_case_id_in_A": "12"}, "linked_case_id_in_A")
	require.True(t, ok)
	require.EqualValues(t, 12, v)
}

func TestExtractCFValue_HandlesListShape(t *testing.T) {
	raw := []any{
		map[string]any{"key": "linked_case_id_in_A", "value": "99"},
		map[string]any{"key": "other", "value": "1"},
	}
	v, ok := extractCFValue(raw, "linked_case_id_in_A")
	require.True(t, ok)
	require.EqualValues(t, 99, v)
}

func TestMapStatus_FallsBackToFailedForUnknown(t *testing.T) {
	require.Equal(t, "passed", mapStatus("passed"))
	require.Equal(t, "failed", mapStatus("invalid"))
}
