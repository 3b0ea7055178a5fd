package transform

import "time"

// dateLayouts are tried in order; the first one that parses wins. Mirrors
// original_source/support/text_utils.py's convert_testrail_date_to_iso
// format list.
var dateLayouts = []string{
	"1/2/2006",
	"01/02/2006",
	"2/1/2006",
	"2006-01-02",
	"2006/01/02",
	"1/2/06",
	"01/02/06",
	"2/1/06",
}

// ConvertTestrailDateToISO parses a calendar-format date string against the
// ordered layout list and emits "YYYY-MM-DD 00:00:00"; on parse failure the
// input is passed through unchanged (spec §4.5, §8 scenario 4).
func ConvertTestrailDateToISO(value string) string {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format("2006-01-02 00:00:00")
		}
	}
	return value
}
