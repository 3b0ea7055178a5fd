package transform

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// unitToken is one parsed "<value><unit>" token from a source estimate
// string such as "1wk 1d 1hr 1min 1sec".
type unitToken struct {
	value float64
	unit  string // "week","day","hour","minute","second"
}

var estimateTokenRE = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(wk|w|d|hr|h|min|m|sec|s)\b`)

var unitNames = map[string]string{
	"wk": "week", "w": "week",
	"d":   "day",
	"hr":  "hour", "h": "hour",
	"min": "minute", "m": "minute",
	"sec": "second", "s": "second",
}

// ConvertEstimateTimeToHours parses a TestRail-style estimate phrase into a
// human-readable string, per spec §4.8 and the literal scenarios of §8.
// Takes the first two unit tokens present, with two special cases:
// (a) day+hour+minute collapses hours+minutes by summing into hours,
//     ceiling the result; (b) hour+minute emits both, each ceiled
//     independently, without summing. Zero-valued tokens are dropped.
// When nothing parses, the input is passed through unchanged.
func ConvertEstimateTimeToHours(estimate string) string {
	if estimate == "" {
		return estimate
	}

	matches := estimateTokenRE.FindAllStringSubmatch(estimate, -1)
	if len(matches) == 0 {
		return estimate
	}

	tokens := make([]unitToken, 0, len(matches))
	for _, m := range matches {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		unit, ok := unitNames[strings.ToLower(m[2])]
		if !ok {
			continue
		}
		tokens = append(tokens, unitToken{value: v, unit: unit})
	}
	if len(tokens) == 0 {
		return estimate
	}

	first := tokens[0]
	var second *unitToken
	if len(tokens) > 1 {
		second = &tokens[1]
	}

	// Special case (a): day followed by hour-and-minute-bearing data collapses
	// hours+minutes into a ceiled hour count. We detect this by the presence
	// of a day token plus an hour token and a minute token among the first
	// three parsed tokens (covers "1d 3h 50m").
	if first.unit == "day" && len(tokens) >= 3 && tokens[1].unit == "hour" && tokens[2].unit == "minute" {
		hours := tokens[1].value + tokens[2].value/60.0
		hoursCeil := int(math.Ceil(hours))
		daysCeil := int(math.Ceil(first.value))
		var parts []string
		if daysCeil > 0 {
			parts = append(parts, pluralize(daysCeil, "day"))
		}
		if hoursCeil > 0 {
			parts = append(parts, pluralize(hoursCeil, "hour"))
		}
		if len(parts) == 0 {
			return estimate
		}
		return strings.Join(parts, " ")
	}

	// Special case (b): hour followed by minute, no day: emit both, each
	// ceiled independently, without summing ("5hr 30min" -> "5 hours 30
	// minutes").
	if first.unit == "hour" && second != nil && second.unit == "minute" {
		parts := []string{}
		h := int(math.Ceil(first.value))
		m := int(math.Ceil(second.value))
		if h > 0 {
			parts = append(parts, pluralize(h, "hour"))
		}
		if m > 0 {
			parts = append(parts, pluralize(m, "minute"))
		}
		if len(parts) == 0 {
			return estimate
		}
		return strings.Join(parts, " ")
	}

	// General case: take the first two unit tokens as-is.
	parts := []string{}
	v1 := int(math.Ceil(first.value))
	if v1 > 0 {
		parts = append(parts, pluralize(v1, first.unit))
	}
	if second != nil {
		v2 := int(math.Ceil(second.value))
		if v2 > 0 {
			parts = append(parts, pluralize(v2, second.unit))
		}
	}
	if len(parts) == 0 {
		return estimate
	}
	return strings.Join(parts, " ")
}

func pluralize(n int, unit string) string {
	word := unit
	if n != 1 {
		word += "s"
	}
	return strconv.Itoa(n) + " " + word
}

// EstimateHours returns the parsed estimate as a precise decimal number of
// hours, used by the stats report's per-project total-estimate summary (a
// supplemented feature). decimal.Decimal (pulled from
// the compozy example's dependency set) avoids float accumulation error when
// many cases' estimates are summed across a project.
func EstimateHours(estimate string) decimal.Decimal {
	matches := estimateTokenRE.FindAllStringSubmatch(estimate, -1)
	perHour := map[string]decimal.Decimal{
		"week":   decimal.NewFromInt(24 * 7),
		"day":    decimal.NewFromInt(24),
		"hour":   decimal.NewFromInt(1),
		"minute": decimal.NewFromFloat(1.0 / 60.0),
		"second": decimal.NewFromFloat(1.0 / 3600.0),
	}
	total := decimal.Zero
	for _, m := range matches {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		unit, ok := unitNames[strings.ToLower(m[2])]
		if !ok {
			continue
		}
		total = total.Add(decimal.NewFromFloat(v).Mul(perHour[unit]))
	}
	return total
}
