// Package timing normalises KPI timing configuration into day counts.
package timing

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Input is the raw timing configuration of a KPI. Nil pointers are unset.
type Input struct {
	Delay *float64
	Hold  *float64
	Total *float64
	Text  string
}

// Resolved is the normalised (delay, hold, total-time-to-close) triple.
type Resolved struct {
	Delay int
	Hold  int
	Total int
}

var (
	rangePattern  = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*[-–—]\s*(\d+(?:\.\d+)?)\s*([a-zA-Z]*)`)
	singlePattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*([a-zA-Z]*)`)
)

// Resolve turns explicit day counts and/or a free-text range into day counts.
//
// Explicit delay and hold win. Missing parts are filled from the text: "A-B"
// gives delay=min(A,B) and hold=|A-B|, a bare "N" gives delay=0 and hold=N.
// A hold that is still unresolved falls back to total minus delay. Anything
// left over is 0, and Total is never below Delay+Hold.
func Resolve(in Input) Resolved {
	delay, delayOK := days(in.Delay)
	hold, holdOK := days(in.Hold)
	total, totalOK := days(in.Total)

	if !delayOK || !holdOK {
		if d, h, ok := ParseText(in.Text); ok {
			if !delayOK {
				delay, delayOK = d, true
			}
			if !holdOK {
				hold, holdOK = h, true
			}
		}
	}

	if !holdOK && totalOK {
		hold = max(0, total-delay)
	}

	if total < delay+hold {
		total = delay + hold
	}
	return Resolved{Delay: delay, Hold: hold, Total: total}
}

// ParseText reads "A-B" or "N" day definitions, optionally suffixed by a unit
// (days, weeks, months).
func ParseText(text string) (delay, hold int, ok bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, 0, false
	}
	if m := rangePattern.FindStringSubmatch(text); m != nil {
		scale := unitScale(m[3])
		a := toDays(m[1], scale)
		b := toDays(m[2], scale)
		lo, hi := min(a, b), max(a, b)
		return lo, hi - lo, true
	}
	if m := singlePattern.FindStringSubmatch(text); m != nil {
		return 0, toDays(m[1], unitScale(m[2])), true
	}
	return 0, 0, false
}

func days(p *float64) (int, bool) {
	if p == nil {
		return 0, false
	}
	v := *p
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, true
	}
	return int(math.Round(v)), true
}

func toDays(s string, scale float64) int {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0
	}
	return int(math.Round(v * scale))
}

func unitScale(unit string) float64 {
	switch strings.ToLower(unit) {
	case "w", "wk", "wks", "week", "weeks":
		return 7
	case "m", "mo", "mos", "month", "months":
		return 30
	default:
		return 1
	}
}
