package stt

// Long captures are transcribed in overlapping windows so memory stays
// bounded and the engine sees enough context at each boundary.
const (
	windowSeconds  = 30
	overlapSeconds = 5
)

type span struct {
	start int // inclusive sample offset
	end   int // exclusive sample offset
}

// windowPlan splits n samples at the given rate into spans of at most
// windowSeconds, each overlapping the previous by overlapSeconds. Audio that
// fits in one window yields a single span.
func windowPlan(n, rate int) []span {
	if n <= 0 || rate <= 0 {
		return nil
	}
	window := windowSeconds * rate
	advance := (windowSeconds - overlapSeconds) * rate
	if n <= window {
		return []span{{start: 0, end: n}}
	}
	var spans []span
	for start := 0; start < n; start += advance {
		end := start + window
		if end >= n {
			spans = append(spans, span{start: start, end: n})
			break
		}
		spans = append(spans, span{start: start, end: end})
	}
	return spans
}
