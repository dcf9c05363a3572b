package engine

import "strings"

// splicer truncates a text stream at the earliest stop sequence. It buffers
// any trailing text that could still grow into a stop, so no emitted frame
// ever contains a stop string or ends mid-way through one. Streaming and
// non-streaming paths share this type, which keeps their final text
// identical.
type splicer struct {
	stops   []string
	pending string
	stopped bool
}

func newSplicer(stops []string) *splicer {
	return &splicer{stops: stops}
}

// push appends delta and returns the text that is now safe to emit. done is
// true once a stop sequence has been seen; everything from the stop onward
// is discarded.
func (s *splicer) push(delta string) (emit string, done bool) {
	if s.stopped {
		return "", true
	}
	s.pending += delta

	// Earliest stop occurrence wins.
	stopAt := -1
	for _, stop := range s.stops {
		if idx := strings.Index(s.pending, stop); idx >= 0 && (stopAt < 0 || idx < stopAt) {
			stopAt = idx
		}
	}
	if stopAt >= 0 {
		emit = s.pending[:stopAt]
		s.pending = ""
		s.stopped = true
		return emit, true
	}

	// Hold back the longest suffix that is a proper prefix of some stop.
	hold := 0
	for _, stop := range s.stops {
		max := len(stop) - 1
		if max > len(s.pending) {
			max = len(s.pending)
		}
		for n := max; n > hold; n-- {
			if strings.HasSuffix(s.pending, stop[:n]) {
				hold = n
				break
			}
		}
	}

	emit = s.pending[:len(s.pending)-hold]
	s.pending = s.pending[len(s.pending)-hold:]
	return emit, false
}

// flush releases any buffered text. Called when generation ends without a
// stop hit (EOS or length).
func (s *splicer) flush() string {
	if s.stopped {
		return ""
	}
	out := s.pending
	s.pending = ""
	return out
}
