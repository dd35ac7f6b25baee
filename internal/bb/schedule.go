package bb

// Schedule orders BODs for the radio. Up to limit BODs execute at once;
// the rest wait in insertion order and start as executing ones end.
type Schedule struct {
	limit     int
	executing []*Bod
	queued    []*Bod
}

// NewSchedule returns a schedule running at most limit BODs concurrently.
func NewSchedule(limit int) *Schedule {
	if limit < 1 {
		limit = 1
	}
	return &Schedule{limit: limit}
}

// Insert adds b and reports whether it may execute immediately.
func (s *Schedule) Insert(b *Bod) bool {
	if len(s.executing) < s.limit && len(s.queued) == 0 {
		s.executing = append(s.executing, b)
		return true
	}
	s.queued = append(s.queued, b)
	return false
}

// Remove drops b wherever it is.
func (s *Schedule) Remove(b *Bod) bool {
	if i := indexOf(s.executing, b); i >= 0 {
		s.executing = append(s.executing[:i], s.executing[i+1:]...)
		return true
	}
	if i := indexOf(s.queued, b); i >= 0 {
		s.queued = append(s.queued[:i], s.queued[i+1:]...)
		return true
	}
	return false
}

// Next promotes the head of the queue when an execution slot is free.
func (s *Schedule) Next() *Bod {
	if len(s.queued) == 0 || len(s.executing) >= s.limit {
		return nil
	}
	b := s.queued[0]
	s.queued = s.queued[1:]
	s.executing = append(s.executing, b)
	return b
}

// Head returns the oldest executing BOD.
func (s *Schedule) Head() *Bod {
	if len(s.executing) == 0 {
		return nil
	}
	return s.executing[0]
}

func (s *Schedule) Executing() int { return len(s.executing) }

func (s *Schedule) Queued() int { return len(s.queued) }

func (s *Schedule) Len() int { return len(s.executing) + len(s.queued) }

// Each visits executing then queued BODs.
func (s *Schedule) Each(fn func(b *Bod)) {
	for _, b := range append(append([]*Bod(nil), s.executing...), s.queued...) {
		fn(b)
	}
}

func indexOf(list []*Bod, b *Bod) int {
	for i, x := range list {
		if x == b {
			return i
		}
	}
	return -1
}
