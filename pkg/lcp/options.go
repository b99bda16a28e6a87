package lcp

// optionSet is a session's option instances in registry order
type optionSet struct {
	items []*instance
}

func (s *optionSet) resetOutcomes() {
	for _, it := range s.items {
		it.outcome = OutcomeNone
	}
}

// proposalLen is the request buffer budget: the sum of every instance's
// current proposal size.
func (s *optionSet) proposalLen() int {
	n := 0
	for _, it := range s.items {
		n += it.opt.ProposalLen()
	}
	return n
}

// match returns the index of the first instance handling typ, or -1
func (s *optionSet) match(typ uint8) int {
	for i, it := range s.items {
		if it.desc.Type() == typ {
			return i
		}
	}
	return -1
}

func (s *optionSet) release() {
	for _, it := range s.items {
		if r, ok := it.opt.(Releaser); ok {
			r.Release()
		}
	}
	s.items = nil
}
