package quic

import "sort"

// PacketRange is a half-open interval [Start, Stop) of packet numbers.
type PacketRange struct {
	Start uint64
	Stop  uint64
}

// Len returns the number of packet numbers in the range.
func (r PacketRange) Len() uint64 { return r.Stop - r.Start }

// Contains reports whether pn falls inside the range.
func (r PacketRange) Contains(pn uint64) bool { return pn >= r.Start && pn < r.Stop }

// RangeSet tracks received packet numbers as a minimal list of disjoint
// ranges ordered by lower bound. Adjacent ranges coalesce on insert. It
// is both the authoritative receive log for an epoch and the source for
// ACK frame emission.
type RangeSet struct {
	ranges []PacketRange
}

// Add inserts pn, extending or merging neighbouring ranges as needed.
// Inserting a packet number already in the set is a no-op.
func (s *RangeSet) Add(pn uint64) {
	// First range with Stop >= pn: the only candidate that can contain
	// or adjoin pn from below.
	i := sort.Search(len(s.ranges), func(i int) bool {
		return s.ranges[i].Stop >= pn
	})

	if i < len(s.ranges) {
		r := &s.ranges[i]
		if r.Contains(pn) {
			return
		}
		if r.Stop == pn {
			// Extend upwards, possibly merging with the next range.
			r.Stop++
			if i+1 < len(s.ranges) && s.ranges[i+1].Start == r.Stop {
				r.Stop = s.ranges[i+1].Stop
				s.ranges = append(s.ranges[:i+1], s.ranges[i+2:]...)
			}
			return
		}
		if r.Start == pn+1 {
			r.Start = pn
			return
		}
	}

	s.ranges = append(s.ranges, PacketRange{})
	copy(s.ranges[i+1:], s.ranges[i:])
	s.ranges[i] = PacketRange{Start: pn, Stop: pn + 1}
}

// Contains reports whether pn has been recorded.
func (s *RangeSet) Contains(pn uint64) bool {
	i := sort.Search(len(s.ranges), func(i int) bool {
		return s.ranges[i].Stop > pn
	})
	return i < len(s.ranges) && s.ranges[i].Contains(pn)
}

// Len returns the number of disjoint ranges.
func (s *RangeSet) Len() int { return len(s.ranges) }

// IsEmpty reports whether no packet number has been recorded.
func (s *RangeSet) IsEmpty() bool { return len(s.ranges) == 0 }

// Range returns the i-th range in ascending order of lower bound.
// ACK emission walks from Len()-1 down to 0.
func (s *RangeSet) Range(i int) PacketRange { return s.ranges[i] }
