package connectoragents

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Provenance is one segment of a message's provenance chain: the fresh
// identifier minted by a single Port.Send call, the surviving index of this
// particular copy, and the total fan-out size of that send. Segments are
// stored as a value type rather than as the
// "<uuid>:<index>:<fanout>" string the original implementation used; String
// produces that canonical form only for snapshots and log lines.
type Provenance struct {
	UUID   uuid.UUID
	Index  uint32
	Fanout uint32
}

// NewProvenanceChain appends a fresh segment to a copy of parents, used by
// Port.Send to tag each of the N surviving elements of one emission.
func NewProvenanceChain(parents []Provenance, u uuid.UUID, index, fanout uint32) []Provenance {
	next := make([]Provenance, len(parents)+1)
	copy(next, parents)
	next[len(parents)] = Provenance{UUID: u, Index: index, Fanout: fanout}
	return next
}

// String renders the canonical "uuid:index:fanout" form.
func (p Provenance) String() string {
	return fmt.Sprintf("%s:%d:%d", p.UUID, p.Index, p.Fanout)
}

// ParseProvenance is the inverse of String, used only by the snapshot codec
// and logging — never on the dispatch hot path.
func ParseProvenance(s string) (Provenance, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return Provenance{}, fmt.Errorf("connectoragents: malformed provenance segment %q", s)
	}
	u, err := uuid.Parse(parts[0])
	if err != nil {
		return Provenance{}, fmt.Errorf("connectoragents: malformed provenance uuid %q: %w", s, err)
	}
	idx, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return Provenance{}, fmt.Errorf("connectoragents: malformed provenance index %q: %w", s, err)
	}
	fanout, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return Provenance{}, fmt.Errorf("connectoragents: malformed provenance fanout %q: %w", s, err)
	}
	return Provenance{UUID: u, Index: uint32(idx), Fanout: uint32(fanout)}, nil
}

// suffixKey returns the ":idx:fanout" suffix of a segment whose Fanout > 1,
// used by the multi-input aggregate alignment search.
// Segments with Fanout <= 1 never participate in alignment — they came from
// a non-fan-out send and carry no synchronising information.
func (p Provenance) suffixKey() (string, bool) {
	if p.Fanout <= 1 {
		return "", false
	}
	return fmt.Sprintf(":%d:%d", p.Index, p.Fanout), true
}

// suffixSet reduces a provenance chain to the set of suffix keys of its
// fan-out (>1) segments, per MultiPortAgent.py's extract_parents_with_suffix.
func suffixSet(chain []Provenance) map[string]struct{} {
	set := make(map[string]struct{}, len(chain))
	for _, seg := range chain {
		if key, ok := seg.suffixKey(); ok {
			set[key] = struct{}{}
		}
	}
	return set
}

// isAlreadyAggregated reports whether chain's final segment already has the
// "0:1" index:fanout shape the List Collector Port rewrites onto a released
// batch — used to raise ErrAlreadyAggregated defensively.
func isAlreadyAggregated(chain []Provenance) bool {
	if len(chain) == 0 {
		return false
	}
	last := chain[len(chain)-1]
	return last.Index == 0 && last.Fanout == 1
}

// longestCommonPrefix returns the longest shared leading run of provenance
// segments across all given chains — the join_parents computation in
// aggregate multi-input mode, grounded on listutil.py's
// (misleadingly named) longest_common_sublist, which is actually a prefix
// comparison.
func longestCommonPrefix(chains [][]Provenance) []Provenance {
	if len(chains) == 0 {
		return nil
	}
	shortest := chains[0]
	for _, c := range chains[1:] {
		if len(c) < len(shortest) {
			shortest = c
		}
	}
	prefix := make([]Provenance, 0, len(shortest))
	for i := range shortest {
		seg := chains[0][i]
		for _, c := range chains[1:] {
			if c[i] != seg {
				return prefix
			}
		}
		prefix = append(prefix, seg)
	}
	return prefix
}
