package connectoragents

import (
	"testing"

	"github.com/google/uuid"
)

func TestProvenanceStringRoundTrip(t *testing.T) {
	p := Provenance{UUID: NewProvenanceUUID(), Index: 2, Fanout: 5}
	parsed, err := ParseProvenance(p.String())
	if err != nil {
		t.Fatalf("ParseProvenance: %v", err)
	}
	if parsed != p {
		t.Fatalf("round trip mismatch: got %+v, want %+v", parsed, p)
	}
}

func TestParseProvenanceMalformed(t *testing.T) {
	cases := []string{"", "abc", "not-a-uuid:1:2", uuid.New().String() + ":x:2"}
	for _, c := range cases {
		if _, err := ParseProvenance(c); err == nil {
			t.Errorf("ParseProvenance(%q): expected error, got nil", c)
		}
	}
}

func TestSuffixSetIgnoresSingleFanout(t *testing.T) {
	u := NewProvenanceUUID()
	chain := []Provenance{{UUID: u, Index: 0, Fanout: 1}, {UUID: u, Index: 3, Fanout: 5}}
	set := suffixSet(chain)
	if _, ok := set[":0:1"]; ok {
		t.Fatalf("fanout<=1 segment should not contribute a suffix key")
	}
	if _, ok := set[":3:5"]; !ok {
		t.Fatalf("expected suffix key :3:5 to be present")
	}
}

func TestIsAlreadyAggregated(t *testing.T) {
	u := NewProvenanceUUID()
	if isAlreadyAggregated(nil) {
		t.Fatalf("empty chain must not be considered already-aggregated")
	}
	if !isAlreadyAggregated([]Provenance{{UUID: u, Index: 0, Fanout: 1}}) {
		t.Fatalf("expected :0:1-terminated chain to be already-aggregated")
	}
	if isAlreadyAggregated([]Provenance{{UUID: u, Index: 1, Fanout: 3}}) {
		t.Fatalf("did not expect :1:3-terminated chain to be already-aggregated")
	}
}

func TestLongestCommonPrefix(t *testing.T) {
	a := NewProvenanceUUID()
	b := NewProvenanceUUID()
	shared := []Provenance{{UUID: a, Index: 0, Fanout: 1}, {UUID: b, Index: 0, Fanout: 1}}
	chain1 := append(append([]Provenance{}, shared...), Provenance{UUID: NewProvenanceUUID(), Index: 0, Fanout: 2})
	chain2 := append(append([]Provenance{}, shared...), Provenance{UUID: NewProvenanceUUID(), Index: 1, Fanout: 2})

	got := longestCommonPrefix([][]Provenance{chain1, chain2})
	if len(got) != len(shared) {
		t.Fatalf("expected prefix length %d, got %d: %+v", len(shared), len(got), got)
	}
	for i := range shared {
		if got[i] != shared[i] {
			t.Fatalf("prefix[%d] = %+v, want %+v", i, got[i], shared[i])
		}
	}
}

func TestLongestCommonPrefixEmpty(t *testing.T) {
	if got := longestCommonPrefix(nil); got != nil {
		t.Fatalf("expected nil for no chains, got %+v", got)
	}
}
