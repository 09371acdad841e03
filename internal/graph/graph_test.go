package graph

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newTestAnalyzer() *Analyzer {
	return NewAnalyzer(domain.DefaultEngineConfig())
}

func TestIsNearMuleWithinTwoHops(t *testing.T) {
	a := newTestAnalyzer()

	// chain: alice - bob - carol - dave; carol is a mule
	a.RecordLink("alice", "bob", 1)
	a.RecordLink("bob", "carol", 1)
	a.RecordLink("carol", "dave", 1)
	a.MarkMule("carol")

	tests := []struct {
		account string
		want    bool
	}{
		{"carol", true}, // the mule itself
		{"bob", true},   // 1 hop
		{"dave", true},  // 1 hop
		{"alice", true}, // 2 hops
		{"isolated", false},
	}

	for _, tt := range tests {
		if got := a.IsNearMule(tt.account); got != tt.want {
			t.Errorf("IsNearMule(%q) = %v, want %v", tt.account, got, tt.want)
		}
	}
}

func TestIsNearMuleBeyondDepth(t *testing.T) {
	a := newTestAnalyzer()

	// chain of length 3 to the mule: eve is 3 hops away
	a.RecordLink("eve", "n1", 1)
	a.RecordLink("n1", "n2", 1)
	a.RecordLink("n2", "mule", 1)
	a.MarkMule("mule")

	if a.IsNearMule("eve") {
		t.Error("account 3 hops away must not flag with depth 2")
	}
	if !a.IsNearMule("n1") {
		t.Error("account 2 hops away must flag")
	}
}

func TestIsNearMuleIsolated(t *testing.T) {
	a := newTestAnalyzer()
	a.MarkMule("somewhere")

	if a.IsNearMule("loner") {
		t.Error("isolated account must not flag")
	}
}

func TestIsNearMuleCycle(t *testing.T) {
	a := newTestAnalyzer()

	// triangle with no mule: traversal must terminate
	a.RecordLink("x", "y", 1)
	a.RecordLink("y", "z", 1)
	a.RecordLink("z", "x", 1)

	if a.IsNearMule("x") {
		t.Error("cycle without mules must not flag")
	}
}

func TestRecordLinkAccumulatesWeight(t *testing.T) {
	a := newTestAnalyzer()

	a.RecordLink("alice", "bob", 1)
	a.RecordLink("alice", "bob", 2)
	a.RecordLink("alice", "alice", 5) // self-link ignored

	nodes, edges, _ := a.Stats()
	if nodes != 2 || edges != 1 {
		t.Errorf("stats = %d nodes / %d edges, want 2 / 1", nodes, edges)
	}

	a.mu.RLock()
	w := a.adj["alice"]["bob"].weight
	a.mu.RUnlock()
	if w != 3 {
		t.Errorf("edge weight = %v, want 3", w)
	}
}

func TestPrune(t *testing.T) {
	a := newTestAnalyzer()

	a.RecordLink("alice", "bob", 1)

	// Age the edge artificially.
	a.mu.Lock()
	for node, neighbors := range a.adj {
		for to, e := range neighbors {
			e.lastSeen = time.Now().UTC().Add(-48 * time.Hour)
			a.adj[node][to] = e
		}
	}
	a.mu.Unlock()

	a.RecordLink("bob", "carol", 1)

	removed := a.Prune(24 * time.Hour)
	if removed != 2 {
		t.Errorf("removed %d edge halves, want 2", removed)
	}

	nodes, edges, _ := a.Stats()
	if edges != 1 {
		t.Errorf("edges after prune = %d, want 1", edges)
	}
	if nodes != 2 {
		t.Errorf("nodes after prune = %d, want 2", nodes)
	}

	if a.IsNearMule("alice") {
		t.Error("pruned link must not propagate")
	}
}

func TestConcurrentTraversalAndWrites(t *testing.T) {
	a := newTestAnalyzer()
	a.MarkMule("mule")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				account := fmt.Sprintf("acct-%d-%d", i, j)
				a.RecordLink(account, "mule", 1)
				if !a.IsNearMule(account) {
					t.Errorf("%s linked to mule must flag", account)
					return
				}
			}
		}(i)
	}
	wg.Wait()
}
