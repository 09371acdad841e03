// Package graph maintains the account relationship graph and propagates
// fraud suspicion from confirmed mule accounts to their neighborhoods.
package graph

import (
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// edge is one directed half of a shared-attribute link.
type edge struct {
	weight   float64
	lastSeen time.Time
}

// Analyzer holds the contagion graph: adjacency keyed by stable account
// IDs, never live object pointers. The hot path only appends edges and
// runs bounded read traversals; pruning is a maintenance task.
type Analyzer struct {
	maxHops int

	mu    sync.RWMutex
	adj   map[string]map[string]edge
	mules map[string]time.Time
}

// NewAnalyzer creates an empty graph with the configured search depth.
func NewAnalyzer(cfg domain.EngineConfig) *Analyzer {
	return &Analyzer{
		maxHops: cfg.GraphMaxHops,
		adj:     make(map[string]map[string]edge),
		mules:   make(map[string]time.Time),
	}
}

// RecordLink adds or strengthens a shared-attribute link between two
// accounts. Self-links are ignored.
func (a *Analyzer) RecordLink(accountA, accountB string, weight float64) {
	if accountA == accountB || accountA == "" || accountB == "" {
		return
	}
	now := time.Now().UTC()

	a.mu.Lock()
	defer a.mu.Unlock()
	a.link(accountA, accountB, weight, now)
	a.link(accountB, accountA, weight, now)
}

func (a *Analyzer) link(from, to string, weight float64, now time.Time) {
	neighbors, ok := a.adj[from]
	if !ok {
		neighbors = make(map[string]edge)
		a.adj[from] = neighbors
	}
	e := neighbors[to]
	e.weight += weight
	e.lastSeen = now
	neighbors[to] = e
}

// MarkMule flags an account as confirmed fraudulent.
func (a *Analyzer) MarkMule(accountID string) {
	if accountID == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mules[accountID] = time.Now().UTC()
}

// IsMule reports whether the account itself is confirmed.
func (a *Analyzer) IsMule(accountID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.mules[accountID]
	return ok
}

// IsNearMule runs a bounded breadth-first search from the account and
// reports whether any node within maxHops is a confirmed mule. The
// starting account counts as within reach.
func (a *Analyzer) IsNearMule(accountID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if _, ok := a.mules[accountID]; ok {
		return true
	}

	visited := map[string]bool{accountID: true}
	frontier := []string{accountID}

	for hop := 0; hop < a.maxHops; hop++ {
		var next []string
		for _, node := range frontier {
			for neighbor := range a.adj[node] {
				if visited[neighbor] {
					continue
				}
				if _, ok := a.mules[neighbor]; ok {
					return true
				}
				visited[neighbor] = true
				next = append(next, neighbor)
			}
		}
		if len(next) == 0 {
			break
		}
		frontier = next
	}

	return false
}

// Prune drops edges not refreshed within maxAge and removes emptied
// nodes. Returns the number of edges removed. Maintenance only; never
// called on the scoring path.
func (a *Analyzer) Prune(maxAge time.Duration) int {
	cutoff := time.Now().UTC().Add(-maxAge)

	a.mu.Lock()
	defer a.mu.Unlock()

	removed := 0
	for node, neighbors := range a.adj {
		for to, e := range neighbors {
			if e.lastSeen.Before(cutoff) {
				delete(neighbors, to)
				removed++
			}
		}
		if len(neighbors) == 0 {
			delete(a.adj, node)
		}
	}
	return removed
}

// Stats returns current node, edge and mule counts.
func (a *Analyzer) Stats() (nodes, edges, mules int) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for _, neighbors := range a.adj {
		edges += len(neighbors)
	}
	return len(a.adj), edges / 2, len(a.mules)
}
