// Package ipscreen screens transaction origin IPs: VPN/proxy heuristics,
// per-IP traffic density, and shared-IP account linking feeding the
// contagion graph.
package ipscreen

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const (
	// trafficWindow is the density observation window.
	trafficWindow = 24 * time.Hour

	// densityThreshold flags an IP producing more transactions than this
	// within the window.
	densityThreshold = 50

	// maxSharedAccounts caps how many distinct accounts are remembered
	// per IP for link building.
	maxSharedAccounts = 5
)

// vpnRanges lists CIDR blocks of known VPN exits and hosting providers
// commonly used as proxies. Deliberately conservative; operators extend
// it via configuration reload in a later iteration.
var vpnRanges = []string{
	"185.220.100.0/22", // Tor exit range
	"104.16.0.0/12",    // large CDN/proxy space
	"45.56.0.0/16",     // hosting
	"172.98.0.0/16",    // VPN provider
	"196.240.54.0/24",  // VPN provider
}

// Result is the screening outcome for one IP.
type Result struct {
	IPAddress    string   `json:"ip_address"`
	Flagged      bool     `json:"flagged"`
	Confidence   float64  `json:"confidence"`
	Reasons      []string `json:"reasons,omitempty"`
	TrafficCount int      `json:"traffic_count"`
}

// Screener evaluates origin IPs. Traffic counts prefer the cache's
// windowed counters and fall back to the repository; a failure of both
// degrades to a zero count rather than failing the caller.
type Screener struct {
	repo   domain.Repository
	cache  domain.Cache
	logger *slog.Logger
	nets   []*net.IPNet

	mu     sync.Mutex
	shared map[string][]sharedEntry
}

type sharedEntry struct {
	accountID string
	seen      time.Time
}

// NewScreener creates a screener. Repo and cache may each be nil; the
// corresponding signal is then skipped.
func NewScreener(repo domain.Repository, cache domain.Cache, logger *slog.Logger) *Screener {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Screener{
		repo:   repo,
		cache:  cache,
		logger: logger,
		shared: make(map[string][]sharedEntry),
	}
	for _, cidr := range vpnRanges {
		if _, n, err := net.ParseCIDR(cidr); err == nil {
			s.nets = append(s.nets, n)
		}
	}
	return s
}

// Screen evaluates one IP address.
func (s *Screener) Screen(ctx context.Context, ipAddress string) Result {
	res := Result{IPAddress: ipAddress}

	ip := net.ParseIP(ipAddress)
	if ip == nil {
		res.Flagged = true
		res.Confidence = 0.5
		res.Reasons = append(res.Reasons, "unparseable IP address")
		return res
	}

	if ip.IsLoopback() || ip.IsUnspecified() {
		res.Reasons = append(res.Reasons, "loopback or unspecified address")
		res.Confidence += 0.3
	} else if ip.IsPrivate() {
		res.Reasons = append(res.Reasons, "private network address")
		res.Confidence += 0.2
	}

	for _, n := range s.nets {
		if n.Contains(ip) {
			res.Reasons = append(res.Reasons, fmt.Sprintf("known VPN/proxy range %s", n))
			res.Confidence += 0.6
			break
		}
	}

	res.TrafficCount = s.trafficCount(ctx, ipAddress)
	if res.TrafficCount > densityThreshold {
		res.Reasons = append(res.Reasons,
			fmt.Sprintf("high traffic density: %d transactions in 24h", res.TrafficCount))
		res.Confidence += 0.4
	}

	if res.Confidence > 1 {
		res.Confidence = 1
	}
	res.Flagged = res.Confidence >= 0.5
	return res
}

func (s *Screener) trafficCount(ctx context.Context, ipAddress string) int {
	if s.cache != nil {
		count, err := s.cache.IncrementCounter(ctx, "ip:"+ipAddress, trafficWindow)
		if err == nil {
			return int(count)
		}
		s.logger.Warn("ip counter unavailable, falling back to repository",
			"ip", ipAddress, "error", err)
	}

	if s.repo != nil {
		count, err := s.repo.CountTransactionsByIP(ctx, ipAddress, time.Now().UTC().Add(-trafficWindow))
		if err == nil {
			return count
		}
		s.logger.Warn("ip traffic lookup failed", "ip", ipAddress, "error", err)
	}
	return 0
}

// RegisterAccount remembers that an account transacted from an IP and
// returns the other accounts recently seen on the same IP. Callers feed
// the result into the contagion graph as shared-attribute links.
func (s *Screener) RegisterAccount(ipAddress, accountID string) []string {
	if ipAddress == "" || accountID == "" {
		return nil
	}
	now := time.Now().UTC()
	cutoff := now.Add(-trafficWindow)

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.shared[ipAddress]
	var others []string
	kept := entries[:0]
	for _, e := range entries {
		if e.seen.Before(cutoff) {
			continue
		}
		if e.accountID == accountID {
			continue
		}
		kept = append(kept, e)
		others = append(others, e.accountID)
	}

	kept = append(kept, sharedEntry{accountID: accountID, seen: now})
	if len(kept) > maxSharedAccounts {
		kept = kept[len(kept)-maxSharedAccounts:]
	}
	s.shared[ipAddress] = kept

	return others
}
