package ipscreen

import (
	"context"
	"testing"

	"github.com/opensource-finance/kestrel/internal/cache"
)

func TestScreenClassification(t *testing.T) {
	s := NewScreener(nil, nil, nil)
	ctx := context.Background()

	tests := []struct {
		name        string
		ip          string
		wantFlagged bool
	}{
		{"public residential", "82.132.20.5", false},
		{"loopback", "127.0.0.1", false}, // suspicious but below flag cutoff alone
		{"private", "192.168.1.10", false},
		{"tor exit range", "185.220.101.7", true},
		{"vpn provider", "172.98.33.20", true},
		{"garbage", "not-an-ip", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := s.Screen(ctx, tt.ip)
			if res.Flagged != tt.wantFlagged {
				t.Errorf("Screen(%q).Flagged = %v (confidence %v, reasons %v), want %v",
					tt.ip, res.Flagged, res.Confidence, res.Reasons, tt.wantFlagged)
			}
			if res.Confidence < 0 || res.Confidence > 1 {
				t.Errorf("confidence %v outside [0,1]", res.Confidence)
			}
		})
	}
}

func TestScreenTrafficDensity(t *testing.T) {
	c := cache.NewLRUCache(100)
	s := NewScreener(nil, c, nil)
	ctx := context.Background()

	ip := "82.132.20.5"
	var res Result
	for i := 0; i <= densityThreshold+1; i++ {
		res = s.Screen(ctx, ip)
	}

	if res.TrafficCount <= densityThreshold {
		t.Fatalf("TrafficCount = %d, want > %d", res.TrafficCount, densityThreshold)
	}
	if len(res.Reasons) == 0 {
		t.Error("high-density IP must carry a reason")
	}
}

func TestRegisterAccountSharedIP(t *testing.T) {
	s := NewScreener(nil, nil, nil)
	ip := "82.132.20.5"

	if others := s.RegisterAccount(ip, "alice"); len(others) != 0 {
		t.Errorf("first account on IP sees others: %v", others)
	}
	if others := s.RegisterAccount(ip, "bob"); len(others) != 1 || others[0] != "alice" {
		t.Errorf("bob should see alice, got %v", others)
	}
	// Repeat registration does not report self or duplicate.
	if others := s.RegisterAccount(ip, "bob"); len(others) != 1 || others[0] != "alice" {
		t.Errorf("repeat registration got %v, want [alice]", others)
	}

	// Accounts on a different IP are unrelated.
	if others := s.RegisterAccount("9.9.9.9", "carol"); len(others) != 0 {
		t.Errorf("different IP sees others: %v", others)
	}
}

func TestRegisterAccountCapped(t *testing.T) {
	s := NewScreener(nil, nil, nil)
	ip := "82.132.20.5"

	names := []string{"a1", "a2", "a3", "a4", "a5", "a6", "a7"}
	var last []string
	for _, n := range names {
		last = s.RegisterAccount(ip, n)
	}

	if len(last) > maxSharedAccounts {
		t.Errorf("shared account list returned %d entries, cap is %d", len(last), maxSharedAccounts)
	}
}
