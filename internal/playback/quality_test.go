package playback

import "testing"

func TestResolveFixedTiersPassThrough(t *testing.T) {
	s := &QualitySelector{Network: StaticClassifier(NetOffline)}
	for _, tier := range []QualityTier{TierLow, TierMedium, TierHigh} {
		if got := s.Resolve(tier); got != tier {
			t.Fatalf("fixed tier %s resolved to %s", tier, got)
		}
	}
}

func TestResolveAuto(t *testing.T) {
	cases := []struct {
		name    string
		network NetworkClass
		want    QualityTier
	}{
		{"offline degrades to low", NetOffline, TierLow},
		{"expensive degrades to low", NetExpensive, TierLow},
		{"unrestricted resolves to default", NetUnrestricted, TierMedium},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &QualitySelector{Network: StaticClassifier(tc.network)}
			if got := s.Resolve(TierAuto); got != tc.want {
				t.Fatalf("auto on %s: expected %s, got %s", tc.network, tc.want, got)
			}
		})
	}
}

func TestResolveAutoHonorsConfiguredTier(t *testing.T) {
	s := &QualitySelector{Network: StaticClassifier(NetUnrestricted), AutoTier: TierHigh}
	if got := s.Resolve(TierAuto); got != TierHigh {
		t.Fatalf("expected high, got %s", got)
	}
}

func TestResolveAutoTierLowFallsBackToMedium(t *testing.T) {
	// Low is not a valid auto-resolution target; both it and the unset
	// zero value mean medium.
	s := &QualitySelector{Network: StaticClassifier(NetUnrestricted), AutoTier: TierLow}
	if got := s.Resolve(TierAuto); got != TierMedium {
		t.Fatalf("expected medium, got %s", got)
	}
}

func TestResolveNilSelector(t *testing.T) {
	var s *QualitySelector
	if got := s.Resolve(TierAuto); got != TierMedium {
		t.Fatalf("nil selector: expected medium, got %s", got)
	}
}

func TestParseTier(t *testing.T) {
	cases := []struct {
		in      string
		want    QualityTier
		wantErr bool
	}{
		{"low", TierLow, false},
		{"AUTO", TierAuto, false},
		{"", TierAuto, false},
		{" medium ", TierMedium, false},
		{"high", TierHigh, false},
		{"4k", TierAuto, true},
	}
	for _, tc := range cases {
		got, err := ParseTier(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseTier(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseTier(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseTier(%q): expected %s, got %s", tc.in, tc.want, got)
		}
	}
}

func TestParseNetworkClass(t *testing.T) {
	if got := ParseNetworkClass("offline"); got != NetOffline {
		t.Fatalf("expected offline, got %s", got)
	}
	if got := ParseNetworkClass("metered"); got != NetExpensive {
		t.Fatalf("expected expensive, got %s", got)
	}
	if got := ParseNetworkClass("anything-else"); got != NetUnrestricted {
		t.Fatalf("expected unrestricted, got %s", got)
	}
}
