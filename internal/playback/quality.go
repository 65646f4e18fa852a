package playback

import (
	"fmt"
	"strings"
)

// QualityTier caps the delivery quality of a fetched video resource.
// TierAuto is resolved to a concrete tier at materialization time based
// on the current network class; the other tiers are fixed caps.
type QualityTier int

const (
	TierLow QualityTier = iota
	TierAuto
	TierMedium
	TierHigh
)

func (t QualityTier) String() string {
	switch t {
	case TierLow:
		return "low"
	case TierAuto:
		return "auto"
	case TierMedium:
		return "medium"
	case TierHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ParseTier maps a wire/env string to a QualityTier.
func ParseTier(s string) (QualityTier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return TierLow, nil
	case "auto", "":
		return TierAuto, nil
	case "medium":
		return TierMedium, nil
	case "high":
		return TierHigh, nil
	default:
		return TierAuto, fmt.Errorf("unknown quality tier %q", s)
	}
}

// NetworkClass is the coarse reachability/cost classification of the
// current network connection.
type NetworkClass int

const (
	NetOffline NetworkClass = iota
	NetExpensive
	NetUnrestricted
)

func (n NetworkClass) String() string {
	switch n {
	case NetOffline:
		return "offline"
	case NetExpensive:
		return "expensive"
	case NetUnrestricted:
		return "unrestricted"
	default:
		return "unknown"
	}
}

// ParseNetworkClass maps an env string to a NetworkClass.
// Unknown values default to unrestricted.
func ParseNetworkClass(s string) NetworkClass {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "offline":
		return NetOffline
	case "expensive", "metered":
		return NetExpensive
	default:
		return NetUnrestricted
	}
}

// NetworkClassifier reports the current network class. Implementations
// may poll or subscribe to change notifications; the selector queries it
// once per fresh resource materialization.
type NetworkClassifier interface {
	Class() NetworkClass
}

// StaticClassifier always reports a fixed network class.
type StaticClassifier NetworkClass

func (c StaticClassifier) Class() NetworkClass { return NetworkClass(c) }

// QualitySelector resolves a requested tier to the tier actually used
// for a fetch. Fixed tiers pass through unchanged; auto degrades to low
// on expensive or offline networks and otherwise resolves to AutoTier.
type QualitySelector struct {
	Network NetworkClassifier
	// AutoTier is the tier auto resolves to on an unrestricted network.
	// Low is not a valid target here (it is what constrained networks
	// degrade to), so Low — which is also the zero value — resolves to
	// medium.
	AutoTier QualityTier
}

func (s *QualitySelector) Resolve(requested QualityTier) QualityTier {
	if requested != TierAuto {
		return requested
	}
	auto := TierMedium
	if s != nil && s.AutoTier != TierAuto && s.AutoTier != TierLow {
		auto = s.AutoTier
	}
	if s == nil || s.Network == nil {
		return auto
	}
	switch s.Network.Class() {
	case NetOffline, NetExpensive:
		return TierLow
	default:
		return auto
	}
}
