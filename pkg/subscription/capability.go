package subscription

import (
	"fmt"
	"math/bits"
	"strings"
)

// Capability is a single feature flag gated by tier.
type Capability uint32

const (
	CapabilityMatchTracking Capability = 1 << iota
	CapabilityBasicStats
	CapabilityTeamManagement
	CapabilityPlayerProfiles
	CapabilityAdvancedStats
	CapabilityReportExport
	CapabilityMultiDeviceSync
	CapabilityVideoTagging

	capabilitySentinel
)

var capabilityNames = map[Capability]string{
	CapabilityMatchTracking:   "match_tracking",
	CapabilityBasicStats:      "basic_stats",
	CapabilityTeamManagement:  "team_management",
	CapabilityPlayerProfiles:  "player_profiles",
	CapabilityAdvancedStats:   "advanced_stats",
	CapabilityReportExport:    "report_export",
	CapabilityMultiDeviceSync: "multi_device_sync",
	CapabilityVideoTagging:    "video_tagging",
}

func (c Capability) String() string {
	if name, ok := capabilityNames[c]; ok {
		return name
	}
	return fmt.Sprintf("capability(%d)", uint32(c))
}

// ParseCapability resolves a capability by its wire name.
func ParseCapability(name string) (Capability, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for c, n := range capabilityNames {
		if n == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown capability %q", name)
}

// CapabilitySet is a closed set of capabilities.
type CapabilitySet uint32

// Capabilities builds a set from individual capabilities.
func Capabilities(cs ...Capability) CapabilitySet {
	var s CapabilitySet
	for _, c := range cs {
		s |= CapabilitySet(c)
	}
	return s
}

// With returns a superset of s that also contains cs.
func (s CapabilitySet) With(cs ...Capability) CapabilitySet {
	return s | Capabilities(cs...)
}

// Has reports whether c is a member of s.
func (s CapabilitySet) Has(c Capability) bool {
	return c != 0 && s&CapabilitySet(c) == CapabilitySet(c)
}

// Contains reports whether s is a superset of other.
func (s CapabilitySet) Contains(other CapabilitySet) bool {
	return s&other == other
}

// Len returns the number of capabilities in s.
func (s CapabilitySet) Len() int {
	return bits.OnesCount32(uint32(s))
}

// List returns the members of s in declaration order.
func (s CapabilitySet) List() []Capability {
	out := make([]Capability, 0, s.Len())
	for c := Capability(1); c < capabilitySentinel; c <<= 1 {
		if s.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// Names returns the wire names of the members of s.
func (s CapabilitySet) Names() []string {
	list := s.List()
	names := make([]string, len(list))
	for i, c := range list {
		names[i] = c.String()
	}
	return names
}

// Tier capability sets. Each set extends the one below it.
var (
	freeCapabilities  = Capabilities(CapabilityMatchTracking, CapabilityBasicStats)
	basicCapabilities = freeCapabilities.With(CapabilityTeamManagement, CapabilityPlayerProfiles, CapabilityReportExport)
	proCapabilities   = basicCapabilities.With(CapabilityAdvancedStats, CapabilityMultiDeviceSync, CapabilityVideoTagging)
)
