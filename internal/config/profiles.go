package config

import "sort"

// Profile describes a known target SKU.
type Profile struct {
	Name             string
	CoreCount        int
	ModuleOfInterest string
	HotspotAddress   uint64
	UncoreSupported  bool
	ProtocolVersion  uint32
}

var profiles = map[string]Profile{
	"ApolloLakePremiumSKU": {
		Name:             "ApolloLakePremiumSKU",
		CoreCount:        4,
		ModuleOfInterest: "/usr/user/test",
		HotspotAddress:   0x804900F,
		ProtocolVersion:  6,
	},
	"Xeon": {
		Name:             "Xeon",
		CoreCount:        88,
		ModuleOfInterest: "/home/vtune/workspace/sampling/ref_tests/apps/one_test/test",
		HotspotAddress:   0x400B0D,
		ProtocolVersion:  6,
	},
}

func LookupProfile(name string) (Profile, bool) {
	p, ok := profiles[name]
	return p, ok
}

// ProfileNames returns the built-in profile names, sorted.
func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Apply copies the profile's target description onto cfg.
func (p Profile) Apply(cfg Config) Config {
	cfg.Profile = p.Name
	cfg.CoreCount = p.CoreCount
	cfg.ModuleOfInterest = p.ModuleOfInterest
	cfg.HotspotAddress = p.HotspotAddress
	cfg.UncoreSupported = p.UncoreSupported
	cfg.ProtocolVersion = p.ProtocolVersion
	return cfg
}
