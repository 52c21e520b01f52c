package config

import (
	"fmt"
	"sort"
)

var profiles = map[string]func(cfg *Config){
	// quick: firmware tier first, a single overwrite pass if it comes to that.
	"quick": func(cfg *Config) {
		cfg.Erase.OverwritePasses = 1
		cfg.Erase.NativeRandomPasses = 0
		cfg.Verify.Samples = 256
	},
	"standard": func(cfg *Config) {
		cfg.Erase.OverwritePasses = 3
		cfg.Erase.NativeRandomPasses = 0
		cfg.Verify.Samples = 256
	},
	"thorough": func(cfg *Config) {
		cfg.Erase.OverwritePasses = 7
		cfg.Erase.NativeRandomPasses = 2
		cfg.Erase.BoundaryZeroMiB = 256
		cfg.Verify.Samples = 4096
	},
}

// ApplyProfile overlays a named profile onto cfg.
func ApplyProfile(cfg *Config, profile string) error {
	apply, ok := profiles[profile]
	if !ok {
		return fmt.Errorf("unknown profile %q (known: %v)", profile, ProfileNames())
	}
	apply(cfg)
	return nil
}

func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
