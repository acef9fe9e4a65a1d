package cmd

import (
	"os"

	"github.com/faultsys/alertrelay/internal/config"
)

// Overrides are the command-line values that win over file and environment.
// Zero values leave the lower layers untouched.
type Overrides struct {
	Port     int
	Upstream string
	Debug    bool
}

// ResolveConfig builds the effective configuration: defaults, then the YAML
// file at path, then ALERTRELAY_* environment variables, then overrides. The
// result is validated. A missing file is tolerated when optional is true.
func ResolveConfig(path string, optional bool, overrides Overrides, lookup func(string) (string, bool)) (*config.Config, error) {
	cfg, err := config.LoadConfigOptional(path, optional)
	if err != nil {
		return nil, err
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err = cfg.ApplyEnv(lookup); err != nil {
		return nil, err
	}
	if overrides.Port > 0 {
		cfg.Server.Port = overrides.Port
	}
	if overrides.Upstream != "" {
		if err = cfg.SetUpstream(overrides.Upstream); err != nil {
			return nil, err
		}
	}
	if overrides.Debug {
		cfg.Debug = true
	}
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
