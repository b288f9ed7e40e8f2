package compose

import (
	"fmt"
)

// =============================================================================
// Validation
// =============================================================================

// Validate checks the cross-references of a parsed config. Unlike the
// structural checks in Parse, it reports every violation at once as a
// *ValidationError. Each violation is a *ComposeError naming the key path.
func Validate(cfg *DeploymentConfig) error {
	verr := &ValidationError{}

	for _, svc := range cfg.Services {
		path := childPath("services", svc.Name)

		if svc.Image == "" && svc.Build == nil {
			verr.Add(NewComposeError(path, "service must have image or build", ErrServiceNoImage))
		}

		for i, dep := range svc.DependsOn {
			if _, ok := cfg.Service(dep); !ok {
				verr.Add(NewComposeError(indexPath(childPath(path, "depends_on"), i),
					fmt.Sprintf("depends on undefined service %q", dep), ErrUnknownDependency))
			}
		}

		for i, name := range svc.Networks {
			if _, ok := cfg.Network(name); !ok {
				verr.Add(NewComposeError(indexPath(childPath(path, "networks"), i),
					fmt.Sprintf("undefined network %q", name), ErrUnknownNetwork))
			}
		}

		for i, m := range svc.Mounts {
			if m.Type != MountTypeVolume || m.Source == "" {
				continue
			}
			if _, ok := cfg.Volume(m.Source); !ok {
				verr.Add(NewComposeError(indexPath(childPath(path, "volumes"), i),
					fmt.Sprintf("undefined volume %q", m.Source), ErrUnknownVolume))
			}
		}

		if hc := svc.HealthCheck; hc != nil && hc.Retries != nil && *hc.Retries < 0 {
			verr.Add(NewComposeError(childPath(path, "healthcheck.retries"),
				fmt.Sprintf("retries must be non-negative, got %d", *hc.Retries), ErrInvalidHealthCheck))
		}
	}

	return verr.Err()
}
