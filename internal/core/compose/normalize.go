package compose

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/compose-spec/compose-go/v2/format"
	"github.com/compose-spec/compose-go/v2/types"
	"github.com/docker/go-connections/nat"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Ports
// =============================================================================

// parsePorts normalizes the short and long port syntaxes.
func parsePorts(n *yaml.Node, path string) ([]PortBinding, error) {
	items, err := sequenceItems(n, path)
	if err != nil {
		return nil, err
	}

	var out []PortBinding
	for i, item := range items {
		itemPath := indexPath(path, i)
		item = resolve(item)

		if item.Kind == yaml.MappingNode {
			port, err := parseLongPort(item, itemPath)
			if err != nil {
				return nil, err
			}
			out = append(out, port)
			continue
		}

		spec, err := scalarString(item, itemPath)
		if err != nil {
			return nil, err
		}
		ports, err := parseShortPort(spec, itemPath)
		if err != nil {
			return nil, err
		}
		out = append(out, ports...)
	}
	return out, nil
}

// parseShortPort parses "[ip:][host:]container[/proto]", including ranges.
func parseShortPort(spec, path string) ([]PortBinding, error) {
	mappings, err := nat.ParsePortSpec(spec)
	if err != nil {
		return nil, NewComposeError(path, fmt.Sprintf("invalid port %q: %v", spec, err), ErrServiceInvalidPort)
	}

	out := make([]PortBinding, 0, len(mappings))
	for _, m := range mappings {
		container := m.Port.Int()
		if container <= 0 || container > 65535 {
			return nil, NewComposeError(path, fmt.Sprintf("invalid container port in %q", spec), ErrServiceInvalidPort)
		}
		host, err := parseHostPort(m.Binding.HostPort)
		if err != nil {
			return nil, NewComposeError(path, fmt.Sprintf("invalid host port in %q", spec), ErrServiceInvalidPort)
		}
		out = append(out, PortBinding{
			HostIP:    m.Binding.HostIP,
			Host:      host,
			Container: uint16(container),
			Protocol:  m.Port.Proto(),
		})
	}
	return out, nil
}

func parseLongPort(n *yaml.Node, path string) (PortBinding, error) {
	pairs, err := mappingPairs(n, path)
	if err != nil {
		return PortBinding{}, err
	}

	port := PortBinding{Protocol: "tcp"}
	for _, p := range pairs {
		keyPath := childPath(path, p.key)
		switch p.key {
		case "target":
			v, err := intValue(p.value, keyPath)
			if err != nil {
				return PortBinding{}, err
			}
			if v <= 0 || v > 65535 {
				return PortBinding{}, NewComposeError(keyPath, fmt.Sprintf("port %d out of range", v), ErrServiceInvalidPort)
			}
			port.Container = uint16(v)
		case "published":
			s, err := scalarString(p.value, keyPath)
			if err != nil {
				return PortBinding{}, err
			}
			if port.Host, err = parseHostPort(s); err != nil {
				return PortBinding{}, NewComposeError(keyPath, fmt.Sprintf("invalid published port %q", s), ErrServiceInvalidPort)
			}
		case "protocol":
			s, err := scalarString(p.value, keyPath)
			if err != nil {
				return PortBinding{}, err
			}
			switch s = strings.ToLower(s); s {
			case "tcp", "udp", "sctp":
				port.Protocol = s
			default:
				return PortBinding{}, NewComposeError(keyPath, fmt.Sprintf("unknown protocol %q", s), ErrServiceInvalidPort)
			}
		case "host_ip":
			if port.HostIP, err = scalarString(p.value, keyPath); err != nil {
				return PortBinding{}, err
			}
		case "mode", "name", "app_protocol":
			// Informational only outside swarm.
		default:
			return PortBinding{}, unsupported(keyPath)
		}
	}

	if port.Container == 0 {
		return PortBinding{}, NewComposeError(childPath(path, "target"), "target port is required", ErrServiceInvalidPort)
	}
	return port, nil
}

func parseHostPort(s string) (uint16, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, err
	}
	return uint16(n), nil
}

// =============================================================================
// Mounts
// =============================================================================

var mountModes = map[string]bool{
	"ro": true, "rw": true, "z": true, "Z": true, "nocopy": true,
	"cached": true, "delegated": true, "consistent": true,
	"shared": true, "rshared": true, "slave": true, "rslave": true,
	"private": true, "rprivate": true,
}

func splitMode(mode string) []string {
	if mode == "" {
		return nil
	}
	return strings.Split(mode, ",")
}

// parseMounts normalizes the short and long volume syntaxes.
func parseMounts(n *yaml.Node, path string) ([]Mount, error) {
	items, err := sequenceItems(n, path)
	if err != nil {
		return nil, err
	}

	out := make([]Mount, 0, len(items))
	for i, item := range items {
		itemPath := indexPath(path, i)
		item = resolve(item)

		var m Mount
		if item.Kind == yaml.MappingNode {
			m, err = parseLongMount(item, itemPath)
		} else {
			var spec string
			if spec, err = scalarString(item, itemPath); err == nil {
				m, err = parseShortMount(spec, itemPath)
			}
		}
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// parseShortMount parses "[source:]target[:mode]". Sources that look like
// paths, Windows drives included, are bind mounts; anything else names a
// volume.
func parseShortMount(spec, path string) (Mount, error) {
	vol, err := format.ParseVolume(spec)
	if err != nil {
		return Mount{}, NewComposeError(path, fmt.Sprintf("invalid volume %q: %v", spec, err), ErrServiceInvalidVolume)
	}

	m := Mount{Type: MountTypeVolume, Source: vol.Source, Target: vol.Target}
	if vol.Type == types.VolumeTypeBind {
		m.Type = MountTypeBind
	}

	// ParseVolume drops options it does not know, so the mode is taken from
	// the text after the target and checked by validateMount.
	rest := spec
	if vol.Source != "" {
		rest = strings.TrimPrefix(rest, vol.Source+":")
	}
	m.Mode = strings.TrimPrefix(strings.TrimPrefix(rest, vol.Target), ":")

	if err := validateMount(m, path); err != nil {
		return Mount{}, err
	}
	return m, nil
}

func parseLongMount(n *yaml.Node, path string) (Mount, error) {
	pairs, err := mappingPairs(n, path)
	if err != nil {
		return Mount{}, err
	}

	m := Mount{Type: MountTypeVolume}
	var opts []string
	for _, p := range pairs {
		keyPath := childPath(path, p.key)
		switch p.key {
		case "type":
			s, err := scalarString(p.value, keyPath)
			if err != nil {
				return Mount{}, err
			}
			switch t := MountType(s); t {
			case MountTypeBind, MountTypeVolume, MountTypeTmpfs:
				m.Type = t
			default:
				return Mount{}, NewComposeError(keyPath, fmt.Sprintf("unknown mount type %q", s), ErrServiceInvalidVolume)
			}
		case "source":
			if m.Source, err = scalarString(p.value, keyPath); err != nil {
				return Mount{}, err
			}
		case "target":
			if m.Target, err = scalarString(p.value, keyPath); err != nil {
				return Mount{}, err
			}
		case "read_only":
			ro, err := boolValue(p.value, keyPath)
			if err != nil {
				return Mount{}, err
			}
			if ro {
				opts = append(opts, "ro")
			}
		case "volume":
			vp, err := mappingPairs(p.value, keyPath)
			if err != nil {
				return Mount{}, err
			}
			for _, v := range vp {
				if v.key != "nocopy" {
					return Mount{}, unsupported(childPath(keyPath, v.key))
				}
				nocopy, err := boolValue(v.value, childPath(keyPath, v.key))
				if err != nil {
					return Mount{}, err
				}
				if nocopy {
					opts = append(opts, "nocopy")
				}
			}
		case "consistency":
			// Only meaningful on Docker Desktop file sharing.
		default:
			return Mount{}, unsupported(keyPath)
		}
	}
	m.Mode = strings.Join(opts, ",")

	if m.Type == MountTypeTmpfs && m.Source != "" {
		return Mount{}, NewComposeError(childPath(path, "source"), "tmpfs mounts take no source", ErrServiceInvalidVolume)
	}
	if m.Type == MountTypeBind && m.Source == "" {
		return Mount{}, NewComposeError(childPath(path, "source"), "bind mounts require a source", ErrServiceInvalidVolume)
	}
	if err := validateMount(m, path); err != nil {
		return Mount{}, err
	}
	return m, nil
}

func validateMount(m Mount, path string) error {
	if !strings.HasPrefix(m.Target, "/") {
		return NewComposeError(path, fmt.Sprintf("mount target %q must be an absolute path", m.Target), ErrServiceInvalidVolume)
	}
	for _, opt := range splitMode(m.Mode) {
		if !mountModes[opt] {
			return NewComposeError(path, fmt.Sprintf("unknown mount option %q", opt), ErrServiceInvalidVolume)
		}
	}
	return nil
}

// =============================================================================
// Resources
// =============================================================================

// overlayResources returns base with every field set in top replacing the
// corresponding field of base.
func overlayResources(base, top ResourceLimits) ResourceLimits {
	pick := func(b, t string) string {
		if t != "" {
			return t
		}
		return b
	}
	return ResourceLimits{
		CPULimit:          pick(base.CPULimit, top.CPULimit),
		MemoryLimit:       pick(base.MemoryLimit, top.MemoryLimit),
		MemorySwap:        pick(base.MemorySwap, top.MemorySwap),
		MemoryReservation: pick(base.MemoryReservation, top.MemoryReservation),
		CPUShares:         pick(base.CPUShares, top.CPUShares),
		CpusetCPUs:        pick(base.CpusetCPUs, top.CpusetCPUs),
	}
}

// parseDeploy reads deploy.resources. Other deploy settings are swarm-only.
func parseDeploy(n *yaml.Node, path string) (ResourceLimits, error) {
	var limits ResourceLimits

	pairs, err := mappingPairs(n, path)
	if err != nil {
		return limits, err
	}
	for _, p := range pairs {
		if p.key != "resources" {
			return limits, unsupported(childPath(path, p.key))
		}
		resPath := childPath(path, p.key)
		resPairs, err := mappingPairs(p.value, resPath)
		if err != nil {
			return limits, err
		}
		for _, rp := range resPairs {
			sectionPath := childPath(resPath, rp.key)
			section, err := mappingPairs(rp.value, sectionPath)
			if err != nil {
				return limits, err
			}
			for _, sp := range section {
				keyPath := childPath(sectionPath, sp.key)
				value, err := scalarString(sp.value, keyPath)
				if err != nil {
					return limits, err
				}
				switch {
				case rp.key == "limits" && sp.key == "cpus":
					limits.CPULimit = value
				case rp.key == "limits" && sp.key == "memory":
					limits.MemoryLimit = value
				case rp.key == "reservations" && sp.key == "memory":
					limits.MemoryReservation = value
				default:
					return limits, unsupported(keyPath)
				}
			}
		}
	}
	return limits, nil
}

// =============================================================================
// Restart Policy
// =============================================================================

func parseRestart(s, path string) (RestartPolicy, error) {
	policy, retries, hasRetries := strings.Cut(s, ":")
	switch RestartPolicy(policy) {
	case RestartNo, RestartAlways, RestartUnlessStopped:
		if hasRetries {
			return "", NewComposeError(path, fmt.Sprintf("restart policy %q takes no retry count", policy), ErrInvalidRestart)
		}
	case RestartOnFailure:
		if hasRetries {
			if n, err := strconv.Atoi(retries); err != nil || n < 0 {
				return "", NewComposeError(path, fmt.Sprintf("invalid retry count in %q", s), ErrInvalidRestart)
			}
		}
	default:
		return "", NewComposeError(path, fmt.Sprintf("unknown restart policy %q", s), ErrInvalidRestart)
	}
	return RestartPolicy(s), nil
}
