package compose

import (
	"fmt"
	"slices"
	"strings"

	"github.com/compose-spec/compose-go/v2/template"
	"gopkg.in/yaml.v3"
)

// Default drivers applied when a network or volume declares none.
const (
	DefaultNetworkDriver = "bridge"
	DefaultVolumeDriver  = "local"
)

// =============================================================================
// Parser Functions
// =============================================================================

// Parse parses a Compose YAML document into a DeploymentConfig.
// This is a pure function - no I/O, no side effects.
//
// Interpolation runs first over every string value, then the document is
// decoded and normalized, then validated. Structural problems stop at the
// first *ComposeError; validation collects every violation into a
// *ValidationError. A partial config is never returned.
func Parse(yamlContent string, opts Options) (*DeploymentConfig, error) {
	if strings.TrimSpace(yamlContent) == "" {
		return nil, NewComposeError("", "compose document is empty", ErrEmptyInput)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(yamlContent), &doc); err != nil {
		return nil, NewComposeError("", fmt.Sprintf("invalid YAML syntax: %v", err), ErrInvalidYAML)
	}
	if len(doc.Content) == 0 {
		return nil, NewComposeError("", "compose document is empty", ErrEmptyInput)
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, typeError("", "a mapping", root)
	}

	if err := interpolateNode(root, "", opts.mapping()); err != nil {
		return nil, err
	}

	cfg, err := decodeConfig(root, opts.mapping())
	if err != nil {
		return nil, err
	}
	synthesizeDefaultNetwork(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeConfig(root *yaml.Node, lookup template.Mapping) (*DeploymentConfig, error) {
	pairs, err := mappingPairs(root, "")
	if err != nil {
		return nil, err
	}

	cfg := &DeploymentConfig{}
	hasServices := false
	for _, p := range pairs {
		switch {
		case p.key == "version":
			cfg.Version, err = scalarString(p.value, p.key)
		case p.key == "name":
			cfg.Name, err = scalarString(p.value, p.key)
		case p.key == "services":
			hasServices = true
			cfg.Services, err = decodeServices(p.value, p.key, lookup)
		case p.key == "networks":
			cfg.Networks, err = decodeNetworks(p.value, p.key)
		case p.key == "volumes":
			cfg.Volumes, err = decodeVolumes(p.value, p.key)
		case strings.HasPrefix(p.key, "x-"):
			// Extension fields hold anchors for reuse elsewhere.
		default:
			err = unsupported(p.key)
		}
		if err != nil {
			return nil, err
		}
	}

	if !hasServices || len(cfg.Services) == 0 {
		return nil, NewComposeError("services", "at least one service is required", ErrNoServices)
	}
	return cfg, nil
}

// =============================================================================
// Services
// =============================================================================

func decodeServices(n *yaml.Node, path string, lookup template.Mapping) ([]Service, error) {
	pairs, err := mappingPairs(n, path)
	if err != nil {
		return nil, err
	}

	services := make([]Service, 0, len(pairs))
	for _, p := range pairs {
		svc, err := decodeService(p.key, p.value, childPath(path, p.key), lookup)
		if err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	return services, nil
}

func decodeService(name string, n *yaml.Node, path string, lookup template.Mapping) (Service, error) {
	pairs, err := mappingPairs(n, path)
	if err != nil {
		return Service{}, err
	}

	svc := Service{Name: name}
	var legacy, deploy ResourceLimits

	for _, p := range pairs {
		keyPath := childPath(path, p.key)
		switch p.key {
		case "image":
			svc.Image, err = scalarString(p.value, keyPath)
		case "build":
			svc.Build, err = decodeBuild(p.value, keyPath)
		case "command":
			svc.Command, err = stringList(p.value, keyPath, true)
		case "entrypoint":
			svc.Entrypoint, err = stringList(p.value, keyPath, true)
		case "environment":
			svc.Environment, err = decodeEnvironment(p.value, keyPath, lookup)
		case "ports":
			svc.Ports, err = parsePorts(p.value, keyPath)
		case "volumes":
			svc.Mounts, err = parseMounts(p.value, keyPath)
		case "depends_on":
			svc.DependsOn, _, err = nameSet(p.value, keyPath)
		case "healthcheck":
			svc.HealthCheck, err = decodeHealthCheck(p.value, keyPath)
		case "deploy":
			deploy, err = parseDeploy(p.value, keyPath)
		case "mem_limit":
			legacy.MemoryLimit, err = scalarString(p.value, keyPath)
		case "memswap_limit":
			legacy.MemorySwap, err = scalarString(p.value, keyPath)
		case "mem_reservation":
			legacy.MemoryReservation, err = scalarString(p.value, keyPath)
		case "cpus":
			legacy.CPULimit, err = scalarString(p.value, keyPath)
		case "cpu_shares":
			legacy.CPUShares, err = scalarString(p.value, keyPath)
		case "cpuset":
			legacy.CpusetCPUs, err = scalarString(p.value, keyPath)
		case "networks":
			svc.Networks, err = decodeServiceNetworks(p.value, keyPath)
		case "labels":
			svc.Labels, _, err = stringMap(p.value, keyPath)
		case "restart":
			var s string
			if s, err = scalarString(p.value, keyPath); err == nil && s != "" {
				svc.Restart, err = parseRestart(s, keyPath)
			}
		case "container_name":
			svc.ContainerName, err = scalarString(p.value, keyPath)
		case "working_dir":
			svc.WorkingDir, err = scalarString(p.value, keyPath)
		case "user":
			svc.User, err = scalarString(p.value, keyPath)
		default:
			if !strings.HasPrefix(p.key, "x-") {
				err = unsupported(keyPath)
			}
		}
		if err != nil {
			return Service{}, err
		}
	}

	if merged := overlayResources(legacy, deploy); !merged.IsZero() {
		svc.Resources = &merged
	}
	if len(svc.Networks) == 0 {
		svc.Networks = []string{DefaultNetwork}
	}
	return svc, nil
}

// decodeEnvironment resolves keys declared without a value from the
// interpolation environment. Keys it cannot resolve are left unset.
func decodeEnvironment(n *yaml.Node, path string, lookup template.Mapping) (map[string]string, error) {
	env, bare, err := stringMap(n, path)
	if err != nil {
		return nil, err
	}
	for _, key := range bare {
		if v, ok := lookup(key); ok {
			env[key] = v
		}
	}
	return env, nil
}

func decodeBuild(n *yaml.Node, path string) (*BuildSpec, error) {
	n = resolve(n)
	if n.Kind == yaml.ScalarNode {
		ctx, err := scalarString(n, path)
		if err != nil {
			return nil, err
		}
		return &BuildSpec{Context: ctx}, nil
	}

	pairs, err := mappingPairs(n, path)
	if err != nil {
		return nil, err
	}
	build := &BuildSpec{Context: "."}
	for _, p := range pairs {
		keyPath := childPath(path, p.key)
		switch p.key {
		case "context":
			build.Context, err = scalarString(p.value, keyPath)
		case "dockerfile":
			build.Dockerfile, err = scalarString(p.value, keyPath)
		case "args":
			build.Args, _, err = stringMap(p.value, keyPath)
		case "target":
			build.Target, err = scalarString(p.value, keyPath)
		default:
			err = unsupported(keyPath)
		}
		if err != nil {
			return nil, err
		}
	}
	return build, nil
}

func decodeHealthCheck(n *yaml.Node, path string) (*HealthCheck, error) {
	pairs, err := mappingPairs(n, path)
	if err != nil {
		return nil, err
	}

	hc := &HealthCheck{}
	disabled := false
	for _, p := range pairs {
		keyPath := childPath(path, p.key)
		switch p.key {
		case "test":
			v := resolve(p.value)
			if v.Kind == yaml.ScalarNode {
				var s string
				if s, err = scalarString(v, keyPath); err == nil {
					hc.Test = []string{"CMD-SHELL", s}
				}
			} else {
				hc.Test, err = stringList(v, keyPath, false)
			}
		case "interval":
			hc.Interval, err = durationValue(p.value, keyPath)
		case "timeout":
			hc.Timeout, err = durationValue(p.value, keyPath)
		case "start_period":
			hc.StartPeriod, err = durationValue(p.value, keyPath)
		case "start_interval":
			hc.StartInterval, err = durationValue(p.value, keyPath)
		case "retries":
			var r int
			if r, err = intValue(p.value, keyPath); err == nil {
				hc.Retries = &r
			}
		case "disable":
			disabled, err = boolValue(p.value, keyPath)
		default:
			err = unsupported(keyPath)
		}
		if err != nil {
			return nil, err
		}
	}

	if disabled {
		hc.Test = []string{"NONE"}
	}
	if len(hc.Test) == 0 {
		return nil, NewComposeError(childPath(path, "test"), "healthcheck requires a test", ErrInvalidHealthCheck)
	}
	return hc, nil
}

func decodeServiceNetworks(n *yaml.Node, path string) ([]string, error) {
	names, pairs, err := nameSet(n, path)
	if err != nil {
		return nil, err
	}
	for _, p := range pairs {
		if !isNull(p.value) {
			sub, err := mappingPairs(p.value, childPath(path, p.key))
			if err != nil {
				return nil, err
			}
			if len(sub) > 0 {
				return nil, unsupported(childPath(childPath(path, p.key), sub[0].key))
			}
		}
	}
	return names, nil
}

// =============================================================================
// Networks and Volumes
// =============================================================================

func decodeNetworks(n *yaml.Node, path string) ([]Network, error) {
	pairs, err := mappingPairs(n, path)
	if err != nil {
		return nil, err
	}

	networks := make([]Network, 0, len(pairs))
	for _, p := range pairs {
		netPath := childPath(path, p.key)
		network := Network{Name: p.key, Driver: DefaultNetworkDriver}

		fields, err := mappingPairs(p.value, netPath)
		if err != nil {
			return nil, err
		}
		for _, f := range fields {
			keyPath := childPath(netPath, f.key)
			switch f.key {
			case "driver":
				var d string
				if d, err = scalarString(f.value, keyPath); err == nil && d != "" {
					network.Driver = d
				}
			case "external":
				network.External, err = boolValue(f.value, keyPath)
			case "internal":
				network.Internal, err = boolValue(f.value, keyPath)
			case "labels":
				network.Labels, _, err = stringMap(f.value, keyPath)
			case "ipam":
				network.IPAM, err = decodeIPAM(f.value, keyPath)
			default:
				err = unsupported(keyPath)
			}
			if err != nil {
				return nil, err
			}
		}
		networks = append(networks, network)
	}
	return networks, nil
}

func decodeIPAM(n *yaml.Node, path string) (*IPAM, error) {
	pairs, err := mappingPairs(n, path)
	if err != nil {
		return nil, err
	}

	ipam := &IPAM{}
	for _, p := range pairs {
		keyPath := childPath(path, p.key)
		switch p.key {
		case "driver":
			ipam.Driver, err = scalarString(p.value, keyPath)
		case "config":
			var items []*yaml.Node
			if items, err = sequenceItems(p.value, keyPath); err != nil {
				return nil, err
			}
			for i, item := range items {
				pool, err := decodeIPAMPool(item, indexPath(keyPath, i))
				if err != nil {
					return nil, err
				}
				ipam.Pools = append(ipam.Pools, pool)
			}
		default:
			err = unsupported(keyPath)
		}
		if err != nil {
			return nil, err
		}
	}
	return ipam, nil
}

func decodeIPAMPool(n *yaml.Node, path string) (IPAMPool, error) {
	pairs, err := mappingPairs(n, path)
	if err != nil {
		return IPAMPool{}, err
	}

	var pool IPAMPool
	for _, p := range pairs {
		keyPath := childPath(path, p.key)
		switch p.key {
		case "subnet":
			pool.Subnet, err = scalarString(p.value, keyPath)
		case "gateway":
			pool.Gateway, err = scalarString(p.value, keyPath)
		case "ip_range":
			pool.IPRange, err = scalarString(p.value, keyPath)
		default:
			err = unsupported(keyPath)
		}
		if err != nil {
			return IPAMPool{}, err
		}
	}
	if pool.Subnet == "" {
		return IPAMPool{}, NewComposeError(childPath(path, "subnet"), "subnet is required", ErrInvalidType)
	}
	return pool, nil
}

func decodeVolumes(n *yaml.Node, path string) ([]Volume, error) {
	pairs, err := mappingPairs(n, path)
	if err != nil {
		return nil, err
	}

	volumes := make([]Volume, 0, len(pairs))
	for _, p := range pairs {
		volPath := childPath(path, p.key)
		volume := Volume{Name: p.key, Driver: DefaultVolumeDriver}

		fields, err := mappingPairs(p.value, volPath)
		if err != nil {
			return nil, err
		}
		for _, f := range fields {
			keyPath := childPath(volPath, f.key)
			switch f.key {
			case "driver":
				var d string
				if d, err = scalarString(f.value, keyPath); err == nil && d != "" {
					volume.Driver = d
				}
			case "driver_opts":
				volume.DriverOpts, _, err = stringMap(f.value, keyPath)
			case "external":
				volume.External, err = boolValue(f.value, keyPath)
			case "labels":
				volume.Labels, _, err = stringMap(f.value, keyPath)
			default:
				err = unsupported(keyPath)
			}
			if err != nil {
				return nil, err
			}
		}
		volumes = append(volumes, volume)
	}
	return volumes, nil
}

// synthesizeDefaultNetwork declares the default network when a service joins
// it implicitly and the document does not declare it.
func synthesizeDefaultNetwork(cfg *DeploymentConfig) {
	if _, ok := cfg.Network(DefaultNetwork); ok {
		return
	}
	for _, svc := range cfg.Services {
		if slices.Contains(svc.Networks, DefaultNetwork) {
			cfg.Networks = append(cfg.Networks, Network{Name: DefaultNetwork, Driver: DefaultNetworkDriver})
			return
		}
	}
}
