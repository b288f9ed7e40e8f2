package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/artpar/stevedore/internal/core/compose"
)

// =============================================================================
// Docker Client Implementation
// =============================================================================

// DockerClient implements the Client interface using the Docker SDK.
type DockerClient struct {
	cli *client.Client
}

var _ Client = (*DockerClient)(nil)

// NewDockerClient creates a new Docker client.
// If host is empty, it uses the default Docker host from environment.
// On macOS with Docker Desktop, it automatically detects the correct socket.
func NewDockerClient(host string) (*DockerClient, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, NewRuntimeCallError("NewDockerClient", "", "", err.Error(), ErrConnectionFailed)
	}
	if host != "" {
		return &DockerClient{cli: cli}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, pingErr := cli.Ping(ctx); pingErr != nil {
		// If default socket fails, try Docker Desktop socket on macOS
		homeDir, _ := os.UserHomeDir()
		desktop, err := client.NewClientWithOpts(
			client.WithHost("unix://"+homeDir+"/.docker/run/docker.sock"),
			client.WithAPIVersionNegotiation(),
		)
		if err == nil {
			if _, err := desktop.Ping(ctx); err == nil {
				cli.Close()
				return &DockerClient{cli: desktop}, nil
			}
			desktop.Close()
		}
	}

	return &DockerClient{cli: cli}, nil
}

// Ping checks if Docker daemon is reachable.
func (d *DockerClient) Ping(ctx context.Context) error {
	if _, err := d.cli.Ping(ctx); err != nil {
		return NewRuntimeCallError("Ping", "", "", fmt.Sprintf("failed to ping docker: %v", err), ErrConnectionFailed)
	}
	return nil
}

// Info reports the engine's CPU count and memory.
func (d *DockerClient) Info(ctx context.Context) (*EngineInfo, error) {
	info, err := d.cli.Info(ctx)
	if err != nil {
		return nil, classify("Info", "", "", err)
	}
	return &EngineInfo{
		Name:          info.Name,
		ServerVersion: info.ServerVersion,
		OSType:        info.OSType,
		NCPU:          info.NCPU,
		MemTotal:      info.MemTotal,
	}, nil
}

// Close closes the Docker client connection.
func (d *DockerClient) Close() error {
	return d.cli.Close()
}

// =============================================================================
// Network Operations
// =============================================================================

// InspectNetwork returns the network with the given name or ID.
func (d *DockerClient) InspectNetwork(ctx context.Context, name string) (*NetworkInfo, error) {
	resp, err := d.cli.NetworkInspect(ctx, name, network.InspectOptions{})
	if err != nil {
		return nil, classify("InspectNetwork", "network", name, err)
	}
	info := &NetworkInfo{
		ID:       resp.ID,
		Name:     resp.Name,
		Driver:   resp.Driver,
		Internal: resp.Internal,
		Labels:   resp.Labels,
	}
	for _, c := range resp.IPAM.Config {
		info.Subnets = append(info.Subnets, c.Subnet)
	}
	return info, nil
}

// CreateNetwork creates a new Docker network.
func (d *DockerClient) CreateNetwork(ctx context.Context, spec NetworkSpec) (string, error) {
	driver := spec.Driver
	if driver == "" {
		driver = compose.DefaultNetworkDriver
	}

	opts := network.CreateOptions{
		Driver:   driver,
		Internal: spec.Internal,
		Labels:   spec.Labels,
	}
	if spec.IPAM != nil {
		opts.IPAM = &network.IPAM{Driver: spec.IPAM.Driver}
		for _, p := range spec.IPAM.Pools {
			cfg := network.IPAMConfig{Subnet: p.Subnet.String()}
			if p.Gateway.IsValid() {
				cfg.Gateway = p.Gateway.String()
			}
			if p.IPRange.IsValid() {
				cfg.IPRange = p.IPRange.String()
			}
			opts.IPAM.Config = append(opts.IPAM.Config, cfg)
		}
	}

	resp, err := d.cli.NetworkCreate(ctx, spec.Name, opts)
	if err != nil {
		return "", classify("CreateNetwork", "network", spec.Name, err)
	}
	return resp.ID, nil
}

// RemoveNetwork removes a Docker network.
func (d *DockerClient) RemoveNetwork(ctx context.Context, networkID string) error {
	if err := d.cli.NetworkRemove(ctx, networkID); err != nil {
		return classify("RemoveNetwork", "network", networkID, err)
	}
	return nil
}

// ListNetworks returns the networks carrying every given label.
func (d *DockerClient) ListNetworks(ctx context.Context, labels map[string]string) ([]NetworkInfo, error) {
	resp, err := d.cli.NetworkList(ctx, network.ListOptions{Filters: labelFilters(labels)})
	if err != nil {
		return nil, classify("ListNetworks", "network", "", err)
	}
	result := make([]NetworkInfo, 0, len(resp))
	for _, n := range resp {
		result = append(result, NetworkInfo{
			ID:       n.ID,
			Name:     n.Name,
			Driver:   n.Driver,
			Internal: n.Internal,
			Labels:   n.Labels,
		})
	}
	return result, nil
}

// =============================================================================
// Volume Operations
// =============================================================================

// InspectVolume returns the volume with the given name.
func (d *DockerClient) InspectVolume(ctx context.Context, name string) (*VolumeInfo, error) {
	resp, err := d.cli.VolumeInspect(ctx, name)
	if err != nil {
		return nil, classify("InspectVolume", "volume", name, err)
	}
	return &VolumeInfo{
		Name:    resp.Name,
		Driver:  resp.Driver,
		Options: resp.Options,
		Labels:  resp.Labels,
	}, nil
}

// CreateVolume creates a new Docker volume.
func (d *DockerClient) CreateVolume(ctx context.Context, spec VolumeSpec) (string, error) {
	driver := spec.Driver
	if driver == "" {
		driver = compose.DefaultVolumeDriver
	}

	resp, err := d.cli.VolumeCreate(ctx, volume.CreateOptions{
		Name:       spec.Name,
		Driver:     driver,
		DriverOpts: spec.DriverOpts,
		Labels:     spec.Labels,
	})
	if err != nil {
		return "", classify("CreateVolume", "volume", spec.Name, err)
	}
	return resp.Name, nil
}

// RemoveVolume removes a Docker volume.
func (d *DockerClient) RemoveVolume(ctx context.Context, volumeName string, force bool) error {
	if err := d.cli.VolumeRemove(ctx, volumeName, force); err != nil {
		return classify("RemoveVolume", "volume", volumeName, err)
	}
	return nil
}

// ListVolumes returns the volumes carrying every given label.
func (d *DockerClient) ListVolumes(ctx context.Context, labels map[string]string) ([]VolumeInfo, error) {
	resp, err := d.cli.VolumeList(ctx, volume.ListOptions{Filters: labelFilters(labels)})
	if err != nil {
		return nil, classify("ListVolumes", "volume", "", err)
	}
	result := make([]VolumeInfo, 0, len(resp.Volumes))
	for _, v := range resp.Volumes {
		result = append(result, VolumeInfo{
			Name:    v.Name,
			Driver:  v.Driver,
			Options: v.Options,
			Labels:  v.Labels,
		})
	}
	return result, nil
}

// =============================================================================
// Image Operations
// =============================================================================

// PullImage pulls an image from the registry.
func (d *DockerClient) PullImage(ctx context.Context, imageName string, opts PullOptions) error {
	reader, err := d.cli.ImagePull(ctx, imageName, image.PullOptions{Platform: opts.Platform})
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "manifest unknown") ||
			strings.Contains(errStr, "repository does not exist") ||
			strings.Contains(errStr, "pull access denied") {
			return NewRuntimeCallError("PullImage", "image", imageName, "image not found", ErrImageNotFound)
		}
		return NewRuntimeCallError("PullImage", "image", imageName, errStr, ErrImagePullFailed)
	}
	defer reader.Close()

	// The pull only completes once the progress stream is drained; errors
	// after the first byte arrive inside the stream.
	if err := jsonmessage.DisplayJSONMessagesStream(reader, io.Discard, 0, false, nil); err != nil {
		return NewRuntimeCallError("PullImage", "image", imageName, err.Error(), ErrImagePullFailed)
	}
	return nil
}

// BuildImage builds an image from a tar build context.
func (d *DockerClient) BuildImage(ctx context.Context, spec BuildSpec) error {
	args := make(map[string]*string, len(spec.Args))
	for k, v := range spec.Args {
		args[k] = &v
	}

	tag := strings.Join(spec.Tags, ",")
	resp, err := d.cli.ImageBuild(ctx, spec.Context, types.ImageBuildOptions{
		Tags:        spec.Tags,
		Dockerfile:  spec.Dockerfile,
		BuildArgs:   args,
		Target:      spec.Target,
		Labels:      spec.Labels,
		Platform:    spec.Platform,
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return NewRuntimeCallError("BuildImage", "image", tag, err.Error(), ErrImageBuildFailed)
	}
	defer resp.Body.Close()

	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, io.Discard, 0, false, nil); err != nil {
		return NewRuntimeCallError("BuildImage", "image", tag, err.Error(), ErrImageBuildFailed)
	}
	return nil
}

// ImageExists checks if an image exists locally.
func (d *DockerClient) ImageExists(ctx context.Context, imageName string) (bool, error) {
	_, _, err := d.cli.ImageInspectWithRaw(ctx, imageName)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, classify("ImageExists", "image", imageName, err)
	}
	return true, nil
}

// =============================================================================
// Container Operations
// =============================================================================

// CreateContainer creates a new container from the given spec.
func (d *DockerClient) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	config := &container.Config{
		Image:      spec.Image,
		Cmd:        spec.Command,
		Entrypoint: spec.Entrypoint,
		WorkingDir: spec.WorkingDir,
		User:       spec.User,
		Labels:     spec.Labels,
	}
	for k, v := range spec.Env {
		config.Env = append(config.Env, k+"="+v)
	}

	hostConfig := &container.HostConfig{}

	// Port bindings
	if len(spec.Ports) > 0 {
		portBindings := nat.PortMap{}
		exposedPorts := nat.PortSet{}

		for _, p := range spec.Ports {
			proto := p.Protocol
			if proto == "" {
				proto = "tcp"
			}
			containerPort, err := nat.NewPort(proto, strconv.Itoa(p.ContainerPort))
			if err != nil {
				return "", NewRuntimeCallError("CreateContainer", "container", spec.Name, err.Error(), err)
			}
			exposedPorts[containerPort] = struct{}{}

			hostPort := ""
			if p.HostPort != 0 {
				hostPort = strconv.Itoa(p.HostPort)
			}
			portBindings[containerPort] = append(portBindings[containerPort], nat.PortBinding{
				HostIP:   p.HostIP,
				HostPort: hostPort,
			})
		}

		config.ExposedPorts = exposedPorts
		hostConfig.PortBindings = portBindings
	}

	// Mounts
	for _, m := range spec.Mounts {
		mt := mount.Mount{
			Type:     mount.Type(m.Type),
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		}
		if m.Type == compose.MountTypeVolume && m.NoCopy {
			mt.VolumeOptions = &mount.VolumeOptions{NoCopy: true}
		}
		hostConfig.Mounts = append(hostConfig.Mounts, mt)
	}

	// Resource limits
	hostConfig.NanoCPUs = spec.Resources.NanoCPUs
	hostConfig.Memory = spec.Resources.Memory
	hostConfig.MemorySwap = spec.Resources.MemorySwap
	hostConfig.MemoryReservation = spec.Resources.MemoryReservation
	hostConfig.CPUShares = spec.Resources.CPUShares
	hostConfig.CpusetCpus = spec.Resources.CpusetCPUs

	// Restart policy
	if spec.RestartPolicy.Name != "" {
		hostConfig.RestartPolicy = container.RestartPolicy{
			Name:              container.RestartPolicyMode(spec.RestartPolicy.Name),
			MaximumRetryCount: spec.RestartPolicy.MaximumRetryCount,
		}
	}

	// Health check
	if hc := spec.HealthCheck; hc != nil {
		config.Healthcheck = &container.HealthConfig{
			Test:          hc.Test,
			Interval:      hc.Interval,
			Timeout:       hc.Timeout,
			StartPeriod:   hc.StartPeriod,
			StartInterval: hc.StartInterval,
			Retries:       hc.Retries,
		}
	}

	// Network config
	var networkConfig *network.NetworkingConfig
	if len(spec.Networks) > 0 {
		networkConfig = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{},
		}
		for _, n := range spec.Networks {
			networkConfig.EndpointsConfig[n.Network] = &network.EndpointSettings{Aliases: n.Aliases}
		}
	}

	resp, err := d.cli.ContainerCreate(ctx, config, hostConfig, networkConfig, nil, spec.Name)
	if err != nil {
		return "", classify("CreateContainer", "container", spec.Name, err)
	}
	return resp.ID, nil
}

// StartContainer starts a stopped container.
func (d *DockerClient) StartContainer(ctx context.Context, containerID string) error {
	if err := d.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return classify("StartContainer", "container", containerID, err)
	}
	return nil
}

// StopContainer stops a running container.
func (d *DockerClient) StopContainer(ctx context.Context, containerID string, timeout *time.Duration) error {
	stopOptions := container.StopOptions{}
	if timeout != nil {
		seconds := int(timeout.Seconds())
		stopOptions.Timeout = &seconds
	}

	if err := d.cli.ContainerStop(ctx, containerID, stopOptions); err != nil {
		return classify("StopContainer", "container", containerID, err)
	}
	return nil
}

// RemoveContainer removes a container.
func (d *DockerClient) RemoveContainer(ctx context.Context, containerID string, opts RemoveOptions) error {
	err := d.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force:         opts.Force,
		RemoveVolumes: opts.RemoveVolumes,
	})
	if err != nil {
		return classify("RemoveContainer", "container", containerID, err)
	}
	return nil
}

// InspectHealth returns the run and health state of a container.
func (d *DockerClient) InspectHealth(ctx context.Context, containerID string) (*HealthInfo, error) {
	resp, err := d.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return nil, classify("InspectHealth", "container", containerID, err)
	}

	info := &HealthInfo{Health: HealthNone}
	if resp.State == nil {
		return info, nil
	}
	info.Status = ContainerStatus(resp.State.Status)
	info.ExitCode = resp.State.ExitCode
	if h := resp.State.Health; h != nil {
		info.Health = string(h.Status)
		info.FailingStreak = h.FailingStreak
		if n := len(h.Log); n > 0 && h.Log[n-1] != nil {
			info.LastOutput = strings.TrimSpace(h.Log[n-1].Output)
		}
	}
	return info, nil
}

// ListContainers returns a list of containers matching the given options.
func (d *DockerClient) ListContainers(ctx context.Context, opts ListOptions) ([]ContainerInfo, error) {
	containers, err := d.cli.ContainerList(ctx, container.ListOptions{
		All:     opts.All,
		Filters: labelFilters(opts.Labels),
	})
	if err != nil {
		return nil, classify("ListContainers", "container", "", err)
	}

	result := make([]ContainerInfo, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}

		var ports []PortBinding
		for _, p := range c.Ports {
			ports = append(ports, PortBinding{
				ContainerPort: int(p.PrivatePort),
				HostPort:      int(p.PublicPort),
				Protocol:      p.Type,
				HostIP:        p.IP,
			})
		}

		result = append(result, ContainerInfo{
			ID:        c.ID,
			Name:      name,
			Image:     c.Image,
			Status:    ContainerStatus(c.State),
			CreatedAt: time.Unix(c.Created, 0),
			Ports:     ports,
			Labels:    c.Labels,
		})
	}
	return result, nil
}

// ContainerLogs copies a container's logs into stdout and stderr.
func (d *DockerClient) ContainerLogs(ctx context.Context, containerID string, opts LogOptions, stdout, stderr io.Writer) error {
	logOpts := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     opts.Follow,
		Tail:       opts.Tail,
		Timestamps: opts.Timestamps,
	}
	if !opts.Since.IsZero() {
		logOpts.Since = opts.Since.Format(time.RFC3339)
	}

	reader, err := d.cli.ContainerLogs(ctx, containerID, logOpts)
	if err != nil {
		return classify("ContainerLogs", "container", containerID, err)
	}
	defer reader.Close()

	// Containers run without a TTY, so the stream is multiplexed.
	if _, err := stdcopy.StdCopy(stdout, stderr, reader); err != nil {
		return classify("ContainerLogs", "container", containerID, err)
	}
	return nil
}

// Exec runs a command inside a running container and waits for it.
func (d *DockerClient) Exec(ctx context.Context, containerID string, opts ExecOptions) (*ExecResult, error) {
	created, err := d.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          opts.Cmd,
		Env:          opts.Env,
		WorkingDir:   opts.WorkingDir,
		User:         opts.User,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, classify("Exec", "container", containerID, err)
	}

	attach, err := d.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, classify("Exec", "container", containerID, err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		return nil, classify("Exec", "container", containerID, err)
	}

	inspect, err := d.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return nil, classify("Exec", "container", containerID, err)
	}
	return &ExecResult{
		ExitCode: inspect.ExitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// labelFilters builds a label filter set; every label must match.
func labelFilters(labels map[string]string) filters.Args {
	f := filters.NewArgs()
	for k, v := range labels {
		f.Add("label", k+"="+v)
	}
	return f
}
