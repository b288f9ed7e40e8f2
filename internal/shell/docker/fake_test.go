package docker

import (
	"context"
	"fmt"
	"io"
	"maps"
	"sync"
	"time"
)

// =============================================================================
// Fake Client
// =============================================================================

// fakeClient is an in-memory runtime. Hooks let tests inject failures and
// observe calls; all state is guarded by mu.
type fakeClient struct {
	mu sync.Mutex

	networks   map[string]NetworkInfo // by name
	volumes    map[string]VolumeInfo  // by name
	images     map[string]bool
	containers map[string]*fakeContainer // by ID
	nextID     int

	calls   []string
	removed []string // names of removed containers, networks and volumes
	pulled  []PullOptions
	built   []BuildSpec

	// health returns the health status reported for a container name.
	health func(name string) string

	// state, when set, replaces health and reports the full container state.
	state func(name string) HealthInfo

	// networkFailures makes the next n CreateNetwork calls for a name fail
	// with networkErr.
	networkFailures map[string]int
	networkErr      error

	engine EngineInfo

	// failCreate and failRemove inject errors by container name.
	failCreate map[string]error
	failRemove map[string]error

	// onStart runs after a container is started, outside the lock.
	onStart func(name string)

	// block makes CreateContainer wait for its context, blockHealth does the
	// same for InspectHealth.
	block       bool
	blockHealth bool

	// delay is added to every call, to widen concurrency windows.
	delay    time.Duration
	inflight int
	peak     int
}

type fakeContainer struct {
	id      string
	spec    ContainerSpec
	running bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		networks:   make(map[string]NetworkInfo),
		volumes:    make(map[string]VolumeInfo),
		images:     make(map[string]bool),
		containers: make(map[string]*fakeContainer),
		failCreate: make(map[string]error),
		failRemove: make(map[string]error),

		networkFailures: make(map[string]int),
		engine:          EngineInfo{Name: "fake", NCPU: 4, MemTotal: 8 << 30},
	}
}

var _ Client = (*fakeClient)(nil)

// enter records a call and tracks peak concurrency; the returned func must
// be deferred.
func (f *fakeClient) enter(op string) func() {
	f.mu.Lock()
	f.calls = append(f.calls, op)
	f.inflight++
	f.peak = max(f.peak, f.inflight)
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}
}

func (f *fakeClient) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s%012d", prefix, f.nextID)
}

func (f *fakeClient) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeClient) removedNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

func (f *fakeClient) containerNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, c := range f.containers {
		names = append(names, c.spec.Name)
	}
	return names
}

func labelsMatch(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

// Network operations

func (f *fakeClient) InspectNetwork(_ context.Context, name string) (*NetworkInfo, error) {
	defer f.enter("InspectNetwork " + name)()
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.networks[name]
	if !ok {
		return nil, NewRuntimeCallError("InspectNetwork", "network", name, "not found", ErrNetworkNotFound)
	}
	return &n, nil
}

func (f *fakeClient) CreateNetwork(_ context.Context, spec NetworkSpec) (string, error) {
	defer f.enter("CreateNetwork " + spec.Name)()
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.networks[spec.Name]; ok {
		return "", NewRuntimeCallError("CreateNetwork", "network", spec.Name, "exists", ErrNetworkAlreadyExists)
	}
	if f.networkFailures[spec.Name] > 0 {
		f.networkFailures[spec.Name]--
		return "", NewRuntimeCallError("CreateNetwork", "network", spec.Name, f.networkErr.Error(), f.networkErr)
	}
	info := NetworkInfo{ID: f.id("net"), Name: spec.Name, Driver: spec.Driver, Internal: spec.Internal, Labels: spec.Labels}
	if spec.IPAM != nil {
		for _, p := range spec.IPAM.Pools {
			info.Subnets = append(info.Subnets, p.Subnet.String())
		}
	}
	f.networks[spec.Name] = info
	return info.ID, nil
}

func (f *fakeClient) RemoveNetwork(_ context.Context, networkID string) error {
	defer f.enter("RemoveNetwork " + networkID)()
	f.mu.Lock()
	defer f.mu.Unlock()
	for name, n := range f.networks {
		if n.ID == networkID || name == networkID {
			delete(f.networks, name)
			f.removed = append(f.removed, name)
			return nil
		}
	}
	return NewRuntimeCallError("RemoveNetwork", "network", networkID, "not found", ErrNetworkNotFound)
}

func (f *fakeClient) ListNetworks(_ context.Context, labels map[string]string) ([]NetworkInfo, error) {
	defer f.enter("ListNetworks")()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []NetworkInfo
	for _, n := range f.networks {
		if labelsMatch(n.Labels, labels) {
			out = append(out, n)
		}
	}
	return out, nil
}

// Volume operations

func (f *fakeClient) InspectVolume(_ context.Context, name string) (*VolumeInfo, error) {
	defer f.enter("InspectVolume " + name)()
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.volumes[name]
	if !ok {
		return nil, NewRuntimeCallError("InspectVolume", "volume", name, "not found", ErrVolumeNotFound)
	}
	return &v, nil
}

func (f *fakeClient) CreateVolume(_ context.Context, spec VolumeSpec) (string, error) {
	defer f.enter("CreateVolume " + spec.Name)()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumes[spec.Name] = VolumeInfo{Name: spec.Name, Driver: spec.Driver, Options: maps.Clone(spec.DriverOpts), Labels: spec.Labels}
	return spec.Name, nil
}

func (f *fakeClient) RemoveVolume(_ context.Context, volumeName string, _ bool) error {
	defer f.enter("RemoveVolume " + volumeName)()
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.volumes[volumeName]; !ok {
		return NewRuntimeCallError("RemoveVolume", "volume", volumeName, "not found", ErrVolumeNotFound)
	}
	delete(f.volumes, volumeName)
	f.removed = append(f.removed, volumeName)
	return nil
}

func (f *fakeClient) ListVolumes(_ context.Context, labels map[string]string) ([]VolumeInfo, error) {
	defer f.enter("ListVolumes")()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []VolumeInfo
	for _, v := range f.volumes {
		if labelsMatch(v.Labels, labels) {
			out = append(out, v)
		}
	}
	return out, nil
}

// Image operations

func (f *fakeClient) PullImage(_ context.Context, image string, opts PullOptions) error {
	defer f.enter("PullImage " + image)()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images[image] = true
	f.pulled = append(f.pulled, opts)
	return nil
}

func (f *fakeClient) BuildImage(_ context.Context, spec BuildSpec) error {
	defer f.enter("BuildImage")()
	data, err := io.ReadAll(spec.Context)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	spec.Context = nil
	if len(data) == 0 {
		return NewRuntimeCallError("BuildImage", "image", "", "empty context", ErrImageBuildFailed)
	}
	f.built = append(f.built, spec)
	for _, tag := range spec.Tags {
		f.images[tag] = true
	}
	return nil
}

func (f *fakeClient) ImageExists(_ context.Context, image string) (bool, error) {
	defer f.enter("ImageExists " + image)()
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.images[image], nil
}

// Container operations

func (f *fakeClient) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	defer f.enter("CreateContainer " + spec.Name)()
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failCreate[spec.Name]; err != nil {
		return "", NewRuntimeCallError("CreateContainer", "container", spec.Name, err.Error(), err)
	}
	id := f.id("c")
	f.containers[id] = &fakeContainer{id: id, spec: spec}
	return id, nil
}

func (f *fakeClient) StartContainer(_ context.Context, containerID string) error {
	release := f.enter("StartContainer " + containerID)
	f.mu.Lock()
	c, ok := f.containers[containerID]
	if ok {
		c.running = true
	}
	f.mu.Unlock()
	release()

	if !ok {
		return NewRuntimeCallError("StartContainer", "container", containerID, "not found", ErrContainerNotFound)
	}
	if f.onStart != nil {
		f.onStart(c.spec.Labels["com.stevedore.service"])
	}
	return nil
}

func (f *fakeClient) StopContainer(_ context.Context, containerID string, _ *time.Duration) error {
	defer f.enter("StopContainer " + containerID)()
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[containerID]; ok {
		c.running = false
		return nil
	}
	return NewRuntimeCallError("StopContainer", "container", containerID, "not found", ErrContainerNotFound)
}

func (f *fakeClient) RemoveContainer(_ context.Context, containerID string, _ RemoveOptions) error {
	defer f.enter("RemoveContainer " + containerID)()
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[containerID]
	if !ok {
		return NewRuntimeCallError("RemoveContainer", "container", containerID, "not found", ErrContainerNotFound)
	}
	if err := f.failRemove[c.spec.Name]; err != nil {
		return NewRuntimeCallError("RemoveContainer", "container", containerID, err.Error(), err)
	}
	delete(f.containers, containerID)
	f.removed = append(f.removed, c.spec.Name)
	return nil
}

func (f *fakeClient) InspectHealth(ctx context.Context, containerID string) (*HealthInfo, error) {
	defer f.enter("InspectHealth " + containerID)()
	if f.blockHealth {
		<-ctx.Done()
		return nil, NewRuntimeCallError("InspectHealth", "container", containerID, ctx.Err().Error(), ctx.Err())
	}
	f.mu.Lock()
	c, ok := f.containers[containerID]
	f.mu.Unlock()
	if !ok {
		return nil, NewRuntimeCallError("InspectHealth", "container", containerID, "not found", ErrContainerNotFound)
	}

	service := c.spec.Labels["com.stevedore.service"]
	if f.state != nil {
		info := f.state(service)
		return &info, nil
	}
	status := HealthStarting
	if f.health != nil {
		status = f.health(service)
	}
	return &HealthInfo{Status: ContainerStatusRunning, Health: status}, nil
}

func (f *fakeClient) ListContainers(_ context.Context, opts ListOptions) ([]ContainerInfo, error) {
	defer f.enter("ListContainers")()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ContainerInfo
	for _, c := range f.containers {
		if !labelsMatch(c.spec.Labels, opts.Labels) {
			continue
		}
		status := ContainerStatusCreated
		if c.running {
			status = ContainerStatusRunning
		}
		out = append(out, ContainerInfo{ID: c.id, Name: c.spec.Name, Image: c.spec.Image, Status: status, Labels: c.spec.Labels})
	}
	return out, nil
}

func (f *fakeClient) ContainerLogs(_ context.Context, containerID string, _ LogOptions, stdout, _ io.Writer) error {
	defer f.enter("ContainerLogs " + containerID)()
	_, err := fmt.Fprintf(stdout, "logs of %s\n", containerID)
	return err
}

func (f *fakeClient) Exec(_ context.Context, containerID string, opts ExecOptions) (*ExecResult, error) {
	defer f.enter("Exec " + containerID)()
	return &ExecResult{ExitCode: 0, Stdout: fmt.Sprint(opts.Cmd)}, nil
}

func (f *fakeClient) Ping(context.Context) error { return nil }

func (f *fakeClient) Info(context.Context) (*EngineInfo, error) {
	defer f.enter("Info")()
	f.mu.Lock()
	defer f.mu.Unlock()
	info := f.engine
	return &info, nil
}

func (f *fakeClient) Close() error { return nil }
