package docker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// LabelAssembly tags containers with the assembly they serve.
const LabelAssembly = "conveyor.assembly"

// Client wraps the Docker SDK client.
type Client struct {
	inner *client.Client
}

// New creates a new Docker client using environment defaults.
func New(host string) (*Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	inner, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Client{inner: inner}, nil
}

// Ping validates connectivity to the Docker daemon.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.inner == nil {
		return fmt.Errorf("docker client not initialized")
	}
	ping, err := c.inner.Ping(ctx)
	if err != nil {
		return fmt.Errorf("docker ping: %w", err)
	}
	if ping.APIVersion == "" {
		return fmt.Errorf("docker ping returned empty API version")
	}
	return nil
}

// Close releases resources held by the Docker client.
func (c *Client) Close() error {
	if c.inner == nil {
		return nil
	}
	return c.inner.Close()
}

// RunSpec describes an application container.
type RunSpec struct {
	Name       string
	Image      string
	Cmd        []string
	Env        []string
	Ports      []int
	AssemblyID string
}

// ContainerInfo captures minimal runtime details about a started container.
type ContainerInfo struct {
	ID          string
	PortBinding nat.PortMap
}

// HostPort returns the first published host port, or "" when none is bound.
func (i ContainerInfo) HostPort() string {
	for _, bindings := range i.PortBinding {
		for _, binding := range bindings {
			if p := strings.TrimSpace(binding.HostPort); p != "" {
				return p
			}
		}
	}
	return ""
}

// PortMap publishes each container port on an ephemeral host port.
func PortMap(ports []int) nat.PortMap {
	out := nat.PortMap{}
	for _, p := range ports {
		port := nat.Port(strconv.Itoa(p) + "/tcp")
		out[port] = []nat.PortBinding{{HostIP: "0.0.0.0"}}
	}
	return out
}

// RunContainer replaces any container with the same name and starts spec.
func (c *Client) RunContainer(ctx context.Context, spec RunSpec) (ContainerInfo, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return ContainerInfo{}, fmt.Errorf("container name cannot be empty")
	}
	if strings.TrimSpace(spec.Image) == "" {
		return ContainerInfo{}, fmt.Errorf("image name cannot be empty")
	}
	if err := c.RemoveContainer(ctx, spec.Name); err != nil {
		return ContainerInfo{}, err
	}

	ports := PortMap(spec.Ports)
	config := &container.Config{
		Image:        spec.Image,
		Cmd:          spec.Cmd,
		Env:          spec.Env,
		ExposedPorts: nat.PortSet{},
		Labels:       map[string]string{LabelAssembly: spec.AssemblyID},
	}
	for p := range ports {
		config.ExposedPorts[p] = struct{}{}
	}
	hostCfg := &container.HostConfig{
		PortBindings: ports,
		RestartPolicy: container.RestartPolicy{
			Name: container.RestartPolicyAlways,
		},
	}

	r, err := c.inner.ContainerCreate(ctx, config, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return ContainerInfo{}, fmt.Errorf("container create: %w", err)
	}
	if err := c.inner.ContainerStart(ctx, r.ID, container.StartOptions{}); err != nil {
		return ContainerInfo{}, fmt.Errorf("container start: %w", err)
	}

	var inspect types.ContainerJSON
	for attempt := 0; attempt < 10; attempt++ {
		inspect, err = c.inner.ContainerInspect(ctx, r.ID)
		if err != nil {
			return ContainerInfo{}, fmt.Errorf("container inspect: %w", err)
		}
		if len(spec.Ports) == 0 || hasHostPort(inspect.NetworkSettings) {
			break
		}
		select {
		case <-ctx.Done():
			return ContainerInfo{}, fmt.Errorf("wait for host port: %w", ctx.Err())
		case <-time.After(200 * time.Millisecond):
		}
	}

	info := ContainerInfo{ID: r.ID, PortBinding: nat.PortMap{}}
	if inspect.NetworkSettings != nil && inspect.NetworkSettings.Ports != nil {
		info.PortBinding = inspect.NetworkSettings.Ports
	}
	return info, nil
}

// RemoveContainer force-removes a container. A missing container is not an error.
func (c *Client) RemoveContainer(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("container name cannot be empty")
	}
	if err := c.inner.ContainerRemove(ctx, name, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}

func hasHostPort(settings *types.NetworkSettings) bool {
	if settings == nil {
		return false
	}
	return ContainerInfo{PortBinding: settings.Ports}.HostPort() != ""
}
