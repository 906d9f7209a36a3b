// Package docker implements a provider for local Docker objects:
// images, containers, networks, and volumes.
package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/go-connections/nat"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/terrapin-io/terrapin/internal/logging"
	"github.com/terrapin-io/terrapin/internal/provider"
)

// Releases is the published version history of the docker provider,
// oldest first.
var Releases = []provider.Release{
	{Version: "2.0.0", Checksums: []string{"sha256:4f8e7d6c5b4a3928170605f4e3d2c1b0a9f8e7d6c5b4a3921746354627180900"}},
	{Version: "2.1.0", Checksums: []string{"sha256:a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f90"}},
	{Version: "2.1.1", Checksums: []string{"sha256:0f1e2d3c4b5a69788796a5b4c3d2e1f00f1e2d3c4b5a69788796a5b4c3d2e1f0"}},
}

var schemas = map[string]*provider.Schema{
	"docker_image": {
		ForceReplacement: []string{"name", "build_context", "dockerfile"},
		Computed:         []string{"id"},
	},
	"docker_container": {
		ForceReplacement: []string{"name", "image", "command", "ports", "env", "networks", "volumes", "user", "working_dir"},
		Computed:         []string{"id", "status"},
	},
	"docker_network": {
		ForceReplacement: []string{"name", "driver", "internal"},
		Computed:         []string{"id"},
	},
	"docker_volume": {
		ForceReplacement: []string{"name", "driver"},
	},
}

// Provider talks to the local Docker daemon through its SDK client. The
// client is dialed lazily on the first real operation.
type Provider struct {
	mu     sync.Mutex
	client *client.Client
}

func New() *Provider {
	return &Provider{}
}

func (p *Provider) ensureClient() (*client.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	p.client = cli
	return cli, nil
}

func (p *Provider) Schema(resourceType string) (*provider.Schema, error) {
	s, ok := schemas[resourceType]
	if !ok {
		return nil, fmt.Errorf("unknown resource type: %s", resourceType)
	}
	return s, nil
}

func (p *Provider) Create(ctx context.Context, resourceType string, attrs map[string]any) (map[string]any, error) {
	cli, err := p.ensureClient()
	if err != nil {
		return nil, err
	}
	switch resourceType {
	case "docker_image":
		return p.createImage(ctx, cli, attrs)
	case "docker_container":
		return p.createContainer(ctx, cli, attrs)
	case "docker_network":
		return p.createNetwork(ctx, cli, attrs)
	case "docker_volume":
		return p.createVolume(ctx, cli, attrs)
	}
	return nil, fmt.Errorf("unknown resource type: %s", resourceType)
}

func (p *Provider) Read(ctx context.Context, resourceType string, attrs map[string]any) (map[string]any, error) {
	cli, err := p.ensureClient()
	if err != nil {
		return nil, err
	}
	id, _ := attrs["id"].(string)

	switch resourceType {
	case "docker_image":
		inspect, _, err := cli.ImageInspectWithRaw(ctx, id)
		if err != nil {
			if client.IsErrNotFound(err) {
				return nil, provider.ErrNotFound
			}
			return nil, err
		}
		out := copyAttrs(attrs)
		out["id"] = inspect.ID
		return out, nil

	case "docker_container":
		inspect, err := cli.ContainerInspect(ctx, id)
		if err != nil {
			if client.IsErrNotFound(err) {
				return nil, provider.ErrNotFound
			}
			return nil, err
		}
		out := copyAttrs(attrs)
		out["id"] = inspect.ID
		out["status"] = inspect.State.Status
		return out, nil

	case "docker_network":
		inspect, err := cli.NetworkInspect(ctx, id, network.InspectOptions{})
		if err != nil {
			if client.IsErrNotFound(err) {
				return nil, provider.ErrNotFound
			}
			return nil, err
		}
		out := copyAttrs(attrs)
		out["id"] = inspect.ID
		return out, nil

	case "docker_volume":
		name, _ := attrs["name"].(string)
		vol, err := cli.VolumeInspect(ctx, name)
		if err != nil {
			if client.IsErrNotFound(err) {
				return nil, provider.ErrNotFound
			}
			return nil, err
		}
		out := copyAttrs(attrs)
		out["name"] = vol.Name
		return out, nil
	}
	return nil, fmt.Errorf("unknown resource type: %s", resourceType)
}

// Update handles the few attributes Docker lets us change on a live
// object. Everything else is declared force-replacement in the schema,
// so the engine replaces instead of calling here.
func (p *Provider) Update(ctx context.Context, resourceType string, prior, desired map[string]any) (map[string]any, error) {
	cli, err := p.ensureClient()
	if err != nil {
		return nil, err
	}

	switch resourceType {
	case "docker_container":
		id, _ := prior["id"].(string)
		if restart, ok := desired["restart"].(string); ok {
			_, err := cli.ContainerUpdate(ctx, id, container.UpdateConfig{
				RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyMode(restart)},
			})
			if err != nil {
				return nil, fmt.Errorf("failed to update container %s: %w", id, err)
			}
		}
		out := copyAttrs(desired)
		out["id"] = prior["id"]
		return out, nil

	case "docker_image", "docker_network", "docker_volume":
		// Nothing mutable beyond labels; carry identity forward.
		out := copyAttrs(desired)
		if id, ok := prior["id"]; ok {
			out["id"] = id
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown resource type: %s", resourceType)
}

func (p *Provider) Delete(ctx context.Context, resourceType string, attrs map[string]any) error {
	cli, err := p.ensureClient()
	if err != nil {
		return err
	}
	id, _ := attrs["id"].(string)

	switch resourceType {
	case "docker_image":
		if id == "" {
			return nil
		}
		if _, err := cli.ImageRemove(ctx, id, image.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
			return fmt.Errorf("failed to remove image: %w", err)
		}
		return nil

	case "docker_container":
		if id == "" {
			return nil
		}
		stopTimeout := 10 // seconds
		_ = cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &stopTimeout})
		if err := cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
			return fmt.Errorf("failed to remove container: %w", err)
		}
		return nil

	case "docker_network":
		if id == "" {
			return nil
		}
		if err := cli.NetworkRemove(ctx, id); err != nil && !client.IsErrNotFound(err) {
			return fmt.Errorf("failed to remove network: %w", err)
		}
		return nil

	case "docker_volume":
		name, _ := attrs["name"].(string)
		if name == "" {
			return nil
		}
		if err := cli.VolumeRemove(ctx, name, true); err != nil && !client.IsErrNotFound(err) {
			return fmt.Errorf("failed to remove volume: %w", err)
		}
		return nil
	}
	return fmt.Errorf("unknown resource type: %s", resourceType)
}

func (p *Provider) createImage(ctx context.Context, cli *client.Client, attrs map[string]any) (map[string]any, error) {
	var cfg imageConfig
	if err := decodeAttrs(attrs, &cfg); err != nil {
		return nil, err
	}

	if cfg.BuildContext != "" {
		tar, err := archive.TarWithOptions(cfg.BuildContext, &archive.TarOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to create build context tar: %w", err)
		}
		resp, err := cli.ImageBuild(ctx, tar, types.ImageBuildOptions{
			Tags:       []string{cfg.Name},
			Dockerfile: cfg.Dockerfile,
			Remove:     true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build image: %w", err)
		}
		// Drain the build stream so the daemon is not blocked.
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	} else {
		reader, err := cli.ImagePull(ctx, cfg.Name, image.PullOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to pull image %s: %w", cfg.Name, err)
		}
		_, _ = io.Copy(io.Discard, reader)
		reader.Close()
	}

	inspect, _, err := cli.ImageInspectWithRaw(ctx, cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect image: %w", err)
	}

	out := copyAttrs(attrs)
	out["id"] = inspect.ID
	return out, nil
}

func (p *Provider) createContainer(ctx context.Context, cli *client.Client, attrs map[string]any) (map[string]any, error) {
	var cfg containerConfig
	if err := decodeAttrs(attrs, &cfg); err != nil {
		return nil, err
	}

	reader, err := cli.ImagePull(ctx, cfg.Image, image.PullOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to pull image %s: %w", cfg.Image, err)
	}
	_, _ = io.Copy(io.Discard, reader)
	reader.Close()

	portBindings := nat.PortMap{}
	for hostPort, containerPort := range cfg.Ports {
		cp := nat.Port(fmt.Sprintf("%d/tcp", containerPort))
		portBindings[cp] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: hostPort}}
	}

	var binds []string
	for _, v := range cfg.Volumes {
		parts := strings.SplitN(v, ":", 2)
		if strings.HasPrefix(parts[0], "./") || strings.HasPrefix(parts[0], "../") {
			if abs, err := filepath.Abs(parts[0]); err == nil {
				parts[0] = abs
				binds = append(binds, strings.Join(parts, ":"))
				continue
			}
		}
		binds = append(binds, v)
	}

	hostConfig := &container.HostConfig{
		PortBindings: portBindings,
		Binds:        binds,
	}
	if len(cfg.Networks) > 0 {
		hostConfig.NetworkMode = container.NetworkMode(cfg.Networks[0])
	}
	if cfg.Restart != "" {
		hostConfig.RestartPolicy = container.RestartPolicy{Name: container.RestartPolicyMode(cfg.Restart)}
	}

	config := &container.Config{
		Image:      cfg.Image,
		Cmd:        cfg.Command,
		Env:        envList(cfg.Env),
		Labels:     cfg.Labels,
		WorkingDir: cfg.WorkingDir,
		User:       cfg.User,
	}
	if cfg.Healthcheck != nil {
		test := cfg.Healthcheck.Test
		if len(test) == 0 {
			test = []string{"NONE"}
		}
		interval, _ := time.ParseDuration(cfg.Healthcheck.Interval)
		timeout, _ := time.ParseDuration(cfg.Healthcheck.Timeout)
		startPeriod, _ := time.ParseDuration(cfg.Healthcheck.StartPeriod)
		config.Healthcheck = &container.HealthConfig{
			Test:        test,
			Interval:    interval,
			Timeout:     timeout,
			StartPeriod: startPeriod,
			Retries:     cfg.Healthcheck.Retries,
		}
	}

	resp, err := cli.ContainerCreate(ctx, config, hostConfig, &network.NetworkingConfig{}, &v1.Platform{}, cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}
	if err := cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}
	logging.Debug("container started", "name", cfg.Name, "id", resp.ID)

	out := copyAttrs(attrs)
	out["id"] = resp.ID
	return out, nil
}

func (p *Provider) createNetwork(ctx context.Context, cli *client.Client, attrs map[string]any) (map[string]any, error) {
	var cfg networkConfig
	if err := decodeAttrs(attrs, &cfg); err != nil {
		return nil, err
	}
	resp, err := cli.NetworkCreate(ctx, cfg.Name, types.NetworkCreate{
		Driver:   cfg.Driver,
		Internal: cfg.Internal,
		Labels:   cfg.Labels,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create network: %w", err)
	}
	out := copyAttrs(attrs)
	out["id"] = resp.ID
	return out, nil
}

func (p *Provider) createVolume(ctx context.Context, cli *client.Client, attrs map[string]any) (map[string]any, error) {
	var cfg volumeConfig
	if err := decodeAttrs(attrs, &cfg); err != nil {
		return nil, err
	}
	vol, err := cli.VolumeCreate(ctx, volume.CreateOptions{
		Name:   cfg.Name,
		Driver: cfg.Driver,
		Labels: cfg.Labels,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create volume: %w", err)
	}
	out := copyAttrs(attrs)
	out["name"] = vol.Name
	return out, nil
}

// decodeAttrs converts the engine's generic attribute map into a typed
// config through JSON, which tolerates yaml's loose numeric types.
func decodeAttrs(attrs map[string]any, into any) error {
	raw, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("failed to encode attributes: %w", err)
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("failed to decode attributes: %w", err)
	}
	return nil
}

func copyAttrs(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs)+2)
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

func envList(m map[string]string) []string {
	var env []string
	for k, v := range m {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

type containerConfig struct {
	Image       string             `json:"image"`
	Name        string             `json:"name"`
	Command     []string           `json:"command"`
	Ports       map[string]int     `json:"ports"`
	Env         map[string]string  `json:"env"`
	Networks    []string           `json:"networks"`
	Volumes     []string           `json:"volumes"`
	Labels      map[string]string  `json:"labels"`
	WorkingDir  string             `json:"working_dir"`
	User        string             `json:"user"`
	Restart     string             `json:"restart"`
	Healthcheck *healthcheckConfig `json:"healthcheck"`
}

type healthcheckConfig struct {
	Test        []string `json:"test"`
	Interval    string   `json:"interval"`
	Timeout     string   `json:"timeout"`
	StartPeriod string   `json:"start_period"`
	Retries     int      `json:"retries"`
}

type networkConfig struct {
	Name     string            `json:"name"`
	Driver   string            `json:"driver"`
	Internal bool              `json:"internal"`
	Labels   map[string]string `json:"labels"`
}

type volumeConfig struct {
	Name   string            `json:"name"`
	Driver string            `json:"driver"`
	Labels map[string]string `json:"labels"`
}

type imageConfig struct {
	Name         string `json:"name"`
	BuildContext string `json:"build_context"`
	Dockerfile   string `json:"dockerfile"`
}
