// Package docker verifies launched compose projects against the container
// engine: it lists a project's containers, waits for them to reach the
// running state, and reads their published port bindings.
package docker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// Compose labels the engine sets on containers it launches.
const (
	labelComposeProject = "com.docker.compose.project"
	labelComposeService = "com.docker.compose.service"
)

// waitPollInterval is the delay between polls while waiting for containers
// to reach the running state.
const waitPollInterval = 2 * time.Second

// =============================================================================
// Types
// =============================================================================

// ContainerInfo summarizes one container of a compose project.
type ContainerInfo struct {
	ID      string `json:"id"`
	Service string `json:"service"`
	Image   string `json:"image"`
	State   string `json:"state"` // created, running, exited, ...
}

// Endpoint is one published port of a service, host side.
type Endpoint struct {
	Service       string `json:"service"`
	ContainerPort int    `json:"container_port"`
	Protocol      string `json:"protocol"`
	HostIP        string `json:"host_ip"`
	HostPort      string `json:"host_port"`
}

// Client abstracts the engine operations the orchestrator needs, so tests
// can substitute a fake.
type Client interface {
	Ping(ctx context.Context) error
	ListProjectContainers(ctx context.Context, project string) ([]ContainerInfo, error)
	WaitForRunning(ctx context.Context, project string, services []string, timeout time.Duration) error
	PublishedEndpoints(ctx context.Context, project string) ([]Endpoint, error)
	Close() error
}

// =============================================================================
// Engine Client
// =============================================================================

// EngineClient implements Client using the Docker SDK.
type EngineClient struct {
	cli *client.Client
}

// NewEngineClient creates an engine client. If host is empty, the default
// Docker host from the environment is used.
func NewEngineClient(host string) (*EngineClient, error) {
	opts := []client.Opt{
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, NewDockerError("NewEngineClient", "", "failed to create client", ErrConnectionFailed)
	}

	return &EngineClient{cli: cli}, nil
}

// Ping checks if the Docker daemon is reachable.
func (e *EngineClient) Ping(ctx context.Context) error {
	if _, err := e.cli.Ping(ctx); err != nil {
		return NewDockerError("Ping", "", fmt.Sprintf("failed to ping docker: %v", err), ErrConnectionFailed)
	}
	return nil
}

// Close closes the engine client connection.
func (e *EngineClient) Close() error {
	return e.cli.Close()
}

// ListProjectContainers lists the containers belonging to a compose project,
// running or not, via the compose project label.
func (e *EngineClient) ListProjectContainers(ctx context.Context, project string) ([]ContainerInfo, error) {
	containers, err := e.cli.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", labelComposeProject+"="+project),
		),
	})
	if err != nil {
		return nil, NewDockerError("ListProjectContainers", project, err.Error(), ErrConnectionFailed)
	}

	infos := make([]ContainerInfo, 0, len(containers))
	for _, c := range containers {
		infos = append(infos, ContainerInfo{
			ID:      c.ID,
			Service: c.Labels[labelComposeService],
			Image:   c.Image,
			State:   c.State,
		})
	}
	return infos, nil
}

// WaitForRunning polls the engine until every named service of the project
// has a running container, or the timeout expires. With an empty services
// list it waits for every container currently labeled with the project.
func (e *EngineClient) WaitForRunning(ctx context.Context, project string, services []string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	for {
		pending, err := e.pendingServices(ctx, project, services)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			return nil
		}

		if time.Now().After(deadline) {
			return NewDockerError("WaitForRunning", project,
				fmt.Sprintf("services not running after %s: %s", timeout, strings.Join(pending, ", ")),
				ErrTimeout)
		}

		select {
		case <-ctx.Done():
			return NewDockerError("WaitForRunning", project, ctx.Err().Error(), ErrTimeout)
		case <-ticker.C:
		}
	}
}

// pendingServices returns the services that do not yet have a running
// container.
func (e *EngineClient) pendingServices(ctx context.Context, project string, services []string) ([]string, error) {
	infos, err := e.ListProjectContainers(ctx, project)
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, NewDockerError("WaitForRunning", project, "no containers found", ErrNoContainers)
	}
	return pendingFromInfos(infos, services), nil
}

// pendingFromInfos computes the services without a running container. With
// an empty services list every service seen in infos is expected.
func pendingFromInfos(infos []ContainerInfo, services []string) []string {
	running := make(map[string]bool)
	all := make(map[string]bool)
	for _, info := range infos {
		all[info.Service] = true
		if info.State == "running" {
			running[info.Service] = true
		}
	}

	want := services
	if len(want) == 0 {
		want = make([]string, 0, len(all))
		for svc := range all {
			want = append(want, svc)
		}
		sort.Strings(want)
	}

	var pending []string
	for _, svc := range want {
		if !running[svc] {
			pending = append(pending, svc)
		}
	}
	return pending
}

// PublishedEndpoints inspects the project's containers and returns their
// published port bindings. Used to derive default health-check URLs when
// the plan does not name explicit targets.
func (e *EngineClient) PublishedEndpoints(ctx context.Context, project string) ([]Endpoint, error) {
	infos, err := e.ListProjectContainers(ctx, project)
	if err != nil {
		return nil, err
	}

	var endpoints []Endpoint
	for _, info := range infos {
		inspect, err := e.cli.ContainerInspect(ctx, info.ID)
		if err != nil {
			return nil, NewDockerError("PublishedEndpoints", project, err.Error(), ErrConnectionFailed)
		}
		if inspect.NetworkSettings == nil {
			continue
		}

		endpoints = append(endpoints, endpointsFromPortMap(info.Service, inspect.NetworkSettings.Ports)...)
	}

	sort.Slice(endpoints, func(i, j int) bool {
		if endpoints[i].Service != endpoints[j].Service {
			return endpoints[i].Service < endpoints[j].Service
		}
		return endpoints[i].ContainerPort < endpoints[j].ContainerPort
	})
	return endpoints, nil
}

// endpointsFromPortMap flattens a nat.PortMap into endpoints.
func endpointsFromPortMap(service string, ports nat.PortMap) []Endpoint {
	var endpoints []Endpoint
	for port, bindings := range ports {
		for _, binding := range bindings {
			if binding.HostPort == "" {
				continue
			}
			endpoints = append(endpoints, Endpoint{
				Service:       service,
				ContainerPort: port.Int(),
				Protocol:      port.Proto(),
				HostIP:        binding.HostIP,
				HostPort:      binding.HostPort,
			})
		}
	}
	return endpoints
}

// URL renders the endpoint as a probe URL on localhost when the binding is
// wildcard-bound.
func (ep Endpoint) URL() string {
	host := ep.HostIP
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%s/", host, ep.HostPort)
}
