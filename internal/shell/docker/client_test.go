package docker

import (
	"context"
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

func skipIfNoDocker(t *testing.T) *EngineClient {
	t.Helper()
	cli, err := NewEngineClient("")
	if err != nil {
		t.Skip("Docker not available:", err)
	}
	if err := cli.Ping(context.Background()); err != nil {
		cli.Close()
		t.Skip("Docker not reachable:", err)
	}
	return cli
}

// =============================================================================
// Pending Service Tests
// =============================================================================

func TestPendingFromInfos_AllRunning(t *testing.T) {
	infos := []ContainerInfo{
		{Service: "backend", State: "running"},
		{Service: "frontend", State: "running"},
	}

	pending := pendingFromInfos(infos, []string{"backend", "frontend"})
	assert.Empty(t, pending)
}

func TestPendingFromInfos_PartialRunning(t *testing.T) {
	infos := []ContainerInfo{
		{Service: "backend", State: "running"},
		{Service: "frontend", State: "created"},
		{Service: "worker", State: "exited"},
	}

	pending := pendingFromInfos(infos, []string{"backend", "frontend", "worker"})
	assert.Equal(t, []string{"frontend", "worker"}, pending)
}

func TestPendingFromInfos_MissingService(t *testing.T) {
	// A service with no container at all is pending too
	infos := []ContainerInfo{
		{Service: "backend", State: "running"},
	}

	pending := pendingFromInfos(infos, []string{"backend", "frontend"})
	assert.Equal(t, []string{"frontend"}, pending)
}

func TestPendingFromInfos_EmptyServicesWaitsForAll(t *testing.T) {
	infos := []ContainerInfo{
		{Service: "worker", State: "exited"},
		{Service: "backend", State: "created"},
		{Service: "frontend", State: "running"},
	}

	pending := pendingFromInfos(infos, nil)
	assert.Equal(t, []string{"backend", "worker"}, pending)
}

func TestPendingFromInfos_ReplicasOneRunningSuffices(t *testing.T) {
	// Two containers for the same service; one running marks it ready
	infos := []ContainerInfo{
		{Service: "backend", State: "exited"},
		{Service: "backend", State: "running"},
	}

	pending := pendingFromInfos(infos, []string{"backend"})
	assert.Empty(t, pending)
}

// =============================================================================
// Endpoint Tests
// =============================================================================

func TestEndpointsFromPortMap_Flattens(t *testing.T) {
	ports := nat.PortMap{
		"8000/tcp": []nat.PortBinding{
			{HostIP: "0.0.0.0", HostPort: "8000"},
		},
		"9090/udp": []nat.PortBinding{
			{HostIP: "127.0.0.1", HostPort: "9000"},
		},
	}

	endpoints := endpointsFromPortMap("backend", ports)
	require.Len(t, endpoints, 2)

	for _, ep := range endpoints {
		assert.Equal(t, "backend", ep.Service)
	}

	byPort := make(map[int]Endpoint)
	for _, ep := range endpoints {
		byPort[ep.ContainerPort] = ep
	}
	assert.Equal(t, "tcp", byPort[8000].Protocol)
	assert.Equal(t, "8000", byPort[8000].HostPort)
	assert.Equal(t, "udp", byPort[9090].Protocol)
	assert.Equal(t, "9000", byPort[9090].HostPort)
	assert.Equal(t, "127.0.0.1", byPort[9090].HostIP)
}

func TestEndpointsFromPortMap_SkipsUnpublished(t *testing.T) {
	// An exposed port without a host binding is not an endpoint
	ports := nat.PortMap{
		"8000/tcp": []nat.PortBinding{
			{HostIP: "0.0.0.0", HostPort: ""},
		},
		"3000/tcp": nil,
	}

	endpoints := endpointsFromPortMap("frontend", ports)
	assert.Empty(t, endpoints)
}

func TestEndpointsFromPortMap_MultipleBindings(t *testing.T) {
	ports := nat.PortMap{
		"8000/tcp": []nat.PortBinding{
			{HostIP: "0.0.0.0", HostPort: "8000"},
			{HostIP: "::", HostPort: "8000"},
		},
	}

	endpoints := endpointsFromPortMap("backend", ports)
	assert.Len(t, endpoints, 2)
}

func TestEndpointURL_WildcardBindsToLocalhost(t *testing.T) {
	tests := []struct {
		name   string
		hostIP string
		want   string
	}{
		{"ipv4 wildcard", "0.0.0.0", "http://localhost:8000/"},
		{"ipv6 wildcard", "::", "http://localhost:8000/"},
		{"empty host", "", "http://localhost:8000/"},
		{"specific host", "192.168.1.10", "http://192.168.1.10:8000/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep := Endpoint{Service: "backend", ContainerPort: 8000, Protocol: "tcp", HostIP: tt.hostIP, HostPort: "8000"}
			assert.Equal(t, tt.want, ep.URL())
		})
	}
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestNewEngineClient_Success(t *testing.T) {
	cli := skipIfNoDocker(t)
	defer cli.Close()

	assert.NotNil(t, cli)
}

func TestPing_Success(t *testing.T) {
	cli := skipIfNoDocker(t)
	defer cli.Close()

	err := cli.Ping(context.Background())
	assert.NoError(t, err)
}

func TestClose_Success(t *testing.T) {
	cli := skipIfNoDocker(t)

	err := cli.Close()
	assert.NoError(t, err)
}

func TestListProjectContainers_UnknownProject(t *testing.T) {
	cli := skipIfNoDocker(t)
	defer cli.Close()

	// A project name nothing on the host uses lists cleanly as empty
	infos, err := cli.ListProjectContainers(context.Background(), "rampup-test-no-such-project")
	require.NoError(t, err)
	assert.Empty(t, infos)
}
