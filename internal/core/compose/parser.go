package compose

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Types
// =============================================================================

// Project is the slice of a compose file the orchestrator cares about.
type Project struct {
	Services []Service
}

// Service is one compose service with its published ports.
type Service struct {
	Name  string
	Image string
	Ports []Port
}

// Port is a compose port mapping.
type Port struct {
	Target    uint32
	Published uint32
	Protocol  string
}

// ServiceNames returns the service names in declaration order.
func (p *Project) ServiceNames() []string {
	names := make([]string, 0, len(p.Services))
	for _, svc := range p.Services {
		names = append(names, svc.Name)
	}
	return names
}

// =============================================================================
// Parser Functions
// =============================================================================

// ParseFile reads and parses a compose file from disk.
func ParseFile(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read compose file: %w", err)
	}
	return Parse(string(data))
}

// Parse parses Docker Compose YAML into a Project.
// This is a pure function - no I/O, no side effects.
func Parse(yamlContent string) (*Project, error) {
	if strings.TrimSpace(yamlContent) == "" {
		return nil, ErrEmptyInput
	}

	project, err := loadComposeSpec(yamlContent)
	if err != nil {
		return nil, err
	}

	if len(project.Services) == 0 {
		return nil, ErrNoServices
	}

	result := &Project{
		Services: make([]Service, 0, len(project.Services)),
	}

	for _, svc := range project.Services {
		result.Services = append(result.Services, convertService(svc))
	}

	// compose-go hands services back as a map; keep output deterministic.
	sort.Slice(result.Services, func(i, j int) bool {
		return result.Services[i].Name < result.Services[j].Name
	})

	return result, nil
}

// loadComposeSpec loads a compose spec using compose-go.
func loadComposeSpec(yamlContent string) (*types.Project, error) {
	// Parse YAML into a map first so syntax errors surface as our error
	// type rather than a loader internal.
	var dict map[string]interface{}
	if err := yaml.Unmarshal([]byte(yamlContent), &dict); err != nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}
	if dict == nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}

	project, err := loader.LoadWithContext(context.Background(), types.ConfigDetails{
		ConfigFiles: []types.ConfigFile{
			{
				Content: []byte(yamlContent),
				Config:  dict,
			},
		},
	}, func(opts *loader.Options) {
		opts.SetProjectName("rampup-temp", false)
		opts.SkipValidation = false
		opts.SkipInterpolation = false
		// Don't resolve paths since we're in-memory
		opts.SkipNormalization = true
		opts.SkipExtends = true
	})
	if err != nil {
		return nil, NewParseError("", err.Error(), ErrInvalidYAML)
	}

	return project, nil
}

// convertService converts a compose-go service to our Service type.
func convertService(svc types.ServiceConfig) Service {
	service := Service{
		Name:  svc.Name,
		Image: svc.Image,
	}

	for _, p := range svc.Ports {
		var published uint32
		if p.Published != "" {
			pub, err := strconv.ParseUint(p.Published, 10, 32)
			if err == nil {
				published = uint32(pub)
			}
		}
		service.Ports = append(service.Ports, Port{
			Target:    p.Target,
			Published: published,
			Protocol:  p.Protocol,
		})
	}

	return service
}
