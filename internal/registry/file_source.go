package registry

import (
	"fmt"
	"log/slog"

	"github.com/halodata/querygate/internal/config"
	"github.com/halodata/querygate/internal/endpoint"
)

// DescriptorsFromConfig converts the on-disk server list into registry
// descriptors, preserving order. Servers start with Running false until the
// first probe.
func DescriptorsFromConfig(f *config.File) ([]ServerDescriptor, error) {
	descriptors := make([]ServerDescriptor, 0, len(f.Servers))
	for i, s := range f.Servers {
		ep, err := endpoint.Parse(s.URL)
		if err != nil {
			return nil, fmt.Errorf("servers[%d]: %w", i, err)
		}
		kind, err := ParseKind(s.Kind)
		if err != nil {
			return nil, fmt.Errorf("servers[%d]: %w", i, err)
		}

		label := s.Label
		if label == "" {
			label = ep.String()
		}
		descriptors = append(descriptors, ServerDescriptor{
			Label:    label,
			Endpoint: ep,
			Kind:     kind,
		})
	}
	return descriptors, nil
}

// FileSource loads the server list from a YAML config file into a registry.
type FileSource struct {
	path     string
	registry *Registry
	logger   *slog.Logger
}

// NewFileSource creates a source for the config file at path.
func NewFileSource(path string, reg *Registry, logger *slog.Logger) *FileSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSource{path: path, registry: reg, logger: logger}
}

// Load parses the file and replaces the registry's server list. On parse
// failure the registry keeps its previous servers.
func (s *FileSource) Load() (*config.File, error) {
	f, err := config.Load(s.path)
	if err != nil {
		return nil, err
	}

	descriptors, err := DescriptorsFromConfig(f)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", s.path, err)
	}

	// Keep running flags for servers that survive the reload.
	previous := make(map[endpoint.Endpoint]bool)
	for _, d := range s.registry.Servers() {
		previous[d.Endpoint] = d.Running
	}
	for i := range descriptors {
		descriptors[i].Running = previous[descriptors[i].Endpoint]
	}

	s.registry.SetServers(descriptors)
	s.logger.Info("Server list loaded", "path", s.path, "servers", len(descriptors))
	return f, nil
}
