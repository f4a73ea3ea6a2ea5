// Package config holds typed configuration for querygate components and the
// on-disk server list format.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ProvisionConfig holds defaults applied when provisioning a worker without
// explicit overrides.
type ProvisionConfig struct {
	// HeapGB is the requested worker heap in gigabytes.
	HeapGB float64
	// FallbackLanguage is used when negotiation against the server's
	// advertised script providers finds no match.
	FallbackLanguage string
	// QueueName is the provisioning queue for ephemeral workers.
	QueueName string
	// AutoDeleteTimeout is the server-side reaping timer for the worker.
	AutoDeleteTimeout time.Duration
	// ExtraJVMArgs are appended to every create-query request.
	ExtraJVMArgs []string
}

// DefaultProvisionConfig returns the stock provisioning defaults.
func DefaultProvisionConfig() ProvisionConfig {
	return ProvisionConfig{
		HeapGB:            DefaultHeapGB,
		FallbackLanguage:  DefaultScriptLanguage,
		QueueName:         DefaultWorkerQueue,
		AutoDeleteTimeout: DefaultAutoDeleteTimeout,
		ExtraJVMArgs:      []string{WebsocketJVMFlag},
	}
}

// ServerConfig is one entry of the on-disk server list.
type ServerConfig struct {
	// Label is the operator-facing display name.
	Label string `yaml:"label"`
	// URL is the server endpoint, scheme://host:port.
	URL string `yaml:"url"`
	// Kind is "gateway" or "direct".
	Kind string `yaml:"kind"`
	// Token is an optional pre-provisioned API token for gateway login.
	// Interactive credential flows live outside this binary.
	Token string `yaml:"token,omitempty"`
}

// File is the root of the querygate YAML config file.
type File struct {
	Servers []ServerConfig `yaml:"servers"`

	// Provision overrides the provisioning defaults when set.
	Provision struct {
		HeapGB            float64 `yaml:"heap_gb,omitempty"`
		Language          string  `yaml:"language,omitempty"`
		Queue             string  `yaml:"queue,omitempty"`
		AutoDeleteMinutes int     `yaml:"auto_delete_minutes,omitempty"`
	} `yaml:"provision,omitempty"`
}

// Load reads and parses the config file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	for i, s := range f.Servers {
		if s.URL == "" {
			return nil, fmt.Errorf("config %s: servers[%d] has no url", path, i)
		}
	}
	return &f, nil
}

// ProvisionConfig merges the file's provisioning overrides onto the
// defaults.
func (f *File) ProvisionConfig() ProvisionConfig {
	cfg := DefaultProvisionConfig()
	if f.Provision.HeapGB > 0 {
		cfg.HeapGB = f.Provision.HeapGB
	}
	if f.Provision.Language != "" {
		cfg.FallbackLanguage = f.Provision.Language
	}
	if f.Provision.Queue != "" {
		cfg.QueueName = f.Provision.Queue
	}
	if f.Provision.AutoDeleteMinutes > 0 {
		cfg.AutoDeleteTimeout = time.Duration(f.Provision.AutoDeleteMinutes) * time.Minute
	}
	return cfg
}
