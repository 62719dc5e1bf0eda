package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LoadServicesConfig loads the services configuration from config/services.yaml
func LoadServicesConfig() (*ServicesConfig, error) {
	return LoadServicesConfigFromPath(filepath.Join("config", "services.yaml"))
}

// LoadServicesConfigFromPath loads the services configuration from a specific path
func LoadServicesConfigFromPath(path string) (*ServicesConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read services config: %w", err)
	}

	var cfg ServicesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse services config: %w", err)
	}

	// Validate that all services have required fields
	for id, settings := range cfg.Services {
		if settings.Port == 0 {
			return nil, fmt.Errorf("service %s: port is required", id)
		}
	}

	return &cfg, nil
}

// LoadServicesConfigOrDefault loads services config or returns default if file not found
func LoadServicesConfigOrDefault() *ServicesConfig {
	cfg, err := LoadServicesConfig()
	if err != nil {
		// Return default configuration with all services enabled
		return DefaultServicesConfig()
	}
	return cfg
}

// DefaultServicesConfig returns the default services configuration: the
// backend service names the Gateway's routing table recognizes, per spec.md §6.
func DefaultServicesConfig() *ServicesConfig {
	return &ServicesConfig{
		Services: map[string]*ServiceSettings{
			"gateway": {
				Enabled:     true,
				Port:        8080,
				Description: "JWT trust boundary, reverse proxy, and WebSocket hub",
			},
			"engine": {
				Enabled:     true,
				Port:        8101,
				Description: "Priority task queue and worker pool",
			},
			"rules": {
				Enabled:     true,
				Port:        8102,
				Description: "Declarative rule registry and evaluator",
			},
			"timeline": {
				Enabled:     true,
				Port:        8103,
				Description: "Append-only signed span store",
			},
			"identity": {
				Enabled:     true,
				Port:        8104,
				Description: "Ed25519 identity issuance and signing service",
			},
			"federation": {
				Enabled:     false,
				Port:        8105,
				Description: "Cross-mesh federation (not yet implemented)",
			},
		},
	}
}
