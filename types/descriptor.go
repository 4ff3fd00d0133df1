package types

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	DefaultInitialHeapMB = 512
	DefaultMaxHeapMB     = 512
)

// InstanceDescriptor is one entry of the control plane's desired-instance list
// for this server.
type InstanceDescriptor struct {
	Name              string             `json:"name"`
	HTTPPort          int                `json:"httpPort"`
	HTTPSPort         int                `json:"httpsPort"`
	LibraryIDs        []string           `json:"libraryIds,omitempty"`
	InitialHeapSize   *int               `json:"initialHeapSize,omitempty"`
	MaxHeapSize       *int               `json:"maxHeapSize,omitempty"`
	ServiceProperties *ServiceProperties `json:"serviceProperties,omitempty"`
	EnableHz          bool               `json:"enableHz,omitempty"`
	HzConfiguration   *HzConfiguration   `json:"hzConfiguration,omitempty"`
	Servers           []ServerRef        `json:"servers,omitempty"`
}

// ServiceProperties is exposed to the application as a custom JNDI resource.
type ServiceProperties struct {
	JNDIName   string            `json:"jndiName"`
	Properties map[string]string `json:"properties"`
}

type HzConfiguration struct {
	Port int `json:"port"`
}

// ServerRef names a peer host taking part in the instance's cluster.
type ServerRef struct {
	Name string `json:"name"`
}

// HeapSizesMB returns the initial and maximum heap in megabytes, falling back
// to the defaults for absent values.
func (d InstanceDescriptor) HeapSizesMB() (initial, max int) {
	initial, max = DefaultInitialHeapMB, DefaultMaxHeapMB
	if d.InitialHeapSize != nil {
		initial = *d.InitialHeapSize
	}
	if d.MaxHeapSize != nil {
		max = *d.MaxHeapSize
	}
	return initial, max
}

// ClusterEnabled reports whether a cluster membership config must be generated.
func (d InstanceDescriptor) ClusterEnabled() bool {
	return d.EnableHz
}

// Validate checks the fields needed to launch the instance.
func (d InstanceDescriptor) Validate() error {
	if err := ValidateArtifactID(d.Name); err != nil {
		return fmt.Errorf("invalid instance name: %w", err)
	}
	if d.HTTPPort <= 0 || d.HTTPPort > 65535 {
		return fmt.Errorf("instance %q has invalid httpPort %d", d.Name, d.HTTPPort)
	}
	if d.HTTPSPort <= 0 || d.HTTPSPort > 65535 {
		return fmt.Errorf("instance %q has invalid httpsPort %d", d.Name, d.HTTPSPort)
	}
	initial, max := d.HeapSizesMB()
	if initial <= 0 || max <= 0 {
		return fmt.Errorf("instance %q has non-positive heap size (initial=%d, max=%d)", d.Name, initial, max)
	}
	for _, id := range d.LibraryIDs {
		if err := ValidateArtifactID(id); err != nil {
			return fmt.Errorf("instance %q has invalid library id: %w", d.Name, err)
		}
	}
	if d.ServiceProperties != nil && d.ServiceProperties.JNDIName == "" {
		return fmt.Errorf("instance %q has serviceProperties without jndiName", d.Name)
	}
	if d.EnableHz {
		if d.HzConfiguration == nil || d.HzConfiguration.Port <= 0 || d.HzConfiguration.Port > 65535 {
			return fmt.Errorf("instance %q enables clustering without a valid hzConfiguration.port", d.Name)
		}
		if len(d.Servers) == 0 {
			return fmt.Errorf("instance %q enables clustering without servers", d.Name)
		}
		for _, s := range d.Servers {
			if strings.TrimSpace(s.Name) == "" {
				return fmt.Errorf("instance %q has a cluster server without a name", d.Name)
			}
		}
	}
	return nil
}

// ValidateArtifactID rejects identifiers that would escape the staging
// directory or cannot be carried in a single command-line token.
func ValidateArtifactID(id string) error {
	if id == "" {
		return fmt.Errorf("empty identifier")
	}
	if id == "." || id == ".." || filepath.Base(id) != id || strings.ContainsAny(id, "/\\") {
		return fmt.Errorf("identifier %q is not a single path element", id)
	}
	if strings.ContainsAny(id, " \t\r\n\x00") {
		return fmt.Errorf("identifier %q contains whitespace", id)
	}
	return nil
}
