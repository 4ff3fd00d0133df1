package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestDescriptorDecodesControlPlaneJSON(t *testing.T) {
	raw := `{
		"name": "svcA",
		"httpPort": 8080,
		"httpsPort": 8181,
		"libraryIds": ["L1", "L2"],
		"maxHeapSize": 1024,
		"serviceProperties": {"jndiName": "ds1", "properties": {"url": "jdbc:x", "user": "a"}},
		"enableHz": true,
		"hzConfiguration": {"port": 5701},
		"servers": [{"name": "h1"}, {"name": "h2"}],
		"unknownField": "ignored"
	}`

	var d InstanceDescriptor
	require.NoError(t, json.Unmarshal([]byte(raw), &d))

	assert.Equal(t, "svcA", d.Name)
	assert.Equal(t, 8080, d.HTTPPort)
	assert.Equal(t, 8181, d.HTTPSPort)
	assert.Equal(t, []string{"L1", "L2"}, d.LibraryIDs)
	assert.Nil(t, d.InitialHeapSize)
	require.NotNil(t, d.MaxHeapSize)
	assert.Equal(t, 1024, *d.MaxHeapSize)
	require.NotNil(t, d.ServiceProperties)
	assert.Equal(t, "ds1", d.ServiceProperties.JNDIName)
	assert.Equal(t, map[string]string{"url": "jdbc:x", "user": "a"}, d.ServiceProperties.Properties)
	assert.True(t, d.ClusterEnabled())
	assert.Equal(t, 5701, d.HzConfiguration.Port)
	assert.Equal(t, []ServerRef{{Name: "h1"}, {Name: "h2"}}, d.Servers)
	assert.NoError(t, d.Validate())
}

func TestHeapSizesMB(t *testing.T) {
	tests := []struct {
		name            string
		descriptor      InstanceDescriptor
		initial, maximum int
	}{
		{"defaults", InstanceDescriptor{}, 512, 512},
		{"both set", InstanceDescriptor{InitialHeapSize: intPtr(256), MaxHeapSize: intPtr(2048)}, 256, 2048},
		{"only initial", InstanceDescriptor{InitialHeapSize: intPtr(128)}, 128, 512},
		{"only max", InstanceDescriptor{MaxHeapSize: intPtr(768)}, 512, 768},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			initial, max := tt.descriptor.HeapSizesMB()
			assert.Equal(t, tt.initial, initial)
			assert.Equal(t, tt.maximum, max)
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() InstanceDescriptor {
		return InstanceDescriptor{Name: "svcA", HTTPPort: 8080, HTTPSPort: 8181}
	}

	tests := []struct {
		name    string
		mutate  func(d *InstanceDescriptor)
		wantErr string
	}{
		{"valid", func(d *InstanceDescriptor) {}, ""},
		{"missing name", func(d *InstanceDescriptor) { d.Name = "" }, "invalid instance name"},
		{"name with slash", func(d *InstanceDescriptor) { d.Name = "../etc" }, "single path element"},
		{"name with space", func(d *InstanceDescriptor) { d.Name = "a b" }, "whitespace"},
		{"zero http port", func(d *InstanceDescriptor) { d.HTTPPort = 0 }, "httpPort"},
		{"https port too large", func(d *InstanceDescriptor) { d.HTTPSPort = 70000 }, "httpsPort"},
		{"negative heap", func(d *InstanceDescriptor) { d.MaxHeapSize = intPtr(-1) }, "heap"},
		{"bad library id", func(d *InstanceDescriptor) { d.LibraryIDs = []string{"ok", "a/b"} }, "library id"},
		{"properties without jndi", func(d *InstanceDescriptor) {
			d.ServiceProperties = &ServiceProperties{Properties: map[string]string{"k": "v"}}
		}, "jndiName"},
		{"cluster without config", func(d *InstanceDescriptor) { d.EnableHz = true }, "hzConfiguration.port"},
		{"cluster without servers", func(d *InstanceDescriptor) {
			d.EnableHz = true
			d.HzConfiguration = &HzConfiguration{Port: 5701}
		}, "without servers"},
		{"cluster server without name", func(d *InstanceDescriptor) {
			d.EnableHz = true
			d.HzConfiguration = &HzConfiguration{Port: 5701}
			d.Servers = []ServerRef{{Name: " "}}
		}, "without a name"},
		{"cluster config ignored when disabled", func(d *InstanceDescriptor) {
			d.HzConfiguration = &HzConfiguration{Port: 0}
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid()
			tt.mutate(&d)
			err := d.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestArtifactKindExtension(t *testing.T) {
	assert.Equal(t, "war", ArtifactDeployment.Extension())
	assert.Equal(t, "jar", ArtifactLibrary.Extension())
	assert.False(t, ArtifactKind("other").Valid())
	assert.True(t, ArtifactLibrary.Valid())
}
