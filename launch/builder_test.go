package launch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomyedwab/satellite/types"
)

type fakeArtifacts struct {
	mu      sync.Mutex
	dir     string
	fetched []string
	fail    map[string]error
}

func (f *fakeArtifacts) FetchArtifact(ctx context.Context, kind types.ArtifactKind, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[id]; err != nil {
		return "", err
	}
	f.fetched = append(f.fetched, string(kind)+":"+id)
	return filepath.Join(f.dir, id+"."+kind.Extension()), nil
}

func newTestBuilder(t *testing.T) (*Builder, *fakeArtifacts, string) {
	t.Helper()
	staging := t.TempDir()
	artifacts := &fakeArtifacts{dir: staging, fail: map[string]error{}}
	b, err := NewBuilder(BuilderConfig{
		Artifacts:    artifacts,
		LauncherPath: "/opt/launcher.jar",
		StagingDir:   staging,
		LogDir:       "/var/log/satellite",
	})
	require.NoError(t, err)
	return b, artifacts, staging
}

func intPtr(v int) *int { return &v }

// argValue returns the argument following flag, or "" if flag is absent.
func argValue(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func TestBuildMinimal(t *testing.T) {
	b, artifacts, staging := newTestBuilder(t)

	cmd, err := b.Build(context.Background(), types.InstanceDescriptor{Name: "svcA", HTTPPort: 8080, HTTPSPort: 8181})
	require.NoError(t, err)

	assert.Equal(t, "/usr/bin/java", cmd.Path)
	assert.Equal(t, []string{
		"-Xms512m", "-Xmx512m",
		"-Dsatellite.deployment=svcA",
		"-jar", "/opt/launcher.jar",
		"--deploy", filepath.Join(staging, "svcA.war"),
		"--logtofile", "/var/log/satellite/svcA.log",
		"--port", "8080",
		"--sslport", "8181",
	}, cmd.Args)
	assert.Empty(t, cmd.GeneratedFiles)
	assert.Equal(t, []string{"deployment:svcA"}, artifacts.fetched)
}

func TestBuildHeapSizes(t *testing.T) {
	b, _, _ := newTestBuilder(t)

	cmd, err := b.Build(context.Background(), types.InstanceDescriptor{
		Name: "svcA", HTTPPort: 1, HTTPSPort: 2,
		InitialHeapSize: intPtr(256), MaxHeapSize: intPtr(2048),
	})
	require.NoError(t, err)
	assert.Equal(t, "-Xms256m", cmd.Args[0])
	assert.Equal(t, "-Xmx2048m", cmd.Args[1])

	cmd, err = b.Build(context.Background(), types.InstanceDescriptor{
		Name: "svcA", HTTPPort: 1, HTTPSPort: 2, MaxHeapSize: intPtr(1024),
	})
	require.NoError(t, err)
	assert.Equal(t, "-Xms512m", cmd.Args[0])
	assert.Equal(t, "-Xmx1024m", cmd.Args[1])
}

func TestBuildLibraries(t *testing.T) {
	b, artifacts, staging := newTestBuilder(t)

	cmd, err := b.Build(context.Background(), types.InstanceDescriptor{
		Name: "svcA", HTTPPort: 1, HTTPSPort: 2, LibraryIDs: []string{"L1", "L2"},
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(staging, "L1.jar")+":"+filepath.Join(staging, "L2.jar"), argValue(cmd.Args, "--addJars"))
	assert.Equal(t, []string{"deployment:svcA", "library:L1", "library:L2"}, artifacts.fetched)

	cmd, err = b.Build(context.Background(), types.InstanceDescriptor{Name: "svcB", HTTPPort: 1, HTTPSPort: 2, LibraryIDs: []string{}})
	require.NoError(t, err)
	assert.NotContains(t, cmd.Args, "--addJars")
}

func TestBuildServiceProperties(t *testing.T) {
	b, _, staging := newTestBuilder(t)

	cmd, err := b.Build(context.Background(), types.InstanceDescriptor{
		Name: "svcA", HTTPPort: 1, HTTPSPort: 2,
		ServiceProperties: &types.ServiceProperties{
			JNDIName:   "ds1",
			Properties: map[string]string{"url": "jdbc:x", "user": "a"},
		},
	})
	require.NoError(t, err)
	require.Len(t, cmd.GeneratedFiles, 2)

	preboot := argValue(cmd.Args, "--prebootcommandfile")
	require.NotEmpty(t, preboot)
	assert.Equal(t, staging, filepath.Dir(preboot))
	assert.True(t, strings.HasPrefix(filepath.Base(preboot), GeneratedFilePrefix))

	content, err := os.ReadFile(preboot)
	require.NoError(t, err)
	resourcesFile, ok := strings.CutPrefix(strings.TrimSpace(string(content)), "add-resources ")
	require.True(t, ok, "preboot file content: %q", content)
	assert.Contains(t, cmd.GeneratedFiles, resourcesFile)

	doc, err := os.ReadFile(resourcesFile)
	require.NoError(t, err)
	parsed := decodeResources(t, doc)
	require.Len(t, parsed.Resources, 1)
	assert.Equal(t, "ds1", parsed.Resources[0].JNDIName)
	assert.Len(t, parsed.Resources[0].Properties, 2)

	assert.Empty(t, argValue(cmd.Args, "--hzconfigfile"))
}

func TestBuildCluster(t *testing.T) {
	b, _, _ := newTestBuilder(t)

	cmd, err := b.Build(context.Background(), types.InstanceDescriptor{
		Name: "svcA", HTTPPort: 1, HTTPSPort: 2,
		EnableHz:        true,
		HzConfiguration: &types.HzConfiguration{Port: 5701},
		Servers:         []types.ServerRef{{Name: "h1"}, {Name: "h2"}},
	})
	require.NoError(t, err)

	hz := argValue(cmd.Args, "--hzconfigfile")
	require.NotEmpty(t, hz)
	assert.Equal(t, "--hzconfigfile", cmd.Args[len(cmd.Args)-2])
	content, err := os.ReadFile(hz)
	require.NoError(t, err)
	out := string(content)
	first := strings.Index(out, "<member>h1:5701</member>")
	second := strings.Index(out, "<member>h2:5701</member>")
	require.NotEqual(t, -1, first)
	assert.Greater(t, second, first)
	assert.NotContains(t, cmd.Args, "--prebootcommandfile")
}

func TestBuildGeneratedFilesAreUnique(t *testing.T) {
	b, _, _ := newTestBuilder(t)
	d := types.InstanceDescriptor{
		Name: "svcA", HTTPPort: 1, HTTPSPort: 2,
		ServiceProperties: &types.ServiceProperties{JNDIName: "ds1"},
	}

	first, err := b.Build(context.Background(), d)
	require.NoError(t, err)
	second, err := b.Build(context.Background(), d)
	require.NoError(t, err)
	for _, f := range first.GeneratedFiles {
		assert.NotContains(t, second.GeneratedFiles, f)
	}
}

func TestBuildArgumentsAreNotShellInterpreted(t *testing.T) {
	b, _, _ := newTestBuilder(t)
	cmd, err := b.Build(context.Background(), types.InstanceDescriptor{
		Name: "svc;rm$(x)", HTTPPort: 1, HTTPSPort: 2,
	})
	require.NoError(t, err)
	assert.Contains(t, cmd.Args, "-Dsatellite.deployment=svc;rm$(x)")
}

func TestBuildFailures(t *testing.T) {
	b, artifacts, staging := newTestBuilder(t)
	artifacts.fail["L2"] = errors.New("404")

	_, err := b.Build(context.Background(), types.InstanceDescriptor{
		Name: "svcA", HTTPPort: 1, HTTPSPort: 2, LibraryIDs: []string{"L1", "L2"},
		ServiceProperties: &types.ServiceProperties{JNDIName: "ds1"},
	})
	require.Error(t, err)
	entries, err := os.ReadDir(staging)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = b.Build(context.Background(), types.InstanceDescriptor{Name: "svcA"})
	assert.Error(t, err, "invalid ports must be rejected")

	_, err = b.Build(context.Background(), types.InstanceDescriptor{Name: "svcA", HTTPPort: 1, HTTPSPort: 2, EnableHz: true})
	assert.Error(t, err, "cluster without port must be rejected")
}

func TestNewBuilderValidation(t *testing.T) {
	_, err := NewBuilder(BuilderConfig{LauncherPath: "/x.jar"})
	assert.Error(t, err)
	_, err = NewBuilder(BuilderConfig{Artifacts: &fakeArtifacts{}})
	assert.Error(t, err)
}
