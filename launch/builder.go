package launch

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"

	"github.com/google/uuid"

	"github.com/tomyedwab/satellite/types"
)

const (
	DefaultJavaPath         = "/usr/bin/java"
	DefaultIdentityProperty = "satellite.deployment"
	DefaultStagingDir       = "/tmp"
	DefaultLogDir           = "/tmp"

	// GeneratedFilePrefix starts the name of every file Build writes.
	GeneratedFilePrefix = "satellite-"
)

// ArtifactFetcher stages an artifact locally and returns its path.
type ArtifactFetcher interface {
	FetchArtifact(ctx context.Context, kind types.ArtifactKind, id string) (string, error)
}

// BuilderConfig holds configuration options for the Builder.
type BuilderConfig struct {
	Artifacts        ArtifactFetcher
	LauncherPath     string
	JavaPath         string             // Optional, defaults to /usr/bin/java
	IdentityProperty string             // Optional, defaults to "satellite.deployment"
	StagingDir       string             // Optional, defaults to /tmp
	LogDir           string             // Optional, defaults to /tmp
	ClusterTemplate  *template.Template // Optional, defaults to DefaultClusterTemplate
	Logger           *slog.Logger       // Optional, defaults to slog.Default()
}

// Command is a fully resolved launch: executable, argument vector and the
// files generated for it.
type Command struct {
	Name           string
	Path           string
	Args           []string
	GeneratedFiles []string
}

func (c *Command) String() string {
	return c.Path + " " + strings.Join(c.Args, " ")
}

// Builder turns an instance descriptor into a launch Command.
type Builder struct {
	artifacts       ArtifactFetcher
	javaPath        string
	launcherPath    string
	property        string
	stagingDir      string
	logDir          string
	clusterTemplate *template.Template
	logger          *slog.Logger
}

func NewBuilder(config BuilderConfig) (*Builder, error) {
	if config.Artifacts == nil {
		return nil, fmt.Errorf("ArtifactFetcher is required")
	}
	if config.LauncherPath == "" {
		return nil, fmt.Errorf("launcher path is required")
	}

	b := &Builder{
		artifacts:       config.Artifacts,
		javaPath:        config.JavaPath,
		launcherPath:    config.LauncherPath,
		property:        config.IdentityProperty,
		stagingDir:      config.StagingDir,
		logDir:          config.LogDir,
		clusterTemplate: config.ClusterTemplate,
		logger:          config.Logger,
	}
	if b.javaPath == "" {
		b.javaPath = DefaultJavaPath
	}
	if b.property == "" {
		b.property = DefaultIdentityProperty
	}
	if b.stagingDir == "" {
		b.stagingDir = DefaultStagingDir
	}
	if b.logDir == "" {
		b.logDir = DefaultLogDir
	}
	if b.clusterTemplate == nil {
		b.clusterTemplate = DefaultClusterTemplate
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	b.logger = b.logger.With("component", "Builder")
	return b, nil
}

// Build stages the artifacts for d, writes its generated config files and
// assembles the command line. Generated files are removed if Build fails.
func (b *Builder) Build(ctx context.Context, d types.InstanceDescriptor) (cmd *Command, err error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	cmd = &Command{Name: d.Name, Path: b.javaPath}
	defer func() {
		if err != nil {
			for _, f := range cmd.GeneratedFiles {
				os.Remove(f)
			}
			cmd = nil
		}
	}()

	artifact, err := b.artifacts.FetchArtifact(ctx, types.ArtifactDeployment, d.Name)
	if err != nil {
		return cmd, fmt.Errorf("failed to fetch artifact for %s: %w", d.Name, err)
	}

	var libraries []string
	for _, id := range d.LibraryIDs {
		path, err := b.artifacts.FetchArtifact(ctx, types.ArtifactLibrary, id)
		if err != nil {
			return cmd, fmt.Errorf("failed to fetch library %s for %s: %w", id, d.Name, err)
		}
		libraries = append(libraries, path)
	}

	var prebootFile string
	if sp := d.ServiceProperties; sp != nil {
		var doc bytes.Buffer
		if err := RenderResources(&doc, sp.JNDIName, sp.Properties); err != nil {
			return cmd, err
		}
		resourcesFile, err := b.writeGenerated(cmd, "resources.xml", doc.Bytes())
		if err != nil {
			return cmd, err
		}
		prebootFile, err = b.writeGenerated(cmd, "preboot.txt", []byte("add-resources "+resourcesFile+"\n"))
		if err != nil {
			return cmd, err
		}
	}

	var clusterFile string
	if d.ClusterEnabled() {
		servers := make([]string, 0, len(d.Servers))
		for _, s := range d.Servers {
			servers = append(servers, s.Name)
		}
		port := d.HzConfiguration.Port
		var doc bytes.Buffer
		if err := RenderClusterConfig(&doc, b.clusterTemplate, port, ClusterMembers(servers, port)); err != nil {
			return cmd, err
		}
		clusterFile, err = b.writeGenerated(cmd, "hazelcast.xml", doc.Bytes())
		if err != nil {
			return cmd, err
		}
	}

	initial, max := d.HeapSizesMB()
	args := []string{
		fmt.Sprintf("-Xms%dm", initial),
		fmt.Sprintf("-Xmx%dm", max),
		fmt.Sprintf("-D%s=%s", b.property, d.Name),
		"-jar", b.launcherPath,
		"--deploy", artifact,
	}
	if len(libraries) > 0 {
		args = append(args, "--addJars", strings.Join(libraries, ":"))
	}
	args = append(args,
		"--logtofile", filepath.Join(b.logDir, d.Name+".log"),
		"--port", strconv.Itoa(d.HTTPPort),
		"--sslport", strconv.Itoa(d.HTTPSPort),
	)
	if prebootFile != "" {
		args = append(args, "--prebootcommandfile", prebootFile)
	}
	if clusterFile != "" {
		args = append(args, "--hzconfigfile", clusterFile)
	}
	cmd.Args = args

	b.logger.Debug("Built launch command", "instance", d.Name, "command", cmd.String())
	return cmd, nil
}

func (b *Builder) writeGenerated(cmd *Command, suffix string, content []byte) (string, error) {
	if err := os.MkdirAll(b.stagingDir, 0755); err != nil {
		return "", fmt.Errorf("mkdir staging dir: %w", err)
	}
	path := filepath.Join(b.stagingDir, GeneratedFilePrefix+uuid.New().String()+"-"+suffix)
	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", fmt.Errorf("write %s: %w", suffix, err)
	}
	cmd.GeneratedFiles = append(cmd.GeneratedFiles, path)
	return path, nil
}
