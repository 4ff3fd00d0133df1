package central

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/tomyedwab/satellite/types"
)

const defaultRequestTimeout = 30 * time.Second

// TokenGenerator produces a bearer token bound to the given audience.
type TokenGenerator interface {
	Generate(audience string) (string, error)
}

// Config holds the explicit settings of a control-plane Client.
type Config struct {
	BaseURL        string
	StagingDir     string        // Where artifacts are staged, defaults to os.TempDir()
	RequestTimeout time.Duration // Optional, defaults to 30s
	HTTPClient     *http.Client  // Optional
	Logger         *slog.Logger  // Optional, defaults to slog.Default()
}

// Client talks to the control plane. Every request carries a freshly
// generated token whose audience is the request URL.
type Client struct {
	baseURL    *url.URL
	stagingDir string
	httpClient *http.Client
	tokens     TokenGenerator
	logger     *slog.Logger
}

// NewClient creates a control-plane client.
func NewClient(config Config, tokens TokenGenerator) (*Client, error) {
	if tokens == nil {
		return nil, fmt.Errorf("token generator is required")
	}
	if config.BaseURL == "" {
		return nil, fmt.Errorf("control plane base URL is required")
	}
	base, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid control plane base URL %q: %w", config.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("control plane base URL %q must be http or https", config.BaseURL)
	}

	timeout := config.RequestTimeout
	if timeout == 0 {
		timeout = defaultRequestTimeout
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	stagingDir := config.StagingDir
	if stagingDir == "" {
		stagingDir = os.TempDir()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    base,
		stagingDir: stagingDir,
		httpClient: httpClient,
		tokens:     tokens,
		logger:     logger.With("component", "CentralClient"),
	}, nil
}

// FetchDesired returns the instances the control plane wants running on serverID.
func (c *Client) FetchDesired(ctx context.Context, serverID string) ([]types.InstanceDescriptor, error) {
	if serverID == "" {
		return nil, newError(ErrorTypeValidation, "server id is required", nil)
	}

	target := c.baseURL.JoinPath("server-deployments")
	query := target.Query()
	query.Set("server", serverID)
	target.RawQuery = query.Encode()

	resp, err := c.get(ctx, target.String())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var descriptors []types.InstanceDescriptor
	if err := json.NewDecoder(resp.Body).Decode(&descriptors); err != nil {
		return nil, newError(ErrorTypeValidation, "failed to decode desired instances", err)
	}
	if descriptors == nil {
		return nil, newError(ErrorTypeValidation, "desired instance list is not a JSON array", nil)
	}
	for i, d := range descriptors {
		if d.Name == "" {
			return nil, newError(ErrorTypeValidation, fmt.Sprintf("desired instance at index %d has no name", i), nil)
		}
	}

	c.logger.Debug("Fetched desired instances", "server", serverID, "count", len(descriptors))
	return descriptors, nil
}

// FetchArtifact downloads an artifact and stages it at ArtifactPath(kind, id),
// replacing any previous content. The file only appears once fully written.
func (c *Client) FetchArtifact(ctx context.Context, kind types.ArtifactKind, id string) (string, error) {
	if !kind.Valid() {
		return "", newError(ErrorTypeValidation, fmt.Sprintf("unknown artifact kind %q", kind), nil)
	}
	if err := types.ValidateArtifactID(id); err != nil {
		return "", newError(ErrorTypeValidation, "invalid artifact id", err)
	}

	var target *url.URL
	switch kind {
	case types.ArtifactDeployment:
		target = c.baseURL.JoinPath("server-deployments", id, "artifact")
	case types.ArtifactLibrary:
		target = c.baseURL.JoinPath("libraries", id, "artifact")
	}

	resp, err := c.get(ctx, target.String())
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	dest := c.ArtifactPath(kind, id)
	if err := writeAtomic(dest, resp.Body); err != nil {
		if IsNetworkError(err) {
			return "", err
		}
		return "", newError(ErrorTypeStorage, fmt.Sprintf("failed to stage %s artifact %q", kind, id), err)
	}

	c.logger.Info("Staged artifact", "kind", string(kind), "id", id, "path", dest)
	return dest, nil
}

// ArtifactPath is the deterministic staging location of an artifact.
func (c *Client) ArtifactPath(kind types.ArtifactKind, id string) string {
	return filepath.Join(c.stagingDir, id+"."+kind.Extension())
}

// get performs an authenticated GET. On success the caller owns resp.Body.
func (c *Client) get(ctx context.Context, target string) (*http.Response, error) {
	token, err := c.tokens.Generate(target)
	if err != nil {
		return nil, newError(ErrorTypeSigning, "failed to generate bearer token", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, newError(ErrorTypeValidation, "failed to create request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, newError(ErrorTypeNetwork, fmt.Sprintf("GET %s failed", target), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		return nil, wrapHTTPError(resp, fmt.Sprintf("GET %s", target))
	}
	return resp, nil
}

// writeAtomic copies body to a temp file beside dest and renames it over dest.
func writeAtomic(dest string, body io.Reader) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("mkdir staging dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if err := copyBody(tmp, body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("rename temp file -> %s: %w", dest, err)
	}
	committed = true
	return nil
}

// readTracker remembers the last error returned by the wrapped reader.
type readTracker struct {
	r   io.Reader
	err error
}

func (t *readTracker) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF {
		t.err = err
	}
	return n, err
}

// copyBody copies body into dst. Read failures are network errors, write
// failures are storage errors.
func copyBody(dst io.Writer, body io.Reader) error {
	src := &readTracker{r: body}
	if _, err := io.Copy(dst, src); err != nil {
		if src.err != nil {
			return newError(ErrorTypeNetwork, "failed to read artifact body", err)
		}
		return newError(ErrorTypeStorage, "failed to write artifact", err)
	}
	return nil
}
