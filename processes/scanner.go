package processes

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tomyedwab/satellite/types"
)

const (
	DefaultRuntimeMarker    = "java"
	DefaultIdentityProperty = "satellite.deployment"
	defaultScanTimeout      = 10 * time.Second
)

var ErrScanFailed = errors.New("process scan failed")

// CommandRunner runs a command and returns its standard output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return out, nil
}

// ScannerConfig holds configuration options for the Scanner.
type ScannerConfig struct {
	RuntimeMarker    string        // Optional, defaults to "java"
	IdentityProperty string        // Optional, defaults to "satellite.deployment"
	Timeout          time.Duration // Optional, defaults to 10s
	Runner           CommandRunner // Optional, defaults to running ps
	Logger           *slog.Logger  // Optional, defaults to slog.Default()
}

// Scanner discovers agent-managed instances from the OS process table. An
// instance is recognised by the runtime marker and the identity system
// property on its command line, so no local state is needed.
type Scanner struct {
	marker  string
	pattern *regexp.Regexp
	timeout time.Duration
	run     CommandRunner
	logger  *slog.Logger
}

func NewScanner(config ScannerConfig) *Scanner {
	marker := config.RuntimeMarker
	if marker == "" {
		marker = DefaultRuntimeMarker
	}
	property := config.IdentityProperty
	if property == "" {
		property = DefaultIdentityProperty
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = defaultScanTimeout
	}
	run := config.Runner
	if run == nil {
		run = runCommand
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scanner{
		marker:  marker,
		pattern: identityPattern(property),
		timeout: timeout,
		run:     run,
		logger:  logger.With("component", "Scanner"),
	}
}

func identityPattern(property string) *regexp.Regexp {
	return regexp.MustCompile(`^.*-D` + regexp.QuoteMeta(property) + `=(\S+) -jar.*$`)
}

// Scan lists every managed instance currently running on this host.
func (s *Scanner) Scan(ctx context.Context) ([]types.RunningInstance, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.run(ctx, "ps", "-e", "-o", "pid=,command=")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScanFailed, err)
	}

	running, err := parseProcessList(bytes.NewReader(out), s.marker, s.pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScanFailed, err)
	}
	s.logger.Debug("Scanned process table", "managed", len(running))
	return running, nil
}

// ParseProcessList extracts managed instances from "pid command-line" lines.
func ParseProcessList(r io.Reader, marker, property string) ([]types.RunningInstance, error) {
	return parseProcessList(r, marker, identityPattern(property))
}

func parseProcessList(r io.Reader, marker string, pattern *regexp.Regexp) ([]types.RunningInstance, error) {
	var running []types.RunningInstance
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.Contains(line, marker) {
			continue
		}
		pid, command, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(pid); err != nil || n <= 0 {
			continue
		}
		match := pattern.FindStringSubmatch(strings.TrimSpace(command))
		if match == nil {
			continue
		}
		running = append(running, types.RunningInstance{PID: pid, Name: match[1]})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return running, nil
}
