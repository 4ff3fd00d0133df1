package launch

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"syscall"

	"github.com/tomyedwab/satellite/types"
)

// Spawner starts launch commands as detached processes.
type Spawner struct {
	Dir    string       // Optional working directory
	Logger *slog.Logger // Optional, defaults to slog.Default()
}

// Spawn starts cmd in its own process group and returns its pid without
// waiting for the instance to come up. The process is reaped in the background.
func (s *Spawner) Spawn(cmd *Command) (int, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "Spawner", "instance", cmd.Name)

	c := exec.Command(cmd.Path, cmd.Args...)
	c.Dir = s.Dir
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := c.Start(); err != nil {
		return 0, fmt.Errorf("failed to start %s: %w", cmd.Name, err)
	}
	pid := c.Process.Pid
	logger.Info("Instance process started", "pid", pid, "command", cmd.String())

	go func() {
		err := c.Wait()
		logger.Info("Instance process exited", "pid", pid, "exitCode", c.ProcessState.ExitCode(), "error", err)
	}()
	return pid, nil
}

// Launcher builds and spawns instances.
type Launcher struct {
	Builder *Builder
	Spawner *Spawner
}

func (l *Launcher) Launch(ctx context.Context, d types.InstanceDescriptor) (int, error) {
	cmd, err := l.Builder.Build(ctx, d)
	if err != nil {
		return 0, err
	}
	return l.Spawner.Spawn(cmd)
}
