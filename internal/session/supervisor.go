// Package session owns playback sessions: the transcoder subprocesses,
// their working directories, the per-session playlists, and the startup
// cleanup that reclaims whatever a previous run left behind.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/driftserve/drift/internal/observability"
)

const pidFileName = "ffmpeg.pid"

// orphanCandidate is the slice of the gopsutil process API the scan
// needs; tests substitute fakes.
type orphanCandidate interface {
	Cmdline() (string, error)
	KillWithContext(ctx context.Context) error
}

// listProcesses and findProcess are swappable for tests.
var listProcesses = func() ([]orphanCandidate, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}
	out := make([]orphanCandidate, len(procs))
	for i, p := range procs {
		out[i] = p
	}
	return out, nil
}

var findProcess = func(pid int) (orphanCandidate, error) {
	return process.NewProcess(int32(pid))
}

// Supervisor reclaims transcoder processes and scratch directories. Every
// encoder this server spawns works under the transcode dir, so a command
// line containing that path identifies our orphans after a crash.
type Supervisor struct {
	transcodeDir string
	killWait     time.Duration
	logger       *slog.Logger
}

// NewSupervisor creates a supervisor for the given transcode scratch dir.
func NewSupervisor(transcodeDir string, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		transcodeDir: transcodeDir,
		killWait:     2 * time.Second,
		logger:       observability.WithComponent(logger, "supervisor"),
	}
}

// CleanupOrphans kills leftover transcoder processes, waits for them to
// die, then removes every per-session directory. The order matters: a
// live encoder rewrites files into a directory deleted under it, so
// processes always die before their directories go.
func (s *Supervisor) CleanupOrphans(ctx context.Context) error {
	killed := s.killOrphanProcesses(ctx)
	if killed > 0 {
		// Give the kernel a moment to reap so file handles are closed
		// before the directories disappear.
		select {
		case <-time.After(s.killWait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := os.MkdirAll(s.transcodeDir, 0o755); err != nil {
		return fmt.Errorf("creating transcode dir: %w", err)
	}
	entries, err := os.ReadDir(s.transcodeDir)
	if err != nil {
		return fmt.Errorf("reading transcode dir: %w", err)
	}
	removed := 0
	for _, e := range entries {
		path := filepath.Join(s.transcodeDir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			observability.WithError(s.logger, err).Warn("removing stale session dir",
				slog.String("path", path))
			continue
		}
		removed++
	}

	s.logger.Info("startup cleanup finished",
		slog.Int("processes_killed", killed),
		slog.Int("dirs_removed", removed))
	return nil
}

// killOrphanProcesses force-kills every process whose command line
// references the transcode dir. Scan errors are logged, not fatal:
// directory cleanup still has to happen.
func (s *Supervisor) killOrphanProcesses(ctx context.Context) int {
	procs, err := listProcesses()
	if err != nil {
		observability.WithError(s.logger, err).Warn("process scan failed; skipping orphan kill")
		return 0
	}

	killed := 0
	for _, p := range procs {
		cmdline, err := p.Cmdline()
		if err != nil || !strings.Contains(cmdline, s.transcodeDir) {
			continue
		}
		pid := 0
		if pp, ok := p.(*process.Process); ok {
			pid = int(pp.Pid)
		}
		if err := p.KillWithContext(ctx); err != nil {
			observability.WithError(s.logger, err).Warn("killing orphan transcoder",
				slog.Int("pid", pid))
			continue
		}
		s.logger.Info("killed orphan transcoder", slog.Int("pid", pid))
		killed++
	}
	return killed
}

// WritePIDFile records the transcoder PID inside the session dir so a
// later run can terminate exactly this process.
func WritePIDFile(sessionDir string, pid int) error {
	return os.WriteFile(filepath.Join(sessionDir, pidFileName),
		[]byte(strconv.Itoa(pid)), 0o644)
}

// ReadPIDFile returns the recorded transcoder PID, or 0 when no PID file
// exists.
func ReadPIDFile(sessionDir string) (int, error) {
	data, err := os.ReadFile(filepath.Join(sessionDir, pidFileName))
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parsing pid file: %w", err)
	}
	return pid, nil
}

// KillSession terminates the transcoder recorded in the session dir's PID
// file, verifying the command line first so a recycled PID is never
// killed, then removes the directory.
func (s *Supervisor) KillSession(ctx context.Context, sessionDir string) error {
	pid, err := ReadPIDFile(sessionDir)
	if err != nil {
		observability.WithError(s.logger, err).Warn("unreadable pid file",
			slog.String("dir", sessionDir))
	}
	if pid > 0 {
		if p, err := findProcess(pid); err == nil {
			cmdline, err := p.Cmdline()
			if err == nil && strings.Contains(cmdline, s.transcodeDir) {
				if err := p.KillWithContext(ctx); err != nil {
					observability.WithError(s.logger, err).Warn("killing session transcoder",
						slog.Int("pid", pid))
				}
			}
		}
	}
	if err := os.RemoveAll(sessionDir); err != nil {
		return fmt.Errorf("removing session dir: %w", err)
	}
	return nil
}
