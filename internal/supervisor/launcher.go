package supervisor

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"
)

// Handle is a launched companion process.
type Handle struct {
	Path      string
	LogPath   string
	Pid       int
	StartTime time.Time

	done chan struct{}
	once sync.Once
	err  error
}

func newHandle(path, logPath string, pid int) *Handle {
	return &Handle{
		Path:      path,
		LogPath:   logPath,
		Pid:       pid,
		StartTime: time.Now(),
		done:      make(chan struct{}),
	}
}

// Done is closed once the process has been reaped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err is the wait result. Only meaningful after Done is closed.
func (h *Handle) Err() error {
	<-h.done
	return h.err
}

func (h *Handle) finish(err error) {
	h.once.Do(func() {
		h.err = err
		close(h.done)
	})
}

// ExecLauncher starts the companion with os/exec. The child inherits the
// environment, gets no arguments and has stdout and stderr appended to the
// log file.
type ExecLauncher struct{}

func (ExecLauncher) Launch(path, logPath string) (*Handle, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat companion: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrNotFound, path)
	}

	cmd := exec.Command(path)
	cmd.SysProcAttr = sysProcAttr()

	var logFile *os.File
	if logPath != "" {
		if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		logFile, err = os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open companion log: %w", err)
		}
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			logFile.Close()
		}
		return nil, fmt.Errorf("failed to start companion: %w", err)
	}

	h := newHandle(path, logPath, cmd.Process.Pid)
	go func() {
		err := cmd.Wait()
		if logFile != nil {
			logFile.Close()
		}
		h.finish(err)
	}()
	return h, nil
}
