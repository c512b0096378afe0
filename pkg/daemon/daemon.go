package daemon

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/sevlyar/go-daemon"
	"github.com/zhengshuai-xiao/RelayS/internal"
)

var logger = internal.GetLogger("daemon")

var ErrRunning = errors.New("daemon already running")

// WasReborn reports whether this process is the daemonized child.
func WasReborn() bool {
	return daemon.WasReborn()
}

// UnsetMark clears the marker the child inherited, so processes it starts
// are not mistaken for daemons.
func UnsetMark() {
	os.Unsetenv(daemon.MARK_NAME)
}

// CheckPidFile fails with ErrRunning when pidFile names a live process and
// removes it when the process is gone.
func CheckPidFile(pidFile string) error {
	if _, err := os.Stat(pidFile); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	pid, err := daemon.ReadPidFile(pidFile)
	if err != nil {
		// unreadable or empty: nobody holds it
		logger.Warnf("ignoring unreadable pid file %s: %v", pidFile, err)
		return os.Remove(pidFile)
	}
	proc, err := os.FindProcess(pid)
	if err == nil {
		if err = proc.Signal(syscall.Signal(0)); err == nil {
			return fmt.Errorf("%w with pid %d", ErrRunning, pid)
		}
	}
	logger.Warnf("found stale pid file for dead process %d, removing it", pid)
	if err := os.Remove(pidFile); err != nil {
		return fmt.Errorf("remove stale pid file %s: %w", pidFile, err)
	}
	return nil
}

// StripBackground drops the flags that requested daemonization so the child
// does not fork again.
func StripBackground(args []string) []string {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == "--background" || arg == "-background" || arg == "-d" {
			continue
		}
		out = append(out, arg)
	}
	return out
}

// Daemonize forks the current process into the background. It returns the
// child's process in the parent and nil in the child.
func Daemonize(pidFile, logFile string, args []string) (*os.Process, error) {
	if logFile == "" {
		logFile = os.DevNull
	}
	cntxt := &daemon.Context{
		PidFileName: pidFile,
		PidFilePerm: 0644,
		LogFileName: logFile,
		LogFilePerm: 0640,
		WorkDir:     "/",
		Umask:       027,
		Args:        args,
	}
	return cntxt.Reborn()
}
