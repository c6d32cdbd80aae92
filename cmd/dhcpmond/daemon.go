package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	// daemonEnv carries the readiness pipe fd to the detached child and
	// stops it from forking again.
	daemonEnv = "DHCPMON_DAEMON_READY_FD"

	readyOK        = "ready"
	startupTimeout = 60 * time.Second
)

var errNoReadiness = errors.New("daemon exited before reporting readiness")

// readiness reports the outcome of startup to the waiting parent. Only the
// first report is sent.
type readiness struct {
	once sync.Once
	w    io.WriteCloser
}

// childReadiness returns the notifier for a detached child, or a no-op
// notifier when running in the foreground.
func childReadiness() *readiness {
	fd, err := strconv.Atoi(os.Getenv(daemonEnv))
	if err != nil || fd < 3 {
		return &readiness{}
	}
	return &readiness{w: os.NewFile(uintptr(fd), "ready")}
}

func (r *readiness) notify(err error) {
	r.once.Do(func() {
		if r.w == nil {
			return
		}
		msg := readyOK
		if err != nil {
			msg = strings.ReplaceAll(err.Error(), "\n", "; ")
		}
		io.WriteString(r.w, msg+"\n")
		r.w.Close()
	})
}

// waitReady blocks until the child reports or closes its end.
func waitReady(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("wait for daemon: %w", err)
	}
	switch msg := strings.TrimSpace(string(data)); msg {
	case readyOK:
		return nil
	case "":
		return errNoReadiness
	default:
		return errors.New(msg)
	}
}

// daemonize re-executes the binary in a new session with its output in
// logFile and returns once the child has finished startup.
func daemonize(logFile string) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer devNull.Close()

	out, err := os.OpenFile(logFile, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0640)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer out.Close()

	pr, pw, err := os.Pipe()
	if err != nil {
		return err
	}
	defer pr.Close()

	cmd := exec.Command(exe, os.Args[1:]...)
	// ExtraFiles[0] is fd 3 in the child.
	cmd.Env = append(os.Environ(), daemonEnv+"=3")
	cmd.ExtraFiles = []*os.File{pw}
	cmd.Stdin = devNull
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		pw.Close()
		return err
	}
	pw.Close()

	pr.SetReadDeadline(time.Now().Add(startupTimeout))
	if err := waitReady(pr); err != nil {
		return fmt.Errorf("%w (see %s)", err, logFile)
	}
	return cmd.Process.Release()
}
