// Package launch turns a resolved target and a credential set into one
// supervised interactive exec session. The remote-exec transport is the aws
// CLI's execute-command; this package only starts it, wires it to the
// terminal, forwards signals, and reports its exit status.
package launch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/opsdeck/awsconnect/internal/resolve"
	"github.com/opsdeck/awsconnect/internal/vault"
)

const (
	defaultTransport = "aws"

	// expirySafetyMargin is the minimum credential lifetime left at launch
	// time. A session started closer to expiry than this would be cut off
	// mid-use.
	expirySafetyMargin = time.Minute
)

// DefaultCommand is what runs inside the container when the caller does not
// name one.
const DefaultCommand = "/usr/bin/env bash"

var (
	// ErrTransportUnavailable means the remote-exec binary is missing.
	ErrTransportUnavailable = errors.New("aws CLI not found; is it installed and in your PATH?")

	// ErrCredentialsExpiringImminently means the credential set would not
	// outlive the safety margin; no child process is started.
	ErrCredentialsExpiringImminently = errors.New("credentials expire too soon to start a session")
)

// Spec is the complete description of one session: target, credentials,
// transport parameters. Built once, consumed once by Launch.
type Spec struct {
	Target      resolve.Target
	Credentials vault.CredentialSet
	Region      string
	Command     string
	Interactive bool
}

// TransportArgs renders the argv tail for the remote-exec transport. The
// identifiers come through exactly as resolved; no substitution happens here.
func (s Spec) TransportArgs() []string {
	args := []string{
		"ecs", "execute-command",
		"--cluster", s.Target.Cluster.Ident(),
		"--task", s.Target.Task.ARN,
		"--container", s.Target.Container.Name,
		"--command", s.Command,
	}
	if s.Region != "" {
		args = append(args, "--region", s.Region)
	}
	if s.Interactive {
		args = append(args, "--interactive")
	}
	return args
}

// Env renders the child's environment: the parent environment with the
// credential variables and region appended. Credentials reach only this one
// child; the parent's environment is never mutated.
func (s Spec) Env(base []string) []string {
	env := make([]string, 0, len(base)+4)
	for _, kv := range base {
		if hasCredentialKey(kv) {
			continue
		}
		env = append(env, kv)
	}
	env = append(env, s.Credentials.Env()...)
	if s.Region != "" {
		env = append(env, "AWS_REGION="+s.Region)
	}
	return env
}

func hasCredentialKey(kv string) bool {
	for _, key := range []string{
		"AWS_ACCESS_KEY_ID=",
		"AWS_SECRET_ACCESS_KEY=",
		"AWS_SESSION_TOKEN=",
		"AWS_REGION=",
		"AWS_DEFAULT_REGION=",
		"AWS_VAULT=",
	} {
		if strings.HasPrefix(kv, key) {
			return true
		}
	}
	return false
}

// State tracks the launcher through one session.
type State int32

const (
	StateIdle State = iota
	StateLaunching
	StateAttached
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLaunching:
		return "launching"
	case StateAttached:
		return "attached"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Process is the child-process capability the launcher supervises. The
// default implementation wraps exec.Cmd attached to the controlling terminal;
// tests substitute fakes.
type Process interface {
	Start() error
	Wait() (int, error)
	Signal(sig os.Signal) error
}

// Launcher supervises a single remote-exec child. Zero value works with
// production defaults.
type Launcher struct {
	// Transport overrides the transport binary name.
	Transport string

	// NewProcess overrides child creation; nil uses the exec-based default.
	NewProcess func(spec Spec) Process

	// Now overrides the clock for the expiry check.
	Now func() time.Time

	state atomic.Int32
}

// State returns the launcher's current lifecycle state.
func (l *Launcher) State() State {
	return State(l.state.Load())
}

func (l *Launcher) setState(s State) {
	l.state.Store(int32(s))
}

// forwardedSignals are relayed to the child rather than handled here, so the
// remote session can run its own cleanup. SIGWINCH keeps the remote terminal
// size in step with the local one.
var forwardedSignals = []os.Signal{os.Interrupt, unix.SIGTERM, unix.SIGWINCH}

var lookPath = exec.LookPath

// Launch starts the transport for the spec, attaches it to the terminal and
// blocks until it exits. The child's exit code is returned as-is; err is
// non-nil only for failures to start or supervise.
func (l *Launcher) Launch(ctx context.Context, spec Spec) (int, error) {
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	if !spec.Credentials.Expiry.IsZero() && spec.Credentials.Expiry.Before(now().Add(expirySafetyMargin)) {
		l.setState(StateFailed)
		return 0, fmt.Errorf("credentials expire at %s: %w", spec.Credentials.Expiry.Format(time.RFC3339), ErrCredentialsExpiringImminently)
	}

	factory := l.NewProcess
	if factory == nil {
		transport := l.Transport
		if transport == "" {
			transport = defaultTransport
		}
		if _, err := lookPath(transport); err != nil {
			l.setState(StateFailed)
			return 0, ErrTransportUnavailable
		}
		factory = func(spec Spec) Process {
			return newExecProcess(transport, spec)
		}
	}

	l.setState(StateLaunching)
	proc := factory(spec)
	if err := proc.Start(); err != nil {
		l.setState(StateFailed)
		return 0, fmt.Errorf("start remote-exec transport: %w", err)
	}
	l.setState(StateAttached)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, forwardedSignals...)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-sigCh:
				// Forward and keep waiting: the child owns the remote session
				// and must release it itself.
				_ = proc.Signal(sig)
			case <-done:
				return
			}
		}
	}()

	code, err := proc.Wait()
	close(done)
	signal.Stop(sigCh)

	if err != nil {
		l.setState(StateFailed)
		return code, fmt.Errorf("remote-exec session: %w", err)
	}
	l.setState(StateCompleted)
	return code, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func newExecProcess(transport string, spec Spec) Process {
	cmd := exec.Command(transport, spec.TransportArgs()...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = spec.Env(os.Environ())
	return &execProcess{cmd: cmd}
}

func (p *execProcess) Start() error {
	return p.cmd.Start()
}

func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return 0, err
}

func (p *execProcess) Signal(sig os.Signal) error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Signal(sig)
}
