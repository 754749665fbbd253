// Package runner is the CLI frontend: it parses argv, resolves the profile,
// mints credentials, drives target resolution and hands the session to the
// launcher. All terminal failures leave here as ExitCodeError so main can
// mirror a meaningful exit status.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	awscreds "github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/opsdeck/awsconnect/internal/catalog"
	"github.com/opsdeck/awsconnect/internal/configstore"
	"github.com/opsdeck/awsconnect/internal/launch"
	"github.com/opsdeck/awsconnect/internal/prompt"
	"github.com/opsdeck/awsconnect/internal/resolve"
	"github.com/opsdeck/awsconnect/internal/telemetry/otel"
	"github.com/opsdeck/awsconnect/internal/vault"
)

const defaultRegion = "us-east-1"

// Exit codes for resolution and credential failures. The attached session's
// own exit status is mirrored verbatim and therefore shares the low range
// with the child.
const (
	exitUsage                = 2
	exitNoClustersFound      = 10
	exitNoRunningTasks       = 11
	exitContainerNotFound    = 12
	exitAuthenticationFailed = 13
	exitVaultUnavailable     = 14
	exitTransportUnavailable = 15
	exitCredentialsExpiring  = 16
)

type options struct {
	subcommand string
	profile    string
	cluster    string
	service    string
	task       string
	container  string
	region     string
	verbose    bool
	command    []string
}

type runner struct {
	opts    options
	cfg     configstore.Config
	verbose bool

	logger *log.Logger
}

// ExitCodeError carries the process exit status for main. For failed sessions
// the wrapped error keeps the cause; for a finished session that returned
// non-zero there is no cause, just the child's status to mirror.
type ExitCodeError struct {
	code int
	err  error
}

func (e *ExitCodeError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("command exited with code %d", e.code)
}

func (e *ExitCodeError) ExitCode() int {
	return e.code
}

func (e *ExitCodeError) Unwrap() error {
	return e.err
}

// Main runs the CLI with the provided argv slice. When args is empty, os.Args
// is used to mirror standard command invocation.
func Main(args []string) error {
	if len(args) == 0 {
		args = os.Args
	}
	name := commandName(args)
	return execute(name, args[1:])
}

func execute(cmdName string, args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		if errors.Is(err, errShowUsage) {
			fmt.Println(usage(cmdName))
			return nil
		}
		return &ExitCodeError{code: exitUsage, err: err}
	}

	cfg, err := configstore.Load()
	if err != nil {
		return err
	}

	r := &runner{
		opts:    opts,
		cfg:     cfg,
		verbose: opts.verbose,
		logger:  log.New(os.Stderr, "", 0),
	}

	switch opts.subcommand {
	case "login":
		return r.runLogin()
	case "execute":
		return r.runExecute()
	case "", "help":
		fmt.Println(usage(cmdName))
		return nil
	default:
		return &ExitCodeError{code: exitUsage, err: fmt.Errorf("unknown command %q; expected login or execute", opts.subcommand)}
	}
}

var errShowUsage = errors.New("show usage")

func parseArgs(args []string) (options, error) {
	opts := options{}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch arg {
		case "-p", "--profile":
			value, err := flagValue(args, &i)
			if err != nil {
				return opts, err
			}
			opts.profile = value
		case "-c", "--cluster":
			value, err := flagValue(args, &i)
			if err != nil {
				return opts, err
			}
			opts.cluster = value
		case "-s", "--service":
			value, err := flagValue(args, &i)
			if err != nil {
				return opts, err
			}
			opts.service = value
		case "-t", "--task":
			value, err := flagValue(args, &i)
			if err != nil {
				return opts, err
			}
			opts.task = value
		case "-n", "--container":
			value, err := flagValue(args, &i)
			if err != nil {
				return opts, err
			}
			opts.container = value
		case "-r", "--region":
			value, err := flagValue(args, &i)
			if err != nil {
				return opts, err
			}
			opts.region = value
		case "-V", "--verbose":
			opts.verbose = true
		case "-h", "--help", "help":
			return opts, errShowUsage
		case "--":
			opts.command = append(opts.command, args[i+1:]...)
			return opts, nil
		default:
			switch {
			case strings.HasPrefix(arg, "--profile="):
				opts.profile = strings.TrimPrefix(arg, "--profile=")
			case strings.HasPrefix(arg, "--cluster="):
				opts.cluster = strings.TrimPrefix(arg, "--cluster=")
			case strings.HasPrefix(arg, "--service="):
				opts.service = strings.TrimPrefix(arg, "--service=")
			case strings.HasPrefix(arg, "--task="):
				opts.task = strings.TrimPrefix(arg, "--task=")
			case strings.HasPrefix(arg, "--container="):
				opts.container = strings.TrimPrefix(arg, "--container=")
			case strings.HasPrefix(arg, "--region="):
				opts.region = strings.TrimPrefix(arg, "--region=")
			case strings.HasPrefix(arg, "--verbose="):
				return opts, fmt.Errorf("--verbose does not take a value")
			case strings.HasPrefix(arg, "-"):
				return opts, fmt.Errorf("unknown flag: %s", arg)
			case opts.subcommand == "":
				opts.subcommand = arg
			default:
				return opts, fmt.Errorf("unexpected argument %q; command arguments go after '--'", arg)
			}
		}
	}
	return opts, nil
}

func flagValue(args []string, i *int) (string, error) {
	if *i+1 >= len(args) {
		return "", fmt.Errorf("missing argument for %s", args[*i])
	}
	*i++
	return strings.TrimSpace(args[*i]), nil
}

func usage(cmdName string) string {
	return fmt.Sprintf(`Usage: %s <command> [flags] [-- command [args...]]   (%s)

Resolve an ECS target interactively, mint short-lived credentials through
aws-vault and attach an interactive shell via 'aws ecs execute-command'.

Commands:
  login     Open an aws-vault login session for a profile.
  execute   Resolve cluster/task/container and attach a remote shell.
  help      Show this message.

Flags:
  -p, --profile <name>      AWS profile (from ~/.aws/config) to assume.
  -c, --cluster <name>      ECS cluster name or ARN; skips the cluster prompt.
  -s, --service <name>      Restrict task listing to one service.
  -t, --task <id>           Task ID or ARN; skips task discovery.
  -n, --container <name>    Container name; must match exactly.
  -r, --region <name>       AWS region (defaults to AWS_REGION, then config).
  -V, --verbose             Enable verbose logging.

Anything after '--' runs inside the container instead of %q.

Defaults live at $XDG_CONFIG_HOME/awsconnect/config.toml (or
~/.config/awsconnect/config.toml). Set AWSCONNECT_HOME to override the base
directory. Global and per-profile sections set the default profile, region,
cluster, service and container.`, cmdName, versionTag(), launch.DefaultCommand)
}

func commandName(args []string) string {
	if len(args) == 0 {
		return "awsconnect"
	}
	name := strings.TrimSpace(args[0])
	if name == "" {
		return "awsconnect"
	}
	return filepath.Base(name)
}

func (r *runner) runLogin() error {
	broker := vault.NewBroker()
	if err := broker.Available(); err != nil {
		return wrapExit(err)
	}

	profile, err := r.resolveProfile()
	if err != nil {
		return wrapExit(err)
	}
	r.debugf("opening aws-vault login for profile %s", profile)

	if err := broker.Login(context.Background(), profile); err != nil {
		return wrapExit(err)
	}
	return nil
}

func (r *runner) runExecute() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)

	var interrupted int32
	stopInterrupts := watchInterrupts(sigCh, cancel, &interrupted)
	defer stopInterrupts()

	provider, err := otel.Setup(ctx, otel.LoadConfigFromEnv())
	if err != nil {
		return err
	}
	defer provider.Shutdown(context.Background())
	inst := provider.Session()

	if err := ensureCommand("aws-vault"); err != nil {
		return &ExitCodeError{code: exitVaultUnavailable, err: vault.ErrVaultUnavailable}
	}
	if err := ensureCommand("aws"); err != nil {
		return &ExitCodeError{code: exitTransportUnavailable, err: launch.ErrTransportUnavailable}
	}

	profile, err := r.resolveProfile()
	if err != nil {
		return wrapExit(err)
	}
	defaults := r.cfg.ForProfile(profile)
	region := r.resolveRegion(defaults)
	r.debugf("profile %s, region %s", profile, region)

	stage, ctx := inst.Start(ctx, otel.StageInfo{Stage: "credentials", Profile: profile, Region: region})
	broker := vault.NewBroker()
	creds, err := broker.Export(ctx, profile)
	finishStage(inst, stage, err)
	if err != nil {
		return wrapExit(interruptedErr(err, &interrupted))
	}

	cat, err := catalog.Dial(ctx, region, awscreds.NewStaticCredentialsProvider(
		creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken))
	if err != nil {
		return err
	}

	retry := resolve.DefaultRetryPolicy()
	retry.OnRetry = func(ctx context.Context, attempt int) {
		inst.TaskRetry(ctx)
	}
	resolver := &resolve.Resolver{
		Catalog: cat,
		Chooser: prompt.New(os.Stdin, os.Stderr),
		Retry:   retry,
	}
	spec := resolve.Spec{
		Cluster:   firstNonEmpty(r.opts.cluster, defaults.Cluster),
		Service:   firstNonEmpty(r.opts.service, defaults.Service),
		Task:      r.opts.task,
		Container: firstNonEmpty(r.opts.container, defaults.Container),
	}

	stage, ctx = inst.Start(ctx, otel.StageInfo{Stage: "resolve", Profile: profile, Region: region, Cluster: spec.Cluster})
	target, err := resolver.Resolve(ctx, spec)
	finishStage(inst, stage, err)
	if err != nil {
		inst.ResolveRun(ctx, "error")
		return wrapExit(interruptedErr(err, &interrupted))
	}
	inst.ResolveRun(ctx, "ok")
	r.debugf("resolved %s / %s / %s", target.Cluster.Ident(), target.Task.ID(), target.Container.Name)

	command := launch.DefaultCommand
	if len(r.opts.command) > 0 {
		command = strings.Join(r.opts.command, " ")
	} else if r.cfg.Command != "" {
		command = r.cfg.Command
	}

	// The launcher forwards terminal signals straight to the transport from
	// here on; our own interrupt handler must not race it for SIGINT.
	stopInterrupts()

	stage, ctx = inst.Start(ctx, otel.StageInfo{Stage: "launch", Profile: profile, Region: region, Cluster: target.Cluster.Ident()})
	launcher := &launch.Launcher{}
	code, err := launcher.Launch(ctx, launch.Spec{
		Target:      target,
		Credentials: creds,
		Region:      region,
		Command:     command,
		Interactive: true,
	})
	finishStage(inst, stage, err)
	if err != nil {
		return wrapExit(err)
	}
	inst.SessionLaunched(ctx, target.Cluster.Ident(), region)

	if code != 0 {
		return &ExitCodeError{code: code}
	}
	return nil
}

// resolveProfile picks the profile from the flag, then the config default,
// then an interactive picker over ~/.aws/config.
func (r *runner) resolveProfile() (string, error) {
	if r.opts.profile != "" {
		return r.opts.profile, nil
	}
	if r.cfg.Profile != "" {
		return r.cfg.Profile, nil
	}

	profiles, err := vault.Profiles()
	if err != nil {
		return "", fmt.Errorf("list aws profiles: %w", err)
	}
	if len(profiles) == 0 {
		return "", errors.New("no profiles found in ~/.aws/config; pass --profile or configure aws-vault")
	}
	if len(profiles) == 1 {
		return profiles[0], nil
	}

	chooser := prompt.New(os.Stdin, os.Stderr)
	idx, err := chooser.Choose(context.Background(), "Pick your profile", profiles)
	if err != nil {
		return "", err
	}
	return profiles[idx], nil
}

func (r *runner) resolveRegion(defaults configstore.ProfileDefaults) string {
	if r.opts.region != "" {
		return r.opts.region
	}
	for _, env := range []string{"AWS_REGION", "AWS_DEFAULT_REGION"} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			return v
		}
	}
	if defaults.Region != "" {
		return defaults.Region
	}
	if r.cfg.Region != "" {
		return r.cfg.Region
	}
	return defaultRegion
}

// wrapExit maps the typed failures to their exit codes. Unrecognized errors
// pass through and exit 1.
func wrapExit(err error) error {
	if err == nil {
		return nil
	}
	var containerErr *resolve.ContainerNotFoundError
	switch {
	case errors.Is(err, resolve.ErrNoClustersFound):
		return &ExitCodeError{code: exitNoClustersFound, err: err}
	case errors.Is(err, resolve.ErrNoRunningTasks):
		return &ExitCodeError{code: exitNoRunningTasks, err: err}
	case errors.As(err, &containerErr):
		return &ExitCodeError{code: exitContainerNotFound, err: err}
	case errors.Is(err, vault.ErrAuthenticationFailed):
		return &ExitCodeError{code: exitAuthenticationFailed, err: err}
	case errors.Is(err, vault.ErrVaultUnavailable):
		return &ExitCodeError{code: exitVaultUnavailable, err: err}
	case errors.Is(err, launch.ErrTransportUnavailable):
		return &ExitCodeError{code: exitTransportUnavailable, err: err}
	case errors.Is(err, launch.ErrCredentialsExpiringImminently):
		return &ExitCodeError{code: exitCredentialsExpiring, err: err}
	}
	return err
}

// watchInterrupts cancels the run on the first interrupt and exits the
// process on the second. The returned stop function is idempotent: it
// releases the signal registration and lets the goroutine exit.
func watchInterrupts(sigCh chan os.Signal, cancel context.CancelFunc, interrupted *int32) (stop func()) {
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-sigCh:
				if atomic.CompareAndSwapInt32(interrupted, 0, 1) {
					cancel()
					continue
				}
				os.Exit(1)
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(sigCh)
			close(done)
		})
	}
}

func interruptedErr(err error, interrupted *int32) error {
	if errors.Is(err, context.Canceled) && atomic.LoadInt32(interrupted) == 1 {
		return &ExitCodeError{code: 1, err: errors.New("interrupted")}
	}
	return err
}

func finishStage(inst *otel.SessionInstruments, h *otel.StageHandle, err error) {
	if err != nil {
		inst.Finish(h, "error", err.Error())
		return
	}
	inst.Finish(h, "ok", "")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func ensureCommand(name string) error {
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("required command %q not found in PATH", name)
	}
	return nil
}

func (r *runner) debugf(format string, args ...interface{}) {
	if r.verbose {
		r.logger.Printf(format, args...)
	}
}
