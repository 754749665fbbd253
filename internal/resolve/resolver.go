// Package resolve turns a partially-specified target into exactly one
// runnable (cluster, task, container) triple. Discovery is read-only; the
// only side effects are interactive prompts through the injected Chooser.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/opsdeck/awsconnect/internal/catalog"
)

var (
	// ErrNoClustersFound means discovery saw zero clusters for these
	// credentials and region.
	ErrNoClustersFound = errors.New("no clusters found")

	// ErrNoRunningTasks means no task reached RUNNING within the retry
	// budget.
	ErrNoRunningTasks = errors.New("no running tasks")
)

// ContainerNotFoundError reports a container name that matched nothing in the
// selected task, along with the names that would have matched.
type ContainerNotFoundError struct {
	Name  string
	Valid []string
}

func (e *ContainerNotFoundError) Error() string {
	return fmt.Sprintf("container %q not found; valid containers: %s", e.Name, strings.Join(e.Valid, ", "))
}

// Spec is the partial target from flags and config. Empty fields mean
// "discover and, when ambiguous, prompt".
type Spec struct {
	Cluster   string
	Service   string
	Task      string
	Container string
}

// Target is the fully disambiguated snapshot handed to the launcher. It is
// not a live handle: the task can stop between resolution and launch.
type Target struct {
	Cluster   catalog.ClusterRef
	Task      catalog.TaskRef
	Container catalog.ContainerRef
}

// Catalog is the discovery surface the resolver reads.
type Catalog interface {
	Clusters(ctx context.Context) ([]catalog.ClusterRef, error)
	Tasks(ctx context.Context, cluster catalog.ClusterRef, service string) ([]catalog.TaskRef, error)
	Task(ctx context.Context, cluster catalog.ClusterRef, id string) (catalog.TaskRef, error)
}

// Chooser resolves ambiguity by asking the user to pick one option.
type Chooser interface {
	Choose(ctx context.Context, title string, options []string) (int, error)
}

// Resolver walks cluster → task → container, prompting only when a step has
// more than one candidate.
type Resolver struct {
	Catalog Catalog
	Chooser Chooser
	Retry   RetryPolicy
}

// Resolve disambiguates spec down to one running target.
func (r *Resolver) Resolve(ctx context.Context, spec Spec) (Target, error) {
	cluster, err := r.cluster(ctx, spec.Cluster)
	if err != nil {
		return Target{}, err
	}

	task, err := r.task(ctx, cluster, spec)
	if err != nil {
		return Target{}, err
	}

	container, err := r.container(ctx, task, spec.Container)
	if err != nil {
		return Target{}, err
	}

	return Target{Cluster: cluster, Task: task, Container: container}, nil
}

func (r *Resolver) cluster(ctx context.Context, name string) (catalog.ClusterRef, error) {
	if name != "" {
		// Names and ARNs pass through untouched; the control plane validates
		// them on the first task listing.
		return catalog.ClusterRef{Name: name}, nil
	}

	clusters, err := r.Catalog.Clusters(ctx)
	if err != nil {
		return catalog.ClusterRef{}, err
	}
	switch len(clusters) {
	case 0:
		return catalog.ClusterRef{}, ErrNoClustersFound
	case 1:
		return clusters[0], nil
	}

	options := make([]string, len(clusters))
	for i, c := range clusters {
		options[i] = c.Name
	}
	idx, err := r.Chooser.Choose(ctx, "Pick your cluster", options)
	if err != nil {
		return catalog.ClusterRef{}, err
	}
	return clusters[idx], nil
}

// task lists candidates and polls while the control plane reports only
// transitional states. The listing is eventually consistent: a task that just
// started may not show RUNNING on the first pass.
func (r *Resolver) task(ctx context.Context, cluster catalog.ClusterRef, spec Spec) (catalog.TaskRef, error) {
	if spec.Task != "" {
		return r.namedTask(ctx, cluster, spec.Task)
	}

	attempts := r.Retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; ; attempt++ {
		tasks, err := r.Catalog.Tasks(ctx, cluster, spec.Service)
		if err != nil {
			return catalog.TaskRef{}, err
		}

		running := filterRunning(tasks)
		if len(running) > 0 {
			return r.selectTask(ctx, running)
		}

		if attempt >= attempts || !anyTransitional(tasks) {
			return catalog.TaskRef{}, fmt.Errorf("cluster %s: %w", cluster.Ident(), ErrNoRunningTasks)
		}
		if err := r.Retry.Wait(ctx, attempt); err != nil {
			return catalog.TaskRef{}, err
		}
	}
}

func (r *Resolver) namedTask(ctx context.Context, cluster catalog.ClusterRef, id string) (catalog.TaskRef, error) {
	attempts := r.Retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; ; attempt++ {
		task, err := r.Catalog.Task(ctx, cluster, id)
		if err != nil {
			return catalog.TaskRef{}, err
		}
		if task.Lifecycle.Runnable() {
			return task, nil
		}
		if attempt >= attempts || !task.Lifecycle.Transitional() {
			return catalog.TaskRef{}, fmt.Errorf("task %s is %s: %w", task.ID(), task.Lifecycle, ErrNoRunningTasks)
		}
		if err := r.Retry.Wait(ctx, attempt); err != nil {
			return catalog.TaskRef{}, err
		}
	}
}

func (r *Resolver) selectTask(ctx context.Context, running []catalog.TaskRef) (catalog.TaskRef, error) {
	if len(running) == 1 {
		return running[0], nil
	}

	// Most recently started first. Recency is presentation order only, not a
	// correctness guarantee.
	sort.SliceStable(running, func(i, j int) bool {
		if !running[i].StartedAt.Equal(running[j].StartedAt) {
			return running[i].StartedAt.After(running[j].StartedAt)
		}
		return running[i].ARN < running[j].ARN
	})

	options := make([]string, len(running))
	for i, t := range running {
		options[i] = t.Label()
	}
	idx, err := r.Chooser.Choose(ctx, "Pick your task", options)
	if err != nil {
		return catalog.TaskRef{}, err
	}
	return running[idx], nil
}

func (r *Resolver) container(ctx context.Context, task catalog.TaskRef, name string) (catalog.ContainerRef, error) {
	if name != "" {
		for _, c := range task.Containers {
			if c.Name == name || c.ARN == name {
				if c.Status != catalog.ContainerRunning {
					return catalog.ContainerRef{}, fmt.Errorf("container %q is not running (status %s)", c.Name, c.Status)
				}
				return c, nil
			}
		}
		return catalog.ContainerRef{}, &ContainerNotFoundError{Name: name, Valid: containerNames(task.Containers)}
	}

	running := make([]catalog.ContainerRef, 0, len(task.Containers))
	for _, c := range task.Containers {
		if c.Status == catalog.ContainerRunning {
			running = append(running, c)
		}
	}
	switch len(running) {
	case 0:
		return catalog.ContainerRef{}, fmt.Errorf("task %s has no running containers", task.ID())
	case 1:
		return running[0], nil
	}

	options := make([]string, len(running))
	for i, c := range running {
		options[i] = c.Name
	}
	idx, err := r.Chooser.Choose(ctx, "Pick your container", options)
	if err != nil {
		return catalog.ContainerRef{}, err
	}
	return running[idx], nil
}

func filterRunning(tasks []catalog.TaskRef) []catalog.TaskRef {
	var running []catalog.TaskRef
	for _, t := range tasks {
		if t.Lifecycle.Runnable() {
			running = append(running, t)
		}
	}
	return running
}

func anyTransitional(tasks []catalog.TaskRef) bool {
	for _, t := range tasks {
		if t.Lifecycle.Transitional() {
			return true
		}
	}
	return false
}

func containerNames(containers []catalog.ContainerRef) []string {
	names := make([]string, len(containers))
	for i, c := range containers {
		names[i] = c.Name
	}
	return names
}
