package catalog

import (
	"fmt"
	"strings"
	"time"
)

// TaskLifecycle mirrors the lifecycle states the control plane reports for a
// task. Only LifecycleRunning tasks are eligible exec targets.
type TaskLifecycle string

const (
	LifecycleProvisioning   TaskLifecycle = "PROVISIONING"
	LifecyclePending        TaskLifecycle = "PENDING"
	LifecycleActivating     TaskLifecycle = "ACTIVATING"
	LifecycleRunning        TaskLifecycle = "RUNNING"
	LifecycleDeactivating   TaskLifecycle = "DEACTIVATING"
	LifecycleStopping       TaskLifecycle = "STOPPING"
	LifecycleDeprovisioning TaskLifecycle = "DEPROVISIONING"
	LifecycleStopped        TaskLifecycle = "STOPPED"
)

// Runnable reports whether a task in this state can host an exec session.
func (s TaskLifecycle) Runnable() bool {
	return s == LifecycleRunning
}

// Transitional reports whether the state may still settle into RUNNING, which
// is the signal the resolver uses to keep polling an eventually-consistent
// listing.
func (s TaskLifecycle) Transitional() bool {
	switch s {
	case LifecycleProvisioning, LifecyclePending, LifecycleActivating:
		return true
	}
	return false
}

// ContainerStatus is the runtime status of a single container within a task.
type ContainerStatus string

const (
	ContainerPending ContainerStatus = "PENDING"
	ContainerRunning ContainerStatus = "RUNNING"
	ContainerStopped ContainerStatus = "STOPPED"
)

// ClusterRef identifies a cluster within a region. Immutable once produced by
// discovery or user input.
type ClusterRef struct {
	Name   string
	ARN    string
	Region string
}

// Ident returns the identifier to hand to the control plane: the full ARN when
// discovery produced one, otherwise the user-supplied name.
func (c ClusterRef) Ident() string {
	if c.ARN != "" {
		return c.ARN
	}
	return c.Name
}

// ServiceRef identifies a service within exactly one cluster.
type ServiceRef struct {
	ClusterARN string
	Name       string
	ARN        string
}

// TaskRef is a snapshot of one task and its containers as reported by the
// catalog. It belongs to exactly one cluster and is immutable once produced.
type TaskRef struct {
	ClusterARN string
	ARN        string
	Family     string
	Lifecycle  TaskLifecycle
	StartedAt  time.Time
	Containers []ContainerRef
}

// ID returns the short task identifier (the final ARN path segment).
func (t TaskRef) ID() string {
	if idx := strings.LastIndex(t.ARN, "/"); idx >= 0 {
		return t.ARN[idx+1:]
	}
	return t.ARN
}

// Label renders the one-line description shown in interactive task selection:
// family, non-running status if any, short id, and the container list.
func (t TaskRef) Label() string {
	var status string
	if !t.Lifecycle.Runnable() {
		status = " " + string(t.Lifecycle)
	}
	names := make([]string, 0, len(t.Containers))
	for _, c := range t.Containers {
		names = append(names, c.Label())
	}
	return fmt.Sprintf("%s%s (%s) [%s]", t.Family, status, t.ID(), strings.Join(names, ", "))
}

// ContainerRef identifies one container within a task.
type ContainerRef struct {
	TaskARN string
	ARN     string
	Name    string
	Status  ContainerStatus
}

// Label renders the container name with a status suffix unless it is running.
func (c ContainerRef) Label() string {
	if c.Status == ContainerRunning {
		return c.Name
	}
	return fmt.Sprintf("%s %s", c.Name, c.Status)
}

// clusterNameFromARN extracts the friendly cluster name from an ARN of the
// form arn:aws:ecs:region:account:cluster/name.
func clusterNameFromARN(arn string) string {
	if idx := strings.Index(arn, ":cluster/"); idx >= 0 {
		return arn[idx+len(":cluster/"):]
	}
	return arn
}

func serviceNameFromARN(arn string) string {
	if idx := strings.LastIndex(arn, "/"); idx >= 0 {
		return arn[idx+1:]
	}
	return arn
}

// familyFromTaskDefinitionARN extracts the task family from an ARN of the form
// arn:aws:ecs:region:account:task-definition/family:revision.
func familyFromTaskDefinitionARN(arn string) string {
	marker := ":task-definition/"
	idx := strings.Index(arn, marker)
	if idx < 0 {
		return arn
	}
	rest := arn[idx+len(marker):]
	if colon := strings.Index(rest, ":"); colon >= 0 {
		rest = rest[:colon]
	}
	return rest
}
