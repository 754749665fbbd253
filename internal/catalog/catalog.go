package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
)

// describeBatchSize is the control plane's per-call limit for DescribeTasks.
const describeBatchSize = 100

// API is the subset of the ECS control plane the catalog reads. It is
// satisfied by *ecs.Client and by test fakes.
type API interface {
	ListClusters(ctx context.Context, params *ecs.ListClustersInput, optFns ...func(*ecs.Options)) (*ecs.ListClustersOutput, error)
	ListServices(ctx context.Context, params *ecs.ListServicesInput, optFns ...func(*ecs.Options)) (*ecs.ListServicesOutput, error)
	ListTasks(ctx context.Context, params *ecs.ListTasksInput, optFns ...func(*ecs.Options)) (*ecs.ListTasksOutput, error)
	DescribeTasks(ctx context.Context, params *ecs.DescribeTasksInput, optFns ...func(*ecs.Options)) (*ecs.DescribeTasksOutput, error)
}

// Catalog answers read-only discovery questions against one region. All list
// operations follow pagination to completion before returning.
type Catalog struct {
	client API
	region string
}

// New wraps an existing control plane client.
func New(client API, region string) *Catalog {
	return &Catalog{client: client, region: region}
}

// Dial builds a Catalog backed by a real ECS client using the supplied
// short-lived credentials.
func Dial(ctx context.Context, region string, creds aws.CredentialsProvider) (*Catalog, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Catalog{client: ecs.NewFromConfig(cfg), region: region}, nil
}

// Region returns the region this catalog reads from.
func (c *Catalog) Region() string {
	return c.region
}

// Clusters lists every cluster visible to the credentials, sorted by name.
func (c *Catalog) Clusters(ctx context.Context) ([]ClusterRef, error) {
	var arns []string
	var token *string
	for {
		out, err := c.client.ListClusters(ctx, &ecs.ListClustersInput{NextToken: token})
		if err != nil {
			return nil, fmt.Errorf("list clusters: %w", err)
		}
		arns = append(arns, out.ClusterArns...)
		if out.NextToken == nil {
			break
		}
		token = out.NextToken
	}

	clusters := make([]ClusterRef, 0, len(arns))
	for _, arn := range arns {
		clusters = append(clusters, ClusterRef{
			Name:   clusterNameFromARN(arn),
			ARN:    arn,
			Region: c.region,
		})
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].Name < clusters[j].Name })
	return clusters, nil
}

// Services lists the services of one cluster, sorted by name.
func (c *Catalog) Services(ctx context.Context, cluster ClusterRef) ([]ServiceRef, error) {
	var arns []string
	var token *string
	for {
		out, err := c.client.ListServices(ctx, &ecs.ListServicesInput{
			Cluster:   aws.String(cluster.Ident()),
			NextToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list services in %s: %w", cluster.Ident(), err)
		}
		arns = append(arns, out.ServiceArns...)
		if out.NextToken == nil {
			break
		}
		token = out.NextToken
	}

	services := make([]ServiceRef, 0, len(arns))
	for _, arn := range arns {
		services = append(services, ServiceRef{
			ClusterARN: cluster.ARN,
			Name:       serviceNameFromARN(arn),
			ARN:        arn,
		})
	}
	sort.Slice(services, func(i, j int) bool { return services[i].Name < services[j].Name })
	return services, nil
}

// Tasks lists and describes the tasks of one cluster, optionally filtered by
// service. The listing asks for tasks whose desired state is RUNNING; the
// returned refs carry the last reported lifecycle state, which may lag behind
// (a just-started task can still show PROVISIONING or PENDING).
func (c *Catalog) Tasks(ctx context.Context, cluster ClusterRef, service string) ([]TaskRef, error) {
	var arns []string
	var token *string
	for {
		input := &ecs.ListTasksInput{
			Cluster:       aws.String(cluster.Ident()),
			DesiredStatus: ecstypes.DesiredStatusRunning,
			NextToken:     token,
		}
		if service != "" {
			input.ServiceName = aws.String(service)
		}
		out, err := c.client.ListTasks(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("list tasks in %s: %w", cluster.Ident(), err)
		}
		arns = append(arns, out.TaskArns...)
		if out.NextToken == nil {
			break
		}
		token = out.NextToken
	}
	if len(arns) == 0 {
		return nil, nil
	}

	var tasks []TaskRef
	for start := 0; start < len(arns); start += describeBatchSize {
		end := start + describeBatchSize
		if end > len(arns) {
			end = len(arns)
		}
		batch, err := c.describe(ctx, cluster, arns[start:end])
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, batch...)
	}
	return tasks, nil
}

// Task describes a single task by identifier (short id or full ARN).
func (c *Catalog) Task(ctx context.Context, cluster ClusterRef, id string) (TaskRef, error) {
	tasks, err := c.describe(ctx, cluster, []string{id})
	if err != nil {
		return TaskRef{}, err
	}
	if len(tasks) == 0 {
		return TaskRef{}, fmt.Errorf("task %s not found in %s", id, cluster.Ident())
	}
	return tasks[0], nil
}

func (c *Catalog) describe(ctx context.Context, cluster ClusterRef, arns []string) ([]TaskRef, error) {
	out, err := c.client.DescribeTasks(ctx, &ecs.DescribeTasksInput{
		Cluster: aws.String(cluster.Ident()),
		Tasks:   arns,
	})
	if err != nil {
		return nil, fmt.Errorf("describe tasks in %s: %w", cluster.Ident(), err)
	}
	if len(out.Failures) > 0 {
		return nil, fmt.Errorf("describe tasks in %s: %s", cluster.Ident(), describeFailures(out.Failures))
	}

	tasks := make([]TaskRef, 0, len(out.Tasks))
	for _, t := range out.Tasks {
		tasks = append(tasks, taskFromSDK(t))
	}
	return tasks, nil
}

func taskFromSDK(t ecstypes.Task) TaskRef {
	ref := TaskRef{
		ClusterARN: aws.ToString(t.ClusterArn),
		ARN:        aws.ToString(t.TaskArn),
		Family:     familyFromTaskDefinitionARN(aws.ToString(t.TaskDefinitionArn)),
		Lifecycle:  TaskLifecycle(strings.ToUpper(aws.ToString(t.LastStatus))),
	}
	if t.StartedAt != nil {
		ref.StartedAt = *t.StartedAt
	}
	for _, c := range t.Containers {
		ref.Containers = append(ref.Containers, ContainerRef{
			TaskARN: ref.ARN,
			ARN:     aws.ToString(c.ContainerArn),
			Name:    aws.ToString(c.Name),
			Status:  ContainerStatus(strings.ToUpper(aws.ToString(c.LastStatus))),
		})
	}
	return ref
}

func describeFailures(failures []ecstypes.Failure) string {
	parts := make([]string, 0, len(failures))
	for _, f := range failures {
		part := aws.ToString(f.Reason)
		if arn := aws.ToString(f.Arn); arn != "" {
			part = fmt.Sprintf("%s (%s)", part, arn)
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, "; ")
}
