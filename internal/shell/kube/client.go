// Package kube drives the cluster control plane by shelling out to kubectl.
// Each application owns a namespace (app-<name>) holding one deployment,
// service, and ingress per environment; the package renders the manifests
// and applies them through the mounted kubeconfig.
package kube

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/artpar/shipyard/internal/core/domain"
	"github.com/artpar/shipyard/internal/core/manifest"
)

// Pod phases reported by status queries. Pending doubles as the answer for
// "no pods scheduled yet"; Unknown covers unreachable control planes.
const (
	PhasePending = "Pending"
	PhaseRunning = "Running"
	PhaseUnknown = "Unknown"
)

// PodStatus is the condensed health of one environment's pod.
type PodStatus struct {
	Phase    string `json:"phase"`
	Restarts int    `json:"restarts"`
	Ready    bool   `json:"ready"`
}

// AppStatus pairs the preview and production pod status for one app.
type AppStatus struct {
	Preview PodStatus `json:"preview"`
	Prod    PodStatus `json:"prod"`
}

// =============================================================================
// Client Interface
// =============================================================================

// Client is the pipeline's view of the cluster.
type Client interface {
	ApplyManifest(ctx context.Context, manifestYAML string) error
	CreateAppNamespace(ctx context.Context, appName string) error
	DeleteAppNamespace(ctx context.Context, appName string) error
	Deploy(ctx context.Context, appName string, env domain.Environment, version string) error
	SetImage(ctx context.Context, appName string, env domain.Environment, version string) error
	RolloutStatus(ctx context.Context, appName string, env domain.Environment, timeout time.Duration) error
	RolloutUndo(ctx context.Context, appName string, env domain.Environment) error
	PodStatus(ctx context.Context, appName string, env domain.Environment) PodStatus
	AllAppStatuses(ctx context.Context) (map[string]AppStatus, error)
	StreamLogs(ctx context.Context, appName string, env domain.Environment) (<-chan string, error)
	DeploymentImage(ctx context.Context, appName string, env domain.Environment) (string, error)
}

// commandRunner executes kubectl with the given args, feeding stdin when
// non-empty and returning trimmed stdout. Tests inject a fake; production
// uses execKubectl.
type commandRunner func(ctx context.Context, stdin string, args ...string) (string, error)

// logStreamer starts a long-running kubectl invocation and returns its
// combined output as a line channel, closed when the process exits.
type logStreamer func(ctx context.Context, args ...string) (<-chan string, error)

// =============================================================================
// Kubectl Implementation
// =============================================================================

// KubectlClient implements the Client interface via the kubectl binary.
type KubectlClient struct {
	registryHost string
	serverIP     string
	timeout      time.Duration

	run    commandRunner
	stream logStreamer
}

// NewKubectlClient creates a kubectl-backed client. registryHost is the
// image registry as seen by the cluster nodes; serverIP is the ingress IP
// used to compute nip.io hostnames.
func NewKubectlClient(registryHost, serverIP string, timeout time.Duration) *KubectlClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	c := &KubectlClient{registryHost: registryHost, serverIP: serverIP, timeout: timeout}
	c.run = c.execKubectl
	c.stream = c.execKubectlStream
	return c
}

// ApplyManifest pipes a rendered manifest into kubectl apply.
func (c *KubectlClient) ApplyManifest(ctx context.Context, manifestYAML string) error {
	if err := c.apply(ctx, manifestYAML); err != nil {
		return NewKubeError("apply", "", err)
	}
	return nil
}

// =============================================================================
// Namespace Lifecycle
// =============================================================================

// CreateAppNamespace provisions everything an application needs before its
// first deploy: the namespace with quota and network isolation, the
// RoleBinding letting the controller manage it, and the seed environment
// ConfigMap carrying APP_NAME.
func (c *KubectlClient) CreateAppNamespace(ctx context.Context, appName string) error {
	docs, err := manifest.NamespaceBundle(appName)
	if err != nil {
		return NewKubeError("create namespace", appName, err)
	}
	for _, doc := range docs {
		if err := c.apply(ctx, doc); err != nil {
			return NewKubeError("create namespace", appName, err)
		}
	}
	if err := c.applyEnvConfig(ctx, appName, map[string]string{"APP_NAME": appName}); err != nil {
		return NewKubeError("create namespace", appName, err)
	}
	return nil
}

// DeleteAppNamespace removes the app's namespace and everything in it.
// Deleting an absent namespace is not an error.
func (c *KubectlClient) DeleteAppNamespace(ctx context.Context, appName string) error {
	_, err := c.run(ctx, "", "delete", "namespace", domain.Namespace(appName), "--ignore-not-found=true")
	if err != nil {
		return NewKubeError("delete namespace", appName, err)
	}
	return nil
}

// applyEnvConfig creates or updates the app's environment ConfigMap. The
// dry-run render plus apply keeps the operation idempotent where a plain
// create would conflict on the second run.
func (c *KubectlClient) applyEnvConfig(ctx context.Context, appName string, envVars map[string]string) error {
	args := []string{
		"create", "configmap", appName + "-env",
		"-n", domain.Namespace(appName),
		"--save-config",
		"--dry-run=client",
		"-o", "yaml",
	}

	keys := make([]string, 0, len(envVars))
	for k := range envVars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, fmt.Sprintf("--from-literal=%s=%s", k, envVars[k]))
	}

	rendered, err := c.run(ctx, "", args...)
	if err != nil {
		return err
	}
	return c.apply(ctx, rendered)
}

// =============================================================================
// Deployment Lifecycle
// =============================================================================

// Deploy applies the deployment, service, and ingress for one environment
// with the image built for version. Existing objects are updated in place.
func (c *KubectlClient) Deploy(ctx context.Context, appName string, env domain.Environment, version string) error {
	image := manifest.ImageRef(c.registryHost, appName, version)
	host := domain.AppHost(appName, env, c.serverIP)

	doc, err := manifest.Deployment(appName, env, image, host)
	if err != nil {
		return NewKubeError("deploy", appName, err)
	}
	if err := c.apply(ctx, doc); err != nil {
		return NewKubeError("deploy", appName, err)
	}
	return nil
}

// SetImage swaps the container image on an existing deployment without
// touching the rest of the manifest.
func (c *KubectlClient) SetImage(ctx context.Context, appName string, env domain.Environment, version string) error {
	image := manifest.ImageRef(c.registryHost, appName, version)
	_, err := c.run(ctx, "",
		"set", "image",
		"deployment/"+domain.DeploymentName(appName, env),
		"app="+image,
		"-n", domain.Namespace(appName),
	)
	if err != nil {
		return NewKubeError("set image", appName, err)
	}
	return nil
}

// RolloutStatus blocks until the environment's deployment is ready or the
// wait window closes. Both timeout and rollout failure report
// ErrRolloutTimeout; the deployment keeps whatever state the rollout
// reached.
func (c *KubectlClient) RolloutStatus(ctx context.Context, appName string, env domain.Environment, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}

	// kubectl enforces the wait; the context deadline is a backstop.
	ctx, cancel := context.WithTimeout(ctx, timeout+15*time.Second)
	defer cancel()

	_, err := c.run(ctx, "",
		"rollout", "status",
		"deployment/"+domain.DeploymentName(appName, env),
		"-n", domain.Namespace(appName),
		fmt.Sprintf("--timeout=%ds", int(timeout.Seconds())),
	)
	if err != nil {
		return NewKubeError("rollout status", appName, fmt.Errorf("%w: %v", ErrRolloutTimeout, err))
	}
	return nil
}

// RolloutUndo reverts the deployment to its previous revision.
func (c *KubectlClient) RolloutUndo(ctx context.Context, appName string, env domain.Environment) error {
	_, err := c.run(ctx, "",
		"rollout", "undo",
		"deployment/"+domain.DeploymentName(appName, env),
		"-n", domain.Namespace(appName),
	)
	if err != nil {
		return NewKubeError("rollout undo", appName, err)
	}
	return nil
}

// DeploymentImage returns the image currently configured on an environment's
// deployment. A missing deployment reports an empty image with no error.
func (c *KubectlClient) DeploymentImage(ctx context.Context, appName string, env domain.Environment) (string, error) {
	out, err := c.run(ctx, "",
		"get", "deployment", domain.DeploymentName(appName, env),
		"-n", domain.Namespace(appName),
		"-o", "jsonpath={.spec.template.spec.containers[0].image}",
	)
	if err != nil {
		return "", nil
	}
	return strings.TrimSpace(out), nil
}

// =============================================================================
// Status Queries
// =============================================================================

// podList is the slice of the pods API response the status query reads.
type podList struct {
	Items []struct {
		Status struct {
			Phase             string `json:"phase"`
			ContainerStatuses []struct {
				Ready        bool `json:"ready"`
				RestartCount int  `json:"restartCount"`
			} `json:"containerStatuses"`
		} `json:"status"`
	} `json:"items"`
}

type namespaceList struct {
	Items []struct {
		Metadata struct {
			Name string `json:"name"`
		} `json:"metadata"`
	} `json:"items"`
}

// PodStatus reports the condensed health of an environment's pod. Query
// failures degrade to Unknown and an empty selector match to Pending, so
// status pages stay renderable while the cluster misbehaves.
func (c *KubectlClient) PodStatus(ctx context.Context, appName string, env domain.Environment) PodStatus {
	out, err := c.run(ctx, "",
		"get", "pods",
		"-n", domain.Namespace(appName),
		"-l", fmt.Sprintf("app=%s,env=%s", appName, env),
		"-o", "json",
	)
	if err != nil {
		return PodStatus{Phase: PhaseUnknown}
	}

	var list podList
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		return PodStatus{Phase: PhaseUnknown}
	}
	if len(list.Items) == 0 {
		return PodStatus{Phase: PhasePending}
	}

	pod := list.Items[0]
	status := PodStatus{Phase: pod.Status.Phase}
	if status.Phase == "" {
		status.Phase = PhaseUnknown
	}
	if len(pod.Status.ContainerStatuses) > 0 {
		status.Ready = true
		for _, cs := range pod.Status.ContainerStatuses {
			status.Restarts += cs.RestartCount
			if !cs.Ready {
				status.Ready = false
			}
		}
	}
	return status
}

// AllAppStatuses queries pod status for every app-owned namespace in the
// cluster, keyed by application name.
func (c *KubectlClient) AllAppStatuses(ctx context.Context) (map[string]AppStatus, error) {
	out, err := c.run(ctx, "", "get", "namespaces", "-o", "json")
	if err != nil {
		return nil, NewKubeError("list namespaces", "", err)
	}

	var list namespaceList
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		return nil, NewKubeError("list namespaces", "", err)
	}

	statuses := make(map[string]AppStatus)
	for _, ns := range list.Items {
		name, ok := strings.CutPrefix(ns.Metadata.Name, "app-")
		if !ok {
			continue
		}
		statuses[name] = AppStatus{
			Preview: c.PodStatus(ctx, name, domain.EnvPreview),
			Prod:    c.PodStatus(ctx, name, domain.EnvProd),
		}
	}
	return statuses, nil
}

// StreamLogs follows the environment's pod logs, starting 100 lines back.
// The channel closes when the process exits; cancelling ctx kills it.
func (c *KubectlClient) StreamLogs(ctx context.Context, appName string, env domain.Environment) (<-chan string, error) {
	lines, err := c.stream(ctx,
		"logs", "-f",
		"-n", domain.Namespace(appName),
		"-l", fmt.Sprintf("app=%s,env=%s", appName, env),
		"--tail=100",
	)
	if err != nil {
		return nil, NewKubeError("logs", appName, err)
	}
	return lines, nil
}

// =============================================================================
// Internals
// =============================================================================

func (c *KubectlClient) apply(ctx context.Context, manifestYAML string) error {
	_, err := c.run(ctx, manifestYAML, "apply", "-f", "-")
	return err
}

// execKubectl runs kubectl once. A caller deadline is respected when set;
// otherwise the client default applies. Stderr is folded into the returned
// error.
func (c *KubectlClient) execKubectl(ctx context.Context, stdin string, args ...string) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "kubectl", args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("kubectl %s: timeout", args[0])
		}
		return "", fmt.Errorf("kubectl %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// execKubectlStream starts kubectl and returns its combined stdout/stderr
// as a line channel. The reader goroutine exits when the process does or
// when ctx is cancelled, whichever comes first.
func (c *KubectlClient) execKubectlStream(ctx context.Context, args ...string) (<-chan string, error) {
	cmd := exec.CommandContext(ctx, "kubectl", args...)

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		return nil, fmt.Errorf("kubectl %s: %w", args[0], err)
	}

	go func() {
		cmd.Wait()
		pw.Close()
	}()

	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				pr.CloseWithError(ctx.Err())
				return
			}
		}
	}()
	return lines, nil
}
