package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	metricsclient "k8s.io/metrics/pkg/client/clientset/versioned"

	"github.com/canaryops/rollout-agent/internal/llm/types"
)

// K8sToolset exposes read-only cluster inspection tools to the model.
// Every outbound API call waits on the rate limiter first so a chatty
// model cannot hammer the apiserver.
type K8sToolset struct {
	clientset kubernetes.Interface
	metrics   metricsclient.Interface
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// NewK8sToolset wraps existing clients. metrics may be nil when no
// metrics-server is reachable; get_metrics then reports it as an error.
func NewK8sToolset(clientset kubernetes.Interface, metrics metricsclient.Interface, limiter *rate.Limiter, logger *zap.Logger) *K8sToolset {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &K8sToolset{
		clientset: clientset,
		metrics:   metrics,
		limiter:   limiter,
		logger:    logger,
	}
}

// NewKubernetesClients builds the typed and metrics clientsets, trying
// in-cluster config first and falling back to kubeconfig.
func NewKubernetesClients(kubeconfigPath string) (kubernetes.Interface, metricsclient.Interface, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		if kubeconfigPath == "" {
			homeDir, _ := os.UserHomeDir()
			if homeDir != "" {
				kubeconfigPath = filepath.Join(homeDir, ".kube", "config")
			}
		}
		config, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
			&clientcmd.ClientConfigLoadingRules{ExplicitPath: kubeconfigPath},
			&clientcmd.ConfigOverrides{},
		).ClientConfig()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to build config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create clientset: %w", err)
	}

	metricsClientset, err := metricsclient.NewForConfig(config)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create metrics clientset: %w", err)
	}

	return clientset, metricsClientset, nil
}

// RegisterAll adds the cluster inspection tools to the registry.
func (t *K8sToolset) RegisterAll(r *Registry) {
	r.Register(types.Tool{
		Name:        "list_pods",
		Description: "List pods in a namespace matching a label selector, with phase, readiness and restart counts.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"namespace": map[string]interface{}{
					"type":        "string",
					"description": "The Kubernetes namespace",
				},
				"labelSelector": map[string]interface{}{
					"type":        "string",
					"description": "Label selector to filter pods (e.g., 'role=stable' or 'role=canary')",
				},
			},
			"required": []string{"namespace", "labelSelector"},
		},
	}, t.listPods)

	r.Register(types.Tool{
		Name:        "debug_pod",
		Description: "Get detailed status for one pod: phase, conditions, container states, restart counts, owners.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"namespace": map[string]interface{}{
					"type":        "string",
					"description": "The Kubernetes namespace of the pod",
				},
				"podName": map[string]interface{}{
					"type":        "string",
					"description": "The name of the pod to debug",
				},
			},
			"required": []string{"namespace", "podName"},
		},
	}, t.debugPod)

	r.Register(types.Tool{
		Name:        "get_events",
		Description: "Get recent events in a namespace, newest first, optionally filtered to one pod.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"namespace": map[string]interface{}{
					"type":        "string",
					"description": "The Kubernetes namespace",
				},
				"podName": map[string]interface{}{
					"type":        "string",
					"description": "Optional: filter events for a specific pod name",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Optional: maximum number of events to return (default 50)",
				},
			},
			"required": []string{"namespace"},
		},
	}, t.getEvents)

	r.Register(types.Tool{
		Name:        "get_logs",
		Description: "Get container logs for a pod, optionally from the previous (crashed) instance.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"namespace": map[string]interface{}{
					"type":        "string",
					"description": "The Kubernetes namespace",
				},
				"podName": map[string]interface{}{
					"type":        "string",
					"description": "The name of the pod",
				},
				"containerName": map[string]interface{}{
					"type":        "string",
					"description": "Optional: specific container name",
				},
				"previous": map[string]interface{}{
					"type":        "boolean",
					"description": "Optional: get logs from previous container instance (for crashed pods)",
				},
				"tailLines": map[string]interface{}{
					"type":        "integer",
					"description": "Optional: number of lines from the end of logs (default 100)",
				},
			},
			"required": []string{"namespace", "podName"},
		},
	}, t.getLogs)

	r.Register(types.Tool{
		Name:        "get_metrics",
		Description: "Get CPU and memory usage for a pod from the metrics server.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"namespace": map[string]interface{}{
					"type":        "string",
					"description": "The Kubernetes namespace",
				},
				"podName": map[string]interface{}{
					"type":        "string",
					"description": "The name of the pod",
				},
			},
			"required": []string{"namespace", "podName"},
		},
	}, t.getMetrics)

	r.Register(types.Tool{
		Name:        "inspect_resources",
		Description: "Inspect deployments and services in a namespace, optionally filtered by type and name.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"namespace": map[string]interface{}{
					"type":        "string",
					"description": "The Kubernetes namespace",
				},
				"resourceType": map[string]interface{}{
					"type":        "string",
					"description": "Optional: specific resource type (deployment, service)",
				},
				"resourceName": map[string]interface{}{
					"type":        "string",
					"description": "Optional: specific resource name",
				},
			},
			"required": []string{"namespace"},
		},
	}, t.inspectResources)
}

func (t *K8sToolset) waitRateLimit(ctx context.Context) error {
	if t.limiter == nil {
		return nil
	}
	return t.limiter.Wait(ctx)
}

func (t *K8sToolset) listPods(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Namespace     string `json:"namespace"`
		LabelSelector string `json:"labelSelector"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if in.Namespace == "" || in.LabelSelector == "" {
		return "", fmt.Errorf("namespace and labelSelector are required")
	}
	if err := t.waitRateLimit(ctx); err != nil {
		return "", err
	}

	pods, err := t.clientset.CoreV1().Pods(in.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: in.LabelSelector,
	})
	if err != nil {
		return "", err
	}

	podList := make([]map[string]interface{}, 0, len(pods.Items))
	for _, pod := range pods.Items {
		ready := false
		for _, c := range pod.Status.Conditions {
			if c.Type == corev1.PodReady {
				ready = c.Status == corev1.ConditionTrue
				break
			}
		}
		restarts := int32(0)
		for _, cs := range pod.Status.ContainerStatuses {
			restarts += cs.RestartCount
		}
		podList = append(podList, map[string]interface{}{
			"name":         pod.Name,
			"phase":        string(pod.Status.Phase),
			"labels":       pod.Labels,
			"ready":        ready,
			"restartCount": restarts,
		})
	}

	return marshalResult(map[string]interface{}{
		"namespace":     in.Namespace,
		"labelSelector": in.LabelSelector,
		"podCount":      len(podList),
		"pods":          podList,
	})
}

func (t *K8sToolset) debugPod(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Namespace string `json:"namespace"`
		PodName   string `json:"podName"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if in.Namespace == "" || in.PodName == "" {
		return "", fmt.Errorf("namespace and podName are required")
	}
	if err := t.waitRateLimit(ctx); err != nil {
		return "", err
	}

	pod, err := t.clientset.CoreV1().Pods(in.Namespace).Get(ctx, in.PodName, metav1.GetOptions{})
	if err != nil {
		return "", err
	}

	status := pod.Status
	debugInfo := map[string]interface{}{
		"podName":   in.PodName,
		"namespace": in.Namespace,
		"phase":     string(status.Phase),
		"reason":    status.Reason,
		"message":   status.Message,
		"hostIP":    status.HostIP,
		"podIP":     status.PodIP,
		"startTime": formatTime(status.StartTime),
		"labels":    pod.Labels,
	}

	conditions := make([]map[string]interface{}, 0, len(status.Conditions))
	for _, c := range status.Conditions {
		conditions = append(conditions, map[string]interface{}{
			"type":               string(c.Type),
			"status":             string(c.Status),
			"reason":             c.Reason,
			"message":            c.Message,
			"lastTransitionTime": formatTime(&c.LastTransitionTime),
		})
	}
	debugInfo["conditions"] = conditions

	containerStatuses := make([]map[string]interface{}, 0, len(status.ContainerStatuses))
	for _, cs := range status.ContainerStatuses {
		info := map[string]interface{}{
			"name":         cs.Name,
			"ready":        cs.Ready,
			"restartCount": cs.RestartCount,
			"image":        cs.Image,
		}
		switch {
		case cs.State.Running != nil:
			info["state"] = "Running"
			info["startedAt"] = formatTime(&cs.State.Running.StartedAt)
		case cs.State.Waiting != nil:
			info["state"] = "Waiting"
			info["reason"] = cs.State.Waiting.Reason
			info["message"] = cs.State.Waiting.Message
		case cs.State.Terminated != nil:
			info["state"] = "Terminated"
			info["reason"] = cs.State.Terminated.Reason
			info["message"] = cs.State.Terminated.Message
			info["exitCode"] = cs.State.Terminated.ExitCode
		}
		if last := cs.LastTerminationState.Terminated; last != nil {
			info["lastTerminated"] = map[string]interface{}{
				"reason":   last.Reason,
				"exitCode": last.ExitCode,
				"message":  last.Message,
			}
		}
		containerStatuses = append(containerStatuses, info)
	}
	debugInfo["containerStatuses"] = containerStatuses

	if len(pod.OwnerReferences) > 0 {
		owners := make([]map[string]string, 0, len(pod.OwnerReferences))
		for _, o := range pod.OwnerReferences {
			owners = append(owners, map[string]string{"kind": o.Kind, "name": o.Name})
		}
		debugInfo["owners"] = owners
	}

	return marshalResult(debugInfo)
}

func (t *K8sToolset) getEvents(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Namespace string `json:"namespace"`
		PodName   string `json:"podName"`
		Limit     int    `json:"limit"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if in.Namespace == "" {
		return "", fmt.Errorf("namespace is required")
	}
	limit := in.Limit
	if limit <= 0 {
		limit = 50
	}
	if err := t.waitRateLimit(ctx); err != nil {
		return "", err
	}

	list, err := t.clientset.CoreV1().Events(in.Namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return "", err
	}

	events := list.Items
	if in.PodName != "" {
		filtered := events[:0]
		for _, e := range events {
			if e.InvolvedObject.Name == in.PodName {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}

	// Newest first, falling back to creation time when lastTimestamp unset.
	sort.Slice(events, func(i, j int) bool {
		return eventTime(&events[i]).After(eventTime(&events[j]))
	})
	if len(events) > limit {
		events = events[:limit]
	}

	eventList := make([]map[string]interface{}, 0, len(events))
	for _, e := range events {
		evType := e.Type
		if evType == "" {
			evType = "Normal"
		}
		count := e.Count
		if count == 0 {
			count = 1
		}
		eventList = append(eventList, map[string]interface{}{
			"type":           evType,
			"reason":         e.Reason,
			"message":        e.Message,
			"count":          count,
			"firstTimestamp": formatTime(&e.FirstTimestamp),
			"lastTimestamp":  formatTime(&e.LastTimestamp),
			"involvedObject": map[string]string{
				"kind": e.InvolvedObject.Kind,
				"name": e.InvolvedObject.Name,
			},
		})
	}

	return marshalResult(map[string]interface{}{
		"namespace":  in.Namespace,
		"eventCount": len(eventList),
		"events":     eventList,
	})
}

func eventTime(e *corev1.Event) time.Time {
	if !e.LastTimestamp.IsZero() {
		return e.LastTimestamp.Time
	}
	return e.CreationTimestamp.Time
}

func (t *K8sToolset) getLogs(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Namespace     string `json:"namespace"`
		PodName       string `json:"podName"`
		ContainerName string `json:"containerName"`
		Previous      bool   `json:"previous"`
		TailLines     int64  `json:"tailLines"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if in.Namespace == "" || in.PodName == "" {
		return "", fmt.Errorf("namespace and podName are required")
	}
	lines := in.TailLines
	if lines <= 0 {
		lines = 100
	}
	if err := t.waitRateLimit(ctx); err != nil {
		return "", err
	}

	opts := &corev1.PodLogOptions{
		Previous:  in.Previous,
		TailLines: &lines,
	}
	if in.ContainerName != "" {
		opts.Container = in.ContainerName
	}

	stream, err := t.clientset.CoreV1().Pods(in.Namespace).GetLogs(in.PodName, opts).Stream(ctx)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	raw, err := io.ReadAll(stream)
	if err != nil {
		return "", fmt.Errorf("read logs: %w", err)
	}
	logs := string(raw)
	if logs == "" {
		logs = "(no logs available)"
	}

	container := in.ContainerName
	if container == "" {
		container = "default"
	}

	return marshalResult(map[string]interface{}{
		"namespace": in.Namespace,
		"podName":   in.PodName,
		"container": container,
		"previous":  in.Previous,
		"logs":      logs,
	})
}

func (t *K8sToolset) getMetrics(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Namespace string `json:"namespace"`
		PodName   string `json:"podName"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if in.Namespace == "" || in.PodName == "" {
		return "", fmt.Errorf("namespace and podName are required")
	}
	if t.metrics == nil {
		return "", fmt.Errorf("metrics not available (metrics-server might not be installed)")
	}
	if err := t.waitRateLimit(ctx); err != nil {
		return "", err
	}

	podMetrics, err := t.metrics.MetricsV1beta1().PodMetricses(in.Namespace).Get(ctx, in.PodName, metav1.GetOptions{})
	if err != nil {
		return "", err
	}

	containerMetrics := make([]map[string]interface{}, 0, len(podMetrics.Containers))
	for _, c := range podMetrics.Containers {
		containerMetrics = append(containerMetrics, map[string]interface{}{
			"name":   c.Name,
			"cpu":    c.Usage.Cpu().String(),
			"memory": c.Usage.Memory().String(),
		})
	}

	return marshalResult(map[string]interface{}{
		"namespace":  in.Namespace,
		"podName":    in.PodName,
		"timestamp":  formatTime(&podMetrics.Timestamp),
		"containers": containerMetrics,
	})
}

func (t *K8sToolset) inspectResources(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Namespace    string `json:"namespace"`
		ResourceType string `json:"resourceType"`
		ResourceName string `json:"resourceName"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if in.Namespace == "" {
		return "", fmt.Errorf("namespace is required")
	}
	if err := t.waitRateLimit(ctx); err != nil {
		return "", err
	}

	result := map[string]interface{}{"namespace": in.Namespace}

	if in.ResourceType == "" || strings.EqualFold(in.ResourceType, "deployment") {
		deployments, err := t.clientset.AppsV1().Deployments(in.Namespace).List(ctx, metav1.ListOptions{})
		if err != nil {
			return "", err
		}
		deploymentInfo := make([]map[string]interface{}, 0, len(deployments.Items))
		for _, d := range deployments.Items {
			if in.ResourceName != "" && d.Name != in.ResourceName {
				continue
			}
			deploymentInfo = append(deploymentInfo, map[string]interface{}{
				"name":              d.Name,
				"replicas":          d.Status.Replicas,
				"availableReplicas": d.Status.AvailableReplicas,
				"readyReplicas":     d.Status.ReadyReplicas,
			})
		}
		result["deployments"] = deploymentInfo
	}

	if in.ResourceType == "" || strings.EqualFold(in.ResourceType, "service") {
		services, err := t.clientset.CoreV1().Services(in.Namespace).List(ctx, metav1.ListOptions{})
		if err != nil {
			return "", err
		}
		serviceInfo := make([]map[string]interface{}, 0, len(services.Items))
		for _, s := range services.Items {
			if in.ResourceName != "" && s.Name != in.ResourceName {
				continue
			}
			ports := make([]string, 0, len(s.Spec.Ports))
			for _, p := range s.Spec.Ports {
				ports = append(ports, fmt.Sprintf("%d:%s", p.Port, p.TargetPort.String()))
			}
			serviceInfo = append(serviceInfo, map[string]interface{}{
				"name":      s.Name,
				"type":      string(s.Spec.Type),
				"clusterIP": s.Spec.ClusterIP,
				"ports":     ports,
			})
		}
		result["services"] = serviceInfo
	}

	return marshalResult(result)
}

func formatTime(t *metav1.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
