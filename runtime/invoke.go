package runtime

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"executor/k8s"
)

// ExecuteParams are the inputs of POST /v1/runtimes/{id}/executions.
// The creation fields are used for on-the-fly creation when the
// runtime does not exist yet.
type ExecuteParams struct {
	RuntimeID string            `json:"-"`
	Body      string            `json:"body"`
	Path      string            `json:"path"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers"`
	Timeout   float64           `json:"timeout"`
	Logging   *bool             `json:"logging"`

	Image           string         `json:"image"`
	Entrypoint      string         `json:"entrypoint"`
	Source          string         `json:"source"`
	Destination     string         `json:"destination"`
	Command         string         `json:"command"`
	Variables       map[string]any `json:"variables"`
	CPUs            float64        `json:"cpus"`
	Memory          float64        `json:"memory"`
	Version         string         `json:"version"`
	OutputDirectory string         `json:"outputDirectory"`
}

// ExecutionResult is the surfaced outcome of one proxied invocation.
// Header values are strings, promoted to ordered []string when the
// in-pod server repeats a name.
type ExecutionResult struct {
	StatusCode int            `json:"statusCode"`
	Headers    map[string]any `json:"headers"`
	Body       string         `json:"body"`
	Logs       string         `json:"logs"`
	Errors     string         `json:"errors"`
	Duration   float64        `json:"duration"`
	StartTime  float64        `json:"startTime"`
}

const (
	defaultExecuteTimeout = 15 * time.Second
	coldStartTimeout      = 60 * time.Second
	maxLogSize            = 1 << 20
	logTruncationNotice   = "\n[log truncated: exceeded 1 MiB]"

	internalHeaderPrefix = "x-open-runtimes-"
)

// Execute cold-starts a runtime if necessary, proxies one HTTP call
// into its pod, and collects logs and errors. Cold start is a
// protocol: cluster readiness, then a TCP accept on port 3000, then
// the authenticated application response — in that order.
func (m *Manager) Execute(ctx context.Context, p ExecuteParams) (*ExecutionResult, error) {
	prepareStart := time.Now()
	id := p.RuntimeID

	timeout := defaultExecuteTimeout
	if p.Timeout > 0 {
		timeout = time.Duration(p.Timeout * float64(time.Second))
	}
	logging := p.Logging == nil || *p.Logging

	if p.Variables == nil {
		p.Variables = map[string]any{}
	}
	p.Variables["INERNAL_EXECUTOR_HOSTNAME"] = m.Hostname

	if !m.Exists(ctx, id) {
		if p.Image == "" || p.Source == "" {
			return nil, NewError(ExecutionBadRequest, "Runtime not found. Provide image and source to create it on the fly.")
		}
		if err := m.loopbackCreate(ctx, CreateParams{
			RuntimeID:       id,
			Image:           p.Image,
			Entrypoint:      p.Entrypoint,
			Source:          p.Source,
			Destination:     p.Destination,
			Command:         p.Command,
			Variables:       p.Variables,
			Timeout:         int(timeout.Seconds()),
			CPUs:            p.CPUs,
			Memory:          p.Memory,
			Version:         p.Version,
			OutputDirectory: p.OutputDirectory,
		}); err != nil {
			return nil, err
		}
		if err := m.WaitReady(ctx, id, timeout); err != nil {
			return nil, err
		}
	}

	remaining := timeout - time.Since(prepareStart)
	if remaining <= 0 {
		return nil, Errorf(RuntimeTimeout, "Runtime %s preparation exceeded the timeout", id)
	}

	if err := m.Update(ctx, id, map[string]string{
		annUpdated: strconv.FormatInt(nowMillis(), 10),
	}); err != nil {
		log.Printf("runtime: touch %s: %v", id, err)
	}
	if err := m.WaitReady(ctx, id, remaining); err != nil {
		return nil, err
	}

	dep, err := m.Kube.GetDeployment(ctx, DeploymentName(id))
	if err != nil {
		if k8s.IsNotFound(err) {
			return nil, Errorf(RuntimeNotFound, "Runtime %s not found", id)
		}
		return nil, Errorf(GeneralUnknown, "Failed to read runtime %s: %v", id, err)
	}
	secret := dep.Annotations[Annotation(annSecret)]
	if secret == "" {
		return nil, NewError(RuntimeNotFound, "Runtime secret not found. Please re-create the runtime.")
	}
	version := dep.Annotations[Annotation(annVersion)]

	if dep.Spec.Replicas == nil || *dep.Spec.Replicas == 0 {
		if err := m.scaleUp(ctx, id); err != nil {
			return nil, err
		}
	}

	pods, err := m.Kube.ListPods(ctx, k8s.RuntimeIDLabel+"="+id)
	if err != nil || len(pods) == 0 {
		return nil, Errorf(RuntimeNotFound, "No pods found for runtime %s", id)
	}
	pod := pods[0]
	podIP := pod.Status.PodIP
	if podIP == "" {
		return nil, Errorf(RuntimeNotFound, "Pod for runtime %s has no address yet", id)
	}

	if annInt(dep.Annotations, annListening) == 0 {
		if !m.WaitListening(ctx, podIP, remaining) {
			return nil, Errorf(RuntimeTimeout, "Runtime %s did not start listening on port %d", id, k8s.RuntimePort)
		}
		if err := m.Update(ctx, id, map[string]string{annListening: "1"}); err != nil {
			log.Printf("runtime: mark listening %s: %v", id, err)
		}
	}

	remaining = timeout - time.Since(prepareStart)
	result, err := m.proxy(ctx, p, version, secret, podIP, remaining, logging)
	if err != nil {
		return nil, err
	}

	if logging && version == "v5" && result.logID != "" {
		result.Logs, result.Errors = m.collectLogs(ctx, pod.Name, result.logID)
	}

	now := strconv.FormatInt(nowMillis(), 10)
	if err := m.Update(ctx, id, map[string]string{
		annLastExecutionTime: now,
		annUpdated:           now,
	}); err != nil {
		log.Printf("runtime: stamp execution time %s: %v", id, err)
	}

	result.Duration = time.Since(prepareStart).Seconds()
	result.StartTime = float64(millis(prepareStart)) / 1000
	m.publish("execution.completed", id, map[string]any{"statusCode": result.StatusCode})
	return &result.ExecutionResult, nil
}

// scaleUp patches replicas to one and waits for the cluster to report
// a ready replica.
func (m *Manager) scaleUp(ctx context.Context, id string) error {
	patch := []byte(`[{"op":"replace","path":"/spec/replicas","value":1}]`)
	if err := m.Kube.PatchDeployment(ctx, DeploymentName(id), patch); err != nil {
		return Errorf(RuntimeFailed, "Failed to scale runtime %s: %v", id, err)
	}
	// Listening is per-pod; a fresh pod starts unbound.
	if err := m.Update(ctx, id, map[string]string{annListening: "0"}); err != nil {
		log.Printf("runtime: reset listening %s: %v", id, err)
	}

	deadline := time.Now().Add(coldStartTimeout)
	for {
		dep, err := m.Kube.GetDeployment(ctx, DeploymentName(id))
		if err == nil && dep.Status.ReadyReplicas >= 1 {
			return nil
		}
		if time.Now().After(deadline) {
			return Errorf(RuntimeTimeout, "Runtime %s did not become ready within %s", id, coldStartTimeout)
		}
		select {
		case <-ctx.Done():
			return Errorf(RuntimeTimeout, "Runtime %s did not become ready within %s", id, coldStartTimeout)
		case <-time.After(500 * time.Millisecond):
		}
	}
}

type proxyResult struct {
	ExecutionResult
	logID string
}

func (m *Manager) proxy(ctx context.Context, p ExecuteParams, version, secret, podIP string, remaining time.Duration, logging bool) (*proxyResult, error) {
	method := p.Method
	if method == "" {
		method = http.MethodGet
	}
	target := fmt.Sprintf("http://%s:%d%s", podIP, m.port(), NormalizePath(p.Path))

	var body io.Reader
	if method != http.MethodGet && method != http.MethodHead {
		body = strings.NewReader(p.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, Errorf(ExecutionBadRequest, "Invalid execution request: %v", err)
	}

	for name, value := range p.Headers {
		req.Header.Set(name, value)
	}
	if version == "v2" {
		req.Header.Set("x-internal-challenge", secret)
		req.Header.Del("host")
		req.Header.Set("Content-Type", "application/json")
	} else {
		req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("opr:"+secret)))
		req.Header.Set("x-open-runtimes-secret", secret)
		req.Header.Set("x-open-runtimes-timeout", strconv.Itoa(timeoutSeconds(remaining)))
		if logging {
			req.Header.Set("x-open-runtimes-logging", "enabled")
		} else {
			req.Header.Set("x-open-runtimes-logging", "disabled")
		}
	}

	client := &http.Client{Timeout: remaining + 5*time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, Errorf(ExecutionTimeout, "Execution aborted: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Errorf(ExecutionTimeout, "Execution aborted while reading response: %v", err)
	}

	logID, _ := url.QueryUnescape(resp.Header.Get("x-open-runtimes-log-id"))

	return &proxyResult{
		ExecutionResult: ExecutionResult{
			StatusCode: resp.StatusCode,
			Headers:    surfaceHeaders(resp.Header),
			Body:       string(respBody),
		},
		logID: logID,
	}, nil
}

// collectLogs reads the per-execution log files from the runtime
// container, truncating each at 1 MiB. Missing files are silent.
func (m *Manager) collectLogs(ctx context.Context, pod, logID string) (logs, errors string) {
	read := func(path string) string {
		content, err := m.Pods.ReadFile(ctx, pod, k8s.RuntimeContainer, path)
		if err != nil {
			return ""
		}
		return truncateLog(content)
	}
	logs = read(fmt.Sprintf("/mnt/logs/%s_logs.log", logID))
	errors = read(fmt.Sprintf("/mnt/logs/%s_errors.log", logID))
	return logs, errors
}

func truncateLog(content string) string {
	if len(content) <= maxLogSize {
		return content
	}
	return content[:maxLogSize] + logTruncationNotice
}

// surfaceHeaders lowercases names, drops internal x-open-runtimes-*
// headers, and promotes repeated names to ordered lists.
func surfaceHeaders(h http.Header) map[string]any {
	out := make(map[string]any, len(h))
	for name, values := range h {
		lower := strings.ToLower(name)
		if strings.HasPrefix(lower, internalHeaderPrefix) {
			continue
		}
		if len(values) == 1 {
			out[lower] = values[0]
		} else {
			out[lower] = append([]string(nil), values...)
		}
	}
	return out
}

// CollapseHeaders rewrites list-valued headers to their last value for
// clients that predate multi-value support.
func CollapseHeaders(headers map[string]any) {
	for name, value := range headers {
		if list, ok := value.([]string); ok && len(list) > 0 {
			headers[name] = list[len(list)-1]
		}
	}
}

// NormalizePath guarantees a leading slash.
func NormalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		return "/" + path
	}
	return path
}

func timeoutSeconds(d time.Duration) int {
	s := int(math.Floor(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

// loopbackCreate re-enters our own create endpoint over localhost so
// authentication and error propagation match an external call.
func (m *Manager) loopbackCreate(ctx context.Context, p CreateParams) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return Errorf(GeneralUnknown, "Failed to encode create request: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.SelfEndpoint+"/v1/runtimes", bytes.NewReader(payload))
	if err != nil {
		return Errorf(GeneralUnknown, "Failed to build create request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.ExecutorSecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Errorf(RuntimeFailed, "Runtime creation failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Type    string `json:"type"`
			Message string `json:"message"`
			Code    int    `json:"code"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Type != "" {
			return &Error{Kind: Kind(apiErr.Type), Message: apiErr.Message, Code: apiErr.Code}
		}
		return Errorf(RuntimeFailed, "Runtime creation failed with status %d", resp.StatusCode)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
