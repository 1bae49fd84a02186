package runtime

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	corev1 "k8s.io/api/core/v1"

	"executor/k8s"
	"executor/timing"
)

// CreateParams are the inputs of POST /v1/runtimes. RuntimeID and
// Image are required; Command triggers a build Job, Source without
// Command adopts an existing artifact directly.
type CreateParams struct {
	RuntimeID       string         `json:"runtimeId"`
	Image           string         `json:"image"`
	Entrypoint      string         `json:"entrypoint"`
	Source          string         `json:"source"`
	Destination     string         `json:"destination"`
	Command         string         `json:"command"`
	Variables       map[string]any `json:"variables"`
	Timeout         int            `json:"timeout"`
	CPUs            float64        `json:"cpus"`
	Memory          float64        `json:"memory"`
	Version         string         `json:"version"`
	Remove          bool           `json:"remove"`
	OutputDirectory string         `json:"outputDirectory"`
}

type CreateResult struct {
	Output    []timing.Segment `json:"output"`
	StartTime float64          `json:"startTime"`
	Duration  float64          `json:"duration"`
	Size      *int64           `json:"size,omitempty"`
	Path      string           `json:"path,omitempty"`
}

const defaultBuildTimeout = 600

var validVersions = map[string]bool{"v2": true, "v4": true, "v5": true}

// Create provisions a runtime: optionally drives a build Job to
// completion, then binds the Service and Deployment and stamps the
// lifecycle annotations. At-most-one-creator semantics come from the
// API server: a concurrent loser observes either our Deployment (the
// pending conflict) or a 409 on create.
func (m *Manager) Create(ctx context.Context, p CreateParams) (*CreateResult, error) {
	start := time.Now()

	if p.RuntimeID == "" {
		return nil, NewError(ExecutionBadRequest, "Missing required parameter: runtimeId")
	}
	if p.Image == "" {
		return nil, NewError(ExecutionBadRequest, "Missing required parameter: image")
	}
	if p.Version == "" {
		p.Version = "v5"
	}
	if !validVersions[p.Version] {
		return nil, Errorf(ExecutionBadRequest, "Invalid version: %s", p.Version)
	}
	if p.Timeout <= 0 {
		p.Timeout = defaultBuildTimeout
	}

	id := p.RuntimeID

	if dep, err := m.Kube.GetDeployment(ctx, DeploymentName(id)); err == nil {
		if dep.Annotations[Annotation(annStatus)] == statusPending {
			return nil, Errorf(RuntimeConflict, "Runtime %s creation already in progress", id)
		}
		return nil, Errorf(RuntimeConflict, "Runtime %s already exists", id)
	} else if !k8s.IsNotFound(err) {
		return nil, Errorf(RuntimeFailed, "Failed to read runtime %s: %v", id, err)
	}

	secret := randomHex(16)
	hostname := randomHex(16)
	env := m.runtimeEnv(p, secret, hostname)

	var output []timing.Segment
	artifactPath := ""
	uploadPath := ""

	if p.Command != "" {
		buildID := uuid.New().String()
		uploadPath = fmt.Sprintf("%s/%s.tar.gz", id, buildID)
		artifactPath = uploadPath

		var sourceB64 string
		if p.Source != "" {
			data, err := m.Store.GetObject(ctx, p.Source)
			if err != nil {
				return nil, Errorf(RuntimeFailed, "Failed to download source: %v", err)
			}
			sourceB64 = base64.StdEncoding.EncodeToString(data)
		}

		jobName := fmt.Sprintf("build-%s-%s", id, randomHex(4))
		job := k8s.BuildJob(m.Kube.Namespace(), k8s.BuildJobOpts{
			JobName:         jobName,
			RuntimeID:       id,
			Image:           p.Image,
			Version:         p.Version,
			Command:         p.Command,
			SourceB64:       sourceB64,
			ArtifactPath:    uploadPath,
			OutputDirectory: p.OutputDirectory,
			Env:             env,
			S3:              m.S3,
			CPUs:            formatCPUs(p.CPUs),
			Memory:          formatMemory(p.Memory),
		})
		if err := m.Kube.CreateJob(ctx, job); err != nil {
			return nil, Errorf(RuntimeFailed, "Failed to create build job: %v", err)
		}

		var err error
		output, err = m.waitForBuild(ctx, jobName, p.Version, start, time.Duration(p.Timeout)*time.Second)
		if err != nil {
			m.publish("build.failed", id, map[string]string{"job": jobName})
			return nil, err
		}

		// The upload targeted the generated key; the caller's chosen
		// destination is what we advertise from here on.
		if p.Destination != "" {
			artifactPath = p.Destination
		}
	} else if p.Source != "" {
		artifactPath = p.Source
	}

	svcName := ServiceName(id)
	if _, err := m.Kube.GetService(ctx, svcName); err != nil {
		if !k8s.IsNotFound(err) {
			return nil, Errorf(RuntimeFailed, "Failed to read service %s: %v", svcName, err)
		}
		if err := m.Kube.CreateService(ctx, k8s.RuntimeService(m.Kube.Namespace(), id)); err != nil && !k8s.IsAlreadyExists(err) {
			return nil, Errorf(RuntimeFailed, "Failed to create service %s: %v", svcName, err)
		}
	}

	now := nowMillis()
	dep := k8s.RuntimeDeployment(m.Kube.Namespace(), k8s.RuntimeDeploymentOpts{
		RuntimeID: id,
		Image:     p.Image,
		Annotations: map[string]string{
			Annotation(annVersion):           p.Version,
			Annotation(annSecret):            secret,
			Annotation(annHostname):          hostname,
			Annotation(annCreated):           strconv.FormatInt(now, 10),
			Annotation(annUpdated):           strconv.FormatInt(now, 10),
			Annotation(annStatus):            statusPending,
			Annotation(annInitialised):       "0",
			Annotation(annListening):         "0",
			Annotation(annLastExecutionTime): strconv.FormatInt(now, 10),
			Annotation(annArtifactPath):      artifactPath,
		},
		Env:    env,
		CPUs:   formatCPUs(p.CPUs),
		Memory: formatMemory(p.Memory),
	})

	existing, err := m.Kube.GetDeployment(ctx, DeploymentName(id))
	switch {
	case err == nil:
		dep.ResourceVersion = existing.ResourceVersion
		if err := m.Kube.ReplaceDeployment(ctx, dep); err != nil {
			return nil, Errorf(RuntimeFailed, "Failed to replace runtime %s: %v", id, err)
		}
	case k8s.IsNotFound(err):
		if err := m.Kube.CreateDeployment(ctx, dep); err != nil {
			if k8s.IsAlreadyExists(err) {
				return nil, Errorf(RuntimeConflict, "Runtime %s already exists", id)
			}
			return nil, Errorf(RuntimeFailed, "Failed to create runtime %s: %v", id, err)
		}
	default:
		return nil, Errorf(RuntimeFailed, "Failed to read runtime %s: %v", id, err)
	}

	duration := time.Since(start).Seconds()
	if err := m.Update(ctx, id, map[string]string{
		annStatus:      fmt.Sprintf("Up %ds", int(duration)),
		annInitialised: "1",
		annUpdated:     strconv.FormatInt(nowMillis(), 10),
	}); err != nil {
		log.Printf("runtime: stamp %s: %v", id, err)
	}

	result := &CreateResult{
		Output:    output,
		StartTime: float64(millis(start)) / 1000,
		Duration:  duration,
	}
	if result.Output == nil {
		result.Output = []timing.Segment{}
	}

	if p.Destination != "" && uploadPath != "" {
		if size, err := m.Store.StatObject(ctx, uploadPath); err == nil {
			result.Size = &size
			result.Path = p.Destination
		} else {
			log.Printf("runtime: stat artifact %s: %v", uploadPath, err)
			result.Path = p.Destination
		}
	}

	m.publish("runtime.created", id, map[string]string{"version": p.Version})

	if p.Remove {
		// Give log consumers a moment before tearing the runtime down.
		select {
		case <-ctx.Done():
		case <-time.After(2 * time.Second):
		}
		if err := m.Kube.DeleteDeployment(ctx, DeploymentName(id)); err != nil && !k8s.IsNotFound(err) {
			log.Printf("runtime: remove deployment %s: %v", id, err)
		}
		if err := m.Kube.DeleteService(ctx, svcName); err != nil && !k8s.IsNotFound(err) {
			log.Printf("runtime: remove service %s: %v", id, err)
		}
	}

	return result, nil
}

// waitForBuild polls the Job every second until it reports success or
// failure, tolerating 404 while the Job becomes visible. Build output
// is harvested from the pod on both terminal outcomes.
func (m *Manager) waitForBuild(ctx context.Context, jobName, version string, buildStart time.Time, timeout time.Duration) ([]timing.Segment, error) {
	deadline := time.Now().Add(timeout)
	for {
		job, err := m.Kube.GetJob(ctx, jobName)
		switch {
		case err != nil && k8s.IsNotFound(err):
			// Job not visible yet; keep polling until the deadline.
		case err != nil:
			return nil, Errorf(RuntimeFailed, "Failed to read build job: %v", err)
		case job.Status.Succeeded >= 1:
			return m.harvestBuildOutput(ctx, jobName, version, buildStart, false), nil
		case job.Status.Failed >= 1:
			output := m.harvestBuildOutput(ctx, jobName, version, buildStart, true)
			msg := "Build job failed"
			if text := joinSegments(output); text != "" {
				msg += "\n" + text
			}
			return nil, NewError(RuntimeFailed, msg)
		}

		if time.Now().After(deadline) {
			return nil, NewError(RuntimeTimeout, "Build job timed out")
		}
		select {
		case <-ctx.Done():
			return nil, NewError(RuntimeTimeout, "Build job timed out")
		case <-time.After(time.Second):
		}
	}
}

// runtimeEnv merges caller variables with the protocol injections for
// the runtime version. Every value is stringified.
func (m *Manager) runtimeEnv(p CreateParams, secret, hostname string) []corev1.EnvVar {
	vars := map[string]string{}
	for k, v := range p.Variables {
		vars[k] = stringify(v)
	}

	vars["CI"] = "true"
	switch p.Version {
	case "v2":
		vars["INTERNAL_RUNTIME_KEY"] = secret
		vars["INTERNAL_RUNTIME_ENTRYPOINT"] = p.Entrypoint
		// The misspelling is an external contract; v2 runtimes read
		// exactly this name.
		vars["INERNAL_EXECUTOR_HOSTNAME"] = m.Hostname
	default:
		vars["OPEN_RUNTIMES_SECRET"] = secret
		vars["OPEN_RUNTIMES_ENTRYPOINT"] = p.Entrypoint
		vars["OPEN_RUNTIMES_HOSTNAME"] = hostname
		vars["OPEN_RUNTIMES_CPUS"] = formatCPUs(p.CPUs)
		vars["OPEN_RUNTIMES_MEMORY"] = formatMemory(p.Memory)
		if p.OutputDirectory != "" {
			vars["OPEN_RUNTIMES_OUTPUT_DIRECTORY"] = p.OutputDirectory
		}
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]corev1.EnvVar, 0, len(keys))
	for _, k := range keys {
		env = append(env, corev1.EnvVar{Name: k, Value: vars[k]})
	}
	return env
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

func formatCPUs(cpus float64) string {
	if cpus <= 0 {
		return "1"
	}
	return strconv.FormatFloat(cpus, 'f', -1, 64)
}

func formatMemory(memory float64) string {
	if memory <= 0 {
		return "512"
	}
	return strconv.FormatFloat(memory, 'f', -1, 64)
}

func joinSegments(segments []timing.Segment) string {
	var b strings.Builder
	for _, s := range segments {
		b.WriteString(s.Content)
	}
	return strings.TrimSpace(b.String())
}
