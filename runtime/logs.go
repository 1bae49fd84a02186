package runtime

import (
	"context"
	"io"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	appsv1 "k8s.io/api/apps/v1"

	"executor/k8s"
	"executor/timing"
)

// StreamLogs emits build or runtime log lines to w as timing data
// accrues, one "{timestamp} {content}" line per timing entry with
// newlines in content escaped. The stream ends when the runtime
// finishes initialising, disappears, or the timeout expires.
//
// Three cooperating pieces: a tail of the timing file feeding a shared
// buffer, a one-second ticker flushing that buffer to the client, and
// a liveness check that short-circuits the stream.
func (m *Manager) StreamLogs(ctx context.Context, id string, timeout time.Duration, w io.Writer, flush func()) error {
	dep, err := m.waitForDeployment(ctx, id, 5*time.Second)
	if err != nil {
		return err
	}

	// v2 runtimes have no streaming logs.
	if dep.Annotations[Annotation(annVersion)] == "v2" {
		return nil
	}

	if err := m.waitForStatus(ctx, id, 10*time.Second); err != nil {
		return err
	}

	pod, container, err := m.logSourcePod(ctx, id)
	if err != nil {
		return err
	}

	ok, err := m.waitForLogFiles(ctx, id, pod, container, timeout)
	if err != nil || !ok {
		return err
	}

	logs, err := m.Pods.ReadFile(ctx, pod, container, buildLogPath)
	if err != nil {
		return Errorf(LogsTimeout, "Failed to read log file: %v", err)
	}
	intro := timing.LogOffset(logs)
	start := time.Now()

	var (
		mu      sync.Mutex
		out     strings.Builder
		timings strings.Builder
		emitted int
		cursor  int
	)

	drain := func() {
		mu.Lock()
		pending := out.String()
		out.Reset()
		mu.Unlock()
		if pending != "" {
			w.Write([]byte(pending))
			if flush != nil {
				flush()
			}
		}
	}

	cancel := m.Pods.TailFile(ctx, pod, container, buildTimePath, func(chunk []byte) {
		// New timing data: re-read the log file to pick up the bytes
		// the entries describe, then emit everything not yet emitted.
		current, err := m.Pods.ReadFile(ctx, pod, container, buildLogPath)
		if err == nil && len(current) > len(logs) {
			logs = current
		}
		mu.Lock()
		defer mu.Unlock()
		timings.Write(chunk)
		entries, err := timing.Parse(timings.String(), start)
		if err != nil {
			return
		}
		for ; emitted < len(entries); emitted++ {
			e := entries[emitted]
			size := e.Length
			if size < 0 {
				size = -size
			}
			from := intro + cursor
			if from < 0 {
				from = 0
			}
			to := from + size
			// Timing entries can outrun the log bytes visible so far;
			// hold this entry until a later chunk re-reads the file.
			if from > len(logs) || to > len(logs) {
				break
			}
			content := strings.ReplaceAll(logs[from:to], "\n", `\n`)
			out.WriteString(e.Timestamp + " " + content + "\n")
			cursor += e.Length
			// The timing file comes from inside the pod; a run of
			// negative adjustments must never rewind past the start of
			// the log.
			if intro+cursor < 0 {
				cursor = -intro
			}
		}
	}, func(err error) {
		log.Printf("logs: tail %s/%s: %v", pod, buildTimePath, err)
	})
	defer cancel()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	deadline := time.After(timeout)

	for {
		select {
		case <-ticker.C:
			drain()
			st := m.Status(ctx, id)
			if st == nil || st.Initialised == 1 {
				drain()
				return nil
			}
		case <-deadline:
			drain()
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func (m *Manager) waitForDeployment(ctx context.Context, id string, timeout time.Duration) (*appsv1.Deployment, error) {
	deadline := time.Now().Add(timeout)
	for {
		d, err := m.Kube.GetDeployment(ctx, DeploymentName(id))
		if err == nil {
			return d, nil
		}
		if !k8s.IsNotFound(err) {
			return nil, Errorf(GeneralUnknown, "Failed to read runtime %s: %v", id, err)
		}
		if time.Now().After(deadline) {
			return nil, Errorf(RuntimeNotFound, "Runtime %s not found", id)
		}
		select {
		case <-ctx.Done():
			return nil, Errorf(RuntimeNotFound, "Runtime %s not found", id)
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (m *Manager) waitForStatus(ctx context.Context, id string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if m.Status(ctx, id) != nil {
			return nil
		}
		if time.Now().After(deadline) {
			return Errorf(RuntimeTimeout, "Runtime %s has no status", id)
		}
		select {
		case <-ctx.Done():
			return Errorf(RuntimeTimeout, "Runtime %s has no status", id)
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// logSourcePod prefers the most recent build Job's pod; when no build
// pod exists it falls back to the runtime pod.
func (m *Manager) logSourcePod(ctx context.Context, id string) (pod, container string, err error) {
	jobs, err := m.Kube.ListJobs(ctx, k8s.RoleLabel+"="+k8s.RoleBuild+","+k8s.RuntimeIDLabel+"="+id)
	if err == nil && len(jobs) > 0 {
		sort.Slice(jobs, func(i, j int) bool {
			return jobs[i].CreationTimestamp.After(jobs[j].CreationTimestamp.Time)
		})
		pods, err := m.Kube.ListPods(ctx, "job-name="+jobs[0].Name)
		if err == nil && len(pods) > 0 {
			return pods[0].Name, k8s.BuildContainer, nil
		}
	}

	pods, err := m.Kube.ListPods(ctx, k8s.RuntimeIDLabel+"="+id)
	if err == nil && len(pods) > 0 {
		return pods[0].Name, k8s.RuntimeContainer, nil
	}
	return "", "", Errorf(RuntimeNotFound, "No log source pod for runtime %s", id)
}

// waitForLogFiles blocks until both log files exist and the timing
// file has content. Returns false without error when the runtime
// disappears mid-wait — the stream then ends with an empty body.
func (m *Manager) waitForLogFiles(ctx context.Context, id, pod, container string, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		if m.Pods.FileExists(ctx, pod, container, buildLogPath) &&
			m.Pods.FileExists(ctx, pod, container, buildTimePath) {
			if content, err := m.Pods.ReadFile(ctx, pod, container, buildTimePath); err == nil && strings.TrimSpace(content) != "" {
				return true, nil
			}
		}
		if m.Status(ctx, id) == nil {
			return false, nil
		}
		if time.Now().After(deadline) {
			return false, NewError(LogsTimeout, "Timed out waiting for log files")
		}
		select {
		case <-ctx.Done():
			return false, nil
		case <-time.After(500 * time.Millisecond):
		}
	}
}
