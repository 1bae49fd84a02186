package runtime

import (
	"context"
	"log"
	"time"

	"executor/k8s"
	"executor/timing"
)

const (
	v2LogPath     = "/var/tmp/logs.txt"
	buildLogPath  = "/tmp/logging/logs.txt"
	buildTimePath = "/tmp/logging/timings.txt"
)

// harvestBuildOutput extracts build logs from the Job's pod. v2 writes
// a single log file; v4/v5 produce a script(1) log/timing pair that is
// decoded into timestamped segments. Pod-read failures never fail the
// caller: on the failure branch we fall back to the native pod log API,
// otherwise the output is simply empty.
func (m *Manager) harvestBuildOutput(ctx context.Context, jobName, version string, buildStart time.Time, buildFailed bool) []timing.Segment {
	pods, err := m.Kube.ListPods(ctx, "job-name="+jobName)
	if err != nil || len(pods) == 0 {
		log.Printf("runtime: no pods for build job %s: %v", jobName, err)
		return nil
	}
	pod := pods[0].Name

	if version == "v2" {
		logs, err := m.Pods.ReadFile(ctx, pod, k8s.BuildContainer, v2LogPath)
		if err != nil {
			return m.harvestFallback(ctx, pod, buildStart, buildFailed)
		}
		return []timing.Segment{{
			Timestamp: timing.FormatTimestamp(buildStart),
			Content:   logs,
		}}
	}

	logs, err := m.Pods.ReadFile(ctx, pod, k8s.BuildContainer, buildLogPath)
	if err != nil {
		return m.harvestFallback(ctx, pod, buildStart, buildFailed)
	}
	timings, err := m.Pods.ReadFile(ctx, pod, k8s.BuildContainer, buildTimePath)
	if err != nil {
		return m.harvestFallback(ctx, pod, buildStart, buildFailed)
	}
	segments, err := timing.Segments(logs, timings, buildStart)
	if err != nil {
		log.Printf("runtime: decode build timings for %s: %v", jobName, err)
		return m.harvestFallback(ctx, pod, buildStart, buildFailed)
	}
	return segments
}

func (m *Manager) harvestFallback(ctx context.Context, pod string, buildStart time.Time, buildFailed bool) []timing.Segment {
	if !buildFailed {
		return nil
	}
	logs, err := m.Kube.PodLogs(ctx, pod, k8s.BuildContainer)
	if err != nil {
		log.Printf("runtime: pod log fallback for %s: %v", pod, err)
		return nil
	}
	return []timing.Segment{{
		Timestamp: timing.FormatTimestamp(buildStart),
		Content:   logs,
	}}
}
