// Package reaper scales idle runtimes back to zero replicas. One loop
// runs per executor replica; a cluster Lease elects the single replica
// allowed to mutate anything in a given cycle.
package reaper

import (
	"context"
	"log"
	"sync"
	"time"

	"executor/k8s"
	"executor/runtime"
)

const LeaseName = "executor-maintenance-lock"

type Reaper struct {
	Kube              *k8s.Client
	Events            runtime.Notifier
	Identity          string
	Interval          time.Duration
	InactiveThreshold time.Duration
	LeaseDuration     int32

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

func New(kube *k8s.Client, identity string, interval, threshold time.Duration) *Reaper {
	return &Reaper{
		Kube:              kube,
		Identity:          identity,
		Interval:          interval,
		InactiveThreshold: threshold,
		LeaseDuration:     30,
	}
}

func (r *Reaper) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.loop()
	log.Printf("reaper: started, interval=%s threshold=%s", r.Interval, r.InactiveThreshold)
}

// Stop requests shutdown and cancels the in-flight sleep; it returns
// once the loop has exited or ctx expires.
func (r *Reaper) Stop(ctx context.Context) {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stop)
	done := r.done
	r.mu.Unlock()

	select {
	case <-done:
		log.Println("reaper: stopped")
	case <-ctx.Done():
		log.Println("reaper: stop timed out, abandoning loop")
	}
}

func (r *Reaper) stopping() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

func (r *Reaper) loop() {
	defer close(r.done)
	for {
		select {
		case <-r.stop:
			return
		case <-time.After(r.Interval):
		}
		r.cycle(context.Background())
	}
}

// cycle acquires the maintenance lease and, if held, scales every
// runtime that has been idle past the threshold down to zero replicas.
// Per-item failures are logged and iteration continues.
func (r *Reaper) cycle(ctx context.Context) {
	held, err := r.Kube.AcquireLease(ctx, LeaseName, r.Identity, r.LeaseDuration)
	if err != nil {
		log.Printf("reaper: lease: %v", err)
		return
	}
	if !held {
		return
	}

	deps, err := r.Kube.ListDeployments(ctx, k8s.RoleLabel+"="+k8s.RoleRuntime, 0, "")
	if err != nil {
		log.Printf("reaper: list runtimes: %v", err)
		return
	}

	now := time.Now().UnixMilli()
	for i := range deps.Items {
		if r.stopping() {
			return
		}
		dep := &deps.Items[i]
		if dep.Spec.Replicas == nil || *dep.Spec.Replicas != 1 {
			continue
		}
		idle := now - runtime.LastExecutionMillis(dep.Annotations)
		if idle <= r.InactiveThreshold.Milliseconds() {
			continue
		}

		patch := []byte(`[{"op":"replace","path":"/spec/replicas","value":0}]`)
		if err := r.Kube.PatchDeployment(ctx, dep.Name, patch); err != nil {
			log.Printf("reaper: scale down %s: %v", dep.Name, err)
			continue
		}
		id := dep.Labels[k8s.RuntimeIDLabel]
		log.Printf("reaper: scaled %s to zero after %dms idle", dep.Name, idle)
		if r.Events != nil {
			r.Events.Publish("runtime.reaped", id, map[string]int64{"idleMs": idle})
		}
	}
}
