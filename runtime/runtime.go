// Package runtime orchestrates the lifecycle of function runtimes: a
// Deployment/Service pair per runtime, build Jobs that produce S3
// artifacts, cold-start scale-up, and request proxying into the pod.
// The cluster API server is the authoritative store; every lifecycle
// field lives in Deployment annotations.
package runtime

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"

	"executor/k8s"
)

// PodIO reads and follows files inside pod containers. The concrete
// implementation execs into the pod; tests substitute a stub.
type PodIO interface {
	ReadFile(ctx context.Context, pod, container, path string) (string, error)
	FileExists(ctx context.Context, pod, container, path string) bool
	TailFile(ctx context.Context, pod, container, path string, onChunk func([]byte), onError func(error)) func()
	RunCommand(ctx context.Context, pod, container, command string) (string, error)
}

// ObjectStore is the slice of the S3 surface the orchestrator touches
// directly. Uploads and prefix deletes run from inside pods.
type ObjectStore interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
	StatObject(ctx context.Context, key string) (int64, error)
}

// Notifier publishes lifecycle events for dashboard consumers. A nil
// Notifier disables events.
type Notifier interface {
	Publish(eventType, runtimeID string, payload any)
}

// Manager drives every runtime lifecycle operation. It holds no state
// of its own between requests.
type Manager struct {
	Kube     *k8s.Client
	Pods     PodIO
	Store    ObjectStore
	Events   Notifier
	S3       k8s.S3Env
	Hostname string

	// Loopback create during invocation re-enters our own HTTP API.
	SelfEndpoint   string
	ExecutorSecret string

	httpClient *http.Client
	podPort    int
}

func (m *Manager) port() int {
	if m.podPort != 0 {
		return m.podPort
	}
	return k8s.RuntimePort
}

func (m *Manager) publish(eventType, runtimeID string, payload any) {
	if m.Events != nil {
		m.Events.Publish(eventType, runtimeID, payload)
	}
}

func randomHex(bytes int) string {
	b := make([]byte, bytes)
	rand.Read(b)
	return hex.EncodeToString(b)
}
