package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Annotation names are an external contract; every field lives under
// the appwrite.io/ prefix on the runtime Deployment.
const (
	annPrefix = "appwrite.io/"

	annVersion           = "version"
	annSecret            = "secret"
	annHostname          = "hostname"
	annCreated           = "created"
	annUpdated           = "updated"
	annStatus            = "status"
	annInitialised       = "initialised"
	annListening         = "listening"
	annLastExecutionTime = "last-execution-time"
	annArtifactPath      = "artifact-path"

	statusPending = "pending"
)

func DeploymentName(id string) string { return "dep-" + id }
func ServiceName(id string) string    { return "svc-" + id }

// Annotation returns the fully qualified annotation name for a field.
func Annotation(field string) string { return annPrefix + field }

// Status is the lifecycle view derived from Deployment annotations.
type Status struct {
	Status      string
	Initialised int
	Listening   int
	Created     int64 // milliseconds
	Updated     int64 // milliseconds
}

// Exists reports whether the runtime Deployment is present.
func (m *Manager) Exists(ctx context.Context, id string) bool {
	_, err := m.Kube.GetDeployment(ctx, DeploymentName(id))
	return err == nil
}

// Status reads the lifecycle fields; nil when the Deployment is absent.
func (m *Manager) Status(ctx context.Context, id string) *Status {
	dep, err := m.Kube.GetDeployment(ctx, DeploymentName(id))
	if err != nil {
		return nil
	}
	ann := dep.Annotations
	return &Status{
		Status:      ann[Annotation(annStatus)],
		Initialised: annInt(ann, annInitialised),
		Listening:   annInt(ann, annListening),
		Created:     annInt64(ann, annCreated),
		Updated:     annInt64(ann, annUpdated),
	}
}

type patchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value string `json:"value"`
}

// Update applies a JSON-patch of replace operations against the
// runtime's annotations. Last write wins; all fields are chosen to be
// idempotent (monotonic timestamps, monotone bits) so no check-and-set
// is needed.
func (m *Manager) Update(ctx context.Context, id string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	ops := make([]patchOp, 0, len(fields))
	for field, value := range fields {
		ops = append(ops, patchOp{
			Op:    "replace",
			Path:  "/metadata/annotations/" + escapePatchKey(Annotation(field)),
			Value: value,
		})
	}
	payload, err := json.Marshal(ops)
	if err != nil {
		return err
	}
	return m.Kube.PatchDeployment(ctx, DeploymentName(id), payload)
}

// WaitReady polls the runtime status every 500 ms until it leaves
// pending or the timeout expires.
func (m *Manager) WaitReady(ctx context.Context, id string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		st := m.Status(ctx, id)
		if st != nil && st.Status != statusPending {
			return nil
		}
		if time.Now().After(deadline) {
			return Errorf(RuntimeTimeout, "Runtime %s is not ready", id)
		}
		select {
		case <-ctx.Done():
			return Errorf(RuntimeTimeout, "Runtime %s is not ready", id)
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// WaitListening polls the in-pod server until any TCP-level response
// arrives on port 3000. Application status codes are irrelevant — a 4xx
// still proves the server has bound the port.
func (m *Manager) WaitListening(ctx context.Context, podIP string, timeout time.Duration) bool {
	client := m.httpClient
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Second}
	}
	url := fmt.Sprintf("http://%s:%d/", podIP, m.port())
	deadline := time.Now().Add(timeout)
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err == nil {
			if resp, err := client.Do(req); err == nil {
				resp.Body.Close()
				return true
			}
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// escapePatchKey applies RFC 6901 escaping so the slash in
// appwrite.io/{field} survives inside a JSON-patch path.
func escapePatchKey(key string) string {
	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		switch key[i] {
		case '~':
			out = append(out, '~', '0')
		case '/':
			out = append(out, '~', '1')
		default:
			out = append(out, key[i])
		}
	}
	return string(out)
}

func annInt(ann map[string]string, field string) int {
	n, _ := strconv.Atoi(ann[Annotation(field)])
	return n
}

func annInt64(ann map[string]string, field string) int64 {
	n, _ := strconv.ParseInt(ann[Annotation(field)], 10, 64)
	return n
}

// LastExecutionMillis reads the last-execution-time annotation off a
// Deployment; zero when absent or unparsable.
func LastExecutionMillis(ann map[string]string) int64 {
	return annInt64(ann, annLastExecutionTime)
}

func nowMillis() int64 { return time.Now().UnixMilli() }

func millis(t time.Time) int64 { return t.UnixMilli() }
