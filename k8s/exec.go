package k8s

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/tools/remotecommand"
)

// PodReadError is returned when an in-pod read command terminates
// unsuccessfully. Stderr carries whatever the command printed.
type PodReadError struct {
	Path   string
	Stderr string
	Err    error
}

func (e *PodReadError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("pod read %s: %s", e.Path, strings.TrimSpace(e.Stderr))
	}
	return fmt.Sprintf("pod read %s: %v", e.Path, e.Err)
}

func (e *PodReadError) Unwrap() error { return e.Err }

// ReadFile cats a file inside a pod container and returns its full
// contents. Each call opens its own exec connection.
func (c *Client) ReadFile(ctx context.Context, pod, container, path string) (string, error) {
	var stdout, stderr bytes.Buffer
	err := c.execStream(ctx, pod, container, []string{"cat", path}, &stdout, &stderr)
	if err != nil {
		return "", &PodReadError{Path: path, Stderr: stderr.String(), Err: err}
	}
	return stdout.String(), nil
}

// FileExists runs `test -f` in the container. Any failure, including
// transport errors, reads as absence.
func (c *Client) FileExists(ctx context.Context, pod, container, path string) bool {
	var stdout, stderr bytes.Buffer
	err := c.execStream(ctx, pod, container, []string{"test", "-f", path}, &stdout, &stderr)
	return err == nil
}

// TailFile follows a file with `tail -F`, delivering stdout chunks to
// onChunk as they arrive. A non-cancellation failure is reported once
// through onError. The returned cancel tears down the exec transport
// and does not return until no further chunks can be delivered.
func (c *Client) TailFile(ctx context.Context, pod, container, path string, onChunk func([]byte), onError func(error)) func() {
	tailCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		var stderr bytes.Buffer
		err := c.execStream(tailCtx, pod, container, []string{"tail", "-F", path}, chunkWriter(onChunk), &stderr)
		if err != nil && tailCtx.Err() == nil && onError != nil {
			onError(&PodReadError{Path: path, Stderr: stderr.String(), Err: err})
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// RunCommand execs an arbitrary shell command in a pod container and
// returns combined stdout. A non-zero exit surfaces as an error
// carrying stderr.
func (c *Client) RunCommand(ctx context.Context, pod, container, command string) (string, error) {
	var stdout, stderr bytes.Buffer
	err := c.execStream(ctx, pod, container, []string{"sh", "-c", command}, &stdout, &stderr)
	if err != nil {
		return stdout.String(), fmt.Errorf("command failed: %s: %w", strings.TrimSpace(stderr.String()), err)
	}
	return stdout.String(), nil
}

func (c *Client) execStream(ctx context.Context, pod, container string, command []string, stdout, stderr io.Writer) error {
	if c.restConfig == nil {
		return fmt.Errorf("exec unavailable: client has no rest config")
	}
	req := c.cs.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(pod).
		Namespace(c.namespace).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Container: container,
			Command:   command,
			Stdout:    true,
			Stderr:    true,
		}, scheme.ParameterCodec)

	exec, err := remotecommand.NewSPDYExecutor(c.restConfig, "POST", req.URL())
	if err != nil {
		return fmt.Errorf("spdy executor: %w", err)
	}
	return exec.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdout: stdout,
		Stderr: stderr,
	})
}

// chunkWriter adapts a callback into the io.Writer the exec stream
// expects. The chunk is copied because the transport reuses buffers.
type chunkWriter func([]byte)

func (w chunkWriter) Write(p []byte) (int, error) {
	chunk := make([]byte, len(p))
	copy(chunk, p)
	w(chunk)
	return len(p), nil
}
