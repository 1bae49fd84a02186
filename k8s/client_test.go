package k8s

import (
	"context"
	"errors"
	"strings"
	"testing"

	"k8s.io/client-go/kubernetes/fake"
)

func TestDeploymentLifecycle(t *testing.T) {
	c := NewWithClientset(fake.NewSimpleClientset(), "default")
	ctx := context.Background()

	dep := RuntimeDeployment("default", RuntimeDeploymentOpts{
		RuntimeID: "r1",
		Image:     "img",
	})
	if err := c.CreateDeployment(ctx, dep); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := c.GetDeployment(ctx, "dep-r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Labels[RuntimeIDLabel] != "r1" {
		t.Fatalf("labels = %v", got.Labels)
	}

	if err := c.CreateDeployment(ctx, dep); !IsAlreadyExists(err) {
		t.Fatalf("duplicate create: %v", err)
	}

	patch := []byte(`[{"op":"replace","path":"/spec/replicas","value":1}]`)
	if err := c.PatchDeployment(ctx, "dep-r1", patch); err != nil {
		t.Fatalf("patch: %v", err)
	}
	got, _ = c.GetDeployment(ctx, "dep-r1")
	if *got.Spec.Replicas != 1 {
		t.Fatalf("replicas = %d", *got.Spec.Replicas)
	}

	if err := c.DeleteDeployment(ctx, "dep-r1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := c.GetDeployment(ctx, "dep-r1"); !IsNotFound(err) {
		t.Fatalf("get after delete: %v", err)
	}
}

func TestListDeploymentsBySelector(t *testing.T) {
	c := NewWithClientset(fake.NewSimpleClientset(
		RuntimeDeployment("default", RuntimeDeploymentOpts{RuntimeID: "a", Image: "i"}),
		RuntimeDeployment("default", RuntimeDeploymentOpts{RuntimeID: "b", Image: "i"}),
	), "default")

	deps, err := c.ListDeployments(context.Background(), RoleLabel+"="+RoleRuntime, 0, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(deps.Items) != 2 {
		t.Fatalf("items = %d", len(deps.Items))
	}

	deps, err = c.ListDeployments(context.Background(), RoleLabel+"=none", 0, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(deps.Items) != 0 {
		t.Fatalf("items = %d", len(deps.Items))
	}
}

func TestServiceLifecycle(t *testing.T) {
	c := NewWithClientset(fake.NewSimpleClientset(), "default")
	ctx := context.Background()

	if err := c.CreateService(ctx, RuntimeService("default", "r1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	svc, err := c.GetService(ctx, "svc-r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if svc.Spec.Ports[0].Port != RuntimePort {
		t.Fatalf("port = %d", svc.Spec.Ports[0].Port)
	}
	if err := c.DeleteService(ctx, "svc-r1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestPodReadError(t *testing.T) {
	e := &PodReadError{Path: "/tmp/x", Stderr: "cat: /tmp/x: No such file or directory\n"}
	if !strings.Contains(e.Error(), "/tmp/x") || !strings.Contains(e.Error(), "No such file") {
		t.Fatalf("error = %q", e.Error())
	}

	inner := errors.New("connection reset")
	e = &PodReadError{Path: "/tmp/x", Err: inner}
	if !errors.Is(e, inner) {
		t.Fatal("unwrap lost the inner error")
	}
	if !strings.Contains(e.Error(), "connection reset") {
		t.Fatalf("error = %q", e.Error())
	}
}

func TestChunkWriterCopies(t *testing.T) {
	var chunks [][]byte
	w := chunkWriter(func(p []byte) { chunks = append(chunks, p) })

	buf := []byte("first")
	if n, err := w.Write(buf); n != 5 || err != nil {
		t.Fatalf("write: %d %v", n, err)
	}
	copy(buf, "XXXXX")

	if string(chunks[0]) != "first" {
		t.Fatalf("chunk mutated: %q", chunks[0])
	}
}
