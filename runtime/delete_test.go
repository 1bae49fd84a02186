package runtime

import (
	"context"
	"strings"
	"testing"
)

func TestDelete(t *testing.T) {
	m, _, _, _ := newTestManager(seedRuntime("r1", "v5", 0, nil))
	ctx := context.Background()

	result, err := m.Delete(ctx, "r1")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if result.Status != "success" {
		t.Fatalf("status = %q", result.Status)
	}

	if m.Exists(ctx, "r1") {
		t.Fatal("deployment survived delete")
	}

	jobs, err := m.Kube.ListJobs(ctx, "role=cleanup")
	if err != nil || len(jobs) != 1 {
		t.Fatalf("cleanup jobs = %v, %v", jobs, err)
	}
	if !strings.HasPrefix(jobs[0].Name, "delete-r1-") {
		t.Fatalf("cleanup job name = %q", jobs[0].Name)
	}
}

func TestDeleteMissing(t *testing.T) {
	m, _, _, _ := newTestManager()
	_, err := m.Delete(context.Background(), "ghost")
	if kindOf(t, err) != RuntimeNotFound {
		t.Fatalf("kind = %v", AsError(err).Kind)
	}
	if !strings.Contains(err.Error(), "not found or already deleted") {
		t.Fatalf("message = %q", err.Error())
	}
}

func TestDeleteIsIdempotentAcrossService(t *testing.T) {
	// No Service present: its delete is best-effort and must not fail
	// the call.
	dep := seedRuntime("r2", "v5", 0, nil)
	m, _, _, _ := newTestManager(dep)

	if _, err := m.Delete(context.Background(), "r2"); err != nil {
		t.Fatalf("Delete without service: %v", err)
	}
}
