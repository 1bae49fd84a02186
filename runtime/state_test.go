package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"
)

func TestNames(t *testing.T) {
	if got := DeploymentName("abc"); got != "dep-abc" {
		t.Fatalf("DeploymentName = %q", got)
	}
	if got := ServiceName("abc"); got != "svc-abc" {
		t.Fatalf("ServiceName = %q", got)
	}
}

func TestEscapePatchKey(t *testing.T) {
	cases := map[string]string{
		"appwrite.io/status": "appwrite.io~1status",
		"plain":              "plain",
		"a~b/c":              "a~0b~1c",
	}
	for in, want := range cases {
		if got := escapePatchKey(in); got != want {
			t.Errorf("escapePatchKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStatusReadsAnnotations(t *testing.T) {
	m, _, _, _ := newTestManager(seedRuntime("r1", "v5", 1, map[string]string{
		Annotation(annStatus):      "Up 3s",
		Annotation(annInitialised): "1",
		Annotation(annListening):   "0",
		Annotation(annCreated):     "1700000000000",
		Annotation(annUpdated):     "1700000001000",
	}))

	st := m.Status(context.Background(), "r1")
	if st == nil {
		t.Fatal("Status returned nil for existing runtime")
	}
	if st.Status != "Up 3s" || st.Initialised != 1 || st.Listening != 0 {
		t.Fatalf("unexpected status: %+v", st)
	}
	if st.Created != 1700000000000 || st.Updated != 1700000001000 {
		t.Fatalf("unexpected timestamps: %+v", st)
	}

	if st := m.Status(context.Background(), "absent"); st != nil {
		t.Fatalf("Status for absent runtime = %+v, want nil", st)
	}
}

func TestUpdatePatchesAnnotations(t *testing.T) {
	m, _, _, _ := newTestManager(seedRuntime("r1", "v5", 1, nil))

	err := m.Update(context.Background(), "r1", map[string]string{
		annStatus:    "Up 9s",
		annListening: "0",
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	dep, err := m.Kube.GetDeployment(context.Background(), "dep-r1")
	if err != nil {
		t.Fatalf("GetDeployment: %v", err)
	}
	if got := dep.Annotations[Annotation(annStatus)]; got != "Up 9s" {
		t.Fatalf("status annotation = %q", got)
	}
	if got := dep.Annotations[Annotation(annListening)]; got != "0" {
		t.Fatalf("listening annotation = %q", got)
	}
	// Untouched fields survive the patch.
	if got := dep.Annotations[Annotation(annSecret)]; got != "aabbccdd" {
		t.Fatalf("secret annotation = %q", got)
	}
}

func TestWaitReady(t *testing.T) {
	m, _, _, _ := newTestManager(seedRuntime("up", "v5", 1, nil))
	if err := m.WaitReady(context.Background(), "up", time.Second); err != nil {
		t.Fatalf("WaitReady on ready runtime: %v", err)
	}

	m2, _, _, _ := newTestManager(seedRuntime("stuck", "v5", 0, map[string]string{
		Annotation(annStatus): statusPending,
	}))
	err := m2.WaitReady(context.Background(), "stuck", 100*time.Millisecond)
	if kindOf(t, err) != RuntimeTimeout {
		t.Fatalf("WaitReady on pending runtime: %v", err)
	}
}

func TestWaitListening(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	m, _, _, _ := newTestManager()
	m.podPort = serverPort(t, srv)

	if !m.WaitListening(context.Background(), "127.0.0.1", 2*time.Second) {
		t.Fatal("WaitListening should succeed against a responding server")
	}

	srv.Close()
	if m.WaitListening(context.Background(), "127.0.0.1", 100*time.Millisecond) {
		t.Fatal("WaitListening should fail once the server is gone")
	}
}

func serverPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse server port: %v", err)
	}
	return port
}

func kindOf(t *testing.T, err error) Kind {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error")
	}
	return AsError(err).Kind
}
