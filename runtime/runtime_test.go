package runtime

import (
	"context"
	"fmt"
	"strconv"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	kruntime "k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"

	"executor/k8s"
)

// fakePodIO serves file reads and tails from an in-memory map keyed by
// "{pod}:{path}".
type fakePodIO struct {
	files        map[string]string
	tailChunks   []string
	beforeChunk  func(i int) // mutate files between tail chunks
	commandOut   string
	commandErr   error
	commandDelay time.Duration
	commands     []string
}

func (f *fakePodIO) key(pod, path string) string { return pod + ":" + path }

func (f *fakePodIO) ReadFile(ctx context.Context, pod, container, path string) (string, error) {
	if content, ok := f.files[f.key(pod, path)]; ok {
		return content, nil
	}
	return "", &k8s.PodReadError{Path: path, Stderr: "No such file or directory"}
}

func (f *fakePodIO) FileExists(ctx context.Context, pod, container, path string) bool {
	_, ok := f.files[f.key(pod, path)]
	return ok
}

func (f *fakePodIO) TailFile(ctx context.Context, pod, container, path string, onChunk func([]byte), onError func(error)) func() {
	for i, chunk := range f.tailChunks {
		if f.beforeChunk != nil {
			f.beforeChunk(i)
		}
		onChunk([]byte(chunk))
	}
	return func() {}
}

func (f *fakePodIO) RunCommand(ctx context.Context, pod, container, command string) (string, error) {
	f.commands = append(f.commands, command)
	if f.commandDelay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(f.commandDelay):
		}
	}
	if f.commandErr != nil {
		return "", f.commandErr
	}
	return f.commandOut, nil
}

type fakeStore struct {
	objects map[string][]byte
	sizes   map[string]int64
	gets    []string
	stats   []string
}

func (f *fakeStore) GetObject(ctx context.Context, key string) ([]byte, error) {
	f.gets = append(f.gets, key)
	if data, ok := f.objects[key]; ok {
		return data, nil
	}
	return nil, fmt.Errorf("s3 get %s: not found", key)
}

func (f *fakeStore) StatObject(ctx context.Context, key string) (int64, error) {
	f.stats = append(f.stats, key)
	if size, ok := f.sizes[key]; ok {
		return size, nil
	}
	return 0, fmt.Errorf("s3 stat %s: not found", key)
}

func newTestManager(objects ...kruntime.Object) (*Manager, *fake.Clientset, *fakePodIO, *fakeStore) {
	cs := fake.NewSimpleClientset(objects...)
	pods := &fakePodIO{files: map[string]string{}}
	store := &fakeStore{objects: map[string][]byte{}, sizes: map[string]int64{}}
	m := &Manager{
		Kube:     k8s.NewWithClientset(cs, "default"),
		Pods:     pods,
		Store:    store,
		Hostname: "exec-host",
	}
	return m, cs, pods, store
}

// seedRuntime builds a ready runtime Deployment the way Create leaves
// it behind.
func seedRuntime(id, version string, replicas int32, ann map[string]string) *appsv1.Deployment {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	annotations := map[string]string{
		Annotation(annVersion):           version,
		Annotation(annSecret):            "aabbccdd",
		Annotation(annHostname):          "11223344",
		Annotation(annCreated):           now,
		Annotation(annUpdated):           now,
		Annotation(annStatus):            "Up 1s",
		Annotation(annInitialised):       "1",
		Annotation(annListening):         "1",
		Annotation(annLastExecutionTime): now,
	}
	for k, v := range ann {
		annotations[k] = v
	}
	dep := k8s.RuntimeDeployment("default", k8s.RuntimeDeploymentOpts{
		RuntimeID:   id,
		Image:       "img:" + version,
		Annotations: annotations,
	})
	dep.Spec.Replicas = &replicas
	if replicas > 0 {
		dep.Status.ReadyReplicas = replicas
	}
	return dep
}

func seedPod(id, ip string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "dep-" + id + "-pod",
			Namespace: "default",
			Labels: map[string]string{
				k8s.RoleLabel:      k8s.RoleRuntime,
				k8s.RuntimeIDLabel: id,
			},
		},
		Status: corev1.PodStatus{PodIP: ip},
	}
}
