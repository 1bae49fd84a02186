package k8s

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// Client wraps the typed clientset with the handful of operations the
// executor needs. The cluster API server is the only authoritative
// store for runtime state.
type Client struct {
	cs         kubernetes.Interface
	restConfig *rest.Config
	namespace  string
}

func NewClient(namespace string) (*Client, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig := filepath.Join(os.Getenv("HOME"), ".kube", "config")
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("k8s config: %w", err)
		}
	}
	cs, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("k8s clientset: %w", err)
	}
	return &Client{cs: cs, restConfig: config, namespace: namespace}, nil
}

// NewWithClientset builds a Client around an existing clientset.
// Remote exec is unavailable through it; tests inject a fake clientset
// here and stub pod I/O separately.
func NewWithClientset(cs kubernetes.Interface, namespace string) *Client {
	return &Client{cs: cs, namespace: namespace}
}

func (c *Client) Namespace() string { return c.namespace }

func (c *Client) GetDeployment(ctx context.Context, name string) (*appsv1.Deployment, error) {
	return c.cs.AppsV1().Deployments(c.namespace).Get(ctx, name, metav1.GetOptions{})
}

func (c *Client) CreateDeployment(ctx context.Context, dep *appsv1.Deployment) error {
	_, err := c.cs.AppsV1().Deployments(c.namespace).Create(ctx, dep, metav1.CreateOptions{})
	return err
}

func (c *Client) ReplaceDeployment(ctx context.Context, dep *appsv1.Deployment) error {
	_, err := c.cs.AppsV1().Deployments(c.namespace).Update(ctx, dep, metav1.UpdateOptions{})
	return err
}

// PatchDeployment applies a JSON-patch (RFC 6902) document.
func (c *Client) PatchDeployment(ctx context.Context, name string, patch []byte) error {
	_, err := c.cs.AppsV1().Deployments(c.namespace).Patch(ctx, name, types.JSONPatchType, patch, metav1.PatchOptions{})
	return err
}

func (c *Client) DeleteDeployment(ctx context.Context, name string) error {
	return c.cs.AppsV1().Deployments(c.namespace).Delete(ctx, name, metav1.DeleteOptions{})
}

// ListDeployments pages through Deployments matching selector using the
// API server's native continue tokens.
func (c *Client) ListDeployments(ctx context.Context, selector string, limit int64, continueToken string) (*appsv1.DeploymentList, error) {
	return c.cs.AppsV1().Deployments(c.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: selector,
		Limit:         limit,
		Continue:      continueToken,
	})
}

func (c *Client) GetService(ctx context.Context, name string) (*corev1.Service, error) {
	return c.cs.CoreV1().Services(c.namespace).Get(ctx, name, metav1.GetOptions{})
}

func (c *Client) CreateService(ctx context.Context, svc *corev1.Service) error {
	_, err := c.cs.CoreV1().Services(c.namespace).Create(ctx, svc, metav1.CreateOptions{})
	return err
}

func (c *Client) DeleteService(ctx context.Context, name string) error {
	return c.cs.CoreV1().Services(c.namespace).Delete(ctx, name, metav1.DeleteOptions{})
}

func (c *Client) CreateJob(ctx context.Context, job *batchv1.Job) error {
	_, err := c.cs.BatchV1().Jobs(c.namespace).Create(ctx, job, metav1.CreateOptions{})
	return err
}

func (c *Client) GetJob(ctx context.Context, name string) (*batchv1.Job, error) {
	return c.cs.BatchV1().Jobs(c.namespace).Get(ctx, name, metav1.GetOptions{})
}

func (c *Client) ListJobs(ctx context.Context, selector string) ([]batchv1.Job, error) {
	jobs, err := c.cs.BatchV1().Jobs(c.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: selector,
	})
	if err != nil {
		return nil, err
	}
	return jobs.Items, nil
}

func (c *Client) ListPods(ctx context.Context, selector string) ([]corev1.Pod, error) {
	pods, err := c.cs.CoreV1().Pods(c.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: selector,
	})
	if err != nil {
		return nil, err
	}
	return pods.Items, nil
}

// PodLogs reads container logs through the native log API. Used as the
// fallback when in-pod log files cannot be read.
func (c *Client) PodLogs(ctx context.Context, pod, container string) (string, error) {
	req := c.cs.CoreV1().Pods(c.namespace).GetLogs(pod, &corev1.PodLogOptions{
		Container: container,
	})
	stream, err := req.Stream(ctx)
	if err != nil {
		return "", err
	}
	defer stream.Close()
	data, err := io.ReadAll(stream)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func IsNotFound(err error) bool {
	return k8serrors.IsNotFound(err)
}

func IsAlreadyExists(err error) bool {
	return k8serrors.IsAlreadyExists(err)
}

func IsConflict(err error) bool {
	return k8serrors.IsConflict(err)
}
