package k8s

import (
	"fmt"
	"strings"

	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
)

const (
	RoleLabel      = "role"
	RuntimeIDLabel = "runtime-id"
	RoleRuntime    = "runtime"
	RoleBuild      = "build"

	RuntimeContainer = "runtime-container"
	BuildContainer   = "build-container"

	RuntimePort = 3000

	// Completed build/cleanup jobs are garbage-collected after an hour.
	jobTTLSeconds = int32(3600)

	cleanupImage = "amazon/aws-cli:2.17.16"
)

// S3Env carries object-store credentials injected into pods whose
// inline scripts upload or delete artifacts.
type S3Env struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
}

func (s S3Env) vars() []corev1.EnvVar {
	return []corev1.EnvVar{
		{Name: "AWS_ACCESS_KEY_ID", Value: s.AccessKey},
		{Name: "AWS_SECRET_ACCESS_KEY", Value: s.SecretKey},
		{Name: "AWS_DEFAULT_REGION", Value: s.Region},
		{Name: "S3_ENDPOINT", Value: s.Endpoint},
		{Name: "S3_BUCKET", Value: s.Bucket},
	}
}

type RuntimeDeploymentOpts struct {
	RuntimeID   string
	Image       string
	Annotations map[string]string
	Env         []corev1.EnvVar
	CPUs        string
	Memory      string
}

// RuntimeDeployment builds the dep-{id} manifest. Replicas start at
// zero; the invocation path scales up on demand and the reaper scales
// back down.
func RuntimeDeployment(namespace string, opts RuntimeDeploymentOpts) *appsv1.Deployment {
	labels := map[string]string{
		RoleLabel:      RoleRuntime,
		RuntimeIDLabel: opts.RuntimeID,
	}
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:        "dep-" + opts.RuntimeID,
			Namespace:   namespace,
			Labels:      labels,
			Annotations: opts.Annotations,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr(int32(0)),
			Selector: &metav1.LabelSelector{
				MatchLabels: map[string]string{RuntimeIDLabel: opts.RuntimeID},
			},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{
						Name:      RuntimeContainer,
						Image:     opts.Image,
						Env:       opts.Env,
						Ports:     []corev1.ContainerPort{{ContainerPort: RuntimePort}},
						Resources: resources(opts.CPUs, opts.Memory),
						VolumeMounts: []corev1.VolumeMount{{
							Name:      "logs",
							MountPath: "/mnt/logs",
						}},
					}},
					Volumes: []corev1.Volume{{
						Name:         "logs",
						VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}},
					}},
				},
			},
		},
	}
}

// RuntimeService builds the svc-{id} ClusterIP service fronting the
// runtime pods on port 3000.
func RuntimeService(namespace, runtimeID string) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "svc-" + runtimeID,
			Namespace: namespace,
			Labels: map[string]string{
				RoleLabel:      RoleRuntime,
				RuntimeIDLabel: runtimeID,
			},
		},
		Spec: corev1.ServiceSpec{
			Selector: map[string]string{RuntimeIDLabel: runtimeID},
			Type:     corev1.ServiceTypeClusterIP,
			Ports: []corev1.ServicePort{{
				Port:       RuntimePort,
				TargetPort: intstr.FromInt32(RuntimePort),
				Protocol:   corev1.ProtocolTCP,
			}},
		},
	}
}

type BuildJobOpts struct {
	JobName         string
	RuntimeID       string
	Image           string
	Version         string
	Command         string
	SourceB64       string // base64 tarball, empty when building without source
	ArtifactPath    string
	OutputDirectory string
	Env             []corev1.EnvVar
	S3              S3Env
	CPUs            string
	Memory          string
}

// BuildJob builds the build-{id}-{hex} manifest: an init container
// materializes the base64 source onto a shared volume, then the build
// container runs the user command under script(1) (v4/v5) or tee (v2)
// and uploads the resulting tarball.
func BuildJob(namespace string, opts BuildJobOpts) *batchv1.Job {
	labels := map[string]string{
		RoleLabel:      RoleBuild,
		RuntimeIDLabel: opts.RuntimeID,
	}

	volumes := []corev1.Volume{
		{Name: "source", VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}}},
		{Name: "logging", VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}}},
	}
	mounts := []corev1.VolumeMount{
		{Name: "source", MountPath: "/usr/local/src"},
		{Name: "logging", MountPath: "/tmp/logging"},
	}

	var initContainers []corev1.Container
	if opts.SourceB64 != "" {
		initContainers = append(initContainers, corev1.Container{
			Name:    "source-init",
			Image:   "busybox:stable",
			Command: []string{"sh", "-c", `echo "$OPR_SOURCE_B64" | base64 -d > /usr/local/src/code.tar.gz`},
			Env:     []corev1.EnvVar{{Name: "OPR_SOURCE_B64", Value: opts.SourceB64}},
			VolumeMounts: []corev1.VolumeMount{
				{Name: "source", MountPath: "/usr/local/src"},
			},
		})
	}

	env := append(opts.S3.vars(), opts.Env...)

	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      opts.JobName,
			Namespace: namespace,
			Labels:    labels,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:            ptr(int32(0)),
			TTLSecondsAfterFinished: ptr(jobTTLSeconds),
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					RestartPolicy:  corev1.RestartPolicyNever,
					InitContainers: initContainers,
					Containers: []corev1.Container{{
						Name:         BuildContainer,
						Image:        opts.Image,
						Command:      []string{"sh", "-c", buildScript(opts)},
						Env:          env,
						Resources:    resources(opts.CPUs, opts.Memory),
						VolumeMounts: mounts,
					}},
					Volumes: volumes,
				},
			},
		},
	}
}

type CleanupJobOpts struct {
	JobName   string
	RuntimeID string
	S3        S3Env
}

// CleanupJob builds the delete-{id}-{hex} manifest that removes every
// artifact under the runtime's object-store prefix.
func CleanupJob(namespace string, opts CleanupJobOpts) *batchv1.Job {
	script := fmt.Sprintf(
		`aws s3 rm "s3://$S3_BUCKET/%s/" --recursive --endpoint-url "$S3_ENDPOINT"`,
		opts.RuntimeID,
	)
	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      opts.JobName,
			Namespace: namespace,
			Labels: map[string]string{
				RoleLabel:      "cleanup",
				RuntimeIDLabel: opts.RuntimeID,
			},
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:            ptr(int32(0)),
			TTLSecondsAfterFinished: ptr(jobTTLSeconds),
			Template: corev1.PodTemplateSpec{
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Containers: []corev1.Container{{
						Name:    "cleanup",
						Image:   cleanupImage,
						Command: []string{"sh", "-c", script},
						Env:     opts.S3.vars(),
					}},
				},
			},
		},
	}
}

func buildScript(opts BuildJobOpts) string {
	upload := fmt.Sprintf(
		`aws s3 cp /tmp/code.tar.gz "s3://$S3_BUCKET/%s" --endpoint-url "$S3_ENDPOINT"`,
		opts.ArtifactPath,
	)

	if opts.Version == "v2" {
		return strings.Join([]string{
			`set -e`,
			`mkdir -p /usr/code`,
			`if [ -f /usr/local/src/code.tar.gz ]; then tar -xzf /usr/local/src/code.tar.gz -C /usr/code; fi`,
			`cd /usr/code`,
			fmt.Sprintf(`sh -c %s 2>&1 | tee /var/tmp/logs.txt`, shellQuote(opts.Command)),
			`tar -C /usr/code -czf /tmp/code.tar.gz .`,
			upload,
		}, "\n")
	}

	buildDir := "/usr/local/build"
	tarDir := buildDir
	if opts.OutputDirectory != "" {
		tarDir = buildDir + "/" + strings.TrimPrefix(opts.OutputDirectory, "/")
	}
	return strings.Join([]string{
		`set -e`,
		fmt.Sprintf(`mkdir -p %s /tmp/logging`, buildDir),
		fmt.Sprintf(`if [ -f /usr/local/src/code.tar.gz ]; then tar -xzf /usr/local/src/code.tar.gz -C %s; fi`, buildDir),
		`cd ` + buildDir,
		fmt.Sprintf(`script --log-out /tmp/logging/logs.txt --log-timing /tmp/logging/timings.txt --return --quiet --command %s`, shellQuote(opts.Command)),
		fmt.Sprintf(`tar -C %s -czf /tmp/code.tar.gz .`, tarDir),
		upload,
	}, "\n")
}

// shellQuote single-quotes s for safe embedding in a sh command line.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func resources(cpus, memory string) corev1.ResourceRequirements {
	limits := corev1.ResourceList{}
	if cpus != "" {
		if q, err := resource.ParseQuantity(cpus); err == nil {
			limits[corev1.ResourceCPU] = q
		}
	}
	if memory != "" {
		m := memory
		if !strings.ContainsAny(m, "KMGTEi") {
			m += "Mi"
		}
		if q, err := resource.ParseQuantity(m); err == nil {
			limits[corev1.ResourceMemory] = q
		}
	}
	if len(limits) == 0 {
		return corev1.ResourceRequirements{}
	}
	return corev1.ResourceRequirements{Limits: limits, Requests: limits}
}

func ptr[T any](v T) *T { return &v }
