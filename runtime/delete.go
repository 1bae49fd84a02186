package runtime

import (
	"context"
	"fmt"
	"log"
	"strings"

	"executor/k8s"
)

type DeleteResult struct {
	Status string `json:"status"`
}

// Delete tears a runtime down. Only the Deployment delete can fail the
// call; the Service delete and the object-store cleanup Job are
// best-effort.
func (m *Manager) Delete(ctx context.Context, id string) (*DeleteResult, error) {
	err := m.Kube.DeleteDeployment(ctx, DeploymentName(id))
	switch {
	case err == nil:
	case k8s.IsNotFound(err):
		return nil, Errorf(RuntimeNotFound, "Runtime %s not found or already deleted", id)
	case strings.Contains(err.Error(), "already in progress"):
		return &DeleteResult{Status: fmt.Sprintf("Runtime %s deletion already in progress", id)}, nil
	default:
		return nil, Errorf(GeneralUnknown, "Failed to delete runtime %s: %v", id, err)
	}

	if err := m.Kube.DeleteService(ctx, ServiceName(id)); err != nil && !k8s.IsNotFound(err) {
		log.Printf("runtime: delete service %s: %v", ServiceName(id), err)
	}

	jobName := fmt.Sprintf("delete-%s-%s", id, randomHex(4))
	job := k8s.CleanupJob(m.Kube.Namespace(), k8s.CleanupJobOpts{
		JobName:   jobName,
		RuntimeID: id,
		S3:        m.S3,
	})
	if err := m.Kube.CreateJob(ctx, job); err != nil {
		log.Printf("runtime: enqueue cleanup job %s: %v", jobName, err)
	}

	m.publish("runtime.deleted", id, nil)
	return &DeleteResult{Status: "success"}, nil
}
