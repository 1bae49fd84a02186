package runtime

import (
	"context"

	appsv1 "k8s.io/api/apps/v1"

	"executor/k8s"
)

// Descriptor is the external runtime shape. Timestamps are seconds
// (float) derived from the millisecond annotations.
type Descriptor struct {
	Version     string  `json:"version"`
	Created     float64 `json:"created"`
	Updated     float64 `json:"updated"`
	Name        string  `json:"name"`
	Hostname    string  `json:"hostname"`
	Status      string  `json:"status"`
	Key         string  `json:"key"`
	Listening   int     `json:"listening"`
	Image       string  `json:"image"`
	Initialised int     `json:"initialised"`
}

type Page struct {
	Runtimes  []Descriptor
	Limit     int64
	Continue  string
	Remaining int64
}

const (
	listLimitDefault = 25
	listLimitMax     = 100
)

// ClampLimit folds a caller-supplied page size into [1, 100] with a
// default of 25.
func ClampLimit(limit int64) int64 {
	switch {
	case limit <= 0:
		return listLimitDefault
	case limit > listLimitMax:
		return listLimitMax
	default:
		return limit
	}
}

// List pages through role=runtime Deployments using the API server's
// native continue tokens.
func (m *Manager) List(ctx context.Context, limit int64, continueToken string) (*Page, error) {
	limit = ClampLimit(limit)
	deps, err := m.Kube.ListDeployments(ctx, k8s.RoleLabel+"="+k8s.RoleRuntime, limit, continueToken)
	if err != nil {
		return nil, Errorf(GeneralUnknown, "Failed to list runtimes: %v", err)
	}

	page := &Page{
		Runtimes: make([]Descriptor, 0, len(deps.Items)),
		Limit:    limit,
		Continue: deps.Continue,
	}
	if deps.RemainingItemCount != nil {
		page.Remaining = *deps.RemainingItemCount
	}
	for i := range deps.Items {
		page.Runtimes = append(page.Runtimes, describe(&deps.Items[i]))
	}
	return page, nil
}

// Describe returns the descriptor of one runtime.
func (m *Manager) Describe(ctx context.Context, id string) (*Descriptor, error) {
	dep, err := m.Kube.GetDeployment(ctx, DeploymentName(id))
	if err != nil {
		if k8s.IsNotFound(err) {
			return nil, Errorf(RuntimeNotFound, "Runtime %s not found", id)
		}
		return nil, Errorf(GeneralUnknown, "Failed to read runtime %s: %v", id, err)
	}
	d := describe(dep)
	return &d, nil
}

func describe(dep *appsv1.Deployment) Descriptor {
	ann := dep.Annotations
	image := ""
	if containers := dep.Spec.Template.Spec.Containers; len(containers) > 0 {
		image = containers[0].Image
	}
	return Descriptor{
		Version:     ann[Annotation(annVersion)],
		Created:     float64(annInt64(ann, annCreated)) / 1000,
		Updated:     float64(annInt64(ann, annUpdated)) / 1000,
		Name:        dep.Labels[k8s.RuntimeIDLabel],
		Hostname:    ann[Annotation(annHostname)],
		Status:      ann[Annotation(annStatus)],
		Key:         ann[Annotation(annSecret)],
		Listening:   annInt(ann, annListening),
		Image:       image,
		Initialised: annInt(ann, annInitialised),
	}
}
