package runtime

import (
	"context"
	"errors"
	"time"

	"executor/k8s"
)

type CommandParams struct {
	Command string  `json:"command"`
	Timeout float64 `json:"timeout"`
}

type CommandResult struct {
	Output string `json:"output"`
}

// Command runs an arbitrary shell command inside the runtime container
// and returns its stdout.
func (m *Manager) Command(ctx context.Context, id string, p CommandParams) (*CommandResult, error) {
	if p.Command == "" {
		return nil, NewError(ExecutionBadRequest, "Missing required parameter: command")
	}
	timeout := defaultExecuteTimeout
	if p.Timeout > 0 {
		timeout = time.Duration(p.Timeout * float64(time.Second))
	}

	pods, err := m.Kube.ListPods(ctx, k8s.RuntimeIDLabel+"="+id)
	if err != nil || len(pods) == 0 {
		return nil, Errorf(RuntimeNotFound, "No pods found for runtime %s", id)
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	output, err := m.Pods.RunCommand(cctx, pods[0].Name, k8s.RuntimeContainer, p.Command)
	if err != nil {
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return nil, NewError(CommandTimeout, "Command timed out")
		}
		return nil, Errorf(CommandFailed, "Command failed: %v", err)
	}
	return &CommandResult{Output: output}, nil
}
