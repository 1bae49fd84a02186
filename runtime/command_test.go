package runtime

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCommand(t *testing.T) {
	m, _, pods, _ := newTestManager(
		seedRuntime("r1", "v5", 1, nil),
		seedPod("r1", "10.0.0.1"),
	)
	pods.commandOut = "total 0\n"

	result, err := m.Command(context.Background(), "r1", CommandParams{Command: "ls -la"})
	if err != nil {
		t.Fatalf("Command: %v", err)
	}
	if result.Output != "total 0\n" {
		t.Fatalf("output = %q", result.Output)
	}
	if len(pods.commands) != 1 || pods.commands[0] != "ls -la" {
		t.Fatalf("commands = %v", pods.commands)
	}
}

func TestCommandValidation(t *testing.T) {
	m, _, _, _ := newTestManager()
	_, err := m.Command(context.Background(), "r1", CommandParams{})
	if kindOf(t, err) != ExecutionBadRequest {
		t.Fatalf("kind = %v", AsError(err).Kind)
	}
}

func TestCommandNoPods(t *testing.T) {
	m, _, _, _ := newTestManager(seedRuntime("r1", "v5", 0, nil))
	_, err := m.Command(context.Background(), "r1", CommandParams{Command: "ls"})
	if kindOf(t, err) != RuntimeNotFound {
		t.Fatalf("kind = %v", AsError(err).Kind)
	}
}

func TestCommandTimeout(t *testing.T) {
	m, _, pods, _ := newTestManager(
		seedRuntime("r1", "v5", 1, nil),
		seedPod("r1", "10.0.0.1"),
	)
	pods.commandDelay = time.Second

	_, err := m.Command(context.Background(), "r1", CommandParams{Command: "sleep 60", Timeout: 0.05})
	if kindOf(t, err) != CommandTimeout {
		t.Fatalf("kind = %v", AsError(err).Kind)
	}
}

func TestCommandFailure(t *testing.T) {
	m, _, pods, _ := newTestManager(
		seedRuntime("r1", "v5", 1, nil),
		seedPod("r1", "10.0.0.1"),
	)
	pods.commandErr = errors.New("sh: nope: not found")

	_, err := m.Command(context.Background(), "r1", CommandParams{Command: "nope"})
	if kindOf(t, err) != CommandFailed {
		t.Fatalf("kind = %v", AsError(err).Kind)
	}
}
