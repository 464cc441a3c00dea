package process

import "testing"

func TestWorkerTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    WorkerState
		to      WorkerState
		wantErr bool
	}{
		{name: "pending to running", from: WorkerPending, to: WorkerRunning, wantErr: false},
		{name: "pending to cancelled", from: WorkerPending, to: WorkerCancelled, wantErr: false},
		{name: "running to awaiting input", from: WorkerRunning, to: WorkerAwaitingInput, wantErr: false},
		{name: "running to succeeded", from: WorkerRunning, to: WorkerSucceeded, wantErr: false},
		{name: "awaiting input back to running", from: WorkerAwaitingInput, to: WorkerRunning, wantErr: false},
		{name: "pending to succeeded skips running", from: WorkerPending, to: WorkerSucceeded, wantErr: true},
		{name: "terminal immutable", from: WorkerSucceeded, to: WorkerRunning, wantErr: true},
		{name: "awaiting input cannot conclude directly", from: WorkerAwaitingInput, to: WorkerSucceeded, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &Worker{state: tt.from}
			err := w.transition(tt.to)
			if (err != nil) != tt.wantErr {
				t.Fatalf("transition(%s -> %s) error = %v, wantErr %v", tt.from, tt.to, err, tt.wantErr)
			}
			if !tt.wantErr && w.State() != tt.to {
				t.Fatalf("state = %s, want %s", w.State(), tt.to)
			}
		})
	}
}

func TestWorkerTransitionIdempotent(t *testing.T) {
	w := &Worker{state: WorkerRunning}
	if err := w.transition(WorkerRunning); err != nil {
		t.Fatalf("transitioning to the same state should be a no-op, got %v", err)
	}
}

func TestNewWorkerDefaultMaxTurns(t *testing.T) {
	w := NewWorker(WorkerConfig{Task: "t"})
	if w.MaxTurns != DefaultWorkerMaxTurns {
		t.Fatalf("MaxTurns = %d, want %d", w.MaxTurns, DefaultWorkerMaxTurns)
	}

	interactive := NewWorker(WorkerConfig{Task: "t", Interactive: true})
	if interactive.MaxTurns != DefaultInteractiveWorkerMaxTurns {
		t.Fatalf("interactive MaxTurns = %d, want %d", interactive.MaxTurns, DefaultInteractiveWorkerMaxTurns)
	}

	explicit := NewWorker(WorkerConfig{Task: "t", MaxTurns: 7})
	if explicit.MaxTurns != 7 {
		t.Fatalf("explicit MaxTurns = %d, want 7", explicit.MaxTurns)
	}
}

func TestWorkerTaskTools(t *testing.T) {
	shellWorker := &Worker{TaskType: "shell"}
	names := toolNames(shellWorker.taskTools())
	if !contains(names, "shell") || !contains(names, "exec") || !contains(names, "file") {
		t.Fatalf("shell task type tools = %v, want shell/exec/file", names)
	}

	researchWorker := &Worker{TaskType: "research"}
	names = toolNames(researchWorker.taskTools())
	if !contains(names, "web_search") || !contains(names, "browser") {
		t.Fatalf("research task type tools = %v, want web_search/browser", names)
	}

	genericWorker := &Worker{TaskType: "unspecified"}
	names = toolNames(genericWorker.taskTools())
	if len(names) != 5 {
		t.Fatalf("unrecognized task type should get every tool, got %v", names)
	}
}

func toolNames(tools []Tool) []string {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Spec().Name
	}
	return names
}

func contains(names []string, want string) bool {
	for _, n := range names {
		if n == want {
			return true
		}
	}
	return false
}
