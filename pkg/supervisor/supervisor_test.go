package supervisor

import (
	"testing"

	"github.com/kestrel-run/kestrel/pkg/process"
)

func TestRegisterBranchEnforcesConcurrencyCap(t *testing.T) {
	s := New(2, nil)
	if err := s.RegisterBranch(process.BranchHandle{ID: "b1"}); err != nil {
		t.Fatalf("register b1: %v", err)
	}
	if err := s.RegisterBranch(process.BranchHandle{ID: "b2"}); err != nil {
		t.Fatalf("register b2: %v", err)
	}
	if err := s.RegisterBranch(process.BranchHandle{ID: "b3"}); err == nil {
		t.Fatal("expected an error past the concurrency cap")
	}
}

func TestRegisterWorkerRequiresInboundChannel(t *testing.T) {
	s := New(3, nil)
	if err := s.RegisterWorker(process.WorkerHandle{ID: "w1"}); err == nil {
		t.Fatal("expected an error registering a worker with no retained inbound channel")
	}
}

func TestRouteForwardsToRetainedChannel(t *testing.T) {
	s := New(3, nil)
	inbound := make(chan string, 1)
	if err := s.RegisterWorker(process.WorkerHandle{ID: "w1", Inbound: inbound}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.Route("w1", "follow up"); err != nil {
		t.Fatalf("route: %v", err)
	}
	select {
	case msg := <-inbound:
		if msg != "follow up" {
			t.Fatalf("message = %q, want %q", msg, "follow up")
		}
	default:
		t.Fatal("expected the routed message to be on the retained channel")
	}
}

func TestRouteUnknownWorker(t *testing.T) {
	s := New(3, nil)
	if err := s.Route("missing", "hi"); err == nil {
		t.Fatal("expected an error routing to an unregistered worker")
	}
}

func TestCancelBranchAndWorker(t *testing.T) {
	s := New(3, nil)
	var branchCancelled, workerCancelled bool
	s.RegisterBranch(process.BranchHandle{ID: "b1", Cancel: func() { branchCancelled = true }})
	s.RegisterWorker(process.WorkerHandle{ID: "w1", Inbound: make(chan string, 1), Cancel: func() { workerCancelled = true }})

	if err := s.Cancel("b1"); err != nil {
		t.Fatalf("cancel b1: %v", err)
	}
	if err := s.Cancel("w1"); err != nil {
		t.Fatalf("cancel w1: %v", err)
	}
	if !branchCancelled || !workerCancelled {
		t.Fatalf("branchCancelled=%v workerCancelled=%v, want both true", branchCancelled, workerCancelled)
	}
	if err := s.Cancel("unknown"); err == nil {
		t.Fatal("expected an error cancelling an unregistered process")
	}
}

func TestReapRemovesHandles(t *testing.T) {
	s := New(3, nil)
	s.RegisterBranch(process.BranchHandle{ID: "b1"})
	s.Reap("b1")
	branches, _ := s.Counts()
	if branches != 0 {
		t.Fatalf("branches = %d, want 0 after reap", branches)
	}
}
