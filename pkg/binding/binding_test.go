package binding

import (
	"testing"

	"github.com/kestrel-run/kestrel/pkg/domain"
)

func TestTable_ResolveExactSenderWinsOverWildcard(t *testing.T) {
	table, err := NewTable(
		domain.Binding{Platform: "discord", SenderID: "u1", AgentID: "vip-agent"},
		domain.Binding{Platform: "discord", AgentID: "default-agent"},
	)
	if err != nil {
		t.Fatal(err)
	}

	agentID, err := table.Resolve("discord", "ch1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if agentID != "vip-agent" {
		t.Errorf("expected vip-agent, got %s", agentID)
	}

	agentID, err = table.Resolve("discord", "ch1", "u2")
	if err != nil {
		t.Fatal(err)
	}
	if agentID != "default-agent" {
		t.Errorf("expected default-agent, got %s", agentID)
	}
}

func TestTable_ResolveNoMatch(t *testing.T) {
	table, _ := NewTable(domain.Binding{Platform: "discord", AgentID: "a1"})
	_, err := table.Resolve("telegram", "ch1", "u1")
	if err != ErrNoMatch {
		t.Errorf("expected ErrNoMatch, got %v", err)
	}
}

func TestTable_RejectsInvalidBinding(t *testing.T) {
	_, err := NewTable(domain.Binding{Platform: "discord"}) // missing AgentID
	if err == nil {
		t.Fatal("expected validation error for missing agent_id")
	}
}

func TestTable_Add(t *testing.T) {
	table, _ := NewTable()
	if err := table.Add(domain.Binding{Platform: "webhook", AgentID: "a1"}); err != nil {
		t.Fatal(err)
	}
	agentID, err := table.Resolve("webhook", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if agentID != "a1" {
		t.Errorf("expected a1, got %s", agentID)
	}
}
