package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func TestMessageJSONKeepsIdentity(t *testing.T) {
	msg := Message{
		ID:         "01J0000000000000000000000A",
		Role:       RoleTool,
		Content:    `{"results":[]}`,
		Name:       "web_search",
		ToolCallID: "call_1",
		Timestamp:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got Message
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got.ID != msg.ID || got.ToolCallID != msg.ToolCallID || !got.IsToolResult() {
		t.Errorf("got %+v, want %+v", got, msg)
	}
}

func TestIsToolResult(t *testing.T) {
	for _, role := range []string{RoleSystem, RoleUser, RoleAssistant} {
		if (Message{Role: role}).IsToolResult() {
			t.Errorf("role %q reported as tool result", role)
		}
	}
}

func TestNewIDIsUniqueAndSorted(t *testing.T) {
	prev := NewID()
	for i := 0; i < 1000; i++ {
		id := NewID()
		if len(id) != 26 {
			t.Fatalf("len(id) = %d, want 26", len(id))
		}
		if id <= prev {
			t.Fatalf("ids not increasing: %s then %s", prev, id)
		}
		prev = id
	}
}

func TestStateUpdateIsEmpty(t *testing.T) {
	if !(StateUpdate{}).IsEmpty() {
		t.Error("zero update should be empty")
	}
	if (StateUpdate{Remove: []RemoveMessage{{ID: "a"}}}).IsEmpty() {
		t.Error("update with a directive should not be empty")
	}
}

func TestStreamEventVariants(t *testing.T) {
	events := []StreamEvent{
		TextDelta{Text: "hi"},
		ToolCallRequested{Name: "web_search", Args: json.RawMessage(`{"query":"x"}`)},
	}
	var text, tools int
	for _, ev := range events {
		switch ev.(type) {
		case TextDelta:
			text++
		case ToolCallRequested:
			tools++
		}
	}
	if text != 1 || tools != 1 {
		t.Errorf("text=%d tools=%d, want 1 and 1", text, tools)
	}
}
