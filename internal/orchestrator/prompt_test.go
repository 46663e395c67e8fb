package orchestrator

import (
	"strings"
	"testing"

	"github.com/droverhq/drover/internal/model"
)

func turns(pairs ...string) []model.Turn {
	out := make([]model.Turn, 0, len(pairs))
	for i, text := range pairs {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAgent
		}
		out = append(out, model.Turn{Role: role, Text: text})
	}
	return out
}

func TestBuildPromptShape(t *testing.T) {
	p := BuildPrompt("translate haiku", turns("hello", "hi there", "one more"), 20, 24576)

	if !strings.HasPrefix(p, "You are a background agent. Goal: translate haiku\n\n") {
		t.Errorf("prompt must start with the goal header:\n%s", p)
	}
	if !strings.HasSuffix(p, "Agent:") {
		t.Errorf("prompt must end with the reply cue:\n%s", p)
	}
	want := "User: hello\nAgent: hi there\nUser: one more\n"
	if !strings.Contains(p, want) {
		t.Errorf("prompt missing rendered history:\n%s", p)
	}
}

func TestBuildPromptWindow(t *testing.T) {
	history := turns("first", "second", "third", "fourth", "fifth", "sixth")
	p := BuildPrompt("g", history, 2, 24576)
	if strings.Contains(p, "first") || strings.Contains(p, "fourth") {
		t.Errorf("turns outside the window must be dropped:\n%s", p)
	}
	if !strings.Contains(p, "fifth") || !strings.Contains(p, "sixth") {
		t.Errorf("the newest turns must survive:\n%s", p)
	}
}

func TestBuildPromptBudgetDropsOldestFirst(t *testing.T) {
	long := strings.Repeat("x", 300)
	history := turns(long+"-old", "middle reply", "newest question")
	budget := len("You are a background agent. Goal: g\n\n") + len("Agent: middle reply\n") + len("User: newest question\n") + len("Agent:")
	p := BuildPrompt("g", history, 20, budget)

	if strings.Contains(p, "-old") {
		t.Errorf("oldest turn must be dropped under budget pressure:\n%s", p)
	}
	if !strings.Contains(p, "newest question") {
		t.Errorf("newest turn must always survive:\n%s", p)
	}
	if len(p) > budget {
		t.Errorf("prompt length %d exceeds budget %d", len(p), budget)
	}
}

func TestBuildPromptNewestSurvivesTinyBudget(t *testing.T) {
	history := turns("early words", "a fairly long closing question that cannot fit")
	p := BuildPrompt("g", history, 20, 10)
	if !strings.Contains(p, "closing question") {
		t.Errorf("the newest turn survives even a blown budget:\n%s", p)
	}
	if strings.Contains(p, "early words") {
		t.Errorf("older turns must drop first:\n%s", p)
	}
}

func TestBuildPromptStable(t *testing.T) {
	history := turns("one", "two", "three")
	a := BuildPrompt("goal text", history, 20, 24576)
	b := BuildPrompt("goal text", history, 20, 24576)
	if a != b {
		t.Fatalf("prompt construction must be deterministic")
	}
}
