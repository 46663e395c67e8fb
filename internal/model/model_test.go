package model

import (
	"strings"
	"testing"
	"time"
)

func TestNewAgentDefaults(t *testing.T) {
	a := NewAgent("  watch the error budget  ", "")
	if a.Goal != "watch the error budget" {
		t.Errorf("goal must be trimmed: %q", a.Goal)
	}
	if a.Title != "watch the error budget" {
		t.Errorf("title must default to the goal: %q", a.Title)
	}
	if a.Status != StatusIdle {
		t.Errorf("new agents start idle, got %s", a.Status)
	}
	if len(a.ID) != 12 {
		t.Errorf("id length: %q", a.ID)
	}
	if a.History == nil || a.Metrics == nil {
		t.Errorf("history and metrics must be allocated")
	}
}

func TestNewAgentTitleTruncation(t *testing.T) {
	goal := strings.Repeat("word ", 20)
	a := NewAgent(goal, "")
	if len(a.Title) > 40 {
		t.Errorf("default title must be at most 40 chars, got %d", len(a.Title))
	}
	if strings.HasSuffix(a.Title, " ") {
		t.Errorf("truncated title must be trimmed: %q", a.Title)
	}

	b := NewAgent(goal, "Explicit")
	if b.Title != "Explicit" {
		t.Errorf("explicit title must win: %q", b.Title)
	}
}

func TestShortID(t *testing.T) {
	a := NewAgent("short id subject", "")
	if got := a.ShortID(); got != a.ID[:ShortIDLen] {
		t.Errorf("short id: %q", got)
	}
}

func TestLive(t *testing.T) {
	a := NewAgent("liveness subject", "")
	if !a.Live() {
		t.Errorf("idle agents are live")
	}
	a.Status = StatusBusy
	if !a.Live() {
		t.Errorf("busy agents are live")
	}
	a.Status = StatusStopped
	if a.Live() {
		t.Errorf("stopped agents are not live")
	}
}

func TestFormatUptime(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{0, "0h 0m"},
		{-time.Minute, "0h 0m"},
		{95 * time.Minute, "1h 35m"},
		{23*time.Hour + 59*time.Minute, "23h 59m"},
		{26 * time.Hour, "1d 2h"},
		{3*24*time.Hour + 5*time.Hour, "3d 5h"},
	}
	for _, tc := range cases {
		if got := formatUptime(tc.d); got != tc.want {
			t.Errorf("formatUptime(%v) = %q, want %q", tc.d, got, tc.want)
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	a := NewAgent("clone subject", "")
	a.AppendTurn(RoleUser, "original")
	a.Bump("turns", 1)

	cp := a.Clone()
	cp.History[0].Text = "mutated"
	cp.AppendTurn(RoleAgent, "extra")
	cp.Metrics["turns"] = 99
	cp.Title = "renamed"

	if a.History[0].Text != "original" || len(a.History) != 1 {
		t.Errorf("clone shares history with the original")
	}
	if a.Metrics["turns"] != 1 {
		t.Errorf("clone shares metrics with the original")
	}
	if a.Title != "clone subject" {
		t.Errorf("clone shares scalar fields? %q", a.Title)
	}
}

func TestBumpAllocates(t *testing.T) {
	a := &Agent{}
	a.Bump("failures", 2)
	a.Bump("failures", 1)
	if a.Metrics["failures"] != 3 {
		t.Errorf("bump: %v", a.Metrics)
	}
}
