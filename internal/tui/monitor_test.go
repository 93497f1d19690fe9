package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/scriptbox/scriptbox/internal/event"
	"github.com/scriptbox/scriptbox/internal/instance"
	"github.com/scriptbox/scriptbox/internal/supervisor"
)

func TestFormatEvent(t *testing.T) {
	tests := []struct {
		name string
		ev   event.Event
		want string
	}{
		{
			name: "started",
			ev:   event.NewCommandStartedEvent("job.a", "trusted", false),
			want: "job.a started (trusted)",
		},
		{
			name: "started replacing",
			ev:   event.NewCommandStartedEvent("job.a", "background", true),
			want: "replacing previous instance",
		},
		{
			name: "ready",
			ev:   event.NewCommandReadyEvent("job.a"),
			want: "job.a ready",
		},
		{
			name: "finished failed",
			ev:   event.NewCommandFinishedEvent("job.a", "trusted", event.OutcomeFailed, "boom"),
			want: "job.a finished: failed (boom)",
		},
		{
			name: "stopped with detail",
			ev:   event.NewCommandStoppedEvent("job.a", "stopped", "shutdown"),
			want: "job.a stopped: stopped (shutdown)",
		},
		{
			name: "script changed",
			ev:   event.NewScriptChangedEvent("job.a", "updated"),
			want: "script job.a updated on disk",
		},
		{
			name: "ui notice",
			ev:   event.NewUINoticeEvent("job.a", "hello"),
			want: "[job.a] hello",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatEvent(tt.ev)
			if !strings.Contains(got, tt.want) {
				t.Errorf("formatEvent() = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}

func TestModelViewShowsInstances(t *testing.T) {
	sup := supervisor.New(nil)
	defer sup.Close()

	m := NewModel(sup)
	m.infos = []instance.Info{
		{ID: "job.a", Origin: instance.OriginTrusted, State: instance.StateRunning},
	}

	view := m.View()
	if !strings.Contains(view, "job.a") {
		t.Errorf("view missing instance row:\n%s", view)
	}
	if !strings.Contains(view, "COMMAND") {
		t.Errorf("view missing table header:\n%s", view)
	}
}

func TestModelViewEmpty(t *testing.T) {
	sup := supervisor.New(nil)
	defer sup.Close()

	view := NewModel(sup).View()
	if !strings.Contains(view, "no instances running") {
		t.Errorf("empty view missing placeholder:\n%s", view)
	}
}

func TestModelQuitKeys(t *testing.T) {
	sup := supervisor.New(nil)
	defer sup.Close()

	for _, key := range []string{"q", "esc", "ctrl+c"} {
		m := NewModel(sup)
		var msg tea.KeyMsg
		switch key {
		case "q":
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}}
		case "esc":
			msg = tea.KeyMsg{Type: tea.KeyEsc}
		case "ctrl+c":
			msg = tea.KeyMsg{Type: tea.KeyCtrlC}
		}
		_, cmd := m.Update(msg)
		if cmd == nil {
			t.Errorf("key %s: expected quit command", key)
		}
	}
}

func TestModelFeedTrimsToCap(t *testing.T) {
	sup := supervisor.New(nil)
	defer sup.Close()

	var m tea.Model = NewModel(sup)
	for i := 0; i < maxFeedLines+50; i++ {
		m, _ = m.Update(eventMsg{event: event.NewCommandReadyEvent("job.a")})
	}

	got := m.(Model)
	if len(got.feed) != maxFeedLines {
		t.Errorf("feed length = %d, want %d", len(got.feed), maxFeedLines)
	}
}
