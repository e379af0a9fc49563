package term

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/thiagokokada/gitp/internal/diff"
	"github.com/thiagokokada/gitp/internal/selection"
)

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

var allChoices = []selection.Choice{
	selection.ChoiceStage, selection.ChoiceSkip, selection.ChoiceStageFile,
	selection.ChoiceSkipFile, selection.ChoiceAbort,
}

func TestChoiceModel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		keys     []string
		want     selection.Choice
		done     bool
		wantHelp bool
	}{
		{name: "stage", keys: []string{"y"}, want: selection.ChoiceStage, done: true},
		{name: "upper case", keys: []string{"N"}, want: selection.ChoiceSkip, done: true},
		{name: "split not offered", keys: []string{"s"}, wantHelp: true},
		{name: "help toggles", keys: []string{"?"}, wantHelp: true},
		{name: "interrupt aborts", keys: []string{"ctrl+c"}, want: selection.ChoiceAbort, done: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var m tea.Model = choiceModel{question: "Stage this hunk", choices: allChoices, style: lipgloss.NewStyle()}
			var cmd tea.Cmd
			for _, k := range tt.keys {
				m, cmd = m.Update(keyMsg(k))
			}
			got := m.(choiceModel)
			if got.done != tt.done || (tt.done && got.chosen != tt.want) {
				t.Fatalf("model = %+v", got)
			}
			if tt.done && cmd == nil {
				t.Fatalf("expected quit command")
			}
			if got.help != tt.wantHelp {
				t.Fatalf("help = %v", got.help)
			}
			view := got.View()
			if !strings.Contains(view, "[y,n,a,d,q,?]") {
				t.Fatalf("view = %q", view)
			}
		})
	}
}

func TestPickModel(t *testing.T) {
	t.Parallel()

	var m tea.Model = pickModel{title: "Switch to", items: []string{"main", "dev", "feat/x"}, chosen: -1, cursor: lipgloss.NewStyle()}
	for _, k := range []string{"down", "j", "j", "up", "enter"} {
		m, _ = m.Update(keyMsg(k))
	}
	if got := m.(pickModel); got.chosen != 1 {
		t.Fatalf("chosen = %d", got.chosen)
	}

	m = pickModel{title: "Switch to", items: []string{"main"}, chosen: -1, cursor: lipgloss.NewStyle()}
	m, cmd := m.Update(keyMsg("q"))
	if got := m.(pickModel); got.chosen != -1 || cmd == nil {
		t.Fatalf("cancel gave %+v", got)
	}
	if view := m.View(); !strings.Contains(view, "> main") {
		t.Fatalf("view = %q", view)
	}
}

func newLinePrompter(input string) (*Prompter, *bytes.Buffer) {
	var out bytes.Buffer
	return NewPrompter(strings.NewReader(input), &out, NewRenderer(&out, ThemeLight, ColorNever)), &out
}

func TestPrompterLineMode(t *testing.T) {
	t.Parallel()

	p := samplePatch()
	prompter, out := newLinePrompter("x\ns\nyes\n")
	prompt := selection.Prompt{Action: "Stage", Patch: p, Hunk: p.Hunks[0], Total: 1, Choices: allChoices}
	got, err := prompter.Choose(context.Background(), prompt)
	if err != nil {
		t.Fatalf("Choose: %v", err)
	}
	if got != selection.ChoiceStage {
		t.Fatalf("choice = %v", got)
	}
	text := out.String()
	for _, want := range []string{"diff --git a/main.go b/main.go", "--- a/main.go", "@@ -1,5 +1,5 @@", "(1/1) Stage this hunk [y,n,a,d,q,?]?", "d - skip this"} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}

	// End of input aborts.
	got, err = prompter.Choose(context.Background(), prompt)
	if err != nil || got != selection.ChoiceAbort {
		t.Fatalf("Choose at EOF = %v, %v", got, err)
	}
}

func TestPrompterWholeFile(t *testing.T) {
	t.Parallel()

	prompter, out := newLinePrompter("n\n")
	rename := &diff.Patch{From: diff.File{Path: "a"}, To: diff.File{Path: "b"}, Kind: diff.Renamed, Similarity: 1}
	got, err := prompter.Choose(context.Background(), selection.Prompt{Action: "Stage", Patch: rename, Total: 1, Choices: allChoices})
	if err != nil || got != selection.ChoiceSkip {
		t.Fatalf("Choose = %v, %v", got, err)
	}
	if !strings.Contains(out.String(), "Stage this rename") || !strings.Contains(out.String(), "rename from a") {
		t.Fatalf("output = %s", out.String())
	}
}

func TestPrompterPickLine(t *testing.T) {
	t.Parallel()

	items := []string{"main", "dev"}
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{input: "2\n", want: "dev"},
		{input: "main\n", want: "main"},
		{input: "\n", wantErr: true},
		{input: "7\n", wantErr: true},
	}
	for _, tt := range tests {
		prompter, _ := newLinePrompter(tt.input)
		got, err := prompter.Pick(context.Background(), "Switch to", items)
		if tt.wantErr {
			if !errors.Is(err, ErrNothingChosen) {
				t.Fatalf("Pick(%q) err = %v", tt.input, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("Pick(%q) = %q, %v", tt.input, got, err)
		}
	}
}
