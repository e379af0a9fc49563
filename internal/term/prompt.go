package term

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/thiagokokada/gitp/internal/diff"
	"github.com/thiagokokada/gitp/internal/selection"
)

var ErrNothingChosen = errors.New("nothing chosen")

// Prompter asks the user questions on a terminal with bubbletea, or line by
// line when the input is not a terminal.
type Prompter struct {
	in          io.Reader
	out         io.Writer
	renderer    *Renderer
	interactive bool
	lines       *bufio.Reader
}

func NewPrompter(in io.Reader, out io.Writer, renderer *Renderer) *Prompter {
	p := &Prompter{in: in, out: out, renderer: renderer}
	if f, ok := in.(*os.File); ok {
		p.interactive = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	if !p.interactive {
		p.lines = bufio.NewReader(in)
	}
	return p
}

// Choose shows the hunk and asks what to do with it.
func (p *Prompter) Choose(ctx context.Context, pr selection.Prompt) (selection.Choice, error) {
	fmt.Fprint(p.out, p.describe(pr))
	question := promptQuestion(pr)
	if !p.interactive {
		return p.chooseLine(question, pr.Choices)
	}
	final, err := p.run(ctx, choiceModel{question: question, choices: pr.Choices, style: p.renderer.Style().Bold(true)})
	if err != nil {
		return selection.ChoiceAbort, err
	}
	return final.(choiceModel).chosen, nil
}

func (p *Prompter) describe(pr selection.Prompt) string {
	if pr.Hunk != nil {
		if pr.Index == 0 {
			return p.renderer.Patch(&diff.Patch{From: pr.Patch.From, To: pr.Patch.To, Kind: pr.Patch.Kind, Similarity: pr.Patch.Similarity}) +
				p.renderer.colorize("", fileHeader(pr.Patch), false) + p.renderer.Hunk(pr.Patch.Path(), pr.Hunk)
		}
		return p.renderer.Hunk(pr.Patch.Path(), pr.Hunk)
	}
	return p.renderer.Patch(pr.Patch)
}

// fileHeader is the ---/+++ pair that Patch omits for a patch without hunks.
func fileHeader(p *diff.Patch) string {
	from, to := "/dev/null", "/dev/null"
	if p.From.Exists() {
		from = "a/" + p.From.Path
	}
	if p.To.Exists() {
		to = "b/" + p.To.Path
	}
	return fmt.Sprintf("--- %s\n+++ %s\n", from, to)
}

func promptQuestion(pr selection.Prompt) string {
	what := "this hunk"
	switch {
	case pr.Hunk == nil && pr.Patch.Kind == diff.Renamed:
		what = "this rename"
	case pr.Hunk == nil:
		what = "this " + pr.Patch.Kind.String() + " file"
	case pr.Patch.Kind == diff.Added:
		what = "this addition"
	case pr.Patch.Kind == diff.Deleted:
		what = "this deletion"
	}
	return fmt.Sprintf("(%d/%d) %s %s", pr.Index+1, pr.Total, pr.Action, what)
}

func choiceKeys(choices []selection.Choice) string {
	keys := make([]string, 0, len(choices)+1)
	for _, c := range choices {
		keys = append(keys, c.Key())
	}
	return strings.Join(append(keys, "?"), ",")
}

func choiceHelp(choices []selection.Choice) string {
	var b strings.Builder
	for _, c := range choices {
		fmt.Fprintf(&b, "%s - %s\n", c.Key(), c)
	}
	b.WriteString("? - print help\n")
	return b.String()
}

func (p *Prompter) chooseLine(question string, choices []selection.Choice) (selection.Choice, error) {
	for {
		fmt.Fprintf(p.out, "%s [%s]? ", question, choiceKeys(choices))
		line, err := p.lines.ReadString('\n')
		answer := strings.TrimSpace(line)
		if answer == "" && err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(p.out)
				return selection.ChoiceAbort, nil
			}
			return selection.ChoiceAbort, err
		}
		if c, ok := selection.ParseChoice(strings.ToLower(answer[:1])); ok && slices.Contains(choices, c) {
			return c, nil
		}
		fmt.Fprint(p.out, choiceHelp(choices))
	}
}

func (p *Prompter) run(ctx context.Context, m tea.Model) (tea.Model, error) {
	prog := tea.NewProgram(m,
		tea.WithContext(ctx),
		tea.WithInput(p.in),
		tea.WithOutput(p.out),
		tea.WithoutSignalHandler(),
	)
	final, err := prog.Run()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("prompt: %w", err)
	}
	return final, nil
}

type choiceModel struct {
	question string
	choices  []selection.Choice
	style    lipgloss.Style
	help     bool
	done     bool
	chosen   selection.Choice
}

func (m choiceModel) Init() tea.Cmd {
	return nil
}

func (m choiceModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "ctrl+c", "esc":
		m.chosen, m.done = selection.ChoiceAbort, true
		return m, tea.Quit
	case "?":
		m.help = !m.help
		return m, nil
	}
	if c, ok := selection.ParseChoice(strings.ToLower(key.String())); ok && slices.Contains(m.choices, c) {
		m.chosen, m.done = c, true
		return m, tea.Quit
	}
	m.help = true
	return m, nil
}

func (m choiceModel) View() string {
	line := fmt.Sprintf("%s [%s]? ", m.style.Render(m.question), choiceKeys(m.choices))
	if m.done {
		return line + m.chosen.Key() + "\n"
	}
	if m.help {
		return line + "\n" + choiceHelp(m.choices)
	}
	return line
}

// Pick shows a list and returns the chosen item. ErrNothingChosen is
// returned when the user cancels.
func (p *Prompter) Pick(ctx context.Context, title string, items []string) (string, error) {
	if len(items) == 0 {
		return "", ErrNothingChosen
	}
	if !p.interactive {
		return p.pickLine(title, items)
	}
	final, err := p.run(ctx, pickModel{
		title:  title,
		items:  items,
		chosen: -1,
		cursor: p.renderer.Style().Bold(true),
	})
	if err != nil {
		return "", err
	}
	m := final.(pickModel)
	if m.chosen < 0 {
		return "", ErrNothingChosen
	}
	return items[m.chosen], nil
}

func (p *Prompter) pickLine(title string, items []string) (string, error) {
	fmt.Fprintln(p.out, title)
	for i, item := range items {
		fmt.Fprintf(p.out, "%3d) %s\n", i+1, item)
	}
	fmt.Fprint(p.out, "> ")
	line, err := p.lines.ReadString('\n')
	answer := strings.TrimSpace(line)
	if answer == "" {
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		return "", ErrNothingChosen
	}
	if n, err := strconv.Atoi(answer); err == nil && n >= 1 && n <= len(items) {
		return items[n-1], nil
	}
	if slices.Contains(items, answer) {
		return answer, nil
	}
	return "", fmt.Errorf("%q: %w", answer, ErrNothingChosen)
}

type pickModel struct {
	title  string
	items  []string
	pos    int
	chosen int
	cursor lipgloss.Style
}

func (m pickModel) Init() tea.Cmd {
	return nil
}

func (m pickModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "up", "k", "shift+tab":
		if m.pos > 0 {
			m.pos--
		}
	case "down", "j", "tab":
		if m.pos < len(m.items)-1 {
			m.pos++
		}
	case "home", "g":
		m.pos = 0
	case "end", "G":
		m.pos = len(m.items) - 1
	case "enter":
		m.chosen = m.pos
		return m, tea.Quit
	case "q", "esc", "ctrl+c":
		return m, tea.Quit
	}
	return m, nil
}

func (m pickModel) View() string {
	var b strings.Builder
	b.WriteString(m.title)
	b.WriteByte('\n')
	if m.chosen >= 0 {
		return b.String()
	}
	for i, item := range m.items {
		if i == m.pos {
			b.WriteString(m.cursor.Render("> " + item))
		} else {
			b.WriteString("  " + item)
		}
		b.WriteByte('\n')
	}
	b.WriteString("(enter to select, q to cancel)\n")
	return b.String()
}
