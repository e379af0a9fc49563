// Package selection drives the hunk-by-hunk choice loop used by `add -p`
// and `checkout -p`.
package selection

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"

	"github.com/thiagokokada/gitp/internal/diff"
)

type Choice int

const (
	ChoiceStage Choice = iota
	ChoiceSkip
	ChoiceSplit
	ChoiceStageFile
	ChoiceSkipFile
	ChoiceAbort
)

var choiceKeys = map[Choice]string{
	ChoiceStage:     "y",
	ChoiceSkip:      "n",
	ChoiceSplit:     "s",
	ChoiceStageFile: "a",
	ChoiceSkipFile:  "d",
	ChoiceAbort:     "q",
}

// Key is the single-letter answer for the choice.
func (c Choice) Key() string {
	return choiceKeys[c]
}

func (c Choice) String() string {
	switch c {
	case ChoiceStage:
		return "stage this hunk"
	case ChoiceSkip:
		return "skip this hunk"
	case ChoiceSplit:
		return "split into smaller hunks"
	case ChoiceStageFile:
		return "stage this and the remaining hunks of the file"
	case ChoiceSkipFile:
		return "skip this and the remaining hunks of the file"
	case ChoiceAbort:
		return "quit, dropping the choices made for this file"
	default:
		return fmt.Sprintf("choice(%d)", int(c))
	}
}

// ParseChoice maps an answer key to a choice.
func ParseChoice(key string) (Choice, bool) {
	for c, k := range choiceKeys {
		if k == key {
			return c, true
		}
	}
	return 0, false
}

// Prompt is what the prompter shows for one hunk. Hunk is nil for a patch
// without content hunks (a pure rename or mode change), which is decided
// as a whole.
type Prompt struct {
	Action  string
	Patch   *diff.Patch
	Hunk    *diff.Hunk
	Index   int
	Total   int
	Choices []Choice
}

// Prompter shows a prompt and returns the user's answer. It is called
// synchronously and may block.
type Prompter interface {
	Choose(ctx context.Context, p Prompt) (Choice, error)
}

// CommitFunc applies the selected hunks of one file. It must be atomic for
// that file.
type CommitFunc func(ctx context.Context, patch *diff.Patch, hunks []*diff.Hunk) error

type Outcome int

const (
	Completed Outcome = iota
	Aborted
)

func (o Outcome) String() string {
	if o == Aborted {
		return "aborted"
	}
	return "completed"
}

type Report struct {
	Outcome Outcome
	// Files counts the files presented; Committed those with at least one
	// hunk handed to the CommitFunc.
	Files     int
	Committed []string
	Staged    int
	Skipped   int
	// Unreadable lists the files skipped because their content could not
	// be read.
	Unreadable []*diff.ContentError
}

// Controller runs the selection state machine. Action names the operation
// in prompts, e.g. "Stage" or "Discard".
type Controller struct {
	prompter Prompter
	action   string
}

func New(prompter Prompter, action string) *Controller {
	return &Controller{prompter: prompter, action: action}
}

// fileState is the in-flight selection for one patch.
type fileState struct {
	patch   *diff.Patch
	hunks   []*diff.Hunk
	pos     int
	staged  int
	skipped int
	whole   bool
}

// Run presents every hunk of every patch and commits each file's selection
// before moving on to the next file. Abort drops only the selection of the
// file being presented; cancellation of ctx is checked between hunks and
// reported as an aborted run together with the context error.
func (c *Controller) Run(ctx context.Context, patches iter.Seq2[*diff.Patch, error], commit CommitFunc) (Report, error) {
	var report Report
	for patch, err := range patches {
		if err != nil {
			var contentErr *diff.ContentError
			if errors.As(err, &contentErr) {
				slog.Warn("skipping unreadable file", slog.String("path", contentErr.Path), slog.Any("error", contentErr.Err))
				report.Unreadable = append(report.Unreadable, contentErr)
				continue
			}
			return report, err
		}
		report.Files++
		st := &fileState{patch: patch, hunks: slices.Clone(patch.Hunks)}
		for _, h := range st.hunks {
			h.Selected = false
		}
		done, err := c.present(ctx, st)
		if err != nil {
			report.Outcome = Aborted
			return report, err
		}
		if !done {
			slog.Debug("selection aborted", slog.String("path", patch.Path()))
			report.Outcome = Aborted
			return report, nil
		}
		if st.staged == 0 && !st.whole {
			report.Skipped += st.skipped
			continue
		}
		if err := commit(ctx, patch, st.hunks); err != nil {
			return report, fmt.Errorf("%s: %w", patch.Path(), err)
		}
		report.Committed = append(report.Committed, patch.Path())
		report.Staged += st.staged
		report.Skipped += st.skipped
	}
	return report, nil
}

// present loops in the Presenting state until every hunk of the file is
// decided. It returns false when the user aborted.
func (c *Controller) present(ctx context.Context, st *fileState) (bool, error) {
	if len(st.hunks) == 0 {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		choice, err := c.prompter.Choose(ctx, Prompt{
			Action:  c.action,
			Patch:   st.patch,
			Total:   1,
			Choices: []Choice{ChoiceStage, ChoiceSkip, ChoiceAbort},
		})
		if err != nil {
			return false, err
		}
		switch choice {
		case ChoiceAbort:
			return false, nil
		case ChoiceStage, ChoiceStageFile:
			st.whole = true
		default:
			st.skipped++
		}
		return true, nil
	}
	for st.pos < len(st.hunks) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		h := st.hunks[st.pos]
		choices := []Choice{ChoiceStage, ChoiceSkip}
		if diff.CanSplit(h) {
			choices = append(choices, ChoiceSplit)
		}
		choices = append(choices, ChoiceStageFile, ChoiceSkipFile, ChoiceAbort)
		choice, err := c.prompter.Choose(ctx, Prompt{
			Action:  c.action,
			Patch:   st.patch,
			Hunk:    h,
			Index:   st.pos,
			Total:   len(st.hunks),
			Choices: choices,
		})
		if err != nil {
			return false, err
		}
		switch choice {
		case ChoiceStage:
			h.Selected = true
			st.staged++
			st.pos++
		case ChoiceSkip:
			st.skipped++
			st.pos++
		case ChoiceSplit:
			if !diff.CanSplit(h) {
				continue
			}
			sub := diff.Split(h)
			st.hunks = slices.Replace(st.hunks, st.pos, st.pos+1, sub...)
		case ChoiceStageFile:
			for _, rest := range st.hunks[st.pos:] {
				rest.Selected = true
				st.staged++
			}
			st.pos = len(st.hunks)
		case ChoiceSkipFile:
			st.skipped += len(st.hunks) - st.pos
			st.pos = len(st.hunks)
		case ChoiceAbort:
			return false, nil
		default:
			return false, fmt.Errorf("unknown choice %d", int(choice))
		}
	}
	return true, nil
}
