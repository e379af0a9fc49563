// Package cmd is the gitp command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/thiagokokada/gitp/internal/git"
	"github.com/thiagokokada/gitp/internal/index"
	"github.com/thiagokokada/gitp/internal/signer"
	"github.com/thiagokokada/gitp/internal/syncer"
	"github.com/thiagokokada/gitp/internal/term"
)

const (
	ExitOK = iota
	ExitConflicts
	ExitAborted
	ExitError
)

// ExitCode maps the result of a command to the process status: conflicts
// left for the user are 1, an abort or interrupt is 2, any other error 3.
func ExitCode(err error, outcome syncer.Outcome) int {
	switch {
	case errors.Is(err, context.Canceled):
		return ExitAborted
	case errors.Is(err, syncer.ErrConflictsPresent), errors.Is(err, index.ErrUnresolvedConflicts):
		return ExitConflicts
	case err != nil:
		return ExitError
	case outcome == syncer.ConflictsPresent:
		return ExitConflicts
	case outcome == syncer.Aborted:
		return ExitAborted
	default:
		return ExitOK
	}
}

type options struct {
	dir     string
	verbose bool
	color   string
	theme   string
}

// app holds what the commands share. The repository is opened on first
// use so that commands like version work anywhere.
type app struct {
	opts   options
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	repo      *git.Repository
	settings  git.Settings
	index     *index.Manager
	transport syncer.Transport
	sync      *syncer.Orchestrator
	renderer  *term.Renderer
	prompter  *term.Prompter

	// outcome is the last sync-like result, for the exit status.
	outcome syncer.Outcome
	// newTransport is replaced in tests.
	newTransport func(*git.Repository) syncer.Transport
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		newTransport: func(r *git.Repository) syncer.Transport {
			return git.NewTransport(r)
		},
	}
}

// Run executes the command line and returns the process exit status.
func Run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a := newApp(os.Stdin, os.Stdout, os.Stderr)
	err := a.execute(ctx, os.Args[1:])
	if err != nil {
		fmt.Fprintf(a.stderr, "gitp: %v\n", err)
		if hint := hintFor(err); hint != "" {
			fmt.Fprintf(a.stderr, "hint: %s\n", hint)
		}
	}
	return ExitCode(err, a.outcome)
}

func hintFor(err error) string {
	switch {
	case errors.Is(err, git.ErrPushRejected):
		return "the remote has new commits; run gitp sync to integrate them first"
	case errors.Is(err, git.ErrNoUpstream):
		return "add a remote with git remote add origin <url>"
	case errors.Is(err, index.ErrIndexLocked):
		return "another git process is running; if not, remove .git/index.lock"
	case errors.Is(err, syncer.ErrDirtyWorktree):
		return "commit or stash your changes first (gitp commit -a, gitp stash)"
	case errors.Is(err, index.ErrUnresolvedConflicts):
		return "fix the conflicted files and run gitp resolve"
	}
	return ""
}

func (a *app) execute(ctx context.Context, args []string) error {
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	return root.ExecuteContext(ctx)
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "gitp",
		Short: "An opinionated git porcelain",
		Long: `gitp reworks everyday git operations: hunk-level staging, one-step
sync with the upstream branch, and automatic stashing on checkout.
Without a subcommand it prints the status.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.status(cmd.Context(), false)
		},
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&a.opts.dir, "dir", "C", ".", "run as if started in this directory")
	flags.BoolVarP(&a.opts.verbose, "verbose", "v", false, "enable verbose logging")
	flags.StringVar(&a.opts.color, "color", term.ColorAuto.String(), "color output: auto, always or never")
	flags.StringVar(&a.opts.theme, "theme", term.ThemeAuto.String(), "diff colors: auto, light or dark")

	root.AddCommand(
		a.statusCommand(),
		a.addCommand(),
		a.diffCommand(),
		a.commitCommand(),
		a.amendCommand(),
		a.branchCommand(),
		a.checkoutCommand(),
		a.resolveCommand(),
		a.cloneCommand(),
		a.fetchCommand(),
		a.pullCommand(),
		a.pushCommand(),
		a.syncCommand(),
		a.stashCommand(),
		a.unstashCommand(),
		a.listCommand(),
		a.versionCommand(),
	)
	return root
}

// setup configures logging and output colors from the global flags.
func (a *app) setup() error {
	level := slog.LevelWarn
	if a.opts.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: level})))

	mode, err := term.ParseColorMode(a.opts.color)
	if err != nil {
		return err
	}
	switch mode {
	case term.ColorAlways:
		color.NoColor = false
	case term.ColorNever:
		color.NoColor = true
	}
	a.renderer = term.NewRenderer(a.stdout, term.ThemePreferenceFromString(a.opts.theme), mode)
	a.prompter = term.NewPrompter(a.stdin, a.stdout, a.renderer)
	return nil
}

// open loads the repository, its settings and the collaborators built on
// them.
func (a *app) open() error {
	if a.repo != nil {
		return nil
	}
	repo, err := git.Open(a.opts.dir)
	if err != nil {
		return err
	}
	settings, err := repo.Settings()
	if err != nil {
		return err
	}
	var commitSigner git.Signer
	sign, err := signer.FromSettings(settings)
	switch {
	case err != nil:
		commitSigner = unavailableSigner{err: err}
	case sign != nil:
		commitSigner = sign
	}
	slog.Debug("repository opened",
		slog.String("path", repo.Path()),
		slog.Bool("signing", commitSigner != nil),
		slog.Int("contextLines", settings.ContextLines),
	)
	a.repo = repo
	a.settings = settings
	a.index = index.NewManager(repo, settings.IndexLockTimeout)
	a.transport = a.newTransport(repo)
	a.sync = syncer.New(repo, a.index, a.transport, commitSigner, settings)
	return nil
}

// unavailableSigner fails every signature so that commands not creating
// commits still work when mandatory signing is misconfigured.
type unavailableSigner struct {
	err error
}

func (s unavailableSigner) Sign(context.Context, []byte) ([]byte, error) {
	return nil, s.err
}

// report records a sync-like outcome for the exit status.
func (a *app) report(rep syncer.Report) {
	a.outcome = rep.Outcome
	term.WriteSyncReport(a.stdout, rep)
}
