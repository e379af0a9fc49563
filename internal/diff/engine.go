package diff

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"log/slog"
	"runtime"
	"slices"
	"strings"
)

const (
	DefaultContextLines    = 3
	DefaultRenameThreshold = 0.5

	// maxRenameCandidates bounds the quadratic similarity search per side.
	maxRenameCandidates = 1000
)

// Source is a tree-like view that can enumerate files and read their
// content: a commit tree, the index or the working copy.
type Source interface {
	Files(ctx context.Context) ([]File, error)
	Read(ctx context.Context, f File) ([]byte, error)
}

type Options struct {
	ContextLines    int
	RenameThreshold float64
	DetectRenames   bool
	Workers         int
	// Paths restricts the comparison to these files or directories.
	Paths []string
}

func DefaultOptions() Options {
	return Options{
		ContextLines:    DefaultContextLines,
		RenameThreshold: DefaultRenameThreshold,
		DetectRenames:   true,
		Workers:         runtime.GOMAXPROCS(0),
	}
}

type Engine struct {
	opts Options
}

func New(opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.ContextLines < 0 {
		opts.ContextLines = DefaultContextLines
	}
	if opts.RenameThreshold <= 0 || opts.RenameThreshold > 1 {
		opts.RenameThreshold = DefaultRenameThreshold
	}
	return &Engine{opts: opts}
}

func (e *Engine) Options() Options {
	return e.opts
}

type pair struct {
	from, to   File
	kind       ChangeKind
	similarity float64

	// content already read during rename detection
	fromData, toData []byte
	loaded           bool
}

func (p *pair) path() string {
	if p.to.Path != "" {
		return p.to.Path
	}
	return p.from.Path
}

type result struct {
	patch *Patch
	err   error
}

// Patches lazily yields one patch per changed file pair in path order.
// Each call recomputes from the sources. Unreadable files are yielded as
// *ContentError and iteration continues unless the consumer stops.
func (e *Engine) Patches(ctx context.Context, oldSrc, newSrc Source) iter.Seq2[*Patch, error] {
	return func(yield func(*Patch, error) bool) {
		pairs, err := e.pairs(ctx, oldSrc, newSrc)
		if err != nil {
			yield(nil, err)
			return
		}
		slog.Debug("diff pairs computed", slog.Int("pairs", len(pairs)))
		if len(pairs) == 0 {
			return
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		results := make([]chan result, len(pairs))
		for i := range results {
			results[i] = make(chan result, 1)
		}
		go func() {
			sem := make(chan struct{}, e.opts.Workers)
			for i, p := range pairs {
				select {
				case sem <- struct{}{}:
				case <-ctx.Done():
					return
				}
				go func() {
					defer func() { <-sem }()
					patch, err := e.compute(ctx, oldSrc, newSrc, p)
					results[i] <- result{patch: patch, err: err}
				}()
			}
		}()

		for i := range pairs {
			var r result
			select {
			case r = <-results[i]:
			case <-ctx.Done():
				yield(nil, ctx.Err())
				return
			}
			if r.err == nil && r.patch == nil {
				continue
			}
			if !yield(r.patch, r.err) {
				return
			}
		}
	}
}

// Collect drains a patch sequence, stopping at the first error.
func Collect(seq iter.Seq2[*Patch, error]) ([]*Patch, error) {
	var out []*Patch
	for p, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (e *Engine) compute(ctx context.Context, oldSrc, newSrc Source, p *pair) (*Patch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !p.loaded {
		var err error
		if p.from.Exists() {
			if p.fromData, err = oldSrc.Read(ctx, p.from); err != nil {
				return nil, &ContentError{Path: p.from.Path, Err: err}
			}
		}
		if p.to.Exists() {
			if p.toData, err = newSrc.Read(ctx, p.to); err != nil {
				return nil, &ContentError{Path: p.to.Path, Err: err}
			}
		}
	}
	oldPath, newPath := p.from.Path, p.to.Path
	if oldPath == "" {
		oldPath = newPath
	}
	if newPath == "" {
		newPath = oldPath
	}
	return &Patch{
		From:       p.from,
		To:         p.to,
		Kind:       p.kind,
		Similarity: p.similarity,
		Hunks:      Hunks(oldPath, newPath, p.fromData, p.toData, e.opts.ContextLines),
	}, nil
}

func (e *Engine) pairs(ctx context.Context, oldSrc, newSrc Source) ([]*pair, error) {
	oldFiles, err := oldSrc.Files(ctx)
	if err != nil {
		return nil, fmt.Errorf("list old files: %w", err)
	}
	newFiles, err := newSrc.Files(ctx)
	if err != nil {
		return nil, fmt.Errorf("list new files: %w", err)
	}
	oldByPath := make(map[string]File, len(oldFiles))
	for _, f := range oldFiles {
		if e.included(f.Path) {
			oldByPath[f.Path] = f
		}
	}
	var out []*pair
	var added, deleted []File
	seen := make(map[string]struct{}, len(newFiles))
	for _, f := range newFiles {
		if !e.included(f.Path) {
			continue
		}
		seen[f.Path] = struct{}{}
		prev, ok := oldByPath[f.Path]
		switch {
		case !ok:
			added = append(added, f)
		case prev.Hash != f.Hash || prev.Mode != f.Mode:
			out = append(out, &pair{from: prev, to: f, kind: Modified})
		}
	}
	for path, f := range oldByPath {
		if _, ok := seen[path]; !ok {
			deleted = append(deleted, f)
		}
	}
	sortFiles(added)
	sortFiles(deleted)

	if e.opts.DetectRenames && len(added) > 0 && len(deleted) > 0 {
		var renames []*pair
		renames, added, deleted = e.detectRenames(ctx, oldSrc, newSrc, added, deleted)
		out = append(out, renames...)
	}
	for _, f := range added {
		out = append(out, &pair{to: f, kind: Added})
	}
	for _, f := range deleted {
		out = append(out, &pair{from: f, kind: Deleted})
	}
	slices.SortFunc(out, func(a, b *pair) int {
		return strings.Compare(a.path(), b.path())
	})
	return out, ctx.Err()
}

func (e *Engine) included(path string) bool {
	if len(e.opts.Paths) == 0 {
		return true
	}
	for _, p := range e.opts.Paths {
		p = strings.TrimSuffix(p, "/")
		if p == "" || p == "." || path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

func sortFiles(files []File) {
	slices.SortFunc(files, func(a, b File) int {
		return strings.Compare(a.Path, b.Path)
	})
}

type renameCandidate struct {
	from, to int
	score    float64
}

// detectRenames pairs deleted and added files, first by identical content
// and then greedily by line similarity. It returns the rename pairs and the
// files left unpaired.
func (e *Engine) detectRenames(ctx context.Context, oldSrc, newSrc Source, added, deleted []File) ([]*pair, []File, []File) {
	var renames []*pair
	usedAdded := make([]bool, len(added))
	usedDeleted := make([]bool, len(deleted))

	byHash := make(map[string][]int, len(deleted))
	for i, f := range deleted {
		byHash[f.Hash.String()] = append(byHash[f.Hash.String()], i)
	}
	for i, f := range added {
		candidates := byHash[f.Hash.String()]
		if len(candidates) == 0 {
			continue
		}
		j := candidates[0]
		byHash[f.Hash.String()] = candidates[1:]
		usedAdded[i], usedDeleted[j] = true, true
		renames = append(renames, &pair{from: deleted[j], to: f, kind: Renamed, similarity: 1})
	}

	remainingAdded := unused(added, usedAdded)
	remainingDeleted := unused(deleted, usedDeleted)
	if len(remainingAdded) > 0 && len(remainingDeleted) > 0 &&
		len(remainingAdded) <= maxRenameCandidates && len(remainingDeleted) <= maxRenameCandidates {
		addedLines := readLines(ctx, newSrc, added, remainingAdded)
		deletedLines := readLines(ctx, oldSrc, deleted, remainingDeleted)
		var candidates []renameCandidate
		for _, di := range remainingDeleted {
			a, ok := deletedLines[di]
			if !ok {
				continue
			}
			for _, ai := range remainingAdded {
				b, ok := addedLines[ai]
				if !ok {
					continue
				}
				if score := similarity(a.lines, b.lines); score >= e.opts.RenameThreshold {
					candidates = append(candidates, renameCandidate{from: di, to: ai, score: score})
				}
			}
		}
		slices.SortStableFunc(candidates, func(x, y renameCandidate) int {
			if c := cmp.Compare(y.score, x.score); c != 0 {
				return c
			}
			if c := strings.Compare(deleted[x.from].Path, deleted[y.from].Path); c != 0 {
				return c
			}
			return strings.Compare(added[x.to].Path, added[y.to].Path)
		})
		for _, c := range candidates {
			if usedDeleted[c.from] || usedAdded[c.to] {
				continue
			}
			usedDeleted[c.from], usedAdded[c.to] = true, true
			renames = append(renames, &pair{
				from:       deleted[c.from],
				to:         added[c.to],
				kind:       Renamed,
				similarity: c.score,
				fromData:   deletedLines[c.from].data,
				toData:     addedLines[c.to].data,
				loaded:     true,
			})
		}
	}

	var restAdded, restDeleted []File
	for i, f := range added {
		if !usedAdded[i] {
			restAdded = append(restAdded, f)
		}
	}
	for i, f := range deleted {
		if !usedDeleted[i] {
			restDeleted = append(restDeleted, f)
		}
	}
	return renames, restAdded, restDeleted
}

func unused(files []File, used []bool) []int {
	var out []int
	for i := range files {
		if !used[i] {
			out = append(out, i)
		}
	}
	return out
}

type content struct {
	data  []byte
	lines []string
}

func readLines(ctx context.Context, src Source, files []File, idx []int) map[int]content {
	out := make(map[int]content, len(idx))
	for _, i := range idx {
		data, err := src.Read(ctx, files[i])
		if err != nil {
			slog.Debug("rename detection skips unreadable file",
				slog.String("path", files[i].Path),
				slog.Any("error", err),
			)
			continue
		}
		if IsBinary(data) {
			continue
		}
		out[i] = content{data: data, lines: SplitLines(data)}
	}
	return out
}

// similarity is the ratio of matching lines between two files.
func similarity(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	m := newMatcher(a, b)
	if m.RealQuickRatio() == 0 {
		return 0
	}
	return m.Ratio()
}
