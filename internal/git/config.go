package git

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	formatcfg "github.com/go-git/go-git/v5/plumbing/format/config"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	DefaultRemote           = "origin"
	DefaultIndexLockTimeout = 2 * time.Second

	SigningAuto     = "auto"
	SigningRequired = "required"
	SigningOff      = "off"
)

// Settings are the git config values the tool reads, with defaults applied.
type Settings struct {
	UserName   string
	UserEmail  string
	SigningKey string
	// GPGFormat is "ssh" or "openpgp"; empty means guess from SigningKey.
	GPGFormat  string
	SSHProgram string
	// PGPKeyring is an armored secret keyring searched for SigningKey when
	// SigningKey is a key id rather than a key file.
	PGPKeyring       string
	Signing          string
	AutoSetupRemote  bool
	PullRebase       bool
	ContextLines     int
	RenameThreshold  float64
	IndexLockTimeout time.Duration
}

// Settings loads and caches the merged local, global and system config.
func (r *Repository) Settings() (Settings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settings != nil {
		return *r.settings, nil
	}
	cfg, err := r.repo.ConfigScoped(config.GlobalScope)
	if err != nil {
		return Settings{}, fmt.Errorf("read config: %w", err)
	}
	s := parseSettings(cfg.Raw)
	if s.UserName == "" {
		s.UserName = cfg.User.Name
	}
	if s.UserEmail == "" {
		s.UserEmail = cfg.User.Email
	}
	r.settings = &s
	return s, nil
}

func parseSettings(raw *formatcfg.Config) Settings {
	user := raw.Section("user")
	gpg := raw.Section("gpg")
	tool := raw.Section("gitp")
	s := Settings{
		UserName:         user.Option("name"),
		UserEmail:        user.Option("email"),
		SigningKey:       user.Option("signingkey"),
		GPGFormat:        strings.ToLower(gpg.Option("format")),
		SSHProgram:       gpg.Subsection("ssh").Option("program"),
		PGPKeyring:       tool.Option("pgpKeyring"),
		Signing:          SigningAuto,
		AutoSetupRemote:  parseBool(raw.Section("push").Option("autoSetupRemote"), false),
		PullRebase:       parseBool(raw.Section("pull").Option("rebase"), false),
		ContextLines:     3,
		RenameThreshold:  0.5,
		IndexLockTimeout: DefaultIndexLockTimeout,
	}
	if parseBool(raw.Section("commit").Option("gpgsign"), false) {
		s.Signing = SigningRequired
	}
	switch v := strings.ToLower(tool.Option("signing")); v {
	case SigningAuto, SigningRequired, SigningOff:
		s.Signing = v
	case "":
	default:
		slog.Warn("ignoring invalid gitp.signing", slog.String("value", v))
	}
	if v := tool.Option("contextLines"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			s.ContextLines = n
		} else {
			slog.Warn("ignoring invalid gitp.contextLines", slog.String("value", v))
		}
	}
	if v := tool.Option("renameThreshold"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSuffix(v, "%")); err == nil && n > 0 && n <= 100 {
			s.RenameThreshold = float64(n) / 100
		} else {
			slog.Warn("ignoring invalid gitp.renameThreshold", slog.String("value", v))
		}
	}
	if v := tool.Option("indexLockTimeout"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			s.IndexLockTimeout = d
		} else {
			slog.Warn("ignoring invalid gitp.indexLockTimeout", slog.String("value", v))
		}
	}
	return s
}

func parseBool(v string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "yes", "on", "1":
		return true
	case "false", "no", "off", "0":
		return false
	default:
		return def
	}
}

// Signature returns the configured identity stamped with now.
func (s Settings) Signature(now time.Time) (object.Signature, error) {
	if s.UserName == "" || s.UserEmail == "" {
		return object.Signature{}, fmt.Errorf("user.name and user.email must be configured")
	}
	return object.Signature{Name: s.UserName, Email: s.UserEmail, When: now}, nil
}

// Upstream returns the remote and remote branch a local branch tracks.
// Without branch config it falls back to the same branch name on origin.
func (r *Repository) Upstream(branch string) (remote, remoteBranch string, err error) {
	cfg, err := r.repo.Config()
	if err != nil {
		return "", "", fmt.Errorf("read config: %w", err)
	}
	if b, ok := cfg.Branches[branch]; ok && b.Remote != "" && b.Merge != "" {
		return b.Remote, b.Merge.Short(), nil
	}
	if _, ok := cfg.Remotes[DefaultRemote]; ok {
		return DefaultRemote, branch, nil
	}
	if len(cfg.Remotes) == 1 {
		for name := range cfg.Remotes {
			return name, branch, nil
		}
	}
	return "", "", fmt.Errorf("branch %s: %w", branch, ErrNoUpstream)
}

// HasUpstreamConfig reports whether branch.<name>.remote is set.
func (r *Repository) HasUpstreamConfig(branch string) bool {
	cfg, err := r.repo.Config()
	if err != nil {
		return false
	}
	b, ok := cfg.Branches[branch]
	return ok && b.Remote != ""
}

// SetUpstream records branch.<name>.remote and merge.
func (r *Repository) SetUpstream(branch, remote, remoteBranch string) error {
	cfg, err := r.repo.Config()
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	cfg.Branches[branch] = &config.Branch{
		Name:   branch,
		Remote: remote,
		Merge:  plumbing.NewBranchReferenceName(remoteBranch),
	}
	if err := r.repo.Storer.SetConfig(cfg); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Remotes lists configured remote names.
func (r *Repository) Remotes() ([]string, error) {
	cfg, err := r.repo.Config()
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	names := make([]string, 0, len(cfg.Remotes))
	for name := range cfg.Remotes {
		names = append(names, name)
	}
	return names, nil
}
