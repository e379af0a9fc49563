// Package signer signs commit payloads with SSH or OpenPGP keys as
// configured in git config.
package signer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/thiagokokada/gitp/internal/git"
)

var ErrSigningUnavailable = errors.New("commit signing unavailable")

// Signer produces an armored detached signature over a commit payload.
type Signer interface {
	Sign(ctx context.Context, payload []byte) ([]byte, error)
}

const (
	FormatSSH     = "ssh"
	FormatOpenPGP = "openpgp"
)

// FromSettings returns the signer described by the git config, or nil when
// commits should not be signed. With gitp.signing=auto a configured key is
// used when possible and an unusable one falls back to unsigned commits;
// with required every failure is an error.
func FromSettings(s git.Settings) (Signer, error) {
	if s.Signing == git.SigningOff {
		return nil, nil
	}
	required := s.Signing == git.SigningRequired
	if s.SigningKey == "" {
		if required {
			return nil, unavailable(required, errors.New("user.signingkey is not set"))
		}
		return nil, nil
	}
	var inner Signer
	switch format := detectFormat(s); format {
	case FormatSSH:
		inner = &SSHSigner{Key: s.SigningKey, Program: s.SSHProgram}
	case FormatOpenPGP:
		inner = &OpenPGPSigner{Key: s.SigningKey, Keyring: s.PGPKeyring}
	default:
		err := unavailable(required, fmt.Errorf("gpg.format %q is not supported", format))
		if required {
			return nil, err
		}
		slog.Warn("commits will not be signed", slog.Any("error", err))
		return nil, nil
	}
	if required {
		return &requiredSigner{inner: inner}, nil
	}
	return &fallbackSigner{inner: inner}, nil
}

func detectFormat(s git.Settings) string {
	if s.GPGFormat != "" {
		return s.GPGFormat
	}
	if looksLikeSSHKey(s.SigningKey) {
		return FormatSSH
	}
	return FormatOpenPGP
}

func looksLikeSSHKey(key string) bool {
	key = strings.TrimSpace(key)
	if strings.HasPrefix(key, "key::") || strings.HasPrefix(key, "ssh-") ||
		strings.HasPrefix(key, "ecdsa-") || strings.HasPrefix(key, "sk-") {
		return true
	}
	if strings.HasSuffix(key, ".pub") {
		return true
	}
	data, err := os.ReadFile(expandHome(key))
	if err != nil {
		return false
	}
	return strings.Contains(string(data), "OPENSSH PRIVATE KEY") || strings.HasPrefix(string(data), "ssh-")
}

const disableHint = "set gitp.signing=off or commit.gpgsign=false to commit unsigned"

func unavailable(required bool, err error) error {
	if required {
		return fmt.Errorf("%w: %w (%s)", ErrSigningUnavailable, err, disableHint)
	}
	return fmt.Errorf("%w: %w", ErrSigningUnavailable, err)
}

type requiredSigner struct {
	inner Signer
}

func (s *requiredSigner) Sign(ctx context.Context, payload []byte) ([]byte, error) {
	sig, err := s.inner.Sign(ctx, payload)
	if errors.Is(err, ErrSigningUnavailable) {
		return nil, fmt.Errorf("%w (%s)", err, disableHint)
	}
	return sig, err
}

// fallbackSigner returns an empty signature when the key cannot be used.
type fallbackSigner struct {
	inner Signer
}

func (s *fallbackSigner) Sign(ctx context.Context, payload []byte) ([]byte, error) {
	sig, err := s.inner.Sign(ctx, payload)
	if errors.Is(err, ErrSigningUnavailable) {
		slog.Warn("committing unsigned", slog.Any("error", err))
		return nil, nil
	}
	return sig, err
}

func expandHome(path string) string {
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return home + "/" + rest
		}
	}
	return path
}
