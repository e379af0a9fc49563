package signer

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	sshagent "github.com/xanzy/ssh-agent"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

const (
	sshsigMagic     = "SSHSIG"
	sshsigVersion   = 1
	sshsigNamespace = "git"
	sshsigHash      = "sha512"
	sshsigArmorLine = 70
)

// SSHSigner produces SSHSIG signatures in the format of `ssh-keygen -Y
// sign`. Key is user.signingkey: a private key file, a public key file
// whose private half is in ssh-agent, or a literal public key.
type SSHSigner struct {
	Key string
	// Program replaces the built-in signer, invoked like ssh-keygen.
	Program string

	// dialAgent connects to ssh-agent; nil uses SSH_AUTH_SOCK.
	dialAgent func() (agent.Agent, io.Closer, error)
}

func (s *SSHSigner) Sign(ctx context.Context, payload []byte) ([]byte, error) {
	if s.Program != "" {
		return s.signExternal(ctx, payload)
	}
	signer, err := s.resolve()
	if err != nil {
		return nil, err
	}
	return signSSHSIG(signer, payload)
}

func (s *SSHSigner) resolve() (ssh.Signer, error) {
	key := strings.TrimPrefix(strings.TrimSpace(s.Key), "key::")
	if pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(key)); err == nil {
		return s.fromAgent(pub)
	}
	data, err := os.ReadFile(expandHome(key))
	if err != nil {
		return nil, unavailable(false, fmt.Errorf("read signing key: %w", err))
	}
	if pub, _, _, _, err := ssh.ParseAuthorizedKey(data); err == nil {
		return s.fromAgent(pub)
	}
	signer, err := ssh.ParsePrivateKey(data)
	var missing *ssh.PassphraseMissingError
	switch {
	case err == nil:
		return signer, nil
	case errors.As(err, &missing) && missing.PublicKey != nil:
		slog.Debug("signing key is encrypted, trying ssh-agent")
		return s.fromAgent(missing.PublicKey)
	default:
		return nil, unavailable(false, fmt.Errorf("parse signing key: %w", err))
	}
}

func (s *SSHSigner) fromAgent(pub ssh.PublicKey) (ssh.Signer, error) {
	dial := s.dialAgent
	if dial == nil {
		dial = dialSystemAgent
	}
	ag, conn, err := dial()
	if err != nil {
		return nil, unavailable(false, fmt.Errorf("ssh-agent: %w", err))
	}
	signers, err := ag.Signers()
	if err != nil {
		closeAgent(conn)
		return nil, unavailable(false, fmt.Errorf("ssh-agent: %w", err))
	}
	want := pub.Marshal()
	for _, signer := range signers {
		// The signer talks to the agent over conn, which stays open for the
		// rest of the process.
		if bytes.Equal(signer.PublicKey().Marshal(), want) {
			return signer, nil
		}
	}
	closeAgent(conn)
	return nil, unavailable(false, fmt.Errorf("key %s is not loaded in ssh-agent", ssh.FingerprintSHA256(pub)))
}

func dialSystemAgent() (agent.Agent, io.Closer, error) {
	ag, conn, err := sshagent.New()
	if err != nil {
		return nil, nil, err
	}
	return ag, conn, nil
}

func closeAgent(c io.Closer) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		slog.Debug("close ssh-agent connection", slog.Any("error", err))
	}
}

// signExternal runs `<program> -Y sign -n git -f <key>` with the payload on
// stdin. A literal public key is written to a temporary file and marked as
// living in the agent with -U.
func (s *SSHSigner) signExternal(ctx context.Context, payload []byte) ([]byte, error) {
	key := strings.TrimSpace(s.Key)
	args := []string{"-Y", "sign", "-n", sshsigNamespace}
	if literal, ok := strings.CutPrefix(key, "key::"); ok || strings.HasPrefix(key, "ssh-") || strings.HasPrefix(key, "ecdsa-") {
		if !ok {
			literal = key
		}
		f, err := os.CreateTemp("", ".gitp-signing-key-*.pub")
		if err != nil {
			return nil, err
		}
		defer os.Remove(f.Name())
		if _, err := f.WriteString(literal + "\n"); err != nil {
			return nil, errors.Join(err, f.Close())
		}
		if err := f.Close(); err != nil {
			return nil, err
		}
		args = append(args, "-U", "-f", f.Name())
	} else {
		args = append(args, "-f", expandHome(key))
	}
	cmd := exec.CommandContext(ctx, s.Program, args...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	slog.Debug("running ssh signing program", slog.String("program", s.Program), slog.Any("args", args))
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) || errors.Is(err, exec.ErrNotFound) {
			return nil, unavailable(false, fmt.Errorf("%s: %w: %s", s.Program, err, strings.TrimSpace(stderr.String())))
		}
		return nil, err
	}
	sig := stdout.Bytes()
	if !bytes.Contains(sig, []byte("BEGIN SSH SIGNATURE")) {
		return nil, unavailable(false, fmt.Errorf("%s produced no signature", s.Program))
	}
	return sig, nil
}

type sshsigBlob struct {
	Version       uint32
	PublicKey     []byte
	Namespace     string
	Reserved      string
	HashAlgorithm string
	Signature     []byte
}

type sshsigSignedData struct {
	Namespace     string
	Reserved      string
	HashAlgorithm string
	Hash          []byte
}

func signSSHSIG(signer ssh.Signer, payload []byte) ([]byte, error) {
	digest := sha512.Sum512(payload)
	signed := append([]byte(sshsigMagic), ssh.Marshal(sshsigSignedData{
		Namespace:     sshsigNamespace,
		HashAlgorithm: sshsigHash,
		Hash:          digest[:],
	})...)
	var sig *ssh.Signature
	var err error
	if as, ok := signer.(ssh.AlgorithmSigner); ok && signer.PublicKey().Type() == ssh.KeyAlgoRSA {
		sig, err = as.SignWithAlgorithm(rand.Reader, signed, ssh.KeyAlgoRSASHA512)
	} else {
		sig, err = signer.Sign(rand.Reader, signed)
	}
	if err != nil {
		return nil, fmt.Errorf("ssh sign: %w", err)
	}
	blob := append([]byte(sshsigMagic), ssh.Marshal(sshsigBlob{
		Version:       sshsigVersion,
		PublicKey:     signer.PublicKey().Marshal(),
		Namespace:     sshsigNamespace,
		HashAlgorithm: sshsigHash,
		Signature:     ssh.Marshal(*sig),
	})...)
	return armorSSHSIG(blob), nil
}

func armorSSHSIG(blob []byte) []byte {
	encoded := base64.StdEncoding.EncodeToString(blob)
	var b strings.Builder
	b.WriteString("-----BEGIN SSH SIGNATURE-----\n")
	for len(encoded) > sshsigArmorLine {
		b.WriteString(encoded[:sshsigArmorLine])
		b.WriteByte('\n')
		encoded = encoded[sshsigArmorLine:]
	}
	b.WriteString(encoded)
	b.WriteString("\n-----END SSH SIGNATURE-----\n")
	return []byte(b.String())
}
