package signer

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
)

func newPGPKeyring(t *testing.T, passphrase string) (*openpgp.Entity, string) {
	t.Helper()
	entity, err := openpgp.NewEntity("Test User", "", "test@example.com", &packet.Config{Algorithm: packet.PubKeyAlgoEdDSA})
	if err != nil {
		t.Fatalf("new entity: %v", err)
	}
	if passphrase != "" {
		if err := entity.EncryptPrivateKeys([]byte(passphrase), nil); err != nil {
			t.Fatalf("encrypt: %v", err)
		}
	}
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PrivateKeyType, nil)
	if err != nil {
		t.Fatalf("armor: %v", err)
	}
	if err := entity.SerializePrivateWithoutSigning(w, nil); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close armor: %v", err)
	}
	path := filepath.Join(t.TempDir(), "secring.asc")
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("write keyring: %v", err)
	}
	return entity, path
}

func TestOpenPGPSigner(t *testing.T) {
	t.Parallel()

	entity, keyring := newPGPKeyring(t, "")
	payload := []byte("tree 4b825dc642cb6eb9a060e54bf8d69288fbee4904\n\nsigned\n")

	tests := []struct {
		name    string
		signer  *OpenPGPSigner
		wantErr bool
	}{
		{name: "key file", signer: &OpenPGPSigner{Key: keyring}},
		{name: "long key id", signer: &OpenPGPSigner{Key: entity.PrimaryKey.KeyIdString(), Keyring: keyring}},
		{name: "short key id", signer: &OpenPGPSigner{Key: "0x" + entity.PrimaryKey.KeyIdShortString(), Keyring: keyring}},
		{name: "unknown key id", signer: &OpenPGPSigner{Key: "DEADBEEF", Keyring: keyring}, wantErr: true},
		{name: "no keyring", signer: &OpenPGPSigner{Key: "DEADBEEF"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sig, err := tt.signer.Sign(context.Background(), payload)
			if tt.wantErr {
				if !errors.Is(err, ErrSigningUnavailable) {
					t.Fatalf("Sign err = %v, want ErrSigningUnavailable", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Sign: %v", err)
			}
			if !bytes.HasPrefix(sig, []byte("-----BEGIN PGP SIGNATURE-----")) {
				t.Fatalf("signature = %q", sig)
			}
			signer, err := openpgp.CheckArmoredDetachedSignature(openpgp.EntityList{entity}, bytes.NewReader(payload), bytes.NewReader(sig), nil)
			if err != nil {
				t.Fatalf("verify: %v", err)
			}
			if signer.PrimaryKey.KeyId != entity.PrimaryKey.KeyId {
				t.Fatalf("signed by %s", signer.PrimaryKey.KeyIdString())
			}
		})
	}
}

func TestOpenPGPSignerEncryptedKey(t *testing.T) {
	t.Parallel()

	_, keyring := newPGPKeyring(t, "hunter2")
	s := &OpenPGPSigner{Key: keyring}
	if _, err := s.Sign(context.Background(), []byte("x")); !errors.Is(err, ErrSigningUnavailable) {
		t.Fatalf("Sign err = %v", err)
	}
}
