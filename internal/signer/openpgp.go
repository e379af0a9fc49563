package signer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
)

// OpenPGPSigner makes armored detached signatures with a secret key read
// from an armored keyring. Key is either the keyring file itself or a key
// id (long or short, hex) looked up in Keyring.
type OpenPGPSigner struct {
	Key     string
	Keyring string
}

func (s *OpenPGPSigner) Sign(ctx context.Context, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entity, err := s.entity()
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := openpgp.ArmoredDetachSign(&out, entity, bytes.NewReader(payload), nil); err != nil {
		return nil, fmt.Errorf("openpgp sign: %w", err)
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

func (s *OpenPGPSigner) entity() (*openpgp.Entity, error) {
	path, keyID := expandHome(s.Key), ""
	if _, err := os.Stat(path); err != nil {
		if s.Keyring == "" {
			return nil, unavailable(false, fmt.Errorf("signing key %q is not a file and gitp.pgpKeyring is not set", s.Key))
		}
		path, keyID = expandHome(s.Keyring), normalizeKeyID(s.Key)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, unavailable(false, fmt.Errorf("open keyring: %w", err))
	}
	defer f.Close()
	entities, err := openpgp.ReadArmoredKeyRing(f)
	if err != nil {
		return nil, unavailable(false, fmt.Errorf("read keyring %s: %w", path, err))
	}
	now := time.Now()
	for _, e := range entities {
		if e.PrivateKey == nil {
			continue
		}
		if keyID != "" && !strings.HasSuffix(e.PrimaryKey.KeyIdString(), keyID) &&
			!strings.HasSuffix(fmt.Sprintf("%X", e.PrimaryKey.Fingerprint), keyID) {
			continue
		}
		if e.PrivateKey.Encrypted {
			return nil, unavailable(false, fmt.Errorf("key %s is passphrase protected", e.PrimaryKey.KeyIdShortString()))
		}
		if _, ok := e.SigningKey(now); !ok {
			continue
		}
		return e, nil
	}
	return nil, unavailable(false, fmt.Errorf("no usable secret key for %q in %s", s.Key, path))
}

func normalizeKeyID(id string) string {
	id = strings.ToUpper(strings.TrimSpace(id))
	id = strings.TrimPrefix(id, "0X")
	return strings.TrimSuffix(id, "!")
}
