package crypto

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/fernet/fernet-go"
	"github.com/gluk-w/wellgate/internal/database"
)

const cookieKeySetting = "cookie_key"

// ErrInvalidToken means a sealed value failed verification or has expired.
var ErrInvalidToken = errors.New("invalid or expired token")

// LoadKey resolves the cookie key: the configured value when set, otherwise
// the key persisted in the database, otherwise a newly generated one. A
// generated key is persisted when the database is available.
func LoadKey(configured string) (*fernet.Key, error) {
	if configured != "" {
		key, err := fernet.DecodeKey(configured)
		if err != nil {
			return nil, fmt.Errorf("decode cookie key: %w", err)
		}
		return key, nil
	}

	if database.DB != nil {
		if keyStr, err := database.GetSetting(cookieKeySetting); err == nil {
			key, err := fernet.DecodeKey(keyStr)
			if err != nil {
				return nil, fmt.Errorf("decode stored cookie key: %w", err)
			}
			return key, nil
		}
	}

	var k fernet.Key
	if err := k.Generate(); err != nil {
		return nil, fmt.Errorf("generate cookie key: %w", err)
	}
	if database.DB == nil {
		log.Printf("[crypto] no database, using an ephemeral cookie key")
		return &k, nil
	}
	if err := database.SetSetting(cookieKeySetting, k.Encode()); err != nil {
		return nil, fmt.Errorf("save cookie key: %w", err)
	}
	return &k, nil
}

// Sealer encrypts and authenticates short values, such as session ids, for
// storage in a client cookie.
type Sealer struct {
	keys   []*fernet.Key
	maxAge time.Duration
}

// NewSealer returns a Sealer that rejects tokens older than maxAge. A zero
// maxAge accepts tokens of any age.
func NewSealer(key *fernet.Key, maxAge time.Duration) *Sealer {
	return &Sealer{keys: []*fernet.Key{key}, maxAge: maxAge}
}

func (s *Sealer) Seal(value string) (string, error) {
	tok, err := fernet.EncryptAndSign([]byte(value), s.keys[0])
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	return string(tok), nil
}

func (s *Sealer) Open(token string) (string, error) {
	if s == nil || token == "" {
		return "", ErrInvalidToken
	}
	msg := fernet.VerifyAndDecrypt([]byte(token), s.maxAge, s.keys)
	if msg == nil {
		return "", ErrInvalidToken
	}
	return string(msg), nil
}
