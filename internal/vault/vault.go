// Package vault encrypts account credentials at rest using AES-256-GCM.
//
// Ciphertext is stored as iv:authTag:ciphertext with every component hex
// encoded. The key comes from an explicit hex value, a key file in the data
// directory, or is generated and persisted on first use.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	keyLength     = 32 // 256 bits
	ivLength      = 16
	authTagLength = 16
)

// Sentinel errors for data-integrity failures. Both indicate corrupt or
// tampered stored credentials and are never auto-corrected.
var (
	ErrBadFormat = errors.New("invalid encrypted data format")
	ErrAuthTag   = errors.New("ciphertext authentication failed")
)

// FormatError wraps ErrBadFormat with a description of what was malformed.
type FormatError struct {
	Detail string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid encrypted data format: %s", e.Detail)
}

func (e *FormatError) Unwrap() error { return ErrBadFormat }

// AuthTagError wraps ErrAuthTag. Any bit flip in the ciphertext or tag
// surfaces as this error rather than corrupted plaintext.
type AuthTagError struct {
	Cause error
}

func (e *AuthTagError) Error() string {
	return fmt.Sprintf("ciphertext authentication failed: %v", e.Cause)
}

func (e *AuthTagError) Unwrap() error { return ErrAuthTag }

// Vault performs authenticated encryption for credential storage.
type Vault struct {
	envKey  string // optional 64-char hex key, takes precedence
	keyFile string

	mu  sync.Mutex
	key []byte

	log zerolog.Logger
}

// New returns a vault backed by the given key file. envKey, when non-empty,
// overrides the file and must be 64 hex characters.
func New(envKey, keyFile string, log zerolog.Logger) *Vault {
	return &Vault{envKey: envKey, keyFile: keyFile, log: log}
}

// resolveKey applies the resolution order: explicit key, key file, generate.
func (v *Vault) resolveKey() ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.key != nil {
		return v.key, nil
	}

	if v.envKey != "" {
		if len(v.envKey) != keyLength*2 {
			return nil, fmt.Errorf("encryption key must be %d hex characters, got %d", keyLength*2, len(v.envKey))
		}
		key, err := hex.DecodeString(v.envKey)
		if err != nil {
			return nil, fmt.Errorf("decode encryption key: %w", err)
		}
		v.key = key
		return key, nil
	}

	if data, err := os.ReadFile(v.keyFile); err == nil {
		trimmed := strings.TrimSpace(string(data))
		if len(trimmed) != keyLength*2 {
			return nil, fmt.Errorf("invalid key file %s: expected %d hex chars, got %d", v.keyFile, keyLength*2, len(trimmed))
		}
		key, err := hex.DecodeString(trimmed)
		if err != nil {
			return nil, fmt.Errorf("decode key file: %w", err)
		}
		v.key = key
		return key, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	key := make([]byte, keyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	if err := os.WriteFile(v.keyFile, []byte(hex.EncodeToString(key)), 0o600); err != nil {
		return nil, fmt.Errorf("persist key file: %w", err)
	}
	v.log.Warn().
		Str("path", v.keyFile).
		Msg("no encryption key found, generated a new one; back it up — a lost key makes all stored credentials unrecoverable")

	v.key = key
	return key, nil
}

func (v *Vault) gcm() (cipher.AEAD, error) {
	key, err := v.resolveKey()
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, ivLength)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return aead, nil
}

// Encrypt seals plaintext and returns the iv:authTag:ciphertext hex triple.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	aead, err := v.gcm()
	if err != nil {
		return "", err
	}

	iv := make([]byte, ivLength)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	sealed := aead.Seal(nil, iv, []byte(plaintext), nil)
	ciphertext := sealed[:len(sealed)-authTagLength]
	tag := sealed[len(sealed)-authTagLength:]

	return fmt.Sprintf("%s:%s:%s",
		hex.EncodeToString(iv),
		hex.EncodeToString(tag),
		hex.EncodeToString(ciphertext),
	), nil
}

// Decrypt opens an iv:authTag:ciphertext triple. Malformed input returns a
// FormatError; tampered data returns an AuthTagError.
func (v *Vault) Decrypt(encrypted string) (string, error) {
	parts := strings.Split(encrypted, ":")
	if len(parts) != 3 {
		return "", &FormatError{Detail: "expected iv:authTag:ciphertext"}
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", &FormatError{Detail: "iv is not valid hex"}
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", &FormatError{Detail: "auth tag is not valid hex"}
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", &FormatError{Detail: "ciphertext is not valid hex"}
	}
	if len(iv) != ivLength {
		return "", &FormatError{Detail: fmt.Sprintf("iv length %d, expected %d", len(iv), ivLength)}
	}
	if len(tag) != authTagLength {
		return "", &FormatError{Detail: fmt.Sprintf("auth tag length %d, expected %d", len(tag), authTagLength)}
	}

	aead, err := v.gcm()
	if err != nil {
		return "", err
	}

	plaintext, err := aead.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		return "", &AuthTagError{Cause: err}
	}
	return string(plaintext), nil
}

// Verify round-trips a probe string through the vault. A false return means
// the configured key cannot be used.
func (v *Vault) Verify() bool {
	probe := fmt.Sprintf("nlmcp-verify-%d", time.Now().UnixNano())
	encrypted, err := v.Encrypt(probe)
	if err != nil {
		v.log.Error().Err(err).Msg("encryption verification failed")
		return false
	}
	decrypted, err := v.Decrypt(encrypted)
	if err != nil {
		v.log.Error().Err(err).Msg("encryption verification failed")
		return false
	}
	return decrypted == probe
}

// GenerateKey returns a fresh hex-encoded 256-bit key, for key rotation.
func GenerateKey() (string, error) {
	key := make([]byte, keyLength)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// MaskSensitive masks a value for logging, keeping the first and last two
// characters. Never use masked forms for identity comparison.
func MaskSensitive(value string) string {
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	return value[:2] + strings.Repeat("*", len(value)-4) + value[len(value)-2:]
}

// MaskEmail masks the local part of an email address, e.g. "t***t@gmail.com".
func MaskEmail(email string) string {
	at := strings.Index(email, "@")
	if at < 0 {
		return MaskSensitive(email)
	}
	name, domain := email[:at], email[at+1:]
	if len(name) <= 2 {
		return strings.Repeat("*", len(name)) + "@" + domain
	}
	return name[:1] + strings.Repeat("*", len(name)-2) + name[len(name)-1:] + "@" + domain
}
