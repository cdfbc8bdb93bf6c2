package security

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	ErrKeyFormat   = errors.New("key must be <name>:<base64>")
	ErrKeySize     = errors.New("invalid key size")
	ErrSigFormat   = errors.New("signature must be <name>:<base64>")
	ErrKeyMismatch = errors.New("signature was made by a different key")
)

// SecretKey is a named Ed25519 private key, written as "name:base64" the way
// `nix-store --generate-binary-cache-key` does.
type SecretKey struct {
	Name string
	Key  ed25519.PrivateKey
}

// PublicKey is the named public half of a SecretKey.
type PublicKey struct {
	Name string
	Key  ed25519.PublicKey
}

func (k SecretKey) String() string {
	return k.Name + ":" + base64.StdEncoding.EncodeToString(k.Key)
}

func (k PublicKey) String() string {
	return k.Name + ":" + base64.StdEncoding.EncodeToString(k.Key)
}

// Public derives the public key.
func (k SecretKey) Public() PublicKey {
	return PublicKey{Name: k.Name, Key: k.Key.Public().(ed25519.PublicKey)}
}

// GenerateKeyPair creates a new named Ed25519 key pair
func GenerateKeyPair(name string) (SecretKey, PublicKey, error) {
	if name == "" || strings.Contains(name, ":") {
		return SecretKey{}, PublicKey{}, fmt.Errorf("invalid key name %q", name)
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return SecretKey{}, PublicKey{}, err
	}
	return SecretKey{Name: name, Key: priv}, PublicKey{Name: name, Key: pub}, nil
}

// ParseSecretKey parses "name:base64(private key)".
func ParseSecretKey(s string) (SecretKey, error) {
	name, raw, err := splitNamed(s, ErrKeyFormat)
	if err != nil {
		return SecretKey{}, err
	}
	if len(raw) != ed25519.PrivateKeySize {
		return SecretKey{}, fmt.Errorf("%w: secret key %q has %d bytes", ErrKeySize, name, len(raw))
	}
	return SecretKey{Name: name, Key: ed25519.PrivateKey(raw)}, nil
}

// ParsePublicKey parses "name:base64(public key)".
func ParsePublicKey(s string) (PublicKey, error) {
	name, raw, err := splitNamed(s, ErrKeyFormat)
	if err != nil {
		return PublicKey{}, err
	}
	if len(raw) != ed25519.PublicKeySize {
		return PublicKey{}, fmt.Errorf("%w: public key %q has %d bytes", ErrKeySize, name, len(raw))
	}
	return PublicKey{Name: name, Key: ed25519.PublicKey(raw)}, nil
}

// SaveKeyPair writes both keys in text form. The secret key file is 0600.
func SaveKeyPair(sk SecretKey, pk PublicKey, secretPath, publicPath string) error {
	if err := os.WriteFile(secretPath, []byte(sk.String()+"\n"), 0o600); err != nil {
		return err
	}
	return os.WriteFile(publicPath, []byte(pk.String()+"\n"), 0o644)
}

// LoadSecretKey loads a secret key file
func LoadSecretKey(path string) (SecretKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SecretKey{}, err
	}
	return ParseSecretKey(strings.TrimSpace(string(data)))
}

// LoadPublicKey loads a public key file
func LoadPublicKey(path string) (PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PublicKey{}, err
	}
	return ParsePublicKey(strings.TrimSpace(string(data)))
}

// Sign signs data and returns "name:base64(signature)".
func (k SecretKey) Sign(data []byte) string {
	sig := ed25519.Sign(k.Key, data)
	return k.Name + ":" + base64.StdEncoding.EncodeToString(sig)
}

// Verify checks a "name:base64(signature)" against data. A signature made under
// another key name returns ErrKeyMismatch so callers can try the next key.
func (k PublicKey) Verify(data []byte, sig string) (bool, error) {
	name, raw, err := splitNamed(sig, ErrSigFormat)
	if err != nil {
		return false, err
	}
	if name != k.Name {
		return false, ErrKeyMismatch
	}
	if len(raw) != ed25519.SignatureSize {
		return false, fmt.Errorf("%w: signature has %d bytes", ErrSigFormat, len(raw))
	}
	return ed25519.Verify(k.Key, data, raw), nil
}

func splitNamed(s string, formatErr error) (string, []byte, error) {
	name, b64, ok := strings.Cut(s, ":")
	if !ok || name == "" || b64 == "" {
		return "", nil, formatErr
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", formatErr, err)
	}
	return name, raw, nil
}
