package narinfo

import (
	"errors"

	"narci/internal/security"
)

// Sign appends a signature over the fingerprint. An existing signature from
// the same key name is replaced.
func (n *NarInfo) Sign(key security.SecretKey) {
	sig := key.Sign([]byte(n.Fingerprint()))
	prefix := key.Name + ":"
	kept := n.Sigs[:0]
	for _, s := range n.Sigs {
		if len(s) < len(prefix) || s[:len(prefix)] != prefix {
			kept = append(kept, s)
		}
	}
	n.Sigs = append(kept, sig)
}

// Verify reports whether at least one signature validates against a trusted key.
func (n *NarInfo) Verify(trusted []security.PublicKey) bool {
	_, ok := n.VerifiedBy(trusted)
	return ok
}

// VerifiedBy returns the name of the first trusted key with a valid signature.
func (n *NarInfo) VerifiedBy(trusted []security.PublicKey) (string, bool) {
	fp := []byte(n.Fingerprint())
	for _, sig := range n.Sigs {
		for _, k := range trusted {
			ok, err := k.Verify(fp, sig)
			if errors.Is(err, security.ErrKeyMismatch) {
				continue
			}
			if err == nil && ok {
				return k.Name, true
			}
		}
	}
	return "", false
}
