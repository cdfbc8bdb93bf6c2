package ledger

import (
	"errors"
	"fmt"
	"os"

	"narci/internal/security"
	"narci/pkg/utils"
)

// ErrTampered is wrapped by every VerifyChain failure.
var ErrTampered = errors.New("ledger verification failed")

// VerifyChain re-computes each block hash and link to detect tampering.
// Signed blocks must carry a valid signature from their embedded key; when
// trusted keys are given, that key must also be one of them.
func (l *Ledger) VerifyChain(trusted ...security.PublicKey) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, b := range l.blocks {
		h, err := b.ComputeHash()
		if err != nil {
			return fmt.Errorf("compute hash for index %d: %w", b.Index, err)
		}
		if h != b.Hash {
			return fmt.Errorf("%w: hash mismatch at index %d", ErrTampered, b.Index)
		}

		if i > 0 && b.PrevHash != l.blocks[i-1].Hash {
			return fmt.Errorf("%w: prev hash mismatch at index %d", ErrTampered, b.Index)
		}
		if i == 0 && b.PrevHash != "" {
			return fmt.Errorf("%w: first block has a prev hash", ErrTampered)
		}
		if b.Index != i {
			return fmt.Errorf("%w: index mismatch: expected %d got %d", ErrTampered, i, b.Index)
		}

		if err := verifySignature(b, trusted); err != nil {
			return fmt.Errorf("%w: index %d: %w", ErrTampered, b.Index, err)
		}
	}
	return nil
}

// VerifyLogs re-hashes every log file a block points to. Blocks without a
// log path are skipped; a missing file is reported as an error.
func (l *Ledger) VerifyLogs() error {
	l.mu.Lock()
	blocks := make([]*Block, len(l.blocks))
	copy(blocks, l.blocks)
	l.mu.Unlock()

	var errs []error
	for _, b := range blocks {
		if b.LogPath == "" {
			continue
		}
		h, err := utils.HashFile(b.LogPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
			errs = append(errs, fmt.Errorf("index %d: log %s is missing", b.Index, b.LogPath))
		case err != nil:
			errs = append(errs, fmt.Errorf("index %d: %w", b.Index, err))
		case h != b.LogHash:
			errs = append(errs, fmt.Errorf("%w: index %d: log %s changed", ErrTampered, b.Index, b.LogPath))
		}
	}
	return errors.Join(errs...)
}

func verifySignature(b *Block, trusted []security.PublicKey) error {
	if b.Signature == "" {
		if len(trusted) > 0 {
			return errors.New("block is not signed")
		}
		return nil
	}
	pk, err := security.ParsePublicKey(b.PubKey)
	if err != nil {
		return err
	}
	if len(trusted) > 0 && !containsKey(trusted, pk) {
		return fmt.Errorf("signed by untrusted key %q", pk.Name)
	}
	ok, err := pk.Verify([]byte(b.Hash), b.Signature)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("bad signature")
	}
	return nil
}

func containsKey(keys []security.PublicKey, pk security.PublicKey) bool {
	for _, k := range keys {
		if k.String() == pk.String() {
			return true
		}
	}
	return false
}
