// Package narinfo reads and writes the .narinfo files served by Nix binary
// caches, e.g. https://cache.nixos.org/xmxgxig6zxrixicc7905ssgb4yc3lysa.narinfo.
package narinfo

import (
	"fmt"
	"path"
	"strings"

	"narci/pkg/utils"
)

// HashLen is the length of the nix-base32 hash at the front of a store path name.
const HashLen = 32

// DefaultCompression applies when a narinfo has no Compression line.
const DefaultCompression = "bzip2"

// NarInfoID is the hash-name part of a store path,
// e.g. xmxgxig6zxrixicc7905ssgb4yc3lysa-bash-interactive-4.4-p23.
type NarInfoID string

// ParseNarInfoID checks the <hash>-<name> shape.
func ParseNarInfoID(s string) (NarInfoID, error) {
	if len(s) < HashLen+2 || s[HashLen] != '-' {
		return "", fmt.Errorf("%w: %q", ErrInvalidStorePath, s)
	}
	if !utils.IsNixBase32(s[:HashLen]) {
		return "", fmt.Errorf("%w: %q has a malformed hash", ErrInvalidStorePath, s)
	}
	if strings.ContainsAny(s, "/ ") {
		return "", fmt.Errorf("%w: %q", ErrInvalidStorePath, s)
	}
	return NarInfoID(s), nil
}

// Hash returns the 32 character hash part.
func (id NarInfoID) Hash() string { return string(id)[:HashLen] }

// Name returns the part after the hash.
func (id NarInfoID) Name() string { return string(id)[HashLen+1:] }

func (id NarInfoID) String() string { return string(id) }

// DerivationID is the hash-name part of a derivation's store path,
// e.g. a6xizp18g0sch9z7493p3irq632kzlym-bash-interactive-4.4-p23.drv.
type DerivationID string

// ParseDerivationID checks the <hash>-<name>.drv shape.
func ParseDerivationID(s string) (DerivationID, error) {
	if !strings.HasSuffix(s, ".drv") {
		return "", fmt.Errorf("%w: deriver %q does not end in .drv", ErrInvalidStorePath, s)
	}
	if _, err := ParseNarInfoID(s); err != nil {
		return "", err
	}
	return DerivationID(s), nil
}

func (id DerivationID) String() string { return string(id) }

// NarInfo is a parsed narinfo file.
type NarInfo struct {
	// StorePath is where the NAR unpacks to, e.g.
	// /nix/store/xmxgxig6zxrixicc7905ssgb4yc3lysa-bash-interactive-4.4-p23
	StorePath string `json:"storePath"`

	// URL of the NAR relative to the cache root, e.g. nar/<filehash>.nar.xz.
	URL string `json:"url"`

	Compression string `json:"compression"`

	// FileHash and FileSize describe the compressed NAR.
	FileHash string `json:"fileHash,omitempty"`
	FileSize uint64 `json:"fileSize,omitempty"`

	// NarHash and NarSize describe the decompressed NAR.
	NarHash string `json:"narHash"`
	NarSize uint64 `json:"narSize"`

	// References are the store paths this one depends on.
	References []NarInfoID `json:"references"`

	Deriver *DerivationID `json:"deriver,omitempty"`
	System  string        `json:"system,omitempty"`
	CA      string        `json:"ca,omitempty"`

	// Sigs sign the fingerprint, see Fingerprint.
	Sigs []string `json:"sigs,omitempty"`
}

// StoreDir returns the directory holding StorePath, usually /nix/store.
func (n *NarInfo) StoreDir() string {
	return path.Dir(n.StorePath)
}

// ID returns the hash-name part of StorePath.
func (n *NarInfo) ID() NarInfoID {
	return NarInfoID(path.Base(n.StorePath))
}

// ReferencePaths returns References as absolute store paths.
func (n *NarInfo) ReferencePaths() []string {
	dir := n.StoreDir()
	out := make([]string, len(n.References))
	for i, ref := range n.References {
		out[i] = dir + "/" + string(ref)
	}
	return out
}

// Fingerprint is the string Nix signs:
// 1;<store path>;<nar hash>;<nar size>;<comma separated reference paths>
func (n *NarInfo) Fingerprint() string {
	return fmt.Sprintf("1;%s;%s;%d;%s",
		n.StorePath, n.NarHash, n.NarSize, strings.Join(n.ReferencePaths(), ","))
}

// HashFromPath extracts the 32 character hash from a store path, a
// hash-name basename or a bare hash.
func HashFromPath(s string) (string, error) {
	base := path.Base(strings.TrimSuffix(s, ".narinfo"))
	if len(base) < HashLen || (len(base) > HashLen && base[HashLen] != '-') {
		return "", fmt.Errorf("%w: %q", ErrInvalidStorePath, s)
	}
	h := base[:HashLen]
	if !utils.IsNixBase32(h) {
		return "", fmt.Errorf("%w: %q has a malformed hash", ErrInvalidStorePath, s)
	}
	return h, nil
}
