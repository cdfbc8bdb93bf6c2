package narinfo

import (
	"bufio"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
)

// unknown-deriver is what Nix writes when the deriver was not recorded.
const unknownDeriver = "unknown-deriver"

// maxLineSize bounds one line; References lists can run well past 64 KiB.
const maxLineSize = 1 << 20

func newScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineSize)
	return sc
}

// ParseString parses a narinfo document held in memory.
func ParseString(s string) (*NarInfo, error) {
	return Parse(strings.NewReader(s))
}

// Parse reads `Key: Value` lines. Unknown keys are ignored so newer cache
// fields do not break older readers; Sig may repeat, other keys may not.
func Parse(r io.Reader) (*NarInfo, error) {
	n := &NarInfo{}
	seen := make(map[string]int)

	sc := newScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, &ParseError{Line: lineNo, Err: ErrNoColon}
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if key != "Sig" {
			if prev, dup := seen[key]; dup {
				return nil, &ParseError{Line: lineNo, Key: key, Err: fmt.Errorf("%w (first on line %d)", ErrDuplicateKey, prev)}
			}
		}
		seen[key] = lineNo

		if err := n.set(key, value); err != nil {
			return nil, &ParseError{Line: lineNo, Key: key, Err: err}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, &ParseError{Line: lineNo + 1, Err: err}
	}

	for _, key := range []string{"StorePath", "URL", "NarHash", "NarSize"} {
		if _, ok := seen[key]; !ok {
			return nil, &ParseError{Key: key, Err: ErrMissingField}
		}
	}
	if n.Compression == "" {
		n.Compression = DefaultCompression
	}
	return n, nil
}

func (n *NarInfo) set(key, value string) error {
	switch key {
	case "StorePath":
		if !path.IsAbs(value) {
			return fmt.Errorf("%w: %q is not absolute", ErrInvalidStorePath, value)
		}
		if _, err := ParseNarInfoID(path.Base(value)); err != nil {
			return err
		}
		n.StorePath = value
	case "URL":
		if value == "" {
			return fmt.Errorf("%w: empty URL", ErrMissingField)
		}
		n.URL = value
	case "Compression":
		n.Compression = value
	case "FileHash":
		if err := checkHash(value); err != nil {
			return err
		}
		n.FileHash = value
	case "FileSize":
		v, err := parseSize(value)
		if err != nil {
			return err
		}
		n.FileSize = v
	case "NarHash":
		if err := checkHash(value); err != nil {
			return err
		}
		n.NarHash = value
	case "NarSize":
		v, err := parseSize(value)
		if err != nil {
			return err
		}
		n.NarSize = v
	case "References":
		refs := strings.Fields(value)
		n.References = make([]NarInfoID, 0, len(refs))
		for _, ref := range refs {
			id, err := ParseNarInfoID(ref)
			if err != nil {
				return err
			}
			n.References = append(n.References, id)
		}
	case "Deriver":
		if value == "" || value == unknownDeriver {
			return nil
		}
		d, err := ParseDerivationID(value)
		if err != nil {
			return err
		}
		n.Deriver = &d
	case "System":
		n.System = value
	case "CA":
		n.CA = value
	case "Sig":
		if value != "" {
			n.Sigs = append(n.Sigs, value)
		}
	}
	return nil
}

func parseSize(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidInteger, s)
	}
	return v, nil
}

// checkHash accepts <algo>:<digest>, e.g. sha256:1b4sb93wp679q4zx9k1ignby1yna3z7c4c2ri3wphylbc2dwsys0.
func checkHash(s string) error {
	algo, digest, ok := strings.Cut(s, ":")
	if !ok || digest == "" {
		return fmt.Errorf("%w: %q", ErrInvalidHash, s)
	}
	switch algo {
	case "md5", "sha1", "sha256", "sha512":
		return nil
	}
	return fmt.Errorf("%w: unknown algorithm %q", ErrInvalidHash, algo)
}
