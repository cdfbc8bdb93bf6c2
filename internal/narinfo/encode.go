package narinfo

import (
	"io"
	"strconv"
	"strings"
)

// String renders the narinfo in the key order Nix writes it.
func (n *NarInfo) String() string {
	var b strings.Builder
	line := func(key, value string) {
		b.WriteString(key)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteByte('\n')
	}

	line("StorePath", n.StorePath)
	line("URL", n.URL)
	line("Compression", n.Compression)
	if n.FileHash != "" {
		line("FileHash", n.FileHash)
	}
	if n.FileSize != 0 {
		line("FileSize", strconv.FormatUint(n.FileSize, 10))
	}
	line("NarHash", n.NarHash)
	line("NarSize", strconv.FormatUint(n.NarSize, 10))

	refs := make([]string, len(n.References))
	for i, r := range n.References {
		refs[i] = string(r)
	}
	line("References", strings.Join(refs, " "))

	if n.Deriver != nil {
		line("Deriver", string(*n.Deriver))
	}
	if n.System != "" {
		line("System", n.System)
	}
	for _, sig := range n.Sigs {
		line("Sig", sig)
	}
	if n.CA != "" {
		line("CA", n.CA)
	}
	return b.String()
}

// WriteTo implements io.WriterTo.
func (n *NarInfo) WriteTo(w io.Writer) (int64, error) {
	c, err := io.WriteString(w, n.String())
	return int64(c), err
}
