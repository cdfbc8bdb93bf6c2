package narinfo

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// CacheInfo is the /nix-cache-info document at the root of a binary cache.
type CacheInfo struct {
	StoreDir      string `json:"storeDir"`
	WantMassQuery bool   `json:"wantMassQuery"`
	Priority      int    `json:"priority"`
}

// ParseCacheInfo reads nix-cache-info. StoreDir defaults to /nix/store and
// Priority to 50, matching Nix.
func ParseCacheInfo(r io.Reader) (*CacheInfo, error) {
	ci := &CacheInfo{StoreDir: "/nix/store", Priority: 50}
	sc := newScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, &ParseError{Line: lineNo, Err: ErrNoColon}
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		switch key {
		case "StoreDir":
			ci.StoreDir = value
		case "WantMassQuery":
			ci.WantMassQuery = value == "1"
		case "Priority":
			p, err := strconv.Atoi(value)
			if err != nil {
				return nil, &ParseError{Line: lineNo, Key: key, Err: fmt.Errorf("%w: %q", ErrInvalidInteger, value)}
			}
			ci.Priority = p
		}
	}
	if err := sc.Err(); err != nil {
		return nil, &ParseError{Line: lineNo + 1, Err: err}
	}
	return ci, nil
}
