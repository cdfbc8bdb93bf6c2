package narinfo

import (
	"errors"
	"fmt"
)

var (
	ErrNoColon          = errors.New("line has no colon")
	ErrInvalidInteger   = errors.New("invalid integer")
	ErrDuplicateKey     = errors.New("duplicate key")
	ErrMissingField     = errors.New("missing required field")
	ErrInvalidStorePath = errors.New("invalid store path")
	ErrInvalidHash      = errors.New("invalid hash")
)

// ParseError locates a problem in a narinfo document.
type ParseError struct {
	Line int    // 1-based; 0 when the problem is not tied to one line
	Key  string // offending key, if known
	Err  error
}

func (e *ParseError) Error() string {
	switch {
	case e.Line > 0 && e.Key != "":
		return fmt.Sprintf("narinfo line %d (%s): %v", e.Line, e.Key, e.Err)
	case e.Line > 0:
		return fmt.Sprintf("narinfo line %d: %v", e.Line, e.Err)
	case e.Key != "":
		return fmt.Sprintf("narinfo %s: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("narinfo: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
