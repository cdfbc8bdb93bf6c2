package ledger

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"narci/internal/security"
)

// ErrPrevHash is returned when a block does not link to the ledger tip.
var ErrPrevHash = errors.New("prevHash mismatch")

type Ledger struct {
	mu      sync.Mutex
	blocks  []*Block
	path    string
	agentID string
	key     *security.SecretKey
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithSigningKey signs every appended block.
func WithSigningKey(k security.SecretKey) Option {
	return func(l *Ledger) { l.key = &k }
}

// WithAgentID sets the agent recorded on new blocks.
func WithAgentID(id string) Option {
	return func(l *Ledger) { l.agentID = id }
}

// OpenLedger loads an existing ledger file. A missing file is an empty
// ledger; the file is created by the first append.
// Ledger file format: JSON lines (one JSON block per line).
func OpenLedger(path string, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		blocks:  make([]*Block, 0),
		path:    path,
		agentID: "local-agent",
	}
	for _, opt := range opts {
		opt(l)
	}
	if err := l.load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return l, nil
}

// ReadLedger loads a ledger for inspection. Unlike OpenLedger a missing
// file is an error.
func ReadLedger(path string) (*Ledger, error) {
	l := &Ledger{blocks: make([]*Block, 0), path: path}
	if err := l.load(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Ledger) load() error {
	f, err := os.Open(l.path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := json.NewDecoder(bufio.NewReader(f))
	for dec.More() {
		var blk Block
		if err := dec.Decode(&blk); err != nil {
			return fmt.Errorf("decode ledger entry %d: %w", len(l.blocks), err)
		}
		l.blocks = append(l.blocks, &blk)
	}
	return nil
}

// Record builds the next block for e, links it to the tip and appends it.
func (l *Ledger) Record(e Entry) (*Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	blk, err := NewBlock(len(l.blocks), e, l.lastHashLocked(), l.agentID)
	if err != nil {
		return nil, err
	}
	if err := l.appendLocked(blk); err != nil {
		return nil, err
	}
	return blk, nil
}

// Append appends a prebuilt block. Its PrevHash must match the current tip.
func (l *Ledger) Append(b *Block) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(b)
}

func (l *Ledger) appendLocked(b *Block) error {
	// recompute so the stored hash always matches the canonical fields
	h, err := b.ComputeHash()
	if err != nil {
		return fmt.Errorf("recompute block hash: %w", err)
	}
	b.Hash = h

	if tip := l.lastHashLocked(); b.PrevHash != tip {
		return fmt.Errorf("%w: expected %q, got %q", ErrPrevHash, tip, b.PrevHash)
	}

	if l.key != nil {
		b.Signature = l.key.Sign([]byte(b.Hash))
		b.PubKey = l.key.Public().String()
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(b); err != nil {
		return fmt.Errorf("write ledger file: %w", err)
	}

	l.blocks = append(l.blocks, b)
	return nil
}

// Blocks returns the blocks in order. The pointers are shared with the ledger.
func (l *Ledger) Blocks() []*Block {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Block, len(l.blocks))
	copy(out, l.blocks)
	return out
}

// NextIndex returns the next block index
func (l *Ledger) NextIndex() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.blocks)
}

// LastHash returns the last block hash (or empty if none)
func (l *Ledger) LastHash() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastHashLocked()
}

func (l *Ledger) lastHashLocked() string {
	if len(l.blocks) == 0 {
		return ""
	}
	return l.blocks[len(l.blocks)-1].Hash
}

// Path returns the backing file.
func (l *Ledger) Path() string { return l.path }
