package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Block is a tamper-evident record for one finished job
type Block struct {
	Index     int    `json:"index"`
	Timestamp string `json:"timestamp"`
	RunID     string `json:"runId"`
	Job       string `json:"job"`
	Status    string `json:"status"`
	LogPath   string `json:"logPath"`
	LogHash   string `json:"logHash"`
	PrevHash  string `json:"prevHash"`
	Hash      string `json:"hash"`
	AgentID   string `json:"agentId"`
	Signature string `json:"signature,omitempty"`
	PubKey    string `json:"pubKey,omitempty"`
}

// canonicalData returns the JSON bytes used to compute the block hash.
// It excludes Hash, Signature and PubKey.
func (b *Block) canonicalData() ([]byte, error) {
	view := struct {
		Index     int    `json:"index"`
		Timestamp string `json:"timestamp"`
		RunID     string `json:"runId"`
		Job       string `json:"job"`
		Status    string `json:"status"`
		LogPath   string `json:"logPath"`
		LogHash   string `json:"logHash"`
		PrevHash  string `json:"prevHash"`
		AgentID   string `json:"agentId"`
	}{
		Index:     b.Index,
		Timestamp: b.Timestamp,
		RunID:     b.RunID,
		Job:       b.Job,
		Status:    b.Status,
		LogPath:   b.LogPath,
		LogHash:   b.LogHash,
		PrevHash:  b.PrevHash,
		AgentID:   b.AgentID,
	}
	return json.Marshal(view)
}

// ComputeHash calculates SHA256 over canonicalData
func (b *Block) ComputeHash() (string, error) {
	data, err := b.canonicalData()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Entry is what a caller knows about a job when it records it.
type Entry struct {
	RunID   string
	Job     string
	Status  string
	LogPath string
	LogHash string
}

// NewBlock constructs a block and computes its hash (no signature yet)
func NewBlock(index int, e Entry, prevHash, agentID string) (*Block, error) {
	blk := &Block{
		Index:     index,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		RunID:     e.RunID,
		Job:       e.Job,
		Status:    e.Status,
		LogPath:   e.LogPath,
		LogHash:   e.LogHash,
		PrevHash:  prevHash,
		AgentID:   agentID,
	}

	h, err := blk.ComputeHash()
	if err != nil {
		return nil, fmt.Errorf("compute block hash: %w", err)
	}
	blk.Hash = h
	return blk, nil
}
