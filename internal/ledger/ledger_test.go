package ledger

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"narci/internal/security"
	"narci/pkg/utils"
)

// helper to create a dummy log file for hashing
func createTempLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "log.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp log: %v", err)
	}
	return path
}

func entryFor(t *testing.T, job, output string) Entry {
	t.Helper()
	logPath := createTempLog(t, output)
	h, err := utils.HashFile(logPath)
	if err != nil {
		t.Fatalf("failed to hash log: %v", err)
	}
	return Entry{RunID: "run-1", Job: job, Status: "success", LogPath: logPath, LogHash: h}
}

func openTemp(t *testing.T, opts ...Option) (*Ledger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	l, err := OpenLedger(path, opts...)
	if err != nil {
		t.Fatalf("failed to open ledger: %v", err)
	}
	return l, path
}

func TestNewBlockAndHash(t *testing.T) {
	block, err := NewBlock(0, entryFor(t, "Spelling", "no typos"), "", "test-agent")
	if err != nil {
		t.Fatalf("failed to create block: %v", err)
	}

	h, err := block.ComputeHash()
	if err != nil {
		t.Fatalf("failed to recompute hash: %v", err)
	}
	if h != block.Hash {
		t.Errorf("hash mismatch: got %s, want %s", block.Hash, h)
	}
}

func TestRecordAndVerify(t *testing.T) {
	sk, pk, err := security.GenerateKeyPair("ledger-test")
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	l, _ := openTemp(t, WithSigningKey(sk), WithAgentID("agent1"))

	b1, err := l.Record(entryFor(t, "Spelling", "step1 output"))
	if err != nil {
		t.Fatalf("failed to record block1: %v", err)
	}
	b2, err := l.Record(entryFor(t, "Rust", "step2 output"))
	if err != nil {
		t.Fatalf("failed to record block2: %v", err)
	}

	if b2.PrevHash != b1.Hash {
		t.Errorf("block2 not linked to block1")
	}
	if b1.AgentID != "agent1" || b1.Signature == "" {
		t.Errorf("block1 missing agent or signature: %+v", b1)
	}
	if err := l.VerifyChain(pk); err != nil {
		t.Errorf("chain verification failed: %v", err)
	}
}

func TestAppendRejectsBrokenLink(t *testing.T) {
	l, _ := openTemp(t)
	if _, err := l.Record(entryFor(t, "Spelling", "ok")); err != nil {
		t.Fatalf("record: %v", err)
	}

	orphan, _ := NewBlock(1, entryFor(t, "Rust", "ok"), "not-the-tip", "agent")
	if err := l.Append(orphan); !errors.Is(err, ErrPrevHash) {
		t.Fatalf("expected ErrPrevHash, got %v", err)
	}
	if l.NextIndex() != 1 {
		t.Errorf("rejected block was kept")
	}
}

func TestTamperingDetection(t *testing.T) {
	l, _ := openTemp(t)
	if _, err := l.Record(entryFor(t, "EditorConfig", "secure log")); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	l.Blocks()[0].LogHash = "fakehash"

	if err := l.VerifyChain(); !errors.Is(err, ErrTampered) {
		t.Errorf("expected ErrTampered, got %v", err)
	}
}

func TestForgedSignatureDetection(t *testing.T) {
	sk, _, _ := security.GenerateKeyPair("real")
	l, _ := openTemp(t, WithSigningKey(sk))
	if _, err := l.Record(entryFor(t, "Rust", "out")); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	other, otherPub, _ := security.GenerateKeyPair("real")
	blk := l.Blocks()[0]
	blk.Signature = other.Sign([]byte(blk.Hash))

	if err := l.VerifyChain(); err == nil {
		t.Errorf("expected signature failure")
	}
	// block carries the original key, which is not the trusted one
	blk.Signature = sk.Sign([]byte(blk.Hash))
	if err := l.VerifyChain(otherPub); err == nil {
		t.Errorf("expected untrusted key failure")
	}
}

func TestUnsignedRejectedWhenKeysTrusted(t *testing.T) {
	_, pk, _ := security.GenerateKeyPair("k")
	l, _ := openTemp(t)
	if _, err := l.Record(entryFor(t, "Rust", "out")); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := l.VerifyChain(); err != nil {
		t.Fatalf("unsigned chain without trusted keys should verify: %v", err)
	}
	if err := l.VerifyChain(pk); err == nil {
		t.Errorf("expected unsigned block to fail against trusted keys")
	}
}

// write → reload → verify
func TestLedgerPersistence(t *testing.T) {
	l, path := openTemp(t)
	for _, job := range []string{"Spelling", "NixFormatting", "EditorConfig", "Rust"} {
		if _, err := l.Record(entryFor(t, job, job+" log")); err != nil {
			t.Fatalf("record %s: %v", job, err)
		}
	}

	reopened, err := OpenLedger(path)
	if err != nil {
		t.Fatalf("failed to reopen ledger: %v", err)
	}
	if got := len(reopened.Blocks()); got != 4 {
		t.Fatalf("expected 4 blocks, got %d", got)
	}
	if reopened.LastHash() != l.LastHash() {
		t.Errorf("tip changed across reload")
	}
	if err := reopened.VerifyChain(); err != nil {
		t.Errorf("reloaded ledger verification failed: %v", err)
	}
}

func TestVerifyLogs(t *testing.T) {
	l, _ := openTemp(t)
	e := entryFor(t, "Rust", "cargo test ok")
	if _, err := l.Record(e); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if _, err := l.Record(Entry{RunID: "run-1", Job: "Skipped", Status: "skipped"}); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	if err := l.VerifyLogs(); err != nil {
		t.Fatalf("untouched logs should verify: %v", err)
	}

	if err := os.WriteFile(e.LogPath, []byte("cargo test ok (edited)"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := l.VerifyLogs(); !errors.Is(err, ErrTampered) {
		t.Errorf("expected ErrTampered for an edited log, got %v", err)
	}

	if err := os.Remove(e.LogPath); err != nil {
		t.Fatal(err)
	}
	if err := l.VerifyLogs(); err == nil || errors.Is(err, ErrTampered) {
		t.Errorf("expected a missing-log error, got %v", err)
	}
}

func TestOpenLedgerDoesNotCreateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	l, err := OpenLedger(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("open created the file: %v", err)
	}

	if _, err := l.Record(entryFor(t, "lint", "ok")); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("first record should create the file: %v", err)
	}
}

func TestReadLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	if _, err := ReadLedger(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing ledger: got %v, want os.ErrNotExist", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("read created the file: %v", err)
	}

	l, err := OpenLedger(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := l.Record(entryFor(t, "lint", "ok")); err != nil {
		t.Fatalf("record: %v", err)
	}
	r, err := ReadLedger(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if r.NextIndex() != 1 {
		t.Errorf("blocks = %d, want 1", r.NextIndex())
	}
}
