package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"narci/internal/binarycache"
	"narci/internal/config"
	"narci/internal/core"
	"narci/internal/ledger"
	xlog "narci/internal/log"
	"narci/internal/security"
	"narci/internal/storage"
)

func openLedger(cfg config.Config) (*ledger.Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Ledger), 0o755); err != nil {
		return nil, err
	}
	opts := []ledger.Option{ledger.WithAgentID(cfg.AgentID)}
	if cfg.SigningKey != "" {
		sk, err := security.LoadSecretKey(cfg.SigningKey)
		if err != nil {
			return nil, fmt.Errorf("signing key: %w", err)
		}
		opts = append(opts, ledger.WithSigningKey(sk))
	}
	return ledger.OpenLedger(cfg.Ledger, opts...)
}

func newRunner(cfg config.Config) (*core.Runner, *ledger.Ledger, error) {
	led, err := openLedger(cfg)
	if err != nil {
		return nil, nil, err
	}
	exec := core.NewExecutor(cfg.Workdir, cfg.ActionRegistry())
	r := core.NewRunner(exec, storage.NewLogStorage(cfg.LogDir), led)
	r.MaxParallel = cfg.MaxParallel
	if d := cfg.StepTimeout.D(); d > 0 {
		r.StepTimeout = d
	}
	return r, led, nil
}

// newCacheClient builds a binary cache client backed by Redis when
// configured, otherwise by an in-process cache. The returned func releases it.
func newCacheClient(cfg config.Config) (*binarycache.Client, func(), error) {
	keys, err := cfg.TrustedKeys()
	if err != nil {
		return nil, nil, err
	}

	var cache interface {
		binarycache.Cache
		Close() error
	}
	if cfg.Cache.RedisAddr != "" {
		rc, err := binarycache.NewRedisCache(binarycache.RedisConfig{
			Addr: cfg.Cache.RedisAddr,
			DB:   cfg.Cache.RedisDB,
		}, xlog.WithComponent("redis"))
		if err != nil {
			return nil, nil, err
		}
		cache = rc
	} else {
		cache = binarycache.NewMemoryCache(time.Minute)
	}

	client := binarycache.NewClient(cfg.Cache.URL,
		binarycache.WithCache(cache, cfg.Cache.TTL.D(), cfg.Cache.NegativeTTL.D()),
		binarycache.WithTrustedKeys(keys...),
	)
	return client, func() { _ = cache.Close() }, nil
}
