package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/celer-network/go-dsu/chainclient"
	"github.com/celer-network/go-dsu/config"
	"github.com/celer-network/go-dsu/db"
	"github.com/celer-network/go-dsu/db/badgerdb"
	"github.com/celer-network/go-dsu/db/memorydb"
	"github.com/celer-network/go-dsu/metrics"
	"github.com/celer-network/go-dsu/orchestrator"
	"github.com/celer-network/go-dsu/reader"
	"github.com/celer-network/go-dsu/registry"
	"github.com/celer-network/go-dsu/storage"
	"github.com/celer-network/go-dsu/units"
)

// session wires one (chain, account) pair end to end.
type session struct {
	cfg      *config.Config
	registry *registry.Registry
	db       db.DB
	store    *storage.Storage
	client   *chainclient.Client
	metrics  *metrics.Metrics
	reader   *reader.Reader
	orch     *orchestrator.Orchestrator
}

func openDB(dir string) (db.DB, error) {
	if dir == "" {
		return memorydb.NewDB(), nil
	}
	return badgerdb.NewDB(dir)
}

// openStore opens only the journal, for commands that never touch a node.
func openStore() (*config.Config, db.DB, *storage.Storage, error) {
	cfg, err := config.Load(conf)
	if err != nil {
		return nil, nil, nil, err
	}
	database, err := openDB(cfg.DBDir)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, database, storage.NewStorage(database), nil
}

func newSession(ctx context.Context, cmd *cobra.Command, writable bool) (*session, error) {
	cfg, database, store, err := openStore()
	if err != nil {
		return nil, err
	}
	s := &session{
		cfg:      cfg,
		registry: registry.Default().WithOverrides(cfg.Contracts),
		db:       database,
		store:    store,
		metrics:  metrics.New(prometheus.DefaultRegisterer),
	}

	if !s.registry.IsSupported(cfg.ChainID) {
		logger.Warn().Uint64("chain", cfg.ChainID).Uint64("default", s.registry.DefaultChainID()).
			Msg("chain has no deployment, using the default chain's addresses")
	}

	var signer *chainclient.Signer
	if cfg.Keystore != "" {
		if signer, err = chainclient.NewSignerFromKeystore(cfg.Keystore, cfg.Password); err != nil {
			s.Close()
			return nil, fmt.Errorf("keystore: %w", err)
		}
	}
	account := cfg.Account
	if account == (common.Address{}) && signer != nil {
		account = signer.Address()
	}
	if account == (common.Address{}) {
		s.Close()
		return nil, errors.New("set --account or --keystore")
	}
	if writable && signer == nil {
		s.Close()
		return nil, errors.New("--keystore is required to sign")
	}

	url, ok := cfg.RPC[cfg.ChainID]
	if !ok {
		s.Close()
		return nil, fmt.Errorf("no rpc.%d endpoint configured", cfg.ChainID)
	}
	opts := []chainclient.Option{
		chainclient.WithPollInterval(cfg.ReceiptPoll),
		chainclient.WithDropThreshold(cfg.DropThreshold),
	}
	if yes, _ := cmd.Flags().GetBool(flagYes); !yes {
		opts = append(opts, chainclient.WithConfirmer(promptConfirmer))
	}
	if s.client, err = chainclient.Dial(ctx, map[uint64]string{cfg.ChainID: url}, signer, opts...); err != nil {
		s.Close()
		return nil, err
	}

	readerOpts := []reader.Option{
		reader.WithInterval(cfg.PollInterval),
		reader.WithCallTimeout(cfg.CallTimeout),
		reader.WithMetrics(s.metrics),
		reader.WithSnapshotStore(s.store),
	}
	for name, interval := range cfg.QueryIntervals {
		q, ok := reader.ParseQuery(name)
		if !ok {
			logger.Warn().Str("key", config.KeyPoll+"."+name).Msg("unknown query, ignored")
			continue
		}
		readerOpts = append(readerOpts, reader.WithQueryInterval(q, interval))
	}
	s.reader = reader.New(s.client, s.registry, cfg.ChainID, account, readerOpts...)
	s.orch = orchestrator.New(s.client, s.reader, s.registry, cfg.ChainID, account,
		orchestrator.WithReceiptTimeout(cfg.ReceiptTimeout),
		orchestrator.WithRefreshTimeout(cfg.RefreshTimeout),
		orchestrator.WithConfirmations(cfg.Confirmations),
		orchestrator.WithMetrics(s.metrics),
		orchestrator.WithJournal(s.store),
	)
	return s, nil
}

func (s *session) Close() {
	if s.orch != nil {
		s.orch.Wait()
	}
	if s.db == nil {
		return
	}
	if err := s.db.Close(); err != nil {
		logger.Warn().Err(err).Msg("failed to close the journal")
	}
}

func promptConfirmer(ctx context.Context, req chainclient.SignRequest) error {
	args := make([]string, len(req.Args))
	for i, a := range req.Args {
		switch v := a.(type) {
		case *big.Int:
			args[i] = units.Format(v, 18)
		case common.Address:
			args[i] = v.Hex()
		default:
			args[i] = fmt.Sprint(v)
		}
	}
	fmt.Fprintf(os.Stderr, "sign %s on %s (chain %d) with [%s]? [y/N] ",
		req.Signature, req.To.Hex(), req.ChainID, strings.Join(args, ", "))

	answer := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		answer <- strings.ToLower(strings.TrimSpace(line))
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case a := <-answer:
		if a != "y" && a != "yes" {
			return errors.New("declined at prompt")
		}
		return nil
	}
}
