package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/celer-network/go-dsu/config"
	"github.com/celer-network/go-dsu/orchestrator"
	"github.com/celer-network/go-dsu/reader"
	"github.com/celer-network/go-dsu/registry"
	"github.com/celer-network/go-dsu/types"
	"github.com/celer-network/go-dsu/units"
)

const (
	flagTo      = "to"
	flagLimit   = "limit"
	flagMetrics = "metrics"
	flagPrune   = "prune"

	displayPlaces = 4
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printState(s types.AccountState) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "chain\t%d\n", s.ChainID)
	fmt.Fprintf(w, "account\t%s\n", s.Account.Hex())
	fmt.Fprintf(w, "balance\t%s DSU\n", units.Format(s.TokenBalance, displayPlaces))
	fmt.Fprintf(w, "staked\t%s DSU\n", units.Format(s.StakedAssets, displayPlaces))
	fmt.Fprintf(w, "total\t%s DSU\n", units.Format(totalBalance(s), displayPlaces))
	fmt.Fprintf(w, "shares\t%s\n", units.Format(s.VaultShares, displayPlaces))
	fmt.Fprintf(w, "allowance\t%s DSU\n", units.Format(s.Allowance, displayPlaces))
	fmt.Fprintf(w, "vault assets\t%s DSU\n", units.Format(s.TotalVaultAssets, displayPlaces))
	fmt.Fprintf(w, "total supply\t%s DSU\n", units.Format(s.TotalSupply, displayPlaces))
	if !s.UpdatedAt.IsZero() {
		fmt.Fprintf(w, "updated\t%s\n", s.UpdatedAt.Format("15:04:05"))
	}
	w.Flush()
}

// totalBalance is the wallet balance plus the assets staked in the vault.
func totalBalance(s types.AccountState) *big.Int {
	total := new(big.Int)
	if s.TokenBalance != nil {
		total.Add(total, s.TokenBalance)
	}
	if s.StakedAssets != nil {
		total.Add(total, s.StakedAssets)
	}
	return total
}

func printRecord(r types.TransactionRecord) {
	line := fmt.Sprintf("%s %s %s DSU", r.Status, r.Intent.Kind, units.Format(r.Intent.Amount, displayPlaces))
	if r.HasHash() {
		line += " tx " + r.Hash.Hex()
	}
	if r.BlockNumber != 0 {
		line += fmt.Sprintf(" block %d", r.BlockNumber)
	}
	if r.Status == types.StatusFailed {
		line += " (" + r.Failure.String() + ": " + r.Error + ")"
	}
	fmt.Println(line)
}

func stateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Read the account's balance, stake and allowance once",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			s, err := newSession(ctx, cmd, false)
			if err != nil {
				return err
			}
			defer s.Close()

			if err = s.reader.Refresh(ctx); err != nil {
				logger.Warn().Err(err).Msg("some reads failed, showing the last known values")
			}
			printState(s.reader.State())
			return nil
		},
	}
}

func watchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll the account state and print every change",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			s, err := newSession(ctx, cmd, false)
			if err != nil {
				return err
			}
			defer s.Close()

			listen, _ := cmd.Flags().GetString(flagMetrics)
			if listen == "" {
				listen = s.cfg.MetricsListen
			}
			if listen != "" {
				srv := &http.Server{Addr: listen, Handler: promhttp.Handler()}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error().Err(err).Str("listen", listen).Msg("metrics server stopped")
					}
				}()
				defer srv.Close()
				logger.Info().Str("listen", listen).Msg("serving metrics")
			}

			updates, unsubscribe := s.reader.Subscribe()
			defer unsubscribe()
			s.reader.Start(ctx)
			defer s.reader.Wait()

			for {
				select {
				case <-ctx.Done():
					return nil
				case state := <-updates:
					printState(state)
					fmt.Println()
				}
			}
		},
	}
	cmd.Flags().String(flagMetrics, "", "serve prometheus metrics on this address, e.g. :9100")
	return cmd
}

// runIntent waits for p and prints every status the record passes through.
func runIntent(ctx context.Context, s *session, p *orchestrator.Pending) (types.TransactionRecord, error) {
	updates, unsubscribe := s.orch.Subscribe()
	defer unsubscribe()

	go func() {
		select {
		case <-ctx.Done():
			// only honoured while the prompt is open
			_ = s.orch.Cancel()
		case <-p.Done():
		}
	}()

	for {
		select {
		case r := <-updates:
			if r.ID == p.ID {
				printRecord(r)
			}
		case <-p.Done():
			r, err := p.Wait(context.Background())
			if err == nil {
				printState(s.reader.State())
			}
			return r, err
		}
	}
}

func parseAmount(s *session, kind types.IntentKind, arg string) (*big.Int, error) {
	if strings.EqualFold(arg, "max") {
		if err := s.reader.Refresh(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("max is based on partially stale state")
		}
		max := s.orch.MaxAmount(kind)
		if max.Sign() <= 0 {
			return nil, types.NewValidationError("amount", types.ErrInvalidAmount)
		}
		return max, nil
	}
	return units.ParseAmount(arg)
}

func mintCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mint <amount>",
		Short: "Mint DSU to an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			s, err := newSession(ctx, cmd, true)
			if err != nil {
				return err
			}
			defer s.Close()

			if err = s.reader.Refresh(ctx); err != nil {
				logger.Warn().Err(err).Msg("some reads failed")
			}
			amount, err := units.ParseAmount(args[0])
			if err != nil {
				return err
			}
			recipient := s.reader.Account()
			if to, _ := cmd.Flags().GetString(flagTo); to != "" {
				if !common.IsHexAddress(to) {
					return types.NewValidationError("recipient", types.ErrInvalidAddress)
				}
				recipient = common.HexToAddress(to)
			}

			p, err := s.orch.Mint(ctx, recipient, amount)
			if err != nil {
				return err
			}
			_, err = runIntent(ctx, s, p)
			return err
		},
	}
	cmd.Flags().String(flagTo, "", "recipient, defaults to the account")
	return cmd
}

func stakeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stake <amount|max>",
		Short: "Deposit DSU into the vault, approving it first when needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			s, err := newSession(ctx, cmd, true)
			if err != nil {
				return err
			}
			defer s.Close()

			if err = s.reader.Refresh(ctx); err != nil {
				logger.Warn().Err(err).Msg("some reads failed")
			}
			amount, err := parseAmount(s, types.IntentDeposit, args[0])
			if err != nil {
				return err
			}
			return stake(ctx, s, amount)
		},
	}
}

// stake deposits amount, sending at most one approval first when the
// allowance is short.
func stake(ctx context.Context, s *session, amount *big.Int) error {
	action, err := s.orch.NextAction(types.IntentDeposit, amount)
	if err != nil {
		return err
	}
	if action == types.ActionApprove {
		p, err := s.orch.Stake(ctx, amount)
		if err != nil {
			return err
		}
		if _, err = runIntent(ctx, s, p); err != nil {
			return err
		}
		if err = s.reader.RefreshQueries(ctx, reader.QueryAllowance); err != nil {
			return fmt.Errorf("approval confirmed but the allowance could not be read, run stake again: %w", err)
		}
		if action, err = s.orch.NextAction(types.IntentDeposit, amount); err != nil {
			return err
		}
		if action != types.ActionDeposit {
			return fmt.Errorf("allowance is still below %s DSU after approval", units.Format(amount, displayPlaces))
		}
	}

	p, err := s.orch.Stake(ctx, amount)
	if err != nil {
		return err
	}
	_, err = runIntent(ctx, s, p)
	return err
}

func unstakeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unstake <amount|max>",
		Short: "Withdraw DSU from the vault",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			s, err := newSession(ctx, cmd, true)
			if err != nil {
				return err
			}
			defer s.Close()

			if err = s.reader.Refresh(ctx); err != nil {
				logger.Warn().Err(err).Msg("some reads failed")
			}
			amount, err := parseAmount(s, types.IntentWithdraw, args[0])
			if err != nil {
				return err
			}
			p, err := s.orch.Unstake(ctx, amount)
			if err != nil {
				return err
			}
			_, err = runIntent(ctx, s, p)
			return err
		},
	}
}

func historyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List journaled transactions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, database, store, err := openStore()
			if err != nil {
				return err
			}
			defer database.Close()

			if keep, _ := cmd.Flags().GetInt(flagPrune); keep > 0 {
				n, err := store.PruneRecords(keep)
				if err != nil {
					return err
				}
				logger.Info().Int("removed", n).Msg("pruned journal")
			}
			limit, _ := cmd.Flags().GetInt(flagLimit)
			records, err := store.Records(limit)
			if err != nil {
				return err
			}
			for _, r := range records {
				fmt.Printf("%s %s ", r.CreatedAt.Format("2006-01-02 15:04:05"), r.ID)
				printRecord(r)
			}
			return nil
		},
	}
	cmd.Flags().Int(flagLimit, 20, "number of records, 0 for all")
	cmd.Flags().Int(flagPrune, 0, "keep only this many newest records")
	return cmd
}

func chainsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "chains",
		Short: "List chains with a known deployment",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(conf)
			if err != nil {
				return err
			}
			r := registry.Default().WithOverrides(cfg.Contracts)
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "id\tname\ttoken\tvault\tminting")
			for _, id := range r.ChainIDs() {
				c := r.AddressesFor(id)
				name := r.Name(id)
				if id == r.DefaultChainID() {
					name += " (default)"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", id, name, c.Token.Hex(), c.Vault.Hex(), c.Minting.Hex())
			}
			return w.Flush()
		},
	}
}
