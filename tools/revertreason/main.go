// revertreason prints why a mined transaction reverted by replaying it as an
// eth_call at its block.
package main

import (
	"context"
	"flag"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/celer-network/go-dsu/chainclient"
	"github.com/celer-network/go-dsu/log"
)

var (
	svr     = flag.String("ethrpc", "http://127.0.0.1:8545", "ETH JSON-RPC url")
	chainID = flag.Uint64("chain", 31337, "chain id served by ethrpc")
	txHash  = flag.String("tx", "", "Transaction hash")
	timeout = flag.Duration("timeout", 10*time.Second, "rpc timeout")
)

var logger = log.NewLogger("revertreason")

func main() {
	flag.Parse()
	if len(common.FromHex(*txHash)) != common.HashLength {
		logger.Fatal().Str("tx", *txHash).Msg("-tx must be a 32 byte hash")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client, err := chainclient.Dial(ctx, map[uint64]string{*chainID: *svr}, nil)
	if err != nil {
		logger.Fatal().Err(err).Send()
	}
	reason, err := client.RevertReason(ctx, *chainID, common.HexToHash(*txHash))
	if err != nil {
		logger.Fatal().Err(err).Send()
	}
	if reason == "" {
		logger.Info().Msg("No revert reason")
		return
	}
	logger.Info().Str("reason", reason).Send()
}
