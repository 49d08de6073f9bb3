package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/celer-network/go-dsu/config"
	"github.com/celer-network/go-dsu/log"
)

const (
	flagConfig   = "config"
	flagEnvFile  = "env"
	flagChain    = "chain"
	flagAccount  = "account"
	flagKeystore = "keystore"
	flagYes      = "yes"
)

var (
	logger = log.NewLogger("dsu")
	conf   = config.NewViper()
)

func main() {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "dsu",
		Short:         "DSU staking and minting from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadEnvFile(stringFlag(cmd, flagEnvFile)); err != nil {
				return err
			}
			if err := conf.BindPFlag(config.KeyChain, cmd.Flags().Lookup(flagChain)); err != nil {
				return err
			}
			if err := conf.BindPFlag(config.KeyAccount, cmd.Flags().Lookup(flagAccount)); err != nil {
				return err
			}
			if err := conf.BindPFlag(config.KeyKeystore, cmd.Flags().Lookup(flagKeystore)); err != nil {
				return err
			}
			return config.ReadFile(conf, stringFlag(cmd, flagConfig))
		},
	}

	rootCmd.AddCommand(
		stateCommand(),
		watchCommand(),
		mintCommand(),
		stakeCommand(),
		unstakeCommand(),
		historyCommand(),
		chainsCommand(),
	)

	flags := rootCmd.PersistentFlags()
	flags.String(flagConfig, "", "config file (yaml)")
	flags.String(flagEnvFile, ".env", "dotenv file with DSU_ variables, ignored when missing")
	flags.Uint64(flagChain, 31337, "chain id")
	flags.String(flagAccount, "", "account address, defaults to the keystore address")
	flags.String(flagKeystore, "", "keystore file used to sign")
	flags.Bool(flagYes, false, "sign without prompting")

	if err := rootCmd.Execute(); err != nil {
		logger.Error().Err(err).Msg("dsu failed")
		os.Exit(1)
	}
}

func stringFlag(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}
