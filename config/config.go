// Package config loads the dsu settings from a yaml file, DSU_ environment
// variables and command line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"

	"github.com/celer-network/go-dsu/types"
)

const EnvPrefix = "DSU"

// Keys.
const (
	KeyChain          = "chain"
	KeyAccount        = "account"
	KeyKeystore       = "keystore"
	KeyPassword       = "password"
	KeyRPC            = "rpc"
	KeyContracts      = "contracts"
	KeyPoll           = "poll"
	KeyPollInterval   = "poll.interval"
	KeyCallTimeout    = "poll.callTimeout"
	KeyReceiptTimeout = "tx.receiptTimeout"
	KeyReceiptPoll    = "tx.pollInterval"
	KeyDropThreshold  = "tx.dropThreshold"
	KeyRefreshTimeout = "tx.refreshTimeout"
	KeyConfirmations  = "tx.confirmations"
	KeyDBDir          = "db.dir"
	KeyMetricsListen  = "metrics.listen"
)

var (
	ErrBadChainKey = errors.New("chain id keys must be decimal integers")
	ErrBadAddress  = errors.New("not a hex address")
)

type Config struct {
	ChainID        uint64
	Account        common.Address
	Keystore       string
	Password       string
	RPC            map[uint64]string
	Contracts      map[uint64]types.ChainContracts
	PollInterval   time.Duration
	// per query overrides of PollInterval, keyed by query name
	QueryIntervals map[string]time.Duration
	CallTimeout    time.Duration
	ReceiptTimeout time.Duration
	ReceiptPoll    time.Duration
	DropThreshold  int
	RefreshTimeout time.Duration
	Confirmations  uint64
	DBDir          string
	MetricsListen  string
}

// NewViper returns a viper instance with the defaults and the DSU_ env
// binding applied.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyChain, 31337)
	v.SetDefault(KeyPollInterval, 5*time.Second)
	v.SetDefault(KeyCallTimeout, 10*time.Second)
	v.SetDefault(KeyReceiptTimeout, 2*time.Minute)
	v.SetDefault(KeyReceiptPoll, 2*time.Second)
	v.SetDefault(KeyDropThreshold, 3)
	v.SetDefault(KeyRefreshTimeout, 30*time.Second)
	v.SetDefault(KeyConfirmations, 0)
	v.SetDefault(KeyDBDir, "")
	v.SetDefault(KeyMetricsListen, "")
	return v
}

// ReadFile merges the yaml file at path into v. An empty path is a no-op.
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	return v.ReadInConfig()
}

// Load decodes v.
func Load(v *viper.Viper) (*Config, error) {
	c := &Config{
		ChainID:        v.GetUint64(KeyChain),
		Keystore:       v.GetString(KeyKeystore),
		Password:       v.GetString(KeyPassword),
		PollInterval:   v.GetDuration(KeyPollInterval),
		QueryIntervals: make(map[string]time.Duration),
		CallTimeout:    v.GetDuration(KeyCallTimeout),
		ReceiptTimeout: v.GetDuration(KeyReceiptTimeout),
		ReceiptPoll:    v.GetDuration(KeyReceiptPoll),
		DropThreshold:  v.GetInt(KeyDropThreshold),
		RefreshTimeout: v.GetDuration(KeyRefreshTimeout),
		Confirmations:  v.GetUint64(KeyConfirmations),
		DBDir:          v.GetString(KeyDBDir),
		MetricsListen:  v.GetString(KeyMetricsListen),
		RPC:            make(map[uint64]string),
		Contracts:      make(map[uint64]types.ChainContracts),
	}

	if account := v.GetString(KeyAccount); account != "" {
		if !common.IsHexAddress(account) {
			return nil, fmt.Errorf("%s: %w: %q", KeyAccount, ErrBadAddress, account)
		}
		c.Account = common.HexToAddress(account)
	}

	for key, url := range v.GetStringMapString(KeyRPC) {
		id, err := chainKey(key)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", KeyRPC, key, err)
		}
		c.RPC[id] = url
	}

	for key := range v.GetStringMap(KeyContracts) {
		id, err := chainKey(key)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", KeyContracts, key, err)
		}
		var cc types.ChainContracts
		for field, dst := range map[string]*common.Address{"token": &cc.Token, "vault": &cc.Vault, "minting": &cc.Minting} {
			full := KeyContracts + "." + key + "." + field
			s := v.GetString(full)
			if s == "" {
				continue
			}
			if !common.IsHexAddress(s) {
				return nil, fmt.Errorf("%s: %w: %q", full, ErrBadAddress, s)
			}
			*dst = common.HexToAddress(s)
		}
		c.Contracts[id] = cc
	}

	// every other key under poll names a single query, e.g. poll.total_supply: 1m
	for key := range v.GetStringMap(KeyPoll) {
		full := KeyPoll + "." + key
		if strings.EqualFold(full, KeyPollInterval) || strings.EqualFold(full, KeyCallTimeout) {
			continue
		}
		if c.QueryIntervals[key] = v.GetDuration(full); c.QueryIntervals[key] <= 0 {
			return nil, fmt.Errorf("%s must be a positive duration", full)
		}
	}

	for key, d := range map[string]time.Duration{
		KeyPollInterval:   c.PollInterval,
		KeyCallTimeout:    c.CallTimeout,
		KeyReceiptTimeout: c.ReceiptTimeout,
		KeyReceiptPoll:    c.ReceiptPoll,
		KeyRefreshTimeout: c.RefreshTimeout,
	} {
		if d <= 0 {
			return nil, fmt.Errorf("%s must be positive", key)
		}
	}
	if c.DropThreshold <= 0 {
		return nil, fmt.Errorf("%s must be positive", KeyDropThreshold)
	}
	return c, nil
}

func chainKey(key string) (uint64, error) {
	id, err := strconv.ParseUint(key, 10, 64)
	if err != nil {
		return 0, ErrBadChainKey
	}
	return id, nil
}
