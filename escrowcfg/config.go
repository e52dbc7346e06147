package escrowcfg

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/Quaakee/paragon-escrow-sub000/contractdb"
	"github.com/Quaakee/paragon-escrow-sub000/disputerecord"
	"github.com/Quaakee/paragon-escrow-sub000/escrowwallet"
	"github.com/Quaakee/paragon-escrow-sub000/overlay"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/jessevdk/go-flags"
	"github.com/lightningnetwork/lnd/ticker"
)

const (
	// DefaultDebugLevel is the log level of every subsystem.
	DefaultDebugLevel = "info"

	// DefaultFeeRate is the fee rate in sat/byte.
	DefaultFeeRate = 1

	// DefaultPollInterval is how often the overlay is polled.
	DefaultPollInterval = time.Minute

	// DefaultMaxFeeRate is the fee rate above which a warning is logged.
	DefaultMaxFeeRate = 500
)

// DefaultDataDir is the directory the contract database is kept in.
var DefaultDataDir = btcutil.AppDataDir("paragon-escrow", false)

// Config holds the options of an escrow party.
//
//nolint:lll
type Config struct {
	DataDir    string `long:"datadir" description:"The directory to store the tracked contracts in."`
	DebugLevel string `long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical, off}"`

	Overlay *Overlay `group:"overlay" namespace:"overlay"`
	Records *Records `group:"records" namespace:"records"`
	Wallet  *Wallet  `group:"wallet" namespace:"wallet"`
}

// Overlay holds the options of the overlay lookup service.
//
//nolint:lll
type Overlay struct {
	URL          string        `long:"url" description:"The base URL of the overlay lookup service. Without one no contracts are discovered."`
	Service      string        `long:"service" description:"The lookup service indexing escrow contracts."`
	Timeout      time.Duration `long:"timeout" description:"The timeout of a single overlay query."`
	PollInterval time.Duration `long:"pollinterval" description:"How often tracked contracts are refreshed from the overlay."`
}

// Records holds the options of the dispute records.
//
//nolint:lll
type Records struct {
	Basket string `long:"basket" description:"The wallet basket dispute records are kept in."`
}

// Wallet holds the options of the wallet.
//
//nolint:lll
type Wallet struct {
	FeeRate int64 `long:"feerate" description:"The fee rate in sat/byte for escrow transactions."`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DataDir:    DefaultDataDir,
		DebugLevel: DefaultDebugLevel,
		Overlay: &Overlay{
			Service:      overlay.DefaultService,
			Timeout:      overlay.DefaultTimeout,
			PollInterval: DefaultPollInterval,
		},
		Records: &Records{
			Basket: disputerecord.DefaultBasket,
		},
		Wallet: &Wallet{
			FeeRate: DefaultFeeRate,
		},
	}
}

// Validate checks that the options are sane.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("datadir must be set")
	}

	if c.Overlay.URL == "" {
		log.Warnf("No overlay URL set, contracts will only be " +
			"discovered from the local tracker")
	} else if _, err := url.ParseRequestURI(c.Overlay.URL); err != nil {
		return fmt.Errorf("invalid overlay url: %w", err)
	}
	if c.Overlay.Timeout <= 0 {
		return fmt.Errorf("overlay timeout must be positive, got %v",
			c.Overlay.Timeout)
	}

	if c.Overlay.PollInterval < time.Second {
		return fmt.Errorf("poll interval must be at least 1s, got %v",
			c.Overlay.PollInterval)
	}

	if c.Records.Basket == "" {
		return errors.New("records basket must be set")
	}

	if c.Wallet.FeeRate <= 0 {
		return fmt.Errorf("fee rate must be positive, got %d",
			c.Wallet.FeeRate)
	}
	if c.Wallet.FeeRate > DefaultMaxFeeRate {
		log.Warnf("Fee rate %d sat/byte is above %d sat/byte",
			c.Wallet.FeeRate, DefaultMaxFeeRate)
	}

	return nil
}

// LoadConfig parses args over the defaults, validates the result and
// applies the debug level.
func LoadConfig(args []string) (*Config, error) {
	cfg := DefaultConfig()

	parser := flags.NewParser(cfg, flags.Default&^flags.PrintErrors)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := SetupLoggers(os.Stdout, cfg.DebugLevel); err != nil {
		return nil, err
	}

	return cfg, nil
}

// cleanAndExpandPath expands a leading ~ to the home directory and cleans
// the result.
func cleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[1:])
		}
	}

	return filepath.Clean(os.ExpandEnv(path))
}

// OpenTracker opens the contract database in the data directory.
func (c *Config) OpenTracker() (*contractdb.DB, error) {
	return contractdb.Open(c.DataDir)
}

// offline is the overlay client used when no service is configured. It
// indexes nothing.
type offline struct{}

func (offline) Query(context.Context, *overlay.Query) ([]*overlay.Output,
	error) {

	return nil, nil
}

// Lookup returns the overlay lookup. Without a configured service it finds
// nothing.
func (c *Config) Lookup() *overlay.Lookup {
	if c.Overlay.URL == "" {
		return overlay.NewLookup(offline{})
	}

	return overlay.NewLookup(overlay.NewHTTPClient(
		c.Overlay.URL, c.Overlay.Service, c.Overlay.Timeout,
	))
}

// PollTicker returns the ticker driving overlay refreshes.
func (c *Config) PollTicker() ticker.Ticker {
	return ticker.New(c.Overlay.PollInterval)
}

// FeeRate returns the wallet fee rate.
func (c *Config) FeeRate() btcutil.Amount {
	return btcutil.Amount(c.Wallet.FeeRate)
}

// RecordStore returns the dispute record store of w.
func (c *Config) RecordStore(
	w escrowwallet.WalletController) *disputerecord.Store {

	return disputerecord.NewStore(w, c.Records.Basket)
}
