// shieldwallet is a thin demonstration CLI over the shielded-pool
// wallet core: it derives a wallet from a mnemonic, prints its
// shielded address, and can scan a chain event source and report
// balances. It is not a production node — no mempool, no RPC server,
// no mining — just enough wiring to exercise the library end to end,
// following cmd/ccoind's flag-based Config/parseFlags shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/tyler-smith/go-bip39"

	"github.com/ccoin/shield/internal/address"
	"github.com/ccoin/shield/internal/chainsource"
	"github.com/ccoin/shield/internal/kv"
	"github.com/ccoin/shield/internal/kvstore/memory"
	"github.com/ccoin/shield/internal/kvstore/postgres"
	"github.com/ccoin/shield/internal/merkletree"
	"github.com/ccoin/shield/internal/wallet"
	"github.com/ccoin/shield/pkg/types"
)

const (
	version = "0.1.0"
	banner  = `
  ___ _    _      _     _
 / __| |_ (_)___ | |___| |
 \__ \ ' \| / -_)| / _` + "`" + ` |
 |___/_||_|_\___||_\__,_|
                   wallet v%s
`
)

// Config holds shieldwallet's runtime configuration.
type Config struct {
	Command string

	Mnemonic string
	Index    uint32
	ChainID  uint64

	KVBackend string
	DBHost    string
	DBPort    int
	DBUser    string
	DBPass    string
	DBName    string

	TreeCount int
	TreeDepth int
	LogLevel  string
}

func main() {
	cfg := parseFlags()
	fmt.Printf(banner, version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nShutting down...")
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.Command, "cmd", "address", "command to run: new-mnemonic, address, scan, balances")

	flag.StringVar(&cfg.Mnemonic, "mnemonic", "", "BIP-39 mnemonic (required for address/scan/balances)")
	var index int
	flag.IntVar(&index, "index", 0, "wallet account index")
	var chainID uint64
	flag.Uint64Var(&chainID, "chain-id", 1, "chain id to scope the address/scan to")

	flag.StringVar(&cfg.KVBackend, "kv", "memory", "kv backend: memory or postgres")
	flag.StringVar(&cfg.DBHost, "db-host", "localhost", "PostgreSQL host")
	flag.IntVar(&cfg.DBPort, "db-port", 5432, "PostgreSQL port")
	flag.StringVar(&cfg.DBUser, "db-user", "shield", "PostgreSQL user")
	flag.StringVar(&cfg.DBPass, "db-password", "", "PostgreSQL password")
	flag.StringVar(&cfg.DBName, "db-name", "shield", "PostgreSQL database name")

	flag.IntVar(&cfg.TreeCount, "tree-count", 1, "number of commitment trees to scan")
	flag.IntVar(&cfg.TreeDepth, "tree-depth", merkletree.Depth, "commitment tree depth")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "log level (debug, info, warn, error)")

	flag.Parse()

	cfg.Index = uint32(index)
	cfg.ChainID = chainID
	return cfg
}

func run(ctx context.Context, cfg *Config) error {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid -log-level: %w", err)
	}
	logger := logrus.New()
	logger.SetLevel(level)
	log := logrus.NewEntry(logger)

	if cfg.Command == "new-mnemonic" {
		mnemonic, err := newMnemonic()
		if err != nil {
			return err
		}
		fmt.Println(mnemonic)
		return nil
	}

	if cfg.Mnemonic == "" {
		return fmt.Errorf("-mnemonic is required for -cmd=%s", cfg.Command)
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	chainID := types.ChainID(cfg.ChainID)
	w, err := wallet.FromMnemonic(ctx, store, nil, userKeyFrom(cfg.Mnemonic), cfg.Mnemonic, cfg.Index, log)
	if err != nil {
		return fmt.Errorf("derive wallet: %w", err)
	}
	fmt.Printf("wallet id: %x\n", w.ID())

	switch cfg.Command {
	case "address":
		addr := w.Address(&chainID)
		fmt.Println(address.String(addr))
		return nil

	case "scan":
		return runScan(ctx, w, store, chainID, cfg)

	case "balances":
		return printBalances(ctx, w, chainID)

	default:
		return fmt.Errorf("unknown -cmd %q", cfg.Command)
	}
}

func newMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", fmt.Errorf("generate entropy: %w", err)
	}
	return bip39.NewMnemonic(entropy, "")
}

// userKeyFrom derives a stand-in for the caller-supplied user key that
// encrypts the wallet record at rest; a real deployment would source
// this from a passphrase or OS keychain rather than the mnemonic
// itself, but the CLI has nothing else to key it with non-interactively.
func userKeyFrom(mnemonic string) []byte {
	seed, err := wallet.MnemonicToSeed(mnemonic)
	if err != nil {
		return make([]byte, 32)
	}
	key := make([]byte, 32)
	copy(key, seed)
	return key
}

func openStore(ctx context.Context, cfg *Config) (kv.Store, func(), error) {
	switch cfg.KVBackend {
	case "memory":
		return memory.New(), func() {}, nil
	case "postgres":
		pgCfg := &postgres.Config{
			Host:     cfg.DBHost,
			Port:     cfg.DBPort,
			User:     cfg.DBUser,
			Password: cfg.DBPass,
			Database: cfg.DBName,
			SSLMode:  "disable",
			MaxConns: 20,
		}
		store, err := postgres.New(ctx, pgCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown -kv backend %q", cfg.KVBackend)
	}
}

// runScan drains whatever is currently buffered on an in-process
// chain event source and feeds it through the wallet's incremental
// scan. A real deployment points the same Scan call at a PubSubNode
// instead; MemorySource here stands in since this CLI has no chain
// indexer to dial.
func runScan(ctx context.Context, w *wallet.Wallet, store kv.Store, chainID types.ChainID, cfg *Config) error {
	source := chainsource.NewMemorySource()
	batches, err := source.Subscribe(ctx, chainID)
	if err != nil {
		return fmt.Errorf("subscribe to chain source: %w", err)
	}

	buffered := make(map[types.TreeNumber][]wallet.Leaf)
	draining := true
	for draining {
		select {
		case b, ok := <-batches:
			if !ok {
				draining = false
				break
			}
			for i, leaf := range b.Leaves {
				buffered[b.Tree] = append(buffered[b.Tree], wallet.Leaf{
					Position:   b.StartPosition + types.Position(i),
					Commitment: leaf,
				})
			}
		default:
			draining = false
		}
	}

	fetch := func(ctx context.Context, tree types.TreeNumber, fromHeight uint32) ([]wallet.Leaf, error) {
		leaves := buffered[tree]
		var out []wallet.Leaf
		for _, l := range leaves {
			if uint32(l.Position) >= fromHeight {
				out = append(out, l)
			}
		}
		return out, nil
	}

	if err := w.Scan(ctx, chainID, types.TreeNumber(cfg.TreeCount), fetch); err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	fmt.Println("scan complete")
	return printBalances(ctx, w, chainID)
}

func printBalances(ctx context.Context, w *wallet.Wallet, chainID types.ChainID) error {
	balances, err := w.Balances(ctx, chainID)
	if err != nil {
		return fmt.Errorf("load balances: %w", err)
	}
	if len(balances) == 0 {
		fmt.Println("no unspent notes found")
		return nil
	}
	for token, tb := range balances {
		fmt.Printf("token %x: %d (across %d utxos)\n", token, tb.Balance, len(tb.UTXOs))
	}
	return nil
}
