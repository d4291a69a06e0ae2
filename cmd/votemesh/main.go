package main

import (
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"votemesh/api"
	"votemesh/authority"
	"votemesh/encryption"
	"votemesh/ledger"
	"votemesh/service"
)

var verbose bool

func main() {
	root := &cobra.Command{
		Use:   "votemesh",
		Short: "Threshold re-encryption network for confidential betting pools",
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.AddCommand(keygenCmd(), nodeCmd(), authorityCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()
}

// keygenCmd splits the master key into attested fragments for the
// nodes. The receiving key is the authority's state public key, so the
// authority credentials are generated (or loaded) first.
func keygenCmd() *cobra.Command {
	var (
		storage   string
		out       string
		threshold int
		shares    int
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate the master delegation and per-node key fragments",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()

			stateSecret, _, err := authority.LoadOrGenerateKeys(storage)
			if err != nil {
				return err
			}
			statePublic := encryption.Suite.Point().Mul(stateSecret, nil)

			deleg, err := encryption.GenerateDelegation(statePublic, threshold, shares)
			if err != nil {
				return err
			}
			keys, err := deleg.KeyFile()
			if err != nil {
				return err
			}
			if err := keys.Save(out); err != nil {
				return err
			}
			log.Info().
				Int("threshold", threshold).
				Int("shares", shares).
				Str("out", out).
				Msg("key material written")
			return nil
		},
	}
	cmd.Flags().StringVar(&storage, "storage", "authority_data", "authority credential directory")
	cmd.Flags().StringVar(&out, "out", "keys.json", "output key file")
	cmd.Flags().IntVar(&threshold, "threshold", 4, "fragments required to decrypt")
	cmd.Flags().IntVar(&shares, "shares", 7, "total number of fragments")
	return cmd
}

func nodeCmd() *cobra.Command {
	var (
		index        int
		peersCSV     string
		keysPath     string
		listen       string
		authorityURL string
		storage      string
		corrupted    bool
		pollInterval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Run one re-encryption node",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			addrs := strings.Split(peersCSV, ",")
			keys, err := encryption.LoadKeyFile(keysPath)
			if err != nil {
				return err
			}
			led, err := ledger.NewFileLedger(storage)
			if err != nil {
				return err
			}

			node, err := service.NewNodeService(service.Config{
				NodeIndex:    index,
				Peers:        addrs,
				Corrupted:    corrupted,
				PollInterval: pollInterval,
			}, keys,
				service.NewPeerClients(addrs, index),
				led,
				service.NewHTTPAuthorityClient(authorityURL),
				rand.New(rand.NewSource(time.Now().UnixNano())),
				log)
			if err != nil {
				return err
			}
			node.Run(ctx)

			if corrupted {
				log.Warn().Msg("running with a corrupted key fragment")
			}
			return api.NewNodeServer(node, log).Serve(ctx, listen)
		},
	}
	cmd.Flags().IntVar(&index, "index", 0, "this node's index in the peer list")
	cmd.Flags().StringVar(&peersCSV, "peers", "", "comma separated peer base URLs, index aligned")
	cmd.Flags().StringVar(&keysPath, "keys", "keys.json", "key file written by keygen")
	cmd.Flags().StringVar(&listen, "listen", ":5000", "listen address")
	cmd.Flags().StringVar(&authorityURL, "authority", "http://127.0.0.1:6000", "authority base URL")
	cmd.Flags().StringVar(&storage, "storage", "ledger_data", "ledger directory")
	cmd.Flags().BoolVar(&corrupted, "corrupted", false, "serve perturbed fragments (adversarial simulation)")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 2*time.Second, "ledger polling interval")
	cmd.MarkFlagRequired("peers")
	return cmd
}

func authorityCmd() *cobra.Command {
	var (
		storage   string
		listen    string
		threshold int
		shares    int
	)
	cmd := &cobra.Command{
		Use:   "authority",
		Short: "Run the decrypting authority",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			stateSecret, signingKey, err := authority.LoadOrGenerateKeys(storage)
			if err != nil {
				return err
			}
			auth := authority.New(stateSecret, signingKey, threshold, shares, log)
			log.Info().Str("signing_address", auth.SigningAddress()).Msg("authority ready")
			return api.NewAuthorityServer(auth, log).Serve(ctx, listen)
		},
	}
	cmd.Flags().StringVar(&storage, "storage", "authority_data", "credential directory")
	cmd.Flags().StringVar(&listen, "listen", ":6000", "listen address")
	cmd.Flags().IntVar(&threshold, "threshold", 4, "fragments required to decrypt")
	cmd.Flags().IntVar(&shares, "shares", 7, "total number of fragments")
	return cmd
}
