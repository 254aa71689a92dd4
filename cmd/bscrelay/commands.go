package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bscrelay/bscrelay/log"
	"github.com/bscrelay/bscrelay/node"
)

// app carries the state shared by the commands of one invocation.
type app struct {
	v          *viper.Viper
	configFile string
}

func newApp() *app {
	return &app{v: viper.New()}
}

// load binds the flags of the executing command to their config keys and
// resolves the node configuration. Flag names are config keys, so only the
// running command may bind them.
func (a *app) load(cmd *cobra.Command) (node.Config, *log.Logger, error) {
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return node.Config{}, nil, err
	}
	cfg, err := node.LoadConfig(a.v, a.configFile)
	if err != nil {
		return node.Config{}, nil, err
	}
	logger := log.NewFromConfig(cmd.ErrOrStderr(), cfg.Log.Format, cfg.Log.Level)
	log.SetDefault(logger)
	return cfg, logger, nil
}

func newRootCommand(a *app) *cobra.Command {
	defaults := node.DefaultConfig()
	root := &cobra.Command{
		Use:           "bscrelay",
		Short:         "BNB Smart Chain header relay",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	fs := root.PersistentFlags()
	fs.StringVar(&a.configFile, "config", "", "config file (json, toml or yaml)")
	fs.String("datadir", defaults.DataDir, "data directory, empty keeps the relay in memory")
	fs.Uint64("chain-id", defaults.ChainID, "chain id of the relayed chain")
	fs.String("log.level", defaults.Log.Level, "log level (trace, debug, info, warn, error)")
	fs.String("log.format", defaults.Log.Format, "log format (text, json)")

	root.AddCommand(newInitCommand(a), newRunCommand(a), newVersionCommand())
	return root
}

func newInitCommand(a *app) *cobra.Command {
	defaults := node.DefaultConfig()
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialise the relay from a recent block of the source chain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := a.load(cmd)
			if err != nil {
				return err
			}
			n, err := node.New(cfg, logger)
			if err != nil {
				return err
			}
			defer n.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			src, err := n.DialSource(ctx)
			if err != nil {
				return err
			}
			defer src.Close()

			res, err := n.Bootstrap(ctx, src)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Relay initialised at block %d (%s) with %d validators\n",
				res.Number, res.Hash.Hex(), len(res.Validators))
			return nil
		},
	}
	fs := cmd.Flags()
	fs.String("relayer.source", defaults.Relayer.Source, "RPC endpoint of the source chain")
	fs.Uint64("bootstrap.number", defaults.Bootstrap.Number, "genesis block number, 0 picks one below the source head")
	fs.Uint64("bootstrap.confirmations", defaults.Bootstrap.Confirmations, "blocks to stay behind the source head")
	return cmd
}

func newRunCommand(a *app) *cobra.Command {
	defaults := node.DefaultConfig()
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Serve the relay and follow the source chain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := a.load(cmd)
			if err != nil {
				return err
			}
			n, err := node.New(cfg, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := n.Start(ctx); err != nil {
				n.Close()
				return err
			}
			if head, err := n.Relay().Head(); err == nil {
				logger.Info("Relay ready", "head", head.Number, "hash", head.Hash)
			} else {
				logger.Warn("Relay not initialised, submissions will be rejected", "err", err)
			}

			err = n.Wait()
			if cerr := n.Close(); err == nil {
				err = cerr
			}
			return err
		},
	}
	fs := cmd.Flags()
	fs.Bool("rpc.enabled", defaults.RPC.Enabled, "serve the relay JSON-RPC API")
	fs.String("rpc.host", defaults.RPC.Host, "JSON-RPC listen host")
	fs.Int("rpc.port", defaults.RPC.Port, "JSON-RPC listen port")
	fs.Bool("metrics.enabled", defaults.Metrics.Enabled, "serve prometheus metrics")
	fs.String("metrics.host", defaults.Metrics.Host, "metrics listen host")
	fs.Int("metrics.port", defaults.Metrics.Port, "metrics listen port")
	fs.Bool("relayer.enabled", defaults.Relayer.Enabled, "follow the source chain and submit its headers")
	fs.String("relayer.source", defaults.Relayer.Source, "RPC endpoint of the source chain")
	fs.String("relayer.target", defaults.Relayer.Target, "RPC endpoint of a remote relay, empty submits locally")
	fs.Uint64("relayer.batch-size", defaults.Relayer.BatchSize, "headers per submitted batch")
	fs.Duration("relayer.poll-interval", defaults.Relayer.PollInterval, "delay between polls once caught up")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "bscrelay %s (commit %s, %s)\n", version, commit, runtime.Version())
		},
	}
}
