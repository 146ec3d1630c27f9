package main

import (
	"os"

	"ChunkVault/pkg/common"
	"ChunkVault/pkg/transfer"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// app is the state shared by every subcommand once flags are parsed.
type app struct {
	cfgPath   string
	chunkSize string
	outputDir string
	logLevel  string
	pretty    bool

	cfg     *common.Config
	orch    *transfer.Orchestrator
	closers []func() error
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "chunkctl",
		Short: "Store files as fixed-size chunks in a key-value container.",
		Long: `Store files as fixed-size chunks in a key-value container.

Settings come from chunkvault.yaml, then CHUNKVAULT_* environment
variables, then flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&a.cfgPath, "config", "c", common.DefaultConfigPath, "config file")
	pf.StringVar(&a.chunkSize, "chunk-size", "", `chunk size for uploads, e.g. "4MiB"; a bare number is MiB`)
	pf.StringVar(&a.outputDir, "output-dir", "", "directory read writes <key>.dat files to")
	pf.StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.BoolVar(&a.pretty, "pretty", true, "human readable logs on stderr")

	root.AddCommand(
		uploadCmd(a),
		readCmd(a),
		deleteCmd(a),
		listCmd(a),
		reconcileCmd(a),
		shellCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	path := a.cfgPath
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			path = ""
		}
	}
	cfg, err := common.Load(path)
	if err != nil {
		return err
	}
	if a.chunkSize != "" {
		cfg.ChunkSize = a.chunkSize
	}
	if a.outputDir != "" {
		cfg.OutputDir = a.outputDir
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	logger, err := common.SetupLogger(cfg.LogLevel, a.pretty)
	if err != nil {
		return err
	}

	store, err := cfg.OpenMeta(logger)
	if err != nil {
		return errors.Wrap(err, "open metadata store")
	}
	a.closers = append(a.closers, store.Close)
	res, closeRes := cfg.Resolver(logger)
	a.closers = append(a.closers, closeRes)

	chunkSize, _ := cfg.ChunkSizeBytes()
	orch, err := transfer.New(store, res, transfer.Options{
		ChunkSize:    chunkSize,
		OutputDir:    cfg.OutputDir,
		ProbeWindow:  cfg.ProbeWindow,
		PendingGrace: cfg.PendingGrace,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	a.cfg, a.orch = cfg, orch
	return nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("close")
		}
	}
	a.closers = nil
}
