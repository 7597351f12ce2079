package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	cli "github.com/MLTQ/OrbWeaver-sub000/cmd/cli"
	core "github.com/MLTQ/OrbWeaver-sub000/core"
	config "github.com/MLTQ/OrbWeaver-sub000/pkg/config"
)

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	lg := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		lg.SetLevel(level)
	}
	if cfg.Format == "json" {
		lg.SetFormatter(&logrus.JSONFormatter{})
	}
	return lg
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "orbweaver",
		Short: "Peer-to-peer discussion node",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return err
			}
			lg := newLogger(cfg.Logging)

			node, err := core.NewNode(core.NodeConfig{
				DataDir:          cfg.Storage.DataDir,
				DBPath:           cfg.Storage.DBPath,
				BlobsDir:         cfg.Storage.BlobsDir,
				ListenAddr:       cfg.Network.ListenAddr,
				DiscoveryTag:     cfg.Network.DiscoveryTag,
				IngestBufferSize: cfg.Network.IngestBufferSize,
				BootstrapPeers:   cfg.Discovery.BootstrapPeers,
				OptedInGlobal:    cfg.Network.OptedInGlobal,
			}, lg)
			if err != nil {
				return fmt.Errorf("starting node: %w", err)
			}
			cli.SetActiveNode(node)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			go func() {
				if err := node.Run(ctx); err != nil {
					lg.WithError(err).Error("node run loop exited")
				}
			}()
			go func() {
				<-ctx.Done()
				cancel()
				if err := node.Close(); err != nil {
					lg.WithError(err).Warn("node close")
				}
			}()
			return nil
		},
	}

	cli.RegisterRoutes(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
