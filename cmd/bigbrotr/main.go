package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Bigbrotr/bigbrotr/internal/cmd/syncd"
	"github.com/Bigbrotr/bigbrotr/internal/config"
	"github.com/Bigbrotr/bigbrotr/internal/store"
	logpkg "github.com/Bigbrotr/bigbrotr/pkg/log"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "bigbrotr",
		Short: "bigbrotr relay sync engine",
		Long:  "bigbrotr continuously archives events from the relay population into Postgres.",
	}

	// sync start
	syncCmd := &cobra.Command{Use: "sync", Short: "Sync engine commands"}
	syncStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the continuous sync daemon",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := syncd.Run(ctx, syncd.Options{ConfigPath: cfgPath}); err != nil {
				return fmt.Errorf("syncd: %w", err)
			}
			return nil
		},
	}
	syncStartCmd.Flags().String("config", os.Getenv("BB_CONFIG"), "Path to YAML config file")
	syncCmd.AddCommand(syncStartCmd)
	rootCmd.AddCommand(syncCmd)

	// maintenance gc
	maintCmd := &cobra.Command{Use: "maintenance", Short: "Maintenance operations"}
	gcCmd := &cobra.Command{
		Use:   "gc",
		Short: "Reclaim events and metadata with no remaining relay references",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			config.FromEnv(&cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if !cfg.Maintenance {
				return fmt.Errorf("maintenance is disabled in configuration")
			}

			logger, err := logpkg.ApplyConfig(&logpkg.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			pool, err := store.OpenPool(ctx, cfg.Storage)
			if err != nil {
				return err
			}
			defer pool.Close()

			st := store.New(pool, cfg.Storage, logger)
			counts, err := st.ReclaimOrphans(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("reclaimed %d events, %d metadata documents\n", counts.Events, counts.Metadata)
			return nil
		},
	}
	gcCmd.Flags().String("config", os.Getenv("BB_CONFIG"), "Path to YAML config file")
	maintCmd.AddCommand(gcCmd)
	rootCmd.AddCommand(maintCmd)

	// version
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("bigbrotr", version)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
