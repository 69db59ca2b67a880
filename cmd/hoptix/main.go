// main.go is the hoptix pipeline's entrypoint: a single cobra command
// that ingests one recording, runs it through transcription, grading,
// and voice diarization, and writes its analytics (spec.md §4.6, §6.5).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hoptix/pipeline/internal/blobstore"
	"github.com/hoptix/pipeline/internal/capability"
	"github.com/hoptix/pipeline/internal/conf"
	"github.com/hoptix/pipeline/internal/datastore"
	"github.com/hoptix/pipeline/internal/fileshare"
	"github.com/hoptix/pipeline/internal/httpcapability"
	"github.com/hoptix/pipeline/internal/logging"
	"github.com/hoptix/pipeline/internal/monitor"
	"github.com/hoptix/pipeline/internal/orchestrate"
)

func main() {
	if err := RootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// RootCommand builds the hoptix CLI: a "run" subcommand that processes
// one (location, date) recording end-to-end.
func RootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "hoptix",
		Short: "Drive-thru audio pipeline",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file overriding the embedded defaults")

	root.AddCommand(runCommand(&configPath))
	return root
}

func runCommand(configPath *string) *cobra.Command {
	var locationID, runDate, sourcePath string
	var workers int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ingest and process one recording for a (location, date) run",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := conf.Load(*configPath)
			if err != nil {
				return fmt.Errorf("loading settings: %w", err)
			}
			if workers > 0 {
				settings.Orchestrator.ChunkParallelism = workers
			}
			logging.Init(settings)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
			go func() {
				sig := <-sigChan
				logging.Info("received signal, shutting down", "signal", sig.String())
				cancel()
			}()
			defer signal.Stop(sigChan)

			o, err := buildOrchestrator(settings)
			if err != nil {
				return fmt.Errorf("wiring orchestrator: %w", err)
			}

			runID, err := o.Run(ctx, locationID, runDate, sourcePath)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("run %s: %w", runID, err)
			}
			fmt.Println(runID)
			return nil
		},
	}

	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	cmd.Flags().StringVar(&locationID, "location-id", "", "location to process")
	cmd.Flags().StringVar(&runDate, "date", "", "run date, YYYY-MM-DD")
	cmd.Flags().StringVar(&sourcePath, "source", "", "path to the source recording (WAV)")
	cmd.Flags().IntVar(&workers, "workers", 0, "override chunk_parallelism (0 keeps the config default)")
	_ = cmd.MarkFlagRequired("location-id")
	_ = cmd.MarkFlagRequired("date")
	_ = cmd.MarkFlagRequired("source")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		fmt.Printf("error binding flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// buildOrchestrator wires every capability behind the Orchestrator:
// a SQL-backed Database, filesystem-backed BlobStore/FileShare, and
// HTTP clients for the four external model collaborators (spec.md
// §6.3, §6.4).
func buildOrchestrator(settings *conf.Settings) (*orchestrate.Orchestrator, error) {
	db := datastore.NewGormStore(settings)
	if err := db.Open(context.Background()); err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	blobs := blobstore.NewLocalStore(settings.BlobStore.RootPath)
	share := fileshare.NewLocalShare(settings.FileShare.RootPath)

	var asr capability.ASR = httpcapability.NewASRClient(settings)
	var reasoner capability.Reasoner = httpcapability.NewReasonerClient(settings)
	var diarizer capability.Diarizer = httpcapability.NewDiarizerClient(settings)
	var embedder capability.Embedder = httpcapability.NewEmbedderClient(settings)

	metrics, err := monitor.NewRunMetrics(prometheus.NewRegistry())
	if err != nil {
		return nil, fmt.Errorf("building metrics: %w", err)
	}

	return orchestrate.New(settings, db, blobs, share, asr, reasoner, diarizer, embedder, metrics), nil
}
