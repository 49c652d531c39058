package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jp1604/judge-core/core"
)

var (
	languagesFlag []string
	monitorFlag   bool
	binaryFlag    string
)

var rootCmd = &cobra.Command{
	Use:   "workermanager",
	Short: "Supervises one worker process per language",
	Long: `workermanager starts the worker binary once per language, each
restricted to that language via -language, and optionally restarts any
process that exits unexpectedly.`,
	RunE: runManager,
}

func init() {
	rootCmd.Flags().StringSliceVar(&languagesFlag, "languages", []string{"all"}, "languages to supervise, or \"all\"")
	rootCmd.Flags().BoolVar(&monitorFlag, "monitor", false, "watch workers and restart any that exit")
	rootCmd.Flags().StringVar(&binaryFlag, "worker-binary", "./worker", "path to the worker binary to supervise")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func runManager(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manager := core.NewWorkerManager(binaryFlag)

	languages := languagesFlag
	if len(languages) == 1 && strings.EqualFold(languages[0], "all") {
		languages = core.SupportedLanguages
	}

	for _, language := range languages {
		if err := manager.StartWorker(language); err != nil {
			return err
		}
	}

	if monitorFlag {
		manager.Monitor(ctx)
		return nil
	}

	log.Printf("workers started (languages=%v). press Ctrl+C to stop.", languages)
	<-ctx.Done()
	manager.StopAll()
	return nil
}
