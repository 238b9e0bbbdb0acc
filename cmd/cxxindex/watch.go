package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jward/cxxindex/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch <project>",
	Short: "Keep a project's index up to date as files change",
	Long: `Index the project, then watch its location and reindex changed files
until interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	name := args[0]
	cfg, err := loadConfig()
	if err != nil {
		return outputError("watch", err)
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))

	e, err := openEngine()
	if err != nil {
		return outputError("watch", err)
	}
	defer e.Close()

	p, err := e.Project(name)
	if err != nil {
		return outputError("watch", err)
	}
	coord, err := e.Coordinator(name)
	if err != nil {
		return outputError("watch", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := e.IndexProject(ctx, name); err != nil {
		return outputError("watch", err)
	}
	w, err := watch.New(p.Location, coord, watch.WithDebounce(cfg.Debounce), watch.WithLogger(log))
	if err != nil {
		return outputError("watch", err)
	}
	defer w.Close()

	fmt.Fprintf(os.Stderr, "Watching %s (%s)\n", p.Name, p.Location)
	if err := w.Run(ctx); err != nil {
		return outputError("watch", err)
	}
	// Let the last flushed batch commit before closing the fragment.
	e.Join(cmd.Context(), 0)
	return nil
}
