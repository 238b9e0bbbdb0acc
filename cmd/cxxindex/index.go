package main

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
)

var (
	flagForce   bool
	flagCreate  string
	flagTimeout time.Duration
)

var indexCmd = &cobra.Command{
	Use:   "index <project>",
	Short: "Index a project's C and C++ files",
	Long: `Discover the C and C++ files under a project's location and bring its
index up to date. Unchanged files are skipped. With --create-at the project
is registered first when it does not exist yet.`,
	Args: cobra.ExactArgs(1),
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&flagForce, "force", false, "reparse every indexed file regardless of content hashes")
	indexCmd.Flags().StringVar(&flagCreate, "create-at", "", "register the project at this location when it does not exist")
	indexCmd.Flags().DurationVar(&flagTimeout, "timeout", 0, "give up waiting after this long (default: the configured join timeout)")
}

func runIndex(cmd *cobra.Command, args []string) error {
	name := args[0]
	e, err := openEngine()
	if err != nil {
		return outputError("index", err)
	}
	defer e.Close()

	if _, err := e.Project(name); err != nil {
		if flagCreate == "" {
			return outputError("index", err)
		}
		if _, err := e.CreateProject(name, flagCreate, nil, nil); err != nil {
			return outputError("index", err)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	start := time.Now()
	coord, err := e.Coordinator(name)
	if err != nil {
		return outputError("index", err)
	}
	if flagForce {
		if err := coord.Rebuild(); err != nil {
			return outputError("index", err)
		}
	}
	if err := e.IndexProject(ctx, name); err != nil {
		return outputError("index", err)
	}
	if !e.Join(ctx, flagTimeout) {
		if ctx.Err() != nil {
			return outputError("index", ctx.Err())
		}
		return outputError("index", fmt.Errorf("indexing %s did not finish in time", name))
	}
	if err := e.Err(); err != nil {
		return outputError("index", err)
	}

	files, err := coord.Fragment().Store().AllFiles()
	if err != nil {
		return outputError("index", err)
	}
	summary := CLIIndexSummary{Project: name, Files: len(files)}
	for _, f := range files {
		if f.IsSource {
			summary.Sources++
		}
	}
	summary.Duration = time.Since(start).Round(time.Millisecond).String()
	fmt.Fprintf(os.Stderr, "Indexed %d files in %s\n", summary.Files, summary.Duration)
	return outputResult(CLIResult{Command: "index", Results: summary})
}
