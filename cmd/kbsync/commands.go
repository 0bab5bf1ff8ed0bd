package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/kbsync/pkg/types"
)

var indexCmd = &cobra.Command{
	Use:   "index <project>",
	Short: "Index a folder, a list of files or a list of URLs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		folder, _ := cmd.Flags().GetString("folder")
		files, _ := cmd.Flags().GetStringSlice("file")
		urls, _ := cmd.Flags().GetStringSlice("url")

		src, err := sourceFromFlags(folder, files, urls)
		if err != nil {
			return err
		}

		svc, logger, err := openProject(args[0])
		if err != nil {
			return err
		}
		defer func() { _ = svc.Close() }()

		start := time.Now()
		progress, err := svc.Run(cmd.Context(), src)
		printProgress(progress, time.Since(start))
		if err != nil {
			return fmt.Errorf("indexing failed: %w", err)
		}
		logger.Debug("index complete", slog.String("kind", string(progress.Kind)))
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <project> <folder>",
	Short: "Index a folder and keep it current until interrupted",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := filepath.Abs(args[1])
		if err != nil {
			return err
		}
		svc, logger, err := openProject(args[0])
		if err != nil {
			return err
		}
		defer func() { _ = svc.Close() }()

		ctx := cmd.Context()
		progress, err := svc.Run(ctx, types.FolderSource{Root: root})
		printProgress(progress, 0)
		if err != nil {
			return fmt.Errorf("initial indexing failed: %w", err)
		}

		if err := svc.StartWatching(ctx, root); err != nil {
			return fmt.Errorf("failed to watch %s: %w", root, err)
		}
		logger.Info("watching for changes", slog.String("root", svc.Watching()))

		<-ctx.Done()
		logger.Info("shutting down")
		return svc.StopWatching()
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear <project>",
	Short: "Remove indexed content of one source kind, or of every kind",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetString("kind")
		var kind types.SourceKind
		if raw != "" {
			var err error
			if kind, err = types.ParseSourceKind(raw); err != nil {
				return err
			}
		}

		svc, _, err := openProject(args[0])
		if err != nil {
			return err
		}
		defer func() { _ = svc.Close() }()

		if err := svc.ClearAll(cmd.Context(), kind); err != nil {
			return err
		}
		if kind == "" {
			fmt.Println("Cleared all source kinds")
		} else {
			fmt.Printf("Cleared %s\n", kind)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <project>",
	Short: "Show what a project has indexed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		outputJSON, _ := cmd.Flags().GetBool("json")

		svc, _, err := openProject(args[0])
		if err != nil {
			return err
		}
		defer func() { _ = svc.Close() }()

		stats, err := svc.Status(cmd.Context())
		if err != nil {
			return err
		}

		if outputJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		}

		if len(stats) == 0 {
			fmt.Println("Nothing indexed")
			return nil
		}
		fmt.Printf("%-8s %8s %10s  %s\n", "KIND", "FILES", "SEGMENTS", "LAST INDEXED")
		for _, st := range stats {
			last := "-"
			if !st.LastIndexedAt.IsZero() {
				last = st.LastIndexedAt.Local().Format(time.DateTime)
			}
			fmt.Printf("%-8s %8d %10d  %s\n", st.Kind, st.Files, st.Segments, last)
		}
		return nil
	},
}

func init() {
	indexCmd.Flags().String("folder", "", "folder to index")
	indexCmd.Flags().StringSlice("file", nil, "file to index (repeatable)")
	indexCmd.Flags().StringSlice("url", nil, "URL to index (repeatable)")

	clearCmd.Flags().String("kind", "", "source kind to clear (folders, files, urls)")

	statusCmd.Flags().Bool("json", false, "output as JSON")
}

// sourceFromFlags builds the single source selected on the command line.
// Relative paths are resolved against the working directory.
func sourceFromFlags(folder string, files, urls []string) (types.KnowledgeSourceConfig, error) {
	set := 0
	for _, given := range []bool{folder != "", len(files) > 0, len(urls) > 0} {
		if given {
			set++
		}
	}
	if set != 1 {
		return nil, errors.New("exactly one of --folder, --file or --url is required")
	}

	var src types.KnowledgeSourceConfig
	switch {
	case folder != "":
		abs, err := filepath.Abs(folder)
		if err != nil {
			return nil, err
		}
		src = types.FolderSource{Root: abs}
	case len(files) > 0:
		paths := make([]string, 0, len(files))
		for _, f := range files {
			abs, err := filepath.Abs(f)
			if err != nil {
				return nil, err
			}
			paths = append(paths, abs)
		}
		src = types.FileListSource{Paths: paths}
	default:
		src = types.URLListSource{URLs: urls}
	}
	return src, src.Validate()
}

func printProgress(p types.IndexProgress, elapsed time.Duration) {
	fmt.Printf("%s: %s, %d/%d files, %d skipped, %d removed, %d segments embedded",
		p.Kind, p.Status, p.ProcessedFiles, p.TotalFiles, p.SkippedFiles, p.RemovedFiles, p.Segments)
	if elapsed > 0 {
		fmt.Printf(" in %s", elapsed.Round(time.Millisecond))
	}
	fmt.Println()
	if p.Error != "" {
		fmt.Printf("error: %s\n", p.Error)
	}
}
