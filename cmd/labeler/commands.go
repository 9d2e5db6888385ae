package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"yashubustudio/labeler/labeler"
)

var (
	exportFrom string
	exportOut  string
	initForce  bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Flatten a checkpoint or result file into CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cp, err := readArtifact(cmd.Context(), exportFrom)
		if err != nil {
			return err
		}
		if cp == nil {
			return fmt.Errorf("%s contains no results", exportFrom)
		}
		w := cmd.OutOrStdout()
		if exportOut != "" && exportOut != "-" {
			f, err := os.Create(exportOut)
			if err != nil {
				return fmt.Errorf("create output: %w", err)
			}
			defer f.Close()
			w = f
		}
		return labeler.WriteSummaryCSV(w, labeler.RecordCategories(cfg.Categories, cp.Records), cp.Records)
	},
}

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List the configured label categories",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return printCategories(cmd.OutOrStdout(), cfg.Categories)
	},
}

var initConfigCmd = &cobra.Command{
	Use:   "init-config [path]",
	Short: "Write a config file populated with the defaults",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgPath
		if len(args) == 1 {
			path = args[0]
		}
		if path == "" {
			path = "config.json"
		}
		if _, err := os.Stat(path); err == nil && !initForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		var cfg labeler.Config
		cfg.ApplyDefaults()
		if err := labeler.SaveConfig(path, cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFrom, "from", "labeled_headlines.json", "checkpoint or result file (.json or .db)")
	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "-", "CSV destination, - for stdout")
	initConfigCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing file")
}

// readArtifact loads a JSON document or a SQLite checkpoint database.
func readArtifact(ctx context.Context, path string) (*labeler.Checkpoint, error) {
	if !isSQLitePath(path) {
		return labeler.ReadCheckpointFile(path)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := labeler.NewSQLiteStore(ctx, path)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.Load(ctx)
}

func isSQLitePath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return true
	}
	return false
}

func printCategories(w io.Writer, categories []labeler.LabelCategory) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tGROUP\tLABELS\tTEMPLATE")
	for _, cat := range categories {
		group := cat.Group
		if group == "" {
			group = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", cat.Name, group, len(cat.Labels), cat.Template)
	}
	return tw.Flush()
}
