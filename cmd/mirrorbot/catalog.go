package main

import (
	"encoding/json"
	"fmt"

	"mirrorbot/internal/catalog"

	"github.com/spf13/cobra"
)

func catalogCmd() *cobra.Command {
	var asJSON bool
	var path string
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Print the catalog text embedded in every prompt",
		Long:  "Loads the catalog exactly as serve does and prints the rendered text, or the entries as JSON.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if path == "" {
				path = cfg.Catalog.Path
			}

			cat := catalog.Load(catalog.Config{Path: path, Sheet: cfg.Catalog.Sheet, Logger: logger})
			if asJSON {
				data, _ := json.MarshalIndent(cat.Entries, "", "  ")
				fmt.Println(string(data))
			} else {
				fmt.Println(cat.Text)
			}
			if !cat.Available() {
				return fmt.Errorf("catalog %s: %w", cat.Source, cat.Err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print entries as JSON")
	cmd.Flags().StringVar(&path, "file", "", "catalog file to load instead of catalog.path")
	return cmd
}
