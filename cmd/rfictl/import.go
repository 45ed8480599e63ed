package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

func newImportCmd(root *rootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Upload a JSON backup or CSV export to the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			contentType, err := importContentType(path, format)
			if err != nil {
				return err
			}

			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			client, err := root.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), root.timeout)
			defer cancel()

			result, err := client.Import(ctx, f, contentType)
			if err != nil {
				return fmt.Errorf("import %s: %w", path, err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✅ Imported %d samples across %d sessions (%s) in %d batches\n",
				result.SamplesImported, result.Sessions, result.TimeRange, result.BatchesWritten)
			for _, e := range result.Errors {
				fmt.Fprintf(out, "⚠️  %s\n", e)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "json or csv (default from the file extension)")
	return cmd
}

func importContentType(path, format string) (string, error) {
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}
	switch format {
	case "json":
		return "application/json", nil
	case "csv":
		return "text/csv", nil
	default:
		return "", fmt.Errorf("cannot tell the format of %s, pass --format json or --format csv", path)
	}
}
