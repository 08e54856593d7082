package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"bolagsdata/internal/domain"
	"bolagsdata/internal/extractor"
)

var extractOrgNumber string

func extractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract [file]",
		Short: "Extract financial figures from a downloaded annual report",
		Long: `Extract financial figures from a downloaded annual report.

Accepts the zip bundle as served by the registry or a bare .xhtml
document, and prints the normalized statement as JSON. No network or
database access is needed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var stmt domain.FinancialStatement
			if bytes.HasPrefix(raw, []byte("PK\x03\x04")) {
				stmt, err = extractor.Extract(raw)
			} else {
				stmt, err = extractor.ExtractDocument(bytes.NewReader(raw))
			}
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			if extractOrgNumber != "" {
				orgnr, err := domain.ParseOrgNumber(extractOrgNumber)
				if err != nil {
					return err
				}
				stmt.OrgNumber = orgnr
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(stmt)
		},
	}
	cmd.Flags().StringVar(&extractOrgNumber, "orgnr", "", "organisation number to stamp on the statement")
	return cmd
}
