package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/palikkayhteiso/emmet/internal/pkg/logger"
	"github.com/palikkayhteiso/emmet/internal/roster"
)

func newDumpExcelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dump-excel EXCEL_FILE",
		Short: "Show the users parsed from a roster workbook",
		Long: `Parse the membership roster exactly as sync would and print each extracted
user as JSON. Useful for checking column detection before a real run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.WithCommand(slog.Default(), "dump-excel")

			records, err := roster.Load(args[0], roster.LoadOptions{Log: log})
			if err != nil {
				return fmt.Errorf("failed to read roster: %w", err)
			}

			for _, rec := range records {
				data, err := json.MarshalIndent(rec, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal user: %w", err)
				}
				fmt.Println(string(data))
			}

			fmt.Printf("Found %d users\n", len(records))
			return nil
		},
	}
}
