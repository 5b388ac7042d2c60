package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/brensch/tenderscan/internal/config"
	"github.com/brensch/tenderscan/internal/sheet"
)

var verifyMaxCells int

// verifyFileCmd is the child side of process-isolated verification. It reads
// a bounded number of cells and reports failure through its exit status, with
// the reason as the only stderr output.
var verifyFileCmd = &cobra.Command{
	Use:           "verify-file <path>",
	Short:         "Read the first cells of a document (used internally)",
	Hidden:        true,
	Args:          cobra.ExactArgs(1),
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := sheet.VerifyFile(cmd.Context(), sheet.NewReader(getLogger()), args[0], verifyMaxCells); err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(2)
		}
		return nil
	},
}

func init() {
	verifyFileCmd.Flags().IntVar(&verifyMaxCells, "max-cells", config.DefaultVerifyMaxCells, "Cells to read before declaring the document readable")
}
