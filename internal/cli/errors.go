package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/bilicache/bilicache/internal/errorlog"
)

var (
	errorsFormat string
	errorsOut    string
)

var errorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "Inspect the recorded pipeline event log",
}

var errorsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export recorded events for offline analysis",
	Long: `Exports the prime-coded event log as JSON or as a Wolfram
Language file (nodes, primeMap, errorEvents and a sparse errorTensor)
for analysis in Mathematica.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, _, err := loadEnv()
		if err != nil {
			return err
		}
		store, err := errorlog.Open(cfg.ErrorDBPath, nil)
		if err != nil {
			return err
		}
		defer store.Close()

		var w io.Writer = os.Stdout
		if errorsOut != "" {
			f, err := os.Create(errorsOut)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}

		switch errorsFormat {
		case "json":
			return store.ExportJSON(cmd.Context(), w)
		case "wl", "wolfram":
			return store.ExportWolfram(cmd.Context(), w)
		default:
			return fmt.Errorf("unknown format %q (want json or wl)", errorsFormat)
		}
	},
}

var errorsDecodeCmd = &cobra.Command{
	Use:   "decode <composite>",
	Short: "Decode a composite value back into error kinds",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var composite int64
		if _, err := fmt.Sscanf(args[0], "%d", &composite); err != nil {
			return fmt.Errorf("not a number: %s", args[0])
		}
		for _, kind := range errorlog.NewRegistry().Decode(composite) {
			fmt.Println(kind)
		}
		return nil
	},
}

func init() {
	errorsExportCmd.Flags().StringVar(&errorsFormat, "format", "json", "export format: json or wl")
	errorsExportCmd.Flags().StringVarP(&errorsOut, "output", "o", "", "output file (default stdout)")
	errorsCmd.AddCommand(errorsExportCmd)
	errorsCmd.AddCommand(errorsDecodeCmd)
}
