package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/panelbase/comicscan/internal/config"
	"github.com/panelbase/comicscan/internal/decode"
)

func scanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan <image>",
		Short: "Decode a single image through the decode service (manual path)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}

			frame, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Decode.ManualTimeout.Std())
			defer cancel()

			res, err := decode.NewClient(cfg.Decode.URL).Scan(ctx, frame)
			if errors.Is(err, decode.ErrNoBarcode) {
				return fmt.Errorf("no barcode found in %s", args[0])
			}
			if err != nil {
				return err
			}

			fmt.Printf("UPC: %s\n", res.UPC)
			if res.Extension != "" {
				fmt.Printf("Extension: %s\n", res.Extension)
			}
			return nil
		},
	}
}
