package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/panelbase/comicscan/internal/collection"
	"github.com/panelbase/comicscan/internal/config"
	"github.com/panelbase/comicscan/internal/desktop"
	"github.com/panelbase/comicscan/pkg/protocol"
)

func desktopCmd() *cobra.Command {
	var serverURL string
	var qrOut string

	cmd := &cobra.Command{
		Use:   "desktop",
		Short: "Open a pairing session and wait for scans",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			if serverURL == "" {
				serverURL = fmt.Sprintf("ws://localhost:%d/ws", cfg.Server.Port)
			}

			store, err := collection.Open(cfg.Collection.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			client := desktop.NewClient(desktop.Config{
				ServerURL:    serverURL,
				ClientOrigin: cfg.Server.ClientOrigin,
			}, store)
			client.OnItem = func(item protocol.Item) {
				fmt.Printf("Added %s\n", item.UPC)
			}
			client.OnPhone = func(connected bool) {
				if connected {
					fmt.Println("Phone connected.")
				} else {
					fmt.Println("Phone disconnected.")
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := client.Begin(ctx); err != nil {
				return err
			}
			defer client.End()

			fmt.Printf("Scan this to pair: %s\n\n", client.RendezvousURL())
			if qr, err := client.QRTerminal(); err == nil {
				fmt.Println(qr)
			}
			if qrOut != "" {
				png, err := client.QRPNG(256)
				if err == nil {
					err = os.WriteFile(qrOut, png, 0644)
				}
				if err != nil {
					fmt.Fprintf(os.Stderr, "write qr png: %v\n", err)
				}
			}

			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "relay WebSocket URL (default ws://localhost:<port>/ws)")
	cmd.Flags().StringVar(&qrOut, "qr-png", "", "also write the pairing QR to this PNG file")
	return cmd
}
