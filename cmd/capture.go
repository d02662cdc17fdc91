package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/panelbase/comicscan/internal/capture"
	"github.com/panelbase/comicscan/internal/config"
	"github.com/panelbase/comicscan/internal/decode"
	"github.com/panelbase/comicscan/pkg/protocol"
)

func captureCmd() *cobra.Command {
	var serverURL string
	var framesDir string

	cmd := &cobra.Command{
		Use:   "capture <session-id>",
		Short: "Join a pairing session as the capture device",
		Long: "Joins the session from a rendezvous URL and runs the continuous capture\n" +
			"loop. Image files dropped into --frames-dir are treated as camera frames.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			if serverURL == "" {
				serverURL = fmt.Sprintf("ws://localhost:%d/ws", cfg.Server.Port)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			link := capture.NewLink(args[0])
			link.OnDuplicate = func(item protocol.Item) {
				fmt.Printf("Already in collection: %s\n", item.UPC)
			}
			link.OnDesktop = func(connected bool) {
				if !connected {
					fmt.Println("Desktop left the session.")
				}
			}
			if err := link.Connect(ctx, serverURL); err != nil {
				return err
			}
			defer link.Close()

			sched := capture.NewScheduler(capture.Config{
				Interval:      cfg.Capture.Interval.Std(),
				ScanTimeout:   cfg.Decode.ScanTimeout.Std(),
				ManualTimeout: cfg.Decode.ManualTimeout.Std(),
				Cooldown:      cfg.Capture.Cooldown.Std(),
			}, &capture.DirDevice{Dir: framesDir}, decode.NewClient(cfg.Decode.URL), link)

			if err := sched.Start(ctx); err != nil {
				return err
			}
			defer sched.Stop()

			fmt.Printf("Capture loop running (frames from %s). Ctrl-C to stop.\n", framesDir)
			<-ctx.Done()
			fmt.Printf("Scanned %d item(s).\n", sched.Count())
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "relay WebSocket URL (default ws://localhost:<port>/ws)")
	cmd.Flags().StringVar(&framesDir, "frames-dir", "frames", "directory watched for frame images")
	return cmd
}
