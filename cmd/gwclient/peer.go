package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/danmuck/groupwire/internal/config"
	logs "github.com/danmuck/groupwire/internal/logging"
	"github.com/danmuck/groupwire/internal/peer"
)

func peerCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "peer",
		Short: "Serve a local test server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pc, err := config.LoadPeerConfig(path)
			if err != nil {
				return err
			}
			cfg, err := pc.Peer()
			if err != nil {
				return err
			}
			srv := peer.New(cfg)
			ln, err := srv.Listen(pc.Listen)
			if err != nil {
				return err
			}
			logs.Infof("gwclient.peer listening addr=%s users=%d tls=%t", ln.Addr(), len(pc.Users), cfg.TLS != nil)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.Serve(ctx, ln)
		},
	}
	cmd.Flags().StringVar(&path, "peer-config", "peer.toml", "peer config file")
	return cmd
}
