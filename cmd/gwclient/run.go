package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/danmuck/groupwire/internal/client"
	"github.com/danmuck/groupwire/internal/config"
	logs "github.com/danmuck/groupwire/internal/logging"
	"github.com/danmuck/groupwire/internal/observability"
	"github.com/danmuck/groupwire/internal/protocol/schema"
	"github.com/danmuck/groupwire/internal/session"
)

func loadClient(path string, onEvent session.EventFunc) (*client.Client, error) {
	cfg, err := config.LoadClientConfig(path)
	if err != nil {
		return nil, err
	}
	cc, err := cfg.Client()
	if err != nil {
		return nil, err
	}
	cc.OnEvent = onEvent
	return client.New(cc), nil
}

func runCmd(configPath *string) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Sign in and print events until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			c, err := loadClient(*configPath, func(_ *session.Session, ev *session.Event) {
				printEvent(out, ev)
			})
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if metricsAddr != "" {
				shutdown := serveMetrics(metricsAddr)
				defer shutdown()
			}
			go printNotices(ctx, out, c)

			err = c.Serve(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	return cmd
}

func serveMetrics(addr string) func() {
	observability.RegisterMetrics()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logs.Errf("gwclient.metrics addr=%s err=%v", addr, err)
		}
	}()
	logs.Infof("gwclient.metrics listening addr=%s", addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func printNotices(ctx context.Context, out io.Writer, c *client.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-c.Notices():
			fmt.Fprintf(out, "[%s] %s\n", n.Kind, n.Text)
		}
	}
}

func who(ev *session.Event) string {
	if ev.User != nil {
		if name := ev.User.DisplayName(); name != "" {
			return name
		}
	}
	return ev.Source
}

func printEvent(out io.Writer, ev *session.Event) {
	ts := ev.Time.Format("15:04:05")
	switch ev.Type {
	case schema.EventReceiveMessage:
		fmt.Fprintf(out, "%s <%s> %s\n", ts, who(ev), ev.Text)
	case schema.EventReceiveAutoreply:
		fmt.Fprintf(out, "%s <%s> (auto-reply) %s\n", ts, who(ev), ev.Text)
	case schema.EventStatusChange:
		fmt.Fprintf(out, "%s %s is %s\n", ts, who(ev), ev.Status)
	case schema.EventConferenceInvite:
		fmt.Fprintf(out, "%s %s invited you to a conference: %s\n", ts, who(ev), ev.Text)
	case schema.EventConferenceJoined:
		fmt.Fprintf(out, "%s %s joined the conversation\n", ts, who(ev))
	case schema.EventConferenceLeft:
		fmt.Fprintf(out, "%s %s left the conversation\n", ts, who(ev))
	case schema.EventUserTyping:
		logs.Debugf("gwclient.event typing source=%s", ev.Source)
	default:
		logs.Debugf("gwclient.event type=%s source=%s", ev.Type, ev.Source)
	}
}
