package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func sendCmd(configPath *string) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "send <user> <message...>",
		Short: "Send one instant message and sign out",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadClient(*configPath, nil)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := c.Connect(ctx); err != nil {
				return err
			}

			done := make(chan error, 1)
			go func() { done <- c.Run(ctx) }()
			for !c.Running() {
				select {
				case err := <-done:
					return err
				case <-time.After(10 * time.Millisecond):
				}
			}

			who, text := args[0], strings.Join(args[1:], " ")
			if err := c.SendIMWait(ctx, who, text); err != nil {
				cancel()
				<-done
				return fmt.Errorf("send to %s: %w", who, err)
			}
			if err := c.Logout(ctx); err != nil {
				return err
			}
			if err := <-done; err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent to %s\n", who)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "give up after this long")
	return cmd
}
