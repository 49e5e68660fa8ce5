package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func sessionsCMD() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List conversation threads, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			store, _, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			sessions, err := store.ListSessions(ctx)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("no sessions")
				return nil
			}
			active, err := store.ActiveThread(ctx)
			if err != nil {
				return err
			}
			for _, s := range sessions {
				marker := " "
				if s.ThreadID == active {
					marker = "*"
				}
				fmt.Printf("%s %s\tcheckpoints=%d latest=%s\n", marker, s.ThreadID, s.CheckpointCount, s.LatestCheckpoint)
			}
			return nil
		},
	}
}

func historyCMD() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <thread-id>",
		Short: "Show recent checkpoints of a thread with message previews",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			store, _, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			hist, err := store.ShowHistory(ctx, args[0], limit)
			if err != nil {
				return err
			}
			if len(hist) == 0 {
				fmt.Println("no checkpoints")
				return nil
			}
			for _, cp := range hist {
				fmt.Printf("checkpoint %s\n", cp.CheckpointID)
				if cp.ParseError != "" {
					fmt.Printf("  <unreadable: %s>\n", cp.ParseError)
					continue
				}
				for _, msg := range cp.Messages {
					fmt.Printf("  [%s] %s\n", msg.Role, msg.Content)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "checkpoints to show (0 = configured default)")
	return cmd
}

func switchCMD() *cobra.Command {
	return &cobra.Command{
		Use:   "switch <thread-id>",
		Short: "Make a thread the active conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			store, _, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.SwitchActive(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("switched to %s; takes effect on the next turn\n", args[0])
			return nil
		},
	}
}
