package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func configsCMD() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "configs",
		Short: "Inspect and manage per-user model configurations",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List users with a stored configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			store, _, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			users, err := store.ListConfigUsers(ctx)
			if err != nil {
				return err
			}
			if len(users) == 0 {
				fmt.Println("no stored configurations")
				return nil
			}
			for _, user := range users {
				settings, err := store.LoadUserConfig(ctx, user)
				if err != nil {
					fmt.Printf("%s\t<unreadable: %v>\n", user, err)
					continue
				}
				fmt.Printf("%s\tprovider=%s model=%s protocol=%s\n", user, settings.Provider, settings.Model, settings.Protocol)
			}
			return nil
		},
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show configuration store statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			store, _, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			st, err := store.ConfigStats(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("users with stored config: %d\n", st.TotalUsers)
			if st.LastUpdated != nil {
				fmt.Printf("last updated: %s\n", st.LastUpdated.Format("2006-01-02 15:04:05 MST"))
			}
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete <user-id>",
		Short: "Delete a user's stored configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			store, _, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.DeleteUserConfig(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("deleted configuration for %s\n", args[0])
			return nil
		},
	}

	reset := &cobra.Command{
		Use:   "reset <user-id>",
		Short: "Reset a user's configuration to the process defaults",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			store, _, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			settings, err := store.ResetToDefault(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("reset %s to model=%s protocol=%s\n", args[0], settings.Model, settings.Protocol)
			return nil
		},
	}

	cmd.AddCommand(list, stats, del, reset)
	return cmd
}
