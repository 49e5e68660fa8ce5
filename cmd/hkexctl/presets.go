package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"hkexagent/internal/storage"
)

func presetsCMD() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "presets",
		Short: "Manage saved generation presets",
	}

	var listUser string
	list := &cobra.Command{
		Use:   "list",
		Short: "List a user's presets, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			store, _, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			presets, err := store.ListPresetsForUser(ctx, listUser)
			if err != nil {
				return err
			}
			if len(presets) == 0 {
				fmt.Println("no presets")
				return nil
			}
			for _, p := range presets {
				fmt.Printf("%s\t%s\ttemp=%.2f max_tokens=%d top_p=%.2f\n", p.ID, p.Name, p.Temperature, p.MaxTokens, p.TopP)
			}
			return nil
		},
	}
	list.Flags().StringVar(&listUser, "user", "", "owner user id")
	list.MarkFlagRequired("user")

	var add struct {
		user, name, description, systemPrompt string
		temperature, topP                     float64
		maxTokens                             int
	}
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Create a preset",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			store, _, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			p := storage.Preset{
				ID:           uuid.NewString(),
				Name:         add.name,
				Description:  add.description,
				Temperature:  add.temperature,
				MaxTokens:    add.maxTokens,
				TopP:         add.topP,
				SystemPrompt: add.systemPrompt,
			}
			if err := store.CreatePreset(ctx, add.user, p); err != nil {
				return err
			}
			fmt.Printf("created preset %s (%s)\n", p.Name, p.ID)
			return nil
		},
	}
	addCmd.Flags().StringVar(&add.user, "user", "", "owner user id")
	addCmd.Flags().StringVar(&add.name, "name", "", "preset name")
	addCmd.Flags().StringVar(&add.description, "description", "", "preset description")
	addCmd.Flags().StringVar(&add.systemPrompt, "system-prompt", "", "system prompt")
	addCmd.Flags().Float64Var(&add.temperature, "temperature", 0.7, "sampling temperature")
	addCmd.Flags().Float64Var(&add.topP, "top-p", 1.0, "nucleus sampling")
	addCmd.Flags().IntVar(&add.maxTokens, "max-tokens", 4096, "response token budget")
	addCmd.MarkFlagRequired("user")
	addCmd.MarkFlagRequired("name")

	var delUser string
	del := &cobra.Command{
		Use:   "delete <preset-id>",
		Short: "Delete a preset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			store, _, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.DeletePreset(ctx, delUser, args[0]); err != nil {
				return err
			}
			fmt.Printf("deleted preset %s\n", args[0])
			return nil
		},
	}
	del.Flags().StringVar(&delUser, "user", "", "owner user id")
	del.MarkFlagRequired("user")

	cmd.AddCommand(list, addCmd, del)
	return cmd
}
