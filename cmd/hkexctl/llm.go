package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"hkexagent/internal/agent"
	"hkexagent/internal/providers"
	"hkexagent/internal/storage"
)

func llmCMD() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "llm",
		Short: "Manage saved provider credential profiles",
	}

	var listUser string
	list := &cobra.Command{
		Use:   "list",
		Short: "List a user's credential profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			store, _, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			configs, err := store.ListLLMConfigsForUser(ctx, listUser)
			if err != nil {
				return err
			}
			if len(configs) == 0 {
				fmt.Println("no credential profiles")
				return nil
			}
			for _, c := range configs {
				fmt.Printf("%s\t%s\tmodel=%s protocol=%s url=%s\n", c.ID, c.Name, c.Model, c.Protocol, c.APIURL)
			}
			return nil
		},
	}
	list.Flags().StringVar(&listUser, "user", "", "owner user id")
	list.MarkFlagRequired("user")

	var add struct {
		user, name, apiKey, apiURL, model, protocol string
	}
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Save a new credential profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			store, _, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			c := storage.LLMConfig{
				ID:       uuid.NewString(),
				UserID:   add.user,
				Name:     add.name,
				APIKey:   add.apiKey,
				APIURL:   add.apiURL,
				Model:    add.model,
				Protocol: add.protocol,
			}
			if err := store.SaveLLMConfig(ctx, c); err != nil {
				return err
			}
			fmt.Printf("saved profile %s (%s)\n", c.Name, c.ID)
			return nil
		},
	}
	addCmd.Flags().StringVar(&add.user, "user", "", "owner user id")
	addCmd.Flags().StringVar(&add.name, "name", "", "profile name")
	addCmd.Flags().StringVar(&add.apiKey, "api-key", "", "provider api key")
	addCmd.Flags().StringVar(&add.apiURL, "api-url", "", "provider base url")
	addCmd.Flags().StringVar(&add.model, "model", "", "model identifier")
	addCmd.Flags().StringVar(&add.protocol, "protocol", "openai", "api protocol (openai or anthropic)")
	addCmd.MarkFlagRequired("user")
	addCmd.MarkFlagRequired("name")

	var test struct {
		user, name, prompt string
	}
	testCmd := &cobra.Command{
		Use:   "test",
		Short: "Send one request through a saved profile, or the user's configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			store, cfg, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			h := agent.NewHydrator(agent.HydratorOptions{
				Store:       store,
				Logger:      log.Logger,
				HTTPTimeout: cfg.HTTP.ClientTimeout,
				MaxRetries:  cfg.HTTP.MaxRetries,
				BackoffBase: cfg.HTTP.BackoffBase,
			})

			var (
				p     providers.Provider
				model string
			)
			if test.name != "" {
				prov, profile, err := h.HydrateProfile(ctx, test.user, test.name)
				if err != nil {
					return err
				}
				p, model = prov, profile.Model
			} else {
				prov, settings, err := h.Hydrate(ctx, test.user)
				if err != nil {
					return err
				}
				p, model = prov, settings.Model
			}

			resp, err := p.Chat(ctx, providers.ChatRequest{
				Model:      model,
				UserPrompt: test.prompt,
				MaxTokens:  64,
			})
			if err != nil {
				return err
			}
			fmt.Printf("model %s answered: %s\n", model, resp.Text)
			return nil
		},
	}
	testCmd.Flags().StringVar(&test.user, "user", "", "owner user id")
	testCmd.Flags().StringVar(&test.name, "name", "", "profile name (empty tests the stored configuration)")
	testCmd.Flags().StringVar(&test.prompt, "prompt", "Reply with a single word.", "prompt to send")
	testCmd.MarkFlagRequired("user")

	var delUser string
	del := &cobra.Command{
		Use:   "delete <profile-id>",
		Short: "Delete a credential profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			store, _, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.DeleteLLMConfig(ctx, delUser, args[0]); err != nil {
				return err
			}
			fmt.Printf("deleted profile %s\n", args[0])
			return nil
		},
	}
	del.Flags().StringVar(&delUser, "user", "", "owner user id")
	del.MarkFlagRequired("user")

	cmd.AddCommand(list, addCmd, testCmd, del)
	return cmd
}
