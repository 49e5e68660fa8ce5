package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func migrateCMD() *cobra.Command {
	var (
		check    bool
		fix      bool
		resetAll bool
		yes      bool
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Check and repair stored configurations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			store, _, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if resetAll {
				if !yes && !confirm("delete ALL stored user configurations?") {
					fmt.Println("aborted")
					return nil
				}
				n, err := store.ResetAllConfigs(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("deleted %d configurations\n", n)
				return nil
			}

			conflicts, err := store.CheckConfigConflicts(ctx, os.Getenv)
			if err != nil {
				return err
			}
			if len(conflicts) == 0 {
				fmt.Println("no conflicts found")
				return nil
			}
			for _, c := range conflicts {
				if c.Corrupt {
					fmt.Printf("%s\tcorrupt configuration document\n", c.UserID)
					continue
				}
				fmt.Printf("%s\tprovider %s needs %s\n", c.UserID, c.Provider, c.MissingEnv)
			}
			if check || !fix {
				return nil
			}

			if !yes && !confirm(fmt.Sprintf("rewrite %d configurations to the process defaults?", len(conflicts))) {
				fmt.Println("aborted")
				return nil
			}
			fixed, err := store.FixConfigConflicts(ctx, conflicts)
			if err != nil {
				return err
			}
			fmt.Printf("fixed %d configurations\n", fixed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "report conflicts without changing anything")
	cmd.Flags().BoolVar(&fix, "fix", false, "rewrite conflicting configurations to the defaults")
	cmd.Flags().BoolVar(&resetAll, "reset-all", false, "delete every stored configuration")
	cmd.Flags().BoolVar(&yes, "yes", false, "skip confirmation prompts")
	return cmd
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
