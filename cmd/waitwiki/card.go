package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/abelbrown/waitwiki/internal/model"
)

func newCardCmd(flags *rootFlags) *cobra.Command {
	var (
		ephemeral bool
		warm      bool
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "card",
		Short: "Print one card and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := setup(ctx, flags, runtimeOptions{ephemeral: ephemeral})
			if err != nil {
				return err
			}
			defer rt.close()

			if warm {
				rt.engine.Warm(ctx)
			}
			item, ok := rt.engine.RequestCard(true)
			if !ok {
				return errors.New("no card available yet, try again with --warm")
			}
			// Let the triggered preload land before the final persist.
			rt.engine.Wait()

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(item)
			}
			printCard(cmd.OutOrStdout(), item)
			return nil
		},
	}
	cmd.Flags().BoolVar(&ephemeral, "ephemeral", false, "keep all state in memory")
	cmd.Flags().BoolVar(&warm, "warm", false, "fetch from every source before picking")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the card as JSON")
	return cmd
}

func printCard(w io.Writer, item model.Item) {
	fmt.Fprintf(w, "[%s] %s\n\n%s\n", item.Category, item.Title, item.Body)
	if item.Attribution != "" {
		fmt.Fprintf(w, "\n  - %s\n", item.Attribution)
	}
	if item.URL != "" {
		fmt.Fprintf(w, "  %s\n", item.URL)
	}
}
