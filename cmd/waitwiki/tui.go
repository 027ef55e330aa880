package main

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/abelbrown/waitwiki/internal/ui"
)

func newTUICmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Show cards in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd.Context(), flags)
		},
	}
}

func runTUI(ctx context.Context, flags *rootFlags) error {
	rt, err := setup(ctx, flags, runtimeOptions{fileLog: true})
	if err != nil {
		return err
	}
	defer rt.close()

	rt.warmLater(ctx)

	model := ui.NewAppWithConfig(ui.AppConfig{
		RequestCard: ui.RequestCmd(rt.engine),
		Obs:         ui.ObsConfig{Ring: rt.ring, Logger: rt.events},
	})
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}
