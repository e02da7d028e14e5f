package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/zeusync/universe/internal/core/loader"
	"github.com/zeusync/universe/internal/core/universe"
	"github.com/zeusync/universe/pkg/sequence"
)

func (a *app) loadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load",
		Short: "Load the armory and print the resulting universe",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			l, u, err := a.run(cmd)
			if err != nil {
				return err
			}
			report(cmd.OutOrStdout(), l, u)
			return nil
		},
	}
}

func (a *app) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the armory and fail when any type could not be loaded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			l, _, err := a.run(cmd)
			if err != nil {
				return err
			}
			failures := l.Failures()
			if len(failures) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "ok: %d types initialized\n", len(l.InitializedTypes()))
				return nil
			}
			printFailures(cmd.OutOrStdout(), failures)
			return fmt.Errorf("%d types failed to load", len(failures))
		},
	}
}

func (a *app) run(cmd *cobra.Command) (*loader.Loader, *universe.Universe, error) {
	assembled, cleanup, err := a.assemble(cmd)
	if err != nil {
		return nil, nil, err
	}
	defer cleanup()

	u, err := assembled.Loader.Initialize(cmd.Context(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("load: %w", err)
	}
	return assembled.Loader, u, nil
}

func report(w io.Writer, l *loader.Loader, u *universe.Universe) {
	fmt.Fprintf(w, "universe %s\n", u.ID())

	types := l.InitializedTypes()
	fmt.Fprintf(w, "initialized types: %d\n", len(types))
	sequence.Map(sequence.From(types), universe.KeyFor).Each(func(key string) {
		fmt.Fprintf(w, "  %s\n", key)
	})

	fmt.Fprintf(w, "archetypes: %d\n", u.Archetypes.Len())
	u.Archetypes.Snapshot().
		Sort(func(a, b universe.Archetype) bool { return a.Id().Key() < b.Id().Key() }).
		Each(func(a universe.Archetype) {
			if tags := universe.BaseOf(a).Tags(); len(tags) > 0 {
				fmt.Fprintf(w, "  %s %v\n", a.Id().Key(), tags)
				return
			}
			fmt.Fprintf(w, "  %s\n", a.Id().Key())
		})
	printFailures(w, l.Failures())
}

func printFailures(w io.Writer, failures []universe.Failure) {
	fmt.Fprintf(w, "failures: %d\n", len(failures))
	for _, f := range failures {
		fmt.Fprintf(w, "  %s\n", f)
	}
}
