package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zeusync/universe/internal/armory"
	"github.com/zeusync/universe/internal/core/loader"
)

func (a *app) orderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "order [file]",
		Short: "Print the order the armory modules load in",
		Long:  `Sorts the armory modules by a load order file (the configured one, or the bundled one when none is set). Modules the file does not list load last.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			}
			entries, err := a.loadOrder(path)
			if err != nil {
				return err
			}
			content, err := a.content()
			if err != nil {
				return err
			}

			priorities := make(map[string]string, len(entries))
			for _, e := range entries {
				priorities[strings.ToLower(e.AssemblyFileName)] = strconv.Itoa(int(e.Priority))
			}
			for i, m := range loader.SortModules(armory.Modules(content), entries) {
				p, ok := priorities[strings.ToLower(m.Name())]
				if !ok {
					p = "-"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\n", i+1, p, m.Name())
			}
			return nil
		},
	}
}
