package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/floegence/lantun/internal/cmdutil"
	ver "github.com/floegence/lantun/internal/version"
)

func newVersionCommand(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Args:        usageArgs(cobra.NoArgs),
		Annotations: map[string]string{skipSetup: "true"},
		RunE: func(_ *cobra.Command, _ []string) error {
			info := ver.Resolve(version, commit, date)
			if asJSON {
				return cmdutil.WriteJSON(a.stdout, info)
			}
			fmt.Fprintln(a.stdout, info.String())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
