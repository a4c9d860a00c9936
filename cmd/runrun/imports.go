package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/reglet-dev/wasm-remap/host"
	"github.com/spf13/cobra"
)

func newImportsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "imports <module.wasm>",
		Short: "List the functions a module imports and how they would bind",
		Long: `Imports compiles a module without instantiating it and shows, for each
imported function, whether the host, WASI or a trap stub would provide it.
Stubbed imports only fail when the guest calls them.`,
		Example: `  runrun imports remap-guest.wasm`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.hostConfig()
			if err != nil {
				return err
			}
			wasmBytes, err := host.ReadModule(args[0], cfg.MaxModuleSize)
			if err != nil {
				return err
			}

			exec, err := host.NewExecutor(cmd.Context(), host.WithConfig(cfg), host.WithLogger(c.logger), host.WithGuestStderr(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer exec.Close(cmd.Context())

			bindings, err := exec.Imports(cmd.Context(), wasmBytes)
			if err != nil {
				return err
			}
			if len(bindings) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No imported functions.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			if _, err := fmt.Fprintln(w, "MODULE\tNAME\tSIGNATURE\tBINDING"); err != nil {
				return fmt.Errorf("failed to write header: %w", err)
			}
			for _, b := range bindings {
				if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", b.Module, b.Name, b.Signature(), b.Resolution); err != nil {
					return fmt.Errorf("failed to write import: %w", err)
				}
			}
			return w.Flush()
		},
	}
}
