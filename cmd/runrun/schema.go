package main

import (
	"fmt"

	"github.com/reglet-dev/wasm-remap/application/schema"
	"github.com/spf13/cobra"
)

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "schema [request|response]",
		Short:     "Print the JSON schema of the run_script envelopes",
		Example:   "  runrun schema response",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"request", "response"},
		RunE: func(cmd *cobra.Command, args []string) error {
			which := "response"
			if len(args) == 1 {
				which = args[0]
			}

			generate := schema.ResponseSchema
			if which == "request" {
				generate = schema.RequestSchema
			}
			doc, err := generate()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(doc))
			return err
		},
	}
}
