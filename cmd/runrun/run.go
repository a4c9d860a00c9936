package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/muesli/termenv"
	"github.com/reglet-dev/wasm-remap/domain/entities"
	domainerrors "github.com/reglet-dev/wasm-remap/domain/errors"
	"github.com/reglet-dev/wasm-remap/host"
	"github.com/reglet-dev/wasm-remap/infrastructure/parser"
	"github.com/spf13/cobra"
)

var errDiagnostic = errors.New("program failed")

type runOptions struct {
	module      string
	program     string
	programFile string
	event       string
	output      string
	color       string
}

func newRunCmd(c *cli) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a remap program against an event",
		Long: `Run sends a program and an event to the guest's run_script export and
prints the response. The event is read from a JSON or YAML file, or from
stdin when the path is "-". Diagnostics are printed to stderr and the
command exits with a non-zero status.`,
		Example: `  runrun run --module remap-guest.wasm --program '.x = 1'
  runrun run -m remap-guest.wasm -f enrich.remap -e event.yaml -o yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.run(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.module, "module", "m", "", "guest module (.wasm)")
	cmd.Flags().StringVarP(&opts.program, "program", "p", "", "program source")
	cmd.Flags().StringVarP(&opts.programFile, "program-file", "f", "", "read the program from a file")
	cmd.Flags().StringVarP(&opts.event, "event", "e", "", "event file (.json, .yaml or - for stdin); defaults to {}")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "json", "output format: json, yaml")
	cmd.Flags().StringVar(&opts.color, "color", "auto", "colorize diagnostics: auto, always, never")
	_ = cmd.MarkFlagRequired("module")
	cmd.MarkFlagsMutuallyExclusive("program", "program-file")
	cmd.MarkFlagsOneRequired("program", "program-file")

	return cmd
}

func (c *cli) run(cmd *cobra.Command, opts *runOptions) error {
	ctx := cmd.Context()

	program, err := readProgram(opts)
	if err != nil {
		return err
	}
	event, err := readEvent(opts.event, cmd.InOrStdin())
	if err != nil {
		return err
	}

	exec, inst, err := c.load(cmd, opts.module)
	if err != nil {
		return reportError(cmd.OutOrStdout(), opts.output, err)
	}
	defer exec.Close(ctx)

	resp, err := inst.RunScript(ctx, program, event)
	if err != nil {
		return reportError(cmd.OutOrStdout(), opts.output, err)
	}

	if resp.Diagnostic != nil {
		msg := resp.Diagnostic.Msg
		if useColor(opts.color, cmd.ErrOrStderr()) {
			msg = resp.Diagnostic.MsgColorized
		}
		fmt.Fprintln(cmd.ErrOrStderr(), strings.TrimRight(msg, "\n"))
		return fmt.Errorf("%w with %d diagnostic(s)", errDiagnostic, len(resp.Diagnostic.List))
	}
	return writeOutput(cmd.OutOrStdout(), opts.output, resp.Success)
}

// load creates an executor from the merged configuration and loads module.
func (c *cli) load(cmd *cobra.Command, module string) (*host.Executor, *host.Instance, error) {
	cfg, err := c.hostConfig()
	if err != nil {
		return nil, nil, err
	}

	exec, err := host.NewExecutor(cmd.Context(), host.WithConfig(cfg), host.WithLogger(c.logger), host.WithGuestStderr(cmd.ErrOrStderr()))
	if err != nil {
		return nil, nil, err
	}
	inst, err := exec.LoadFile(cmd.Context(), module)
	if err != nil {
		_ = exec.Close(cmd.Context())
		return nil, nil, err
	}
	return exec, inst, nil
}

func readProgram(opts *runOptions) (string, error) {
	if opts.programFile == "" {
		return opts.program, nil
	}
	data, err := os.ReadFile(opts.programFile)
	if err != nil {
		return "", fmt.Errorf("failed to read program: %w", err)
	}
	return string(data), nil
}

// readEvent decodes the event document at path, picking JSON or YAML by
// extension. An empty path means an empty object.
func readEvent(path string, stdin io.Reader) (any, error) {
	if path == "" {
		return map[string]any{}, nil
	}

	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path) //nolint:gosec // G304: path is chosen by the operator
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read event: %w", err)
	}
	return parser.ForPath(path).Parse(data)
}

func writeOutput(w io.Writer, format string, success *entities.SuccessEnvelope) error {
	return encode(w, format, map[string]any{
		"output": success.Output,
		"result": success.Result,
	})
}

// reportError writes the structured form of a host failure in the output
// format and returns err so the command still exits non-zero.
func reportError(w io.Writer, format string, err error) error {
	detail := domainerrors.ToErrorDetail(err)
	if encErr := encode(w, format, map[string]any{"error": detail}); encErr != nil {
		return errors.Join(err, encErr)
	}
	return err
}

func encode(w io.Writer, format string, out map[string]any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "yaml":
		data, err := yaml.Marshal(out)
		if err != nil {
			return fmt.Errorf("failed to encode output: %w", err)
		}
		_, err = w.Write(data)
		return err
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func useColor(mode string, w io.Writer) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	default:
		return termenv.NewOutput(w).ColorProfile() != termenv.Ascii
	}
}
