package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/reglet-dev/wasm-remap/host"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// cli holds the state shared by every command. Each root command gets its own
// viper instance so commands can be built and run more than once.
type cli struct {
	v       *viper.Viper
	cfgFile string
	verbose bool
	logger  *slog.Logger
}

func newRootCmd() *cobra.Command {
	return (&cli{v: viper.New()}).command()
}

func (c *cli) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runrun",
		Short: "Run remap programs inside a WebAssembly guest",
		Long: `runrun loads a remap guest module with wazero and exchanges JSON
requests with it over the guest's linear memory.

Settings are read from flags, RUNRUN_* environment variables and the config
file, in that order of precedence.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			c.setupLogging(cmd.ErrOrStderr())
			return c.initConfig()
		},
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "config file (default is $HOME/.runrun.yaml)")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "enable verbose output")

	def := host.DefaultConfig()
	flags.String("cache-dir", def.CacheDir, "directory for the compiled module cache")
	flags.Duration("timeout", def.CallTimeout, "limit for each guest call (0 means none)")
	flags.Uint32("buffer-capacity", def.BufferCapacity, "minimum request buffer size in bytes")
	flags.Uint32("memory-limit-pages", def.MemoryLimitPages, "guest memory limit in 64KiB pages (0 keeps the engine default)")
	flags.Int64("max-module-size", def.MaxModuleSize, "largest module accepted, in bytes")
	flags.Bool("strict-imports", def.StrictImports, "reject modules with unresolved imports")
	flags.Bool("relocated", def.RelocatedResponses, "use run_script_packed, which returns responses in a separate buffer")
	flags.Bool("validate-responses", def.ValidateResponses, "check responses against the response schema")

	for key, flag := range map[string]string{
		"cache_dir":           "cache-dir",
		"call_timeout":        "timeout",
		"buffer_capacity":     "buffer-capacity",
		"memory_limit_pages":  "memory-limit-pages",
		"max_module_size":     "max-module-size",
		"strict_imports":      "strict-imports",
		"relocated_responses": "relocated",
		"validate_responses":  "validate-responses",
	} {
		_ = c.v.BindPFlag(key, flags.Lookup(flag))
	}

	cmd.AddCommand(
		newRunCmd(c),
		newImportsCmd(c),
		newSchemaCmd(),
	)
	return cmd
}

// initConfig loads configuration from the config file and environment.
func (c *cli) initConfig() error {
	if c.cfgFile != "" {
		c.v.SetConfigFile(c.cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		c.v.AddConfigPath(home)
		c.v.SetConfigType("yaml")
		c.v.SetConfigName(".runrun")
	}

	c.v.SetEnvPrefix("runrun")
	c.v.AutomaticEnv()

	if err := c.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if c.cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
		return nil
	}
	c.logger.Debug("using config file", "file", c.v.ConfigFileUsed())
	return nil
}

// hostConfig decodes the merged settings into a host.Config.
func (c *cli) hostConfig() (host.Config, error) {
	cfg := host.DefaultConfig()
	if err := c.v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

func (c *cli) setupLogging(w io.Writer) {
	level := slog.LevelWarn
	if c.verbose {
		level = slog.LevelDebug
	}

	// Using TextHandler for CLI friendliness
	c.logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(c.logger)
}
