package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zeusync/universe/internal/armory"
	"github.com/zeusync/universe/internal/core/loader"
	"github.com/zeusync/universe/internal/core/observability/tracing"
	"github.com/zeusync/universe/internal/injector"
)

type Config struct {
	LogLevel  string          `mapstructure:"log_level"`
	LogFormat string          `mapstructure:"log_format"`
	LoadOrder string          `mapstructure:"load_order"`
	Content   string          `mapstructure:"content"`
	Loader    loader.Settings `mapstructure:"loader"`
	Tracing   tracing.Config  `mapstructure:"tracing"`
}

type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     Config
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	root := &cobra.Command{
		Use:     "universe",
		Short:   "Load resource modules into a sealed universe",
		Long:    `Loads the armory modules, resolves their dependencies across modules and reports the types that initialized and the ones that failed.`,
		Version: version,
		// usage output hides the load report on failed validations
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.initConfig()
		},
	}

	defaults := loader.DefaultSettings()
	f := root.PersistentFlags()
	f.StringVarP(&a.cfgFile, "config", "c", "", "config file (yaml)")
	f.String("log-level", "warn", "log level: debug, info, warn, error or off")
	f.String("log-format", "console", "log format: console or json")
	f.String("load-order", "", "load order file (default: the bundled armory order)")
	f.String("content", "", "armory content file, yaml or json (default: the bundled armory)")
	f.Int("attempts", defaults.InitializationAttempts, "retry rounds for deferred types")
	f.Bool("runtime", false, "allow runtime type registrations after seal")
	f.Bool("trace", false, "print loader spans to stderr")

	_ = a.v.BindPFlag("log_level", f.Lookup("log-level"))
	_ = a.v.BindPFlag("log_format", f.Lookup("log-format"))
	_ = a.v.BindPFlag("load_order", f.Lookup("load-order"))
	_ = a.v.BindPFlag("content", f.Lookup("content"))
	_ = a.v.BindPFlag("loader.initialization_attempts", f.Lookup("attempts"))
	_ = a.v.BindPFlag("loader.allow_runtime_type_registrations", f.Lookup("runtime"))
	_ = a.v.BindPFlag("tracing.enabled", f.Lookup("trace"))

	root.AddCommand(a.loadCmd(), a.validateCmd(), a.orderCmd())
	return root
}

// initConfig resolves the configuration. Flags win over the config file, which
// wins over UNIVERSE_* environment variables and built-in defaults.
func (a *app) initConfig() error {
	s := loader.DefaultSettings()
	if err := loader.ApplyEnv(&s); err != nil {
		return err
	}
	a.v.SetDefault("log_level", "warn")
	a.v.SetDefault("log_format", "console")
	a.v.SetDefault("loader.initialization_attempts", s.InitializationAttempts)
	a.v.SetDefault("loader.model_test_build_attempts", s.ModelTestBuildAttempts)
	a.v.SetDefault("loader.finalization_attempts", s.FinalizationAttempts)
	a.v.SetDefault("loader.fatal_on_cannot_initialize_type", s.FatalOnCannotInitializeType)
	a.v.SetDefault("loader.fatal_during_finalization_on_could_not_initialize_types", s.FatalDuringFinalizationOnCouldNotInitializeTypes)
	a.v.SetDefault("loader.allow_runtime_type_registrations", s.AllowRuntimeTypeRegistrations)

	t := tracing.DefaultConfig()
	a.v.SetDefault("tracing.enabled", t.Enabled)
	a.v.SetDefault("tracing.exporter", t.Exporter)
	a.v.SetDefault("tracing.sample_rate", t.SampleRate)
	a.v.SetDefault("tracing.service_name", t.ServiceName)

	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}
	if err := a.v.Unmarshal(&a.cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return a.cfg.Loader.Validate()
}

func (a *app) content() (*armory.Content, error) {
	if a.cfg.Content == "" {
		return armory.DefaultContent(), nil
	}
	file, err := os.Open(a.cfg.Content)
	if err != nil {
		return nil, fmt.Errorf("open content: %w", err)
	}
	defer file.Close()
	if strings.EqualFold(filepath.Ext(a.cfg.Content), ".json") {
		return armory.LoadJSON(file)
	}
	return armory.LoadYAML(file)
}

func (a *app) loadOrder(path string) ([]loader.Entry, error) {
	if path == "" {
		path = a.cfg.LoadOrder
	}
	if path == "" {
		return armory.LoadOrder(), nil
	}
	return loader.ReadLoadOrder(path)
}

func (a *app) assemble(cmd *cobra.Command) (*injector.App, func(), error) {
	content, err := a.content()
	if err != nil {
		return nil, nil, err
	}
	order, err := a.loadOrder("")
	if err != nil {
		return nil, nil, err
	}

	tc := a.cfg.Tracing
	tc.Writer = cmd.ErrOrStderr()
	cfg := injector.Config{
		Settings:  a.cfg.Loader,
		LoadOrder: order,
		LogLevel:  a.cfg.LogLevel,
		Tracing:   tc,
	}
	if a.cfg.LogFormat == "json" {
		cfg.LogOutput = cmd.ErrOrStderr()
	}
	return injector.InitializeApp(cfg, armory.Source(content))
}
