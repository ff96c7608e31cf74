package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/davidleathers/sar-claim-pipeline/internal/infrastructure/config"
	"github.com/davidleathers/sar-claim-pipeline/internal/infrastructure/telemetry"
)

// app carries what every command needs once flags are parsed.
type app struct {
	out     io.Writer
	cfgFile string
	verbose bool

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}

	root := &cobra.Command{
		Use:   "sarctl",
		Short: "Run SAR claim pipeline stages on local case files",
		Long: `sarctl evaluates cases against the detection rules, generates sealed
claim objects, checks them for regulatory readiness and verifies their
integrity hashes. Everything runs in memory; results are printed as JSON.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
	}
	root.SetOut(out)

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default: $SAR_CONFIG_FILE or "+config.DefaultFile+")")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log pipeline steps to stderr")

	root.AddCommand(
		a.evaluateCmd(),
		a.generateCmd(),
		a.validateCmd(),
		a.processCmd(),
		a.verifyCmd(),
		a.tokenCmd(),
		a.archiveCmd(),
		versionCmd(out),
	)
	return root
}

func (a *app) init() error {
	var err error
	if a.cfgFile != "" {
		a.cfg, err = config.LoadFile(a.cfgFile)
	} else {
		a.cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	level := "error"
	if a.verbose {
		level = "debug"
	}
	a.logger, err = telemetry.NewLogger(level, "development")
	return err
}

func versionCmd(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// The version needs no configuration.
		PersistentPreRun: func(*cobra.Command, []string) {},
		Run: func(*cobra.Command, []string) {
			fmt.Fprintf(out, "sarctl %s\n", version)
		},
	}
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readJSON(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

func readText(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
