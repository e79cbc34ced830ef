package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"dispenser.dev/node/node"
)

var version = "dev"

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitCode(code int, err error) error {
	return &exitError{code: code, err: err}
}

// cli carries what every subcommand shares: the viper instance flags are
// bound to, the config file path and the output streams.
type cli struct {
	v          *viper.Viper
	configPath string
	stdout     io.Writer
	stderr     io.Writer
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	c := &cli{v: viper.New(), stdout: stdout, stderr: stderr}
	root := c.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintf(stderr, "error: %v\n", err)
		var ee *exitError
		if errors.As(err, &ee) {
			return ee.code
		}
		return 1
	}
	return 0
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "dispenser-node",
		Short:         "Token dispenser claim node",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&c.configPath, "config", "", "config file (yaml)")
	pf.String("datadir", "", "node data directory")
	pf.String("ledger", "", "receipt ledger: bolt|sqlite|postgres|memory")
	pf.String("dispenser-id", "", "dispenser program id (base58)")
	pf.String("log-level", "", "log level: debug|info|warn|error")
	pf.String("log-format", "", "log format: text|json")
	c.bind(pf.Lookup, map[string]string{
		"data_dir":     "datadir",
		"ledger":       "ledger",
		"dispenser_id": "dispenser-id",
		"log_level":    "log-level",
		"log_format":   "log-format",
	})

	root.AddCommand(c.serveCmd())
	root.AddCommand(c.initCmd())
	root.AddCommand(c.treeCmd())
	root.AddCommand(c.keystoreCmd())
	return root
}

func (c *cli) bind(lookup func(string) *pflag.Flag, keys map[string]string) {
	for key, name := range keys {
		_ = c.v.BindPFlag(key, lookup(name))
	}
}

func (c *cli) config() (node.Config, error) {
	cfg, err := node.LoadConfig(c.v, c.configPath)
	if err != nil {
		return cfg, exitCode(2, err)
	}
	if err := node.ValidateConfig(cfg); err != nil {
		return cfg, exitCode(2, fmt.Errorf("invalid config: %w", err))
	}
	return cfg, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
