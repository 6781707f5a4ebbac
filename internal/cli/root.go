// Package cli implements the fiberscrape command line.
package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	debug   bool
	trace   bool
	jsonLog bool
	envFile string
}

// NewRootCommand builds the fiberscrape command tree.
func NewRootCommand() *cobra.Command {
	o := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "fiberscrape",
		Short: "Scrape web pages through a bounded task pool",
		Long: `fiberscrape fetches the pages listed in a job file with a fixed number
of concurrent requests and writes one row per page to a CSV or TSV file.

Environment:
  FIBERSCRAPE_CAPACITY         overrides capacity
  FIBERSCRAPE_USER_AGENT       overrides user-agent
  FIBERSCRAPE_OUTPUT           overrides output.path
  FIBERSCRAPE_METRICS_ADDRESS  overrides prometheus.address`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(o)
			return loadEnvFile(o.envFile, cmd.Flags().Changed("env-file"))
		},
	}

	cmd.PersistentFlags().BoolVarP(&o.debug, "debug", "d", false, "enable debug logging")
	cmd.PersistentFlags().BoolVar(&o.trace, "trace", false, "enable trace logging")
	cmd.PersistentFlags().BoolVar(&o.jsonLog, "json-log", false, "log in JSON format")
	cmd.PersistentFlags().StringVar(&o.envFile, "env-file", ".env", "dotenv file loaded before the config")

	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

// Execute runs the root command and exits on error.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func setupLogging(o *rootOptions) {
	log.SetOutput(os.Stderr)
	if o.jsonLog {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	log.SetLevel(log.InfoLevel)
	if o.debug {
		log.SetLevel(log.DebugLevel)
	}
	if o.trace {
		log.SetLevel(log.TraceLevel)
	}
}

// loadEnvFile loads path into the environment. A missing default file is
// not an error; a missing file named on the command line is.
func loadEnvFile(path string, explicit bool) error {
	err := godotenv.Load(path)
	switch {
	case err == nil:
		log.Debugf("loaded environment from %s", path)
		return nil
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		log.Debugf("no %s file, reading from environment", path)
		return nil
	default:
		return fmt.Errorf("load %s: %w", path, err)
	}
}
