// Command recorddb drives an Engine from the command line: seed a fresh
// data file, inspect one that already exists, or serve the eight engine
// primitives to a line-oriented front end for manual exercise.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"recorddb/config"
)

var (
	rootCmd = &cobra.Command{
		Use:               "recorddb",
		Short:             "An embedded record-oriented storage engine",
		PersistentPreRunE: rootPreRun,
	}

	configFile string
	logLevel   string

	cfg *config.Config
	log *logrus.Entry
)

func init() {
	fs := rootCmd.PersistentFlags()
	fs.StringVarP(&configFile, "config", "c", "", "`file` to load YAML configuration from")
	fs.StringVar(&logLevel, "log-level", "", "override the configured log level")

	rootCmd.AddCommand(serveCmd, seedCmd, inspectCmd)
}

func rootPreRun(cmd *cobra.Command, args []string) error {
	var err error
	if configFile != "" {
		cfg, err = config.LoadFile(configFile)
	} else {
		cfg, err = config.Load(nil)
	}
	if err != nil {
		return err
	}

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}

	logger := logrus.New()
	logger.SetLevel(parsed)
	switch out := cfg.Logging.Output; out {
	case "", "stdout":
		logger.SetOutput(os.Stdout)
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		f, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return err
		}
		logger.SetOutput(f)
	}
	log = logrus.NewEntry(logger).WithField("component", "cmd")

	return nil
}

func flagOrConfig(fs *pflag.FlagSet, name, configVal string) string {
	flg := fs.Lookup(name)
	if flg != nil && flg.Changed {
		return flg.Value.String()
	}
	if configVal != "" {
		return configVal
	}
	if flg != nil {
		return flg.DefValue
	}
	return ""
}

func Execute() error {
	return rootCmd.Execute()
}
