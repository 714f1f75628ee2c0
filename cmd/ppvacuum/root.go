package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/hashicorp/hcl"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	rootCmd = &cobra.Command{
		Use:               "ppvacuum",
		Short:             "Lazy vacuum for a postgres-like heap",
		Long:              "ppvacuum removes dead tuples from heap relations, freezes old ones and truncates empty pages at the end.",
		PersistentPreRunE: rootPreRun,
		PersistentPostRun: rootPostRun,
		SilenceErrors:     true,
		SilenceUsage:      true,
	}

	dataDir = "ppvacuum-data"
	buffers = 1024

	logFile   = ""
	logLevel  = "info"
	logWriter io.WriteCloser

	configFile = "ppvacuum.hcl"
	noConfig   = false

	// cfgVars are the flags which may be set from the config file
	cfgVars   = map[string]*pflag.Flag{}
	usedFlags = map[string]struct{}{}
)

func init() {
	log.SetFormatter(&log.TextFormatter{
		DisableLevelTruncation: true,
	})

	fs := rootCmd.PersistentFlags()

	fs.StringVarP(&dataDir, "data-dir", "D", dataDir, "`directory` holding relation files, clog and wal")
	cfgVars["data-dir"] = fs.Lookup("data-dir")

	fs.IntVar(&buffers, "buffers", buffers, "number of shared buffers")
	cfgVars["buffers"] = fs.Lookup("buffers")

	fs.StringVar(&logFile, "log-file", logFile, "`file` to use for logging instead of standard error")
	cfgVars["log-file"] = fs.Lookup("log-file")

	fs.StringVar(&logLevel, "log-level", logLevel,
		"log level: trace, debug, info, warn, error, fatal, or panic")
	cfgVars["log-level"] = fs.Lookup("log-level")

	fs.StringVar(&configFile, "config-file", configFile, "`file` to load config from")
	fs.BoolVar(&noConfig, "no-config", noConfig, "don't load config file")

	addVacuumFlags(fs)
}

// execute runs the command until it finishes or the process is interrupted
func execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func rootPreRun(cmd *cobra.Command, args []string) error {
	cmd.Flags().Visit(
		func(flg *pflag.Flag) {
			usedFlags[flg.Name] = struct{}{}
		})

	if configFile != "" && !noConfig {
		_, explicit := usedFlags["config-file"]
		if err := loadConfig(configFile, explicit); err != nil {
			return errors.Wrap(err, "loadConfig failed")
		}
	}

	if logFile != "" {
		var err error
		logWriter, err = os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
		if err != nil {
			logWriter = nil
			return errors.Wrap(err, "os.OpenFile failed")
		}
		log.SetOutput(logWriter)
	}

	ll, err := log.ParseLevel(logLevel)
	if err != nil {
		return errors.Wrap(err, "log.ParseLevel failed")
	}
	log.SetLevel(ll)

	log.WithField("pid", os.Getpid()).Debug("ppvacuum starting")
	return nil
}

func rootPostRun(cmd *cobra.Command, args []string) {
	log.WithField("pid", os.Getpid()).Debug("ppvacuum done")

	if logWriter != nil {
		logWriter.Close()
	}
}

/*
loadConfig sets the flags which were not given on the command line from the config file.
a missing config file is fine unless it was named explicitly.
*/
func loadConfig(path string, explicit bool) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil
		}
		return errors.Wrap(err, "os.ReadFile failed")
	}

	cfg := map[string]interface{}{}
	if err := hcl.Decode(&cfg, string(b)); err != nil {
		return errors.Wrap(err, "hcl.Decode failed")
	}

	for name, val := range cfg {
		flg, ok := cfgVars[name]
		if !ok || flg == nil {
			return errors.Errorf("%s is not a config variable", name)
		}
		if _, ok := usedFlags[flg.Name]; ok {
			continue
		}
		if err := flg.Value.Set(fmt.Sprintf("%v", val)); err != nil {
			return errors.Wrapf(err, "%s", name)
		}
	}
	return nil
}
