package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/gourdian25/tokenizer"
	"github.com/urfave/cli/v2"
)

var (
	app       *cli.App
	gitCommit string
	gitDate   string
	gitTag    string
)

var (
	configFileFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "Tokenizer config file (YAML, JSON or TOML)",
		Value: "tokenizer.yaml",
	}
	debugFlag = &cli.BoolFlag{
		Name:  "debug",
		Usage: "Enable debug logging",
	}
)

func init() {
	app = cli.NewApp()
	app.EnableBashCompletion = true
	app.Usage = "tokenizer - manage signing keys, secrets and stored tokens"
	app.Flags = []cli.Flag{
		configFileFlag,
		debugFlag,
	}
	app.Before = func(ctx *cli.Context) error {
		mustInitLogger(ctx.Bool(debugFlag.Name))
		return nil
	}
	app.Commands = []*cli.Command{
		keysCommand,
		purgeCommand,
		secretCommand,
		{
			Name:  "version",
			Usage: "Print the version",
			Action: func(ctx *cli.Context) error {
				fmt.Println(versionWithCommit(gitTag, gitCommit, gitDate))
				return nil
			},
		},
	}
}

func versionWithCommit(tag, commit, date string) string {
	version := tag
	if version == "" {
		version = "dev"
	}
	if len(commit) >= 8 {
		version += "-" + commit[:8]
	}
	if date != "" {
		version += "-" + date
	}
	return version
}

func mustInitLogger(debug bool) {
	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))
}

// loadConfig reads the config file, or falls back to the built-in defaults
// when the file does not exist.
func loadConfig(ctx *cli.Context) (*tokenizer.Config, error) {
	filename := ctx.String(configFileFlag.Name)
	if _, err := os.Stat(filename); errors.Is(err, os.ErrNotExist) {
		slog.Debug("Config file not found, using defaults", "file", filename)
		cfg := tokenizer.DefaultConfig(os.Getenv(secretEnvKey))
		return &cfg, nil
	}
	return tokenizer.LoadConfig(filename)
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
