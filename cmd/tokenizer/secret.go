package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/gourdian25/tokenizer"
	"github.com/urfave/cli/v2"
)

const (
	secretEnvKey = "TOKEN_SECRET_KEY"
	secretLength = 64
)

var secretCommand = &cli.Command{
	Name:  "secret",
	Usage: "Set the secret key used to sign tokens",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    "always-no",
			Aliases: []string{"s"},
			Usage:   "If the key already exists, generation is skipped",
		},
		&cli.BoolFlag{
			Name:    "display",
			Aliases: []string{"d"},
			Usage:   "Display the key instead of modifying files",
		},
		&cli.BoolFlag{
			Name:    "force",
			Aliases: []string{"f"},
			Usage:   "Skip confirmation when overwriting an existing key",
		},
		&cli.StringFlag{
			Name:  "env",
			Usage: "Environment file to update",
			Value: ".env",
		},
	},
	Action: runSecret,
}

func runSecret(ctx *cli.Context) error {
	secret, err := tokenizer.GenerateSecret(secretLength)
	if err != nil {
		return err
	}

	if ctx.Bool("display") {
		fmt.Fprintln(ctx.App.Writer, secret)
		return nil
	}

	opts := secretOptions{
		AlwaysNo: ctx.Bool("always-no"),
		Force:    ctx.Bool("force"),
		Confirm:  stdinConfirm(ctx.App.Reader, ctx.App.Writer),
	}
	changed, err := writeSecret(ctx.String("env"), secret, opts)
	if err != nil {
		return err
	}
	if !changed {
		fmt.Fprintf(ctx.App.Writer, "[%s] unchanged.\n", secretEnvKey)
		return nil
	}

	fmt.Fprintf(ctx.App.Writer, "[%s] set to: %s\n", secretEnvKey, secret)
	return nil
}

type secretOptions struct {
	AlwaysNo bool
	Force    bool
	Confirm  func(question string) bool
}

var secretLinePattern = regexp.MustCompile(`(?m)^` + secretEnvKey + `=.*$`)

// writeSecret appends or replaces the secret line in the env file at path.
// It reports whether the file was changed.
func writeSecret(path, secret string, opts secretOptions) (bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, fmt.Errorf("the configuration file [%s] does not exist", path)
		}
		return false, err
	}

	line := secretEnvKey + "=" + secret
	if !secretLinePattern.Match(content) {
		text := string(content)
		if text != "" && !strings.HasSuffix(text, "\n") {
			text += "\n"
		}
		return true, os.WriteFile(path, []byte(text+line+"\n"), 0600)
	}

	if opts.AlwaysNo {
		return false, nil
	}
	if !opts.Force && (opts.Confirm == nil || !opts.Confirm(fmt.Sprintf("Are you sure you want to override [%s]?", secretEnvKey))) {
		return false, nil
	}

	replaced := secretLinePattern.ReplaceAllLiteral(content, []byte(line))
	return true, os.WriteFile(path, replaced, 0600)
}

func stdinConfirm(r io.Reader, w io.Writer) func(string) bool {
	return func(question string) bool {
		fmt.Fprintf(w, "%s [y/N]: ", question)
		answer, _ := bufio.NewReader(r).ReadString('\n')
		answer = strings.ToLower(strings.TrimSpace(answer))
		return answer == "y" || answer == "yes"
	}
}
