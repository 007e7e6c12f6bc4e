package main

import (
	"fmt"
	"log/slog"

	"github.com/gourdian25/tokenizer"
	"github.com/urfave/cli/v2"
)

var keysCommand = &cli.Command{
	Name:      "keys",
	Usage:     "Create the key pair used to sign JWT tokens",
	ArgsUsage: "[algo] (RS256, RS384, RS512, ES256, ES384, ES512, EdDSA)",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    "force",
			Aliases: []string{"f"},
			Usage:   "Overwrite keys if they already exist",
		},
		&cli.IntFlag{
			Name:    "length",
			Aliases: []string{"l"},
			Usage:   "Length of the private key for RSA keys",
			Value:   2048,
		},
		&cli.StringFlag{
			Name:  "driver",
			Usage: "Driver whose key files are written",
			Value: string(tokenizer.KindJWT),
		},
	},
	Action: runKeys,
}

func runKeys(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	algo := ctx.Args().First()
	if algo == "" {
		algo = "RS256"
	}

	privatePath, publicPath := keyPaths(cfg, ctx.String("driver"))
	if err := generateKeys(algo, ctx.Int("length"), privatePath, publicPath, ctx.Bool("force")); err != nil {
		return err
	}

	slog.Info("Encryption keys generated successfully.", "algo", algo, "private", privatePath, "public", publicPath)
	return nil
}

// keyPaths returns the key files configured for driver, or the default
// file names under the key directory.
func keyPaths(cfg *tokenizer.Config, driver string) (string, string) {
	private, public := tokenizer.DefaultPrivateKeyFile, tokenizer.DefaultPublicKeyFile
	if d, ok := cfg.Drivers[driver]; ok {
		if d.PrivateKey != "" {
			private = d.PrivateKey
		}
		if d.PublicKey != "" {
			public = d.PublicKey
		}
	}
	return tokenizer.ResolveKeyPath(cfg.KeyPath, private), tokenizer.ResolveKeyPath(cfg.KeyPath, public)
}

func generateKeys(algo string, length int, privatePath, publicPath string, force bool) error {
	privatePEM, publicPEM, err := tokenizer.GenerateKeyPair(algo, length)
	if err != nil {
		return err
	}
	if err := tokenizer.WriteKeyPair(privatePath, publicPath, privatePEM, publicPEM, force); err != nil {
		return fmt.Errorf("%w. Use the --force option to overwrite them", err)
	}
	return nil
}
