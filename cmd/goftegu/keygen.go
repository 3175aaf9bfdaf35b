package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/4xmen/goftegu/pkg/e2ee"
)

// passphraseEnv supplies the backup passphrase when --passphrase is not given.
const passphraseEnv = "GOFTEGU_BACKUP_PASSPHRASE"

type keygenOptions struct {
	Out        string
	Passphrase string
}

func parseKeygenArgs(args []string) (keygenOptions, error) {
	opts := keygenOptions{Passphrase: os.Getenv(passphraseEnv)}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--out", "-o":
			i++
			if i >= len(args) || strings.TrimSpace(args[i]) == "" {
				return opts, fmt.Errorf("--out requires a file path")
			}
			opts.Out = args[i]
		case "--passphrase":
			i++
			if i >= len(args) {
				return opts, fmt.Errorf("--passphrase requires a value")
			}
			opts.Passphrase = args[i]
		default:
			return opts, fmt.Errorf("unknown keygen flag: %s", args[i])
		}
	}

	if opts.Out == "" {
		return opts, fmt.Errorf("--out is required")
	}
	if opts.Passphrase == "" {
		return opts, fmt.Errorf("a passphrase is required (--passphrase or %s)", passphraseEnv)
	}
	return opts, nil
}

func runKeygen(out io.Writer, args []string) error {
	opts, err := parseKeygenArgs(args)
	if err != nil {
		return err
	}

	if _, err := os.Stat(opts.Out); err == nil {
		return fmt.Errorf("%s already exists", opts.Out)
	}

	kp, err := e2ee.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("failed to generate key pair: %w", err)
	}
	backup, err := e2ee.SealBackup(kp, opts.Passphrase)
	if err != nil {
		return fmt.Errorf("failed to seal backup: %w", err)
	}
	if err := e2ee.WriteBackup(opts.Out, backup); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}

	fmt.Fprintf(out, "Public key : %s\n", kp.PublicKey)
	fmt.Fprintf(out, "Backup     : %s\n", opts.Out)
	return nil
}
