package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/4xmen/goftegu/pkg/e2ee"
)

func TestKeygenWritesSealedBackup(t *testing.T) {
	out := filepath.Join(t.TempDir(), "alice.key")

	var buf bytes.Buffer
	if err := runKeygen(&buf, []string{"--out", out, "--passphrase", "correct horse"}); err != nil {
		t.Fatalf("runKeygen: %v", err)
	}

	info, err := os.Stat(out)
	if err != nil {
		t.Fatalf("backup not written: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("backup mode = %v, want 0600", info.Mode().Perm())
	}

	backup, err := e2ee.ReadBackup(out)
	if err != nil {
		t.Fatalf("ReadBackup: %v", err)
	}
	kp, err := e2ee.OpenBackup(backup, "correct horse")
	if err != nil {
		t.Fatalf("OpenBackup: %v", err)
	}
	if !strings.Contains(buf.String(), kp.PublicKey) {
		t.Fatalf("printed output %q does not contain public key %s", buf.String(), kp.PublicKey)
	}
	if strings.Contains(buf.String(), kp.PrivateKey) {
		t.Fatal("private key printed")
	}

	if _, err := e2ee.OpenBackup(backup, "wrong"); !errors.Is(err, e2ee.ErrWrongPassphrase) {
		t.Fatalf("OpenBackup(wrong) = %v, want ErrWrongPassphrase", err)
	}

	if err := runKeygen(&buf, []string{"--out", out, "--passphrase", "again"}); err == nil {
		t.Fatal("keygen overwrote an existing backup")
	}
}

func TestParseKeygenArgs(t *testing.T) {
	t.Setenv(passphraseEnv, "")

	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{name: "complete", args: []string{"--out", "k.json", "--passphrase", "p"}},
		{name: "short flag", args: []string{"-o", "k.json", "--passphrase", "p"}},
		{name: "missing out", args: []string{"--passphrase", "p"}, wantErr: true},
		{name: "missing passphrase", args: []string{"--out", "k.json"}, wantErr: true},
		{name: "dangling flag", args: []string{"--out"}, wantErr: true},
		{name: "unknown flag", args: []string{"--out", "k.json", "--passphrase", "p", "--force"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseKeygenArgs(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseKeygenArgs(%q) error = %v, wantErr %v", tt.args, err, tt.wantErr)
			}
		})
	}

	t.Setenv(passphraseEnv, "from-env")
	opts, err := parseKeygenArgs([]string{"--out", "k.json"})
	if err != nil || opts.Passphrase != "from-env" {
		t.Fatalf("env passphrase = %+v, %v", opts, err)
	}
}
