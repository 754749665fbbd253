package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

var seamMu sync.Mutex

func stubLookPath(t *testing.T, fn func(string) (string, error)) {
	t.Helper()
	seamMu.Lock()
	restore := lookPath
	lookPath = fn
	t.Cleanup(func() {
		lookPath = restore
		seamMu.Unlock()
	})
}

func TestExportParsesVaultOutput(t *testing.T) {
	stubLookPath(t, func(string) (string, error) { return "/usr/local/bin/aws-vault", nil })

	restore := captureOutput
	captureOutput = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		if name != "aws-vault" {
			t.Fatalf("unexpected binary: %s", name)
		}
		want := []string{"export", "--format=json", "dev"}
		if len(args) != len(want) {
			t.Fatalf("unexpected args: %v", args)
		}
		for i := range want {
			if args[i] != want[i] {
				t.Fatalf("arg %d mismatch: got %q want %q", i, args[i], want[i])
			}
		}
		return []byte(`{
			"Version": 1,
			"AccessKeyId": "AKIAEXAMPLE",
			"SecretAccessKey": "secret",
			"SessionToken": "token",
			"Expiration": "2024-03-01T12:00:00Z"
		}`), nil
	}
	t.Cleanup(func() { captureOutput = restore })

	creds, err := NewBroker().Export(context.Background(), "dev")
	if err != nil {
		t.Fatalf("Export returned error: %v", err)
	}
	if creds.AccessKeyID != "AKIAEXAMPLE" || creds.SecretAccessKey != "secret" || creds.SessionToken != "token" {
		t.Fatalf("unexpected credential set: %+v", creds)
	}
	want := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if !creds.Expiry.Equal(want) {
		t.Fatalf("expiry mismatch: got %v want %v", creds.Expiry, want)
	}
}

func TestExportVaultUnavailable(t *testing.T) {
	stubLookPath(t, func(string) (string, error) { return "", errors.New("not found") })

	called := false
	restore := captureOutput
	captureOutput = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		called = true
		return nil, nil
	}
	t.Cleanup(func() { captureOutput = restore })

	_, err := NewBroker().Export(context.Background(), "dev")
	if !errors.Is(err, ErrVaultUnavailable) {
		t.Fatalf("expected ErrVaultUnavailable, got %v", err)
	}
	if called {
		t.Fatal("vault subprocess must not run when the binary is missing")
	}
}

func TestExportAuthenticationFailure(t *testing.T) {
	stubLookPath(t, func(string) (string, error) { return "/usr/local/bin/aws-vault", nil })

	restore := captureOutput
	captureOutput = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return nil, fmt.Errorf("aws-vault export: exit status 1: failed to refresh session")
	}
	t.Cleanup(func() { captureOutput = restore })

	_, err := NewBroker().Export(context.Background(), "dev")
	if !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}
}

func TestLoginAuthenticationFailure(t *testing.T) {
	stubLookPath(t, func(string) (string, error) { return "/usr/local/bin/aws-vault", nil })

	restore := runAttached
	runAttached = func(ctx context.Context, name string, args ...string) error {
		if len(args) != 2 || args[0] != "login" || args[1] != "dev" {
			t.Fatalf("unexpected login invocation: %s %v", name, args)
		}
		return errors.New("exit status 1")
	}
	t.Cleanup(func() { runAttached = restore })

	err := NewBroker().Login(context.Background(), "dev")
	if !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}
}

func TestParseExportRejectsPartialCredentials(t *testing.T) {
	t.Parallel()

	if _, err := parseExport([]byte(`{"AccessKeyId": "AKIAEXAMPLE"}`)); err == nil {
		t.Fatal("expected error for credential set without a secret key")
	}
	if _, err := parseExport([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed output")
	}
}

func TestCredentialSetEnv(t *testing.T) {
	t.Parallel()

	creds := CredentialSet{AccessKeyID: "AKIA", SecretAccessKey: "s3cret", SessionToken: "tok"}
	env := creds.Env()
	want := []string{
		"AWS_ACCESS_KEY_ID=AKIA",
		"AWS_SECRET_ACCESS_KEY=s3cret",
		"AWS_SESSION_TOKEN=tok",
	}
	if len(env) != len(want) {
		t.Fatalf("unexpected env length: %v", env)
	}
	for i := range want {
		if env[i] != want[i] {
			t.Fatalf("env %d mismatch: got %q want %q", i, env[i], want[i])
		}
	}

	creds.SessionToken = ""
	if env := creds.Env(); len(env) != 2 {
		t.Fatalf("session token should be omitted when empty: %v", env)
	}
}

func TestProfilesReadsSharedConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config")
	content := strings.Join([]string{
		"[default]",
		"region = eu-west-1",
		"",
		"[profile staging]",
		"sso_start_url = https://example.awsapps.com/start",
		"",
		"[profile prod]",
		"sso_start_url = https://example.awsapps.com/start",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("AWS_CONFIG_FILE", path)

	profiles, err := Profiles()
	if err != nil {
		t.Fatalf("Profiles returned error: %v", err)
	}
	want := []string{"prod", "staging"}
	if len(profiles) != len(want) {
		t.Fatalf("unexpected profiles: %v", profiles)
	}
	for i := range want {
		if profiles[i] != want[i] {
			t.Fatalf("profile %d mismatch: got %q want %q", i, profiles[i], want[i])
		}
	}
}

func TestProfilesMissingFile(t *testing.T) {
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(t.TempDir(), "does-not-exist"))

	profiles, err := Profiles()
	if err != nil {
		t.Fatalf("Profiles returned error: %v", err)
	}
	if profiles != nil {
		t.Fatalf("expected nil profiles, got %v", profiles)
	}
}
