// Package vault wraps the aws-vault subprocess. It exchanges a profile name
// for short-lived credentials or drives the interactive login flow; it holds
// no credential storage of its own.
package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

const defaultBinary = "aws-vault"

var (
	// ErrVaultUnavailable means the vault binary is not installed or not on
	// PATH. Actionable by installing aws-vault, never by retrying.
	ErrVaultUnavailable = errors.New("aws-vault not found; is it installed and in your PATH?")

	// ErrAuthenticationFailed means the vault ran but refused to produce
	// credentials. Login failures are user-actionable and are never retried.
	ErrAuthenticationFailed = errors.New("aws-vault authentication failed")
)

// CredentialSet is one short-lived credential grant. It lives only in process
// memory and in the environment of the single child the launcher starts.
type CredentialSet struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expiry          time.Time
}

// Env renders the credential set as environment variable assignments for a
// child process. The parent's own environment is never mutated.
func (c CredentialSet) Env() []string {
	env := []string{
		"AWS_ACCESS_KEY_ID=" + c.AccessKeyID,
		"AWS_SECRET_ACCESS_KEY=" + c.SecretAccessKey,
	}
	if c.SessionToken != "" {
		env = append(env, "AWS_SESSION_TOKEN="+c.SessionToken)
	}
	return env
}

// Broker shells out to aws-vault. The zero value is not usable; construct via
// NewBroker.
type Broker struct {
	binary string
}

func NewBroker() *Broker {
	return &Broker{binary: defaultBinary}
}

// Test seams: production code routes every subprocess through these variables
// so tests can intercept without spawning anything.
var (
	lookPath      = exec.LookPath
	runAttached   = runAttachedImpl
	captureOutput = captureOutputImpl
)

// Available reports whether the vault binary can be found at all.
func (b *Broker) Available() error {
	if _, err := lookPath(b.binary); err != nil {
		return fmt.Errorf("%w", ErrVaultUnavailable)
	}
	return nil
}

// Login runs the vault's interactive login for the profile, attached to the
// terminal so the identity provider flow can prompt the user.
func (b *Broker) Login(ctx context.Context, profile string) error {
	if err := b.Available(); err != nil {
		return err
	}
	if err := runAttached(ctx, b.binary, "login", profile); err != nil {
		return fmt.Errorf("login to profile %q: %w", profile, ErrAuthenticationFailed)
	}
	return nil
}

// Export mints a credential set for the profile via `aws-vault export
// --format=json` and parses the structured output. No retry: a failed export
// means the user has to re-authenticate or fix the profile.
func (b *Broker) Export(ctx context.Context, profile string) (CredentialSet, error) {
	if err := b.Available(); err != nil {
		return CredentialSet{}, err
	}

	out, err := captureOutput(ctx, b.binary, "export", "--format=json", profile)
	if err != nil {
		return CredentialSet{}, fmt.Errorf("export credentials for profile %q: %w", profile, ErrAuthenticationFailed)
	}
	return parseExport(out)
}

// parseExport decodes the credential_process-style JSON document aws-vault
// emits: AccessKeyId, SecretAccessKey, SessionToken, Expiration (RFC 3339).
func parseExport(data []byte) (CredentialSet, error) {
	var payload struct {
		AccessKeyID     string `json:"AccessKeyId"`
		SecretAccessKey string `json:"SecretAccessKey"`
		SessionToken    string `json:"SessionToken"`
		Expiration      string `json:"Expiration"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return CredentialSet{}, fmt.Errorf("parse vault output: %w", err)
	}
	if payload.AccessKeyID == "" || payload.SecretAccessKey == "" {
		return CredentialSet{}, fmt.Errorf("parse vault output: missing access key material")
	}

	creds := CredentialSet{
		AccessKeyID:     payload.AccessKeyID,
		SecretAccessKey: payload.SecretAccessKey,
		SessionToken:    payload.SessionToken,
	}
	if payload.Expiration != "" {
		expiry, err := time.Parse(time.RFC3339, payload.Expiration)
		if err != nil {
			return CredentialSet{}, fmt.Errorf("parse credential expiry %q: %w", payload.Expiration, err)
		}
		creds.Expiry = expiry
	}
	return creds, nil
}

func runAttachedImpl(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func captureOutputImpl(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, msg)
		}
		return nil, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return out, nil
}
