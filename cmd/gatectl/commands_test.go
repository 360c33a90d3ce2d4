package main

import (
	"bytes"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"gatehouse.dev/internal/auth"
)

func runCmd(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return strings.TrimSpace(out.String()), err
}

func TestHashPasswordLegacy(t *testing.T) {
	t.Chdir(t.TempDir())
	got, err := runCmd(t, "", "hash-password", "--salt", "pepper", "secret")
	if err != nil {
		t.Fatalf("hash-password: %v", err)
	}
	if want := auth.NewPasswordScheme("pepper").LegacyDigest("secret"); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestHashPasswordDefaultSaltFromStdin(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GATEHOUSE_PASSWORD_SALT", "")
	got, err := runCmd(t, "admin123\n", "hash-password")
	if err != nil {
		t.Fatalf("hash-password: %v", err)
	}
	if got != "a94ab07da2175f6ca924e7b7a0e05e2b" {
		t.Fatalf("unexpected digest %q", got)
	}
}

func TestHashPasswordBcrypt(t *testing.T) {
	got, err := runCmd(t, "", "hash-password", "--bcrypt", "secret")
	if err != nil {
		t.Fatalf("hash-password: %v", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(got), []byte("secret")); err != nil {
		t.Fatalf("output is not a bcrypt hash of the input: %v", err)
	}
	if err := auth.NewPasswordScheme("").Verify(got, "secret"); err != nil {
		t.Fatalf("gateway would reject the hash: %v", err)
	}
}

func TestHashPasswordRejectsEmpty(t *testing.T) {
	if _, err := runCmd(t, "\n", "hash-password", "--salt", "x"); err == nil {
		t.Fatalf("expected error for empty password")
	}
}

func TestMigrateRequiresDSN(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GATEHOUSE_PG_DSN", "")
	_, err := runCmd(t, "", "migrate", "status")
	if err == nil || !strings.Contains(err.Error(), "missing DSN") {
		t.Fatalf("expected missing DSN error, got %v", err)
	}
}
