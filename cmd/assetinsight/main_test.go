package main

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func runCLI(t *testing.T, databasePath string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd, state := newRootCommand(&out)
	rootCmd.SetArgs(append([]string{"--database-path", databasePath, "--log-level", "error"}, args...))
	runErr := rootCmd.Execute()
	if closeErr := state.close(); closeErr != nil {
		t.Fatalf("close: %v", closeErr)
	}
	return out.String(), runErr
}

func mustRunCLI(t *testing.T, databasePath string, args ...string) string {
	t.Helper()
	output, err := runCLI(t, databasePath, args...)
	if err != nil {
		t.Fatalf("%v: %v", args, err)
	}
	return output
}

func TestRecordAndTotalsOffline(t *testing.T) {
	databasePath := filepath.Join(t.TempDir(), "cli.db")

	mustRunCLI(t, databasePath, "record", "2024-01-01", "cash", "1,250.50", "--memo", "wallet")
	mustRunCLI(t, databasePath, "record", "2024-01-02", "bank", "100")

	testCases := []struct {
		name     string
		args     []string
		expected string
	}{
		{name: "before bank entry", args: []string{"total", "--date", "2024-01-01"}, expected: "2024-01-01 1250.50\n"},
		{name: "after bank entry", args: []string{"total", "--date", "2024-01-02"}, expected: "2024-01-02 1350.50\n"},
		{name: "before any entry", args: []string{"total", "--date", "2023-12-31"}, expected: "2023-12-31 0.00\n"},
		{
			name:     "forward filled series",
			args:     []string{"series", "--from", "2024-01-01", "--to", "2024-01-03"},
			expected: "2024-01-01 1250.50\n2024-01-02 1350.50\n2024-01-03 1350.50\n",
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if output := mustRunCLI(t, databasePath, testCase.args...); output != testCase.expected {
				t.Fatalf("expected %q, got %q", testCase.expected, output)
			}
		})
	}

	breakdown := mustRunCLI(t, databasePath, "breakdown", "--date", "2024-01-02")
	if !strings.Contains(breakdown, "Cash") || !strings.Contains(breakdown, "1250.50") {
		t.Fatalf("breakdown is missing the cash row:\n%s", breakdown)
	}

	mustRunCLI(t, databasePath, "delete", "2024-01-02", "bank")
	if output := mustRunCLI(t, databasePath, "total", "--date", "2024-01-02"); output != "2024-01-02 1250.50\n" {
		t.Fatalf("deleted entry still counted: %q", output)
	}
}

func TestStatusWithoutSignIn(t *testing.T) {
	databasePath := filepath.Join(t.TempDir(), "cli.db")
	mustRunCLI(t, databasePath, "record", "2024-01-01", "cash", "5")

	output := mustRunCLI(t, databasePath, "status")
	if !strings.Contains(output, "not signed in") {
		t.Fatalf("expected signed-out status, got %q", output)
	}
	if !strings.Contains(output, "pending changes: 1") {
		t.Fatalf("expected one pending change, got %q", output)
	}
}

func TestCustomCategoryLifecycle(t *testing.T) {
	databasePath := filepath.Join(t.TempDir(), "cli.db")

	id := strings.TrimSpace(mustRunCLI(t, databasePath, "categories", "add", "Pension", "--icon", "ic_pension"))
	if id == "" {
		t.Fatalf("expected a generated category id")
	}
	mustRunCLI(t, databasePath, "categories", "rename", id, "Retirement")

	listing := mustRunCLI(t, databasePath, "categories")
	if !strings.Contains(listing, "Retirement") {
		t.Fatalf("renamed category missing:\n%s", listing)
	}

	mustRunCLI(t, databasePath, "categories", "remove", id)
	listing = mustRunCLI(t, databasePath, "categories")
	if strings.Contains(listing, "Retirement") {
		t.Fatalf("removed category still listed:\n%s", listing)
	}

	if _, err := runCLI(t, databasePath, "categories", "remove", "cash"); err == nil {
		t.Fatalf("expected default category removal to fail")
	}
}

func TestUsageErrors(t *testing.T) {
	databasePath := filepath.Join(t.TempDir(), "cli.db")

	if _, err := runCLI(t, databasePath, "sync", "--mode", "sideways"); !errors.Is(err, errUsage) {
		t.Fatalf("expected usage error for unknown mode, got %v", err)
	}
	t.Setenv(passwordEnv, "")
	if _, err := runCLI(t, databasePath, "login", "someone@example.com"); !errors.Is(err, errUsage) {
		t.Fatalf("expected usage error without password, got %v", err)
	}
	if _, err := runCLI(t, databasePath, "record", "2024-02-30", "cash", "1"); err == nil {
		t.Fatalf("expected invalid date to be rejected")
	}
	if _, err := runCLI(t, databasePath, "record", "2024-02-01", "cash", "1.005"); err == nil {
		t.Fatalf("expected sub-cent amount to be rejected")
	}
}
