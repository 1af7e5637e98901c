package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const exampleConfig = "../../pushcron.example.yaml"

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateExampleConfig(t *testing.T) {
	out, err := run(t, "--config", exampleConfig, "validate")
	if err != nil {
		t.Fatalf("validate error: %v\n%s", err, out)
	}
	if !strings.Contains(out, "5 job(s), 3 scheduled") {
		t.Fatalf("output = %q", out)
	}
}

func TestValidateReportsBrokenJobs(t *testing.T) {
	p := filepath.Join(t.TempDir(), "bad.yaml")
	body := "jobs:\n  - name: x\n    schedule: \"0 9 * * *\"\n    timezone: Mars/Olympus\n    messages:\n      - {title: a, body: b}\n"
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	out, err := run(t, "--config", p, "validate")
	if err == nil {
		t.Fatalf("expected error, output %q", out)
	}
	if !strings.Contains(out, "❌") || !strings.Contains(out, "Mars/Olympus") {
		t.Fatalf("output = %q", out)
	}
}

func TestJobsListsNextRuns(t *testing.T) {
	out, err := run(t, "--config", exampleConfig, "jobs", "--next", "2")
	if err != nil {
		t.Fatalf("jobs error: %v", err)
	}
	for _, want := range []string{"daily_pregnancy_tip", "0 9 * * *", "09:00 IST", "test_all_users", "on demand", "caller_supplied:all_users|user_<id>"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFireDryRun(t *testing.T) {
	out, err := run(t, "--config", exampleConfig, "fire", "test_all_users", "--dry-run")
	if err != nil {
		t.Fatalf("fire error: %v", err)
	}
	if !strings.Contains(out, "broadcast(all_users)") || !strings.Contains(out, "🧪 Test Notification - Bump Bond") {
		t.Fatalf("output = %q", out)
	}

	out, err = run(t, "--config", exampleConfig, "fire", "direct_reminder", "--user", "42", "--dry-run")
	if err != nil {
		t.Fatalf("fire error: %v", err)
	}
	if !strings.Contains(out, "scoped(42)") {
		t.Fatalf("output = %q", out)
	}

	if _, err := run(t, "--config", exampleConfig, "fire", "nope", "--dry-run"); err == nil {
		t.Fatal("expected error for unknown job")
	}
}

func TestTokenMintsJWT(t *testing.T) {
	out, err := run(t, "--config", exampleConfig, "token", "--subject", "ops", "--ttl", "1h")
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	if parts := strings.Split(strings.TrimSpace(out), "."); len(parts) != 3 {
		t.Fatalf("token = %q, want a compact JWT", out)
	}
}
