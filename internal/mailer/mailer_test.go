package mailer_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"scriberd/internal/config"
	"scriberd/internal/mailer"
)

func writeRoster(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write roster: %v", err)
	}
}

func TestLoadRecipientsFiltersJunk(t *testing.T) {
	dir := t.TempDir()
	writeRoster(t, dir, "recipients.txt", `
# team roster
alice@example.com

not-an-address
bob@example.com
`)

	recipients := mailer.LoadRecipients(filepath.Join(dir, "recipients.txt"))
	if len(recipients) != 2 || recipients[0] != "alice@example.com" || recipients[1] != "bob@example.com" {
		t.Fatalf("unexpected recipients: %v", recipients)
	}
}

func TestLoadRecipientsMissingFile(t *testing.T) {
	if recipients := mailer.LoadRecipients(filepath.Join(t.TempDir(), "nope.txt")); recipients != nil {
		t.Fatalf("expected nil for missing roster, got %v", recipients)
	}
}

func TestRecipientsForMergesGroupFirst(t *testing.T) {
	dir := t.TempDir()
	writeRoster(t, dir, "recipients.txt", "main@example.com\nshared@example.com\n")
	writeRoster(t, dir, "recipients_team.txt", "team@example.com\nshared@example.com\n")

	recipients := mailer.RecipientsFor(dir, "team")
	want := []string{"team@example.com", "shared@example.com", "main@example.com"}
	if len(recipients) != len(want) {
		t.Fatalf("expected %v, got %v", want, recipients)
	}
	for i := range want {
		if recipients[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, recipients)
		}
	}
}

func TestRecipientsForEmptyGroup(t *testing.T) {
	dir := t.TempDir()
	writeRoster(t, dir, "recipients.txt", "main@example.com\n")

	recipients := mailer.RecipientsFor(dir, "")
	if len(recipients) != 1 || recipients[0] != "main@example.com" {
		t.Fatalf("unexpected recipients: %v", recipients)
	}
}

func TestDiscoverGroups(t *testing.T) {
	dir := t.TempDir()
	writeRoster(t, dir, "recipients.txt", "main@example.com\n")
	writeRoster(t, dir, "recipients_team.txt", "a@example.com\n")
	writeRoster(t, dir, "recipients_board.txt", "b@example.com\n")

	groups := mailer.DiscoverGroups(dir)
	if len(groups) != 2 || groups[0] != "board" || groups[1] != "team" {
		t.Fatalf("unexpected groups: %v", groups)
	}
}

func TestRenderSubstitutesPlaceholders(t *testing.T) {
	got := mailer.Render("Transcript: {name} ({slug}) for {group}", mailer.Vars{
		Name:  "My Talk",
		Slug:  "my-talk",
		Group: "team",
	})
	if got != "Transcript: My Talk (my-talk) for team" {
		t.Fatalf("unexpected render: %q", got)
	}
}

func TestSendRequiresConfiguredTransport(t *testing.T) {
	m := mailer.New(config.SMTP{})
	if err := m.Send(context.Background(), "a@example.com", "s", "b", "", ""); err == nil {
		t.Fatal("expected error for unconfigured transport")
	}
}

func TestSmokeTestRequiresRecipients(t *testing.T) {
	m := mailer.New(config.SMTP{Host: "smtp.example.com", Sender: "svc@example.com"})
	if _, err := m.SmokeTest(context.Background(), t.TempDir()); err == nil {
		t.Fatal("expected error with empty roster")
	}
}
