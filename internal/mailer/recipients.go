package mailer

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// mainRosterFile is the fallback roster consulted for every job.
const mainRosterFile = "recipients.txt"

// LoadRecipients reads one address per line from path. Blank lines, comment
// lines starting with '#', and anything that does not look like an address
// are skipped. A missing file yields an empty list, not an error.
func LoadRecipients(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var recipients []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		addr := strings.TrimSpace(scanner.Text())
		if addr == "" || strings.HasPrefix(addr, "#") {
			continue
		}
		if emailPattern.MatchString(addr) {
			recipients = append(recipients, addr)
		}
	}
	return recipients
}

// RecipientsFor merges the group roster (recipients_<group>.txt) with the
// main roster, group first, de-duplicated preserving order. An empty group
// uses only the main roster.
func RecipientsFor(recipientsDir, group string) []string {
	var merged []string
	if group != "" {
		merged = append(merged, LoadRecipients(filepath.Join(recipientsDir, "recipients_"+group+".txt"))...)
	}
	merged = append(merged, LoadRecipients(filepath.Join(recipientsDir, mainRosterFile))...)

	seen := make(map[string]struct{}, len(merged))
	out := merged[:0]
	for _, addr := range merged {
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out
}

// FirstRecipient returns the first address from the main roster, or "" when
// the roster is empty.
func FirstRecipient(recipientsDir string) string {
	recipients := LoadRecipients(filepath.Join(recipientsDir, mainRosterFile))
	if len(recipients) == 0 {
		return ""
	}
	return recipients[0]
}

// DiscoverGroups lists the group names that have a roster file, sorted.
func DiscoverGroups(recipientsDir string) []string {
	matches, err := filepath.Glob(filepath.Join(recipientsDir, "recipients_*.txt"))
	if err != nil {
		return nil
	}
	groups := make([]string, 0, len(matches))
	for _, match := range matches {
		base := filepath.Base(match)
		group := strings.TrimSuffix(strings.TrimPrefix(base, "recipients_"), ".txt")
		if group != "" {
			groups = append(groups, group)
		}
	}
	sort.Strings(groups)
	return groups
}
