package cron

import (
	"strings"
	"testing"
)

func TestEntry(t *testing.T) {
	entry := Entry(1, 30, "/usr/local/bin/vdmsync", "/home/alice/.vdmsync", "/home/alice/.vdmsync/log.txt")

	if !strings.HasPrefix(entry, "30 1 * * * ") {
		t.Errorf("entry schedule wrong: %q", entry)
	}
	if !strings.Contains(entry, "--dir /home/alice/.vdmsync cron run") {
		t.Errorf("entry command wrong: %q", entry)
	}
	if !strings.Contains(entry, ">> /home/alice/.vdmsync/log.txt 2>&1") {
		t.Errorf("entry log redirection wrong: %q", entry)
	}
	if !strings.HasSuffix(entry, marker) {
		t.Errorf("entry must end with the ownership marker: %q", entry)
	}
}
