package contextengine

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var systemReminderBlock = regexp.MustCompile(`(?s)<system-reminder>.*?</system-reminder>`)

type transcriptEntry struct {
	Type    string `json:"type"`
	Message *struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// transcriptPath derives a session's JSONL transcript path from its
// working directory, following the editor's own project-directory naming
// convention: the cwd with path separators and dots replaced by dashes.
func transcriptPath(home, cwd, sessionID string) string {
	projectDir := strings.NewReplacer(string(filepath.Separator), "-", ".", "-").Replace(cwd)
	return filepath.Join(home, ".claude", "projects", projectDir, sessionID+".jsonl")
}

// lastAssistantMessage reads the transcript for sessionID under cwd and
// returns the text of the last assistant message, with any
// <system-reminder> blocks stripped. Malformed lines are skipped, not
// fatal; a missing or unreadable file yields "".
func lastAssistantMessage(cwd, sessionID string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	path := transcriptPath(home, cwd, sessionID)

	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close() //nolint:errcheck

	var last string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry transcriptEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if entry.Message == nil || entry.Message.Role != "assistant" {
			continue
		}
		if text := extractText(entry.Message.Content); text != "" {
			last = text
		}
	}

	return systemReminderBlock.ReplaceAllString(last, "")
}

// extractText pulls plain text out of a message content field, which is
// either a bare string or an array of typed content blocks.
func extractText(raw json.RawMessage) string {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}

	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}
