package executor

import (
	"bufio"
	"strings"

	"github.com/cloud-shuttle/muster/pkg/types"
)

// Agents report their own classification of a successful phase on a
// trailing line of the form "VERDICT: <value>". Scanning happens from the
// bottom up so chatter that merely quotes the contract doesn't win.
const verdictPrefix = "VERDICT:"

// ParseVerdict extracts the agent's self-reported verdict from its output.
// A successful run with no trailer, or with an unrecognized value, is a
// plain pass: the subprocess exit status already vouched for it.
func ParseVerdict(output string) types.Verdict {
	lines := scanLines(output)
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if !strings.HasPrefix(strings.ToUpper(line), verdictPrefix) {
			continue
		}
		value := strings.TrimSpace(line[len(verdictPrefix):])
		switch normalizeVerdict(value) {
		case "pass":
			return types.VerdictPass
		case "pass-with-notes":
			return types.VerdictPassWithNotes
		case "needs-external-verification", "needs-verification":
			return types.VerdictNeedsVerification
		}
		// Unrecognized trailer value. Keep scanning upward in case an
		// earlier line carries a well-formed one.
	}
	return types.VerdictPass
}

// normalizeVerdict lowercases and collapses separator variants so
// "PASS WITH NOTES" and "pass_with_notes" both match
func normalizeVerdict(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "_", "-")
	s = strings.ReplaceAll(s, " ", "-")
	return s
}

func scanLines(s string) []string {
	var lines []string
	scanner := bufio.NewScanner(strings.NewReader(s))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}
