// Package sanitize cleans raw terminal byte streams before they are
// forwarded to browser clients.
package sanitize

import (
	"regexp"
	"strings"
)

var (
	oscRe     = regexp.MustCompile(`\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)`)
	csiRe     = regexp.MustCompile(`\x1b\[[0-?]*[ -/]*[@-~]`)
	simpleRe  = regexp.MustCompile(`\x1b[@-Z\\-_]`)
	controlRe = regexp.MustCompile(`[\x00-\x08\x0b-\x0c\x0e-\x1f\x7f]`)
)

// Output strips terminal escape sequences and control bytes from data
// and normalizes line endings to LF. It is pure, stateless and
// idempotent, and never fails on arbitrary byte noise.
//
// Stripped: OSC sequences (ESC ] ... BEL or ST), CSI sequences
// (ESC [ ... final byte), two-byte simple escapes, and C0/C1 control
// bytes except newline. CRLF and lone CR become LF. If stripping
// removes all content but the input contained a line terminator, a
// single newline is returned so the "blank line" signal survives.
func Output(data string) string {
	if data == "" {
		return ""
	}

	cleaned := oscRe.ReplaceAllString(data, "")
	cleaned = csiRe.ReplaceAllString(cleaned, "")
	cleaned = simpleRe.ReplaceAllString(cleaned, "")
	cleaned = controlRe.ReplaceAllString(cleaned, "")

	cleaned = strings.ReplaceAll(cleaned, "\r\n", "\n")
	cleaned = strings.ReplaceAll(cleaned, "\r", "\n")

	if cleaned == "" && (strings.ContainsRune(data, '\n') || strings.ContainsRune(data, '\r')) {
		return "\n"
	}
	return cleaned
}

// OutputBytes is the byte-slice form of Output. A nil input stays nil
// so callers can distinguish "no data" from "empty data".
func OutputBytes(data []byte) []byte {
	if data == nil {
		return nil
	}
	return []byte(Output(string(data)))
}
