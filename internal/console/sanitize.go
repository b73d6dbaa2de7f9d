package console

import (
	"fmt"
	"regexp"
	"strings"
)

// Match all ANSI/VT100 escape sequences including CSI, OSC, and other control sequences
var ansiEscapePattern = regexp.MustCompile(`\x1b(\[[0-9;?!]*[A-Za-z>hp]|\([B0]|[=>])`)

// SanitizeLine strips escape sequences and control characters from log text
func SanitizeLine(line string) string {
	if line == "" {
		return ""
	}
	stripped := ansiEscapePattern.ReplaceAllString(line, "")
	return strings.Map(func(r rune) rune {
		if r == '\t' {
			return r
		}
		if r < 32 || r == 0x7f {
			return -1
		}
		return r
	}, stripped)
}

// SanitizeCommand validates a server command received from a remote caller
func SanitizeCommand(command string) (string, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return "", fmt.Errorf("command is empty")
	}
	if len(command) > 512 {
		return "", fmt.Errorf("command is too long")
	}
	if ansiEscapePattern.MatchString(command) {
		return "", fmt.Errorf("command contains escape sequences")
	}
	if strings.ContainsFunc(command, func(r rune) bool { return r < 32 || r == 0x7f }) {
		return "", fmt.Errorf("command contains control characters")
	}
	return command, nil
}
