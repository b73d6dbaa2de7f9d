package countdown

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Bedrock formatting codes used in broadcasts
const (
	colorNotice  = "§l§e"
	colorSuccess = "§l§a"
	colorFailure = "§l§c"
)

// Audible cues
const (
	soundBackupDone = "playsound random.orb @a"
	soundTick       = "playsound note.pling @a"
)

// World persistence commands
const (
	cmdSaveHold   = "save hold"
	cmdSaveQuery  = "save query"
	cmdSaveResume = "save resume"
	cmdStop       = "stop"
)

type rawTextPart struct {
	Text string `json:"text"`
}

type rawText struct {
	RawText []rawTextPart `json:"rawtext"`
}

// Tellraw builds a broadcast command visible to every connected player
func Tellraw(text string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encoding a fixed struct of strings cannot fail
	_ = enc.Encode(rawText{RawText: []rawTextPart{{Text: text}}})
	return "tellraw @a " + strings.TrimSpace(buf.String())
}

func pendingMessage(kind Kind) string {
	return fmt.Sprintf("[Server] Please wait for the server backup before %s...", kind.gerund())
}

func backupDoneMessage(kind Kind, leadInSeconds int) string {
	return fmt.Sprintf("[Backup] Backup completed. %s countdown begins in %d seconds...", kind.Title(), leadInSeconds)
}

func backupFailedMessage(kind Kind) string {
	return fmt.Sprintf("[Backup] Backup failed. %s canceled.", kind.Title())
}

func tickMessage(kind Kind, remaining int) string {
	return fmt.Sprintf("[Server] %s in %d seconds...", kind.progressive(), remaining)
}

func cancelledMessage(kind Kind) string {
	return fmt.Sprintf("[Server] %s cancelled!", kind.Title())
}

func failedMessage(kind Kind) string {
	return fmt.Sprintf("[Server] %s failed.", kind.Title())
}

func executingMessage(kind Kind) string {
	return fmt.Sprintf("[Server] %s server...", kind.progressive())
}
