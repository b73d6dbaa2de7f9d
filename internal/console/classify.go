package console

import (
	"regexp"
	"strings"
	"time"
)

// Category tags a server log line for display
type Category string

const (
	CategoryError            Category = "error"
	CategoryWarning          Category = "warning"
	CategoryPlayerConnect    Category = "player_connect"
	CategoryPlayerSpawn      Category = "player_spawn"
	CategoryPlayerDisconnect Category = "player_disconnect"
	CategoryStartup          Category = "startup"
	CategoryOther            Category = "other"
)

// Line is one classified server log line
type Line struct {
	Text     string    `json:"text"`
	Category Category  `json:"category"`
	Time     time.Time `json:"time"`
}

// first matching rule wins
var classifyRules = []struct {
	category Category
	match    func(string) bool
}{
	{CategoryError, regexp.MustCompile(`\[.*ERROR.*\]`).MatchString},
	{CategoryWarning, regexp.MustCompile(`\[.*WARN.*\]`).MatchString},
	{CategoryPlayerConnect, contains("Player connected")},
	{CategoryPlayerSpawn, contains("Player Spawned")},
	{CategoryPlayerDisconnect, contains("Player disconnected")},
	{CategoryStartup, contains("Server started")},
}

func contains(substr string) func(string) bool {
	return func(s string) bool { return strings.Contains(s, substr) }
}

// Classify returns the display category of a log line
func Classify(text string) Category {
	for _, rule := range classifyRules {
		if rule.match(text) {
			return rule.category
		}
	}
	return CategoryOther
}

// NewLine builds a classified line stamped with now
func NewLine(text string, now time.Time) Line {
	return Line{Text: text, Category: Classify(text), Time: now}
}
