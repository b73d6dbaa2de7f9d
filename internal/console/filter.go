package console

import (
	"fmt"
	"regexp"
	"strings"
)

// Filter types accepted by NewOutputFilter
const (
	FilterNone   = "none"
	FilterErrors = "errors"
	FilterSearch = "search"
	FilterRegex  = "regex"
)

// OutputFilter filters console output based on criteria
type OutputFilter struct {
	FilterType    string
	Pattern       string
	CaseSensitive bool
	regex         *regexp.Regexp
}

// NewOutputFilter creates a new output filter. An empty type means none.
func NewOutputFilter(filterType, pattern string, caseSensitive bool) (*OutputFilter, error) {
	if filterType == "" {
		filterType = FilterNone
	}

	filter := &OutputFilter{
		FilterType:    filterType,
		Pattern:       pattern,
		CaseSensitive: caseSensitive,
	}

	switch filterType {
	case FilterNone, FilterErrors, FilterSearch:
	case FilterRegex:
		if pattern != "" {
			flags := ""
			if !caseSensitive {
				flags = "(?i)"
			}
			compiled, err := regexp.Compile(flags + pattern)
			if err != nil {
				return nil, fmt.Errorf("invalid filter pattern: %w", err)
			}
			filter.regex = compiled
		}
	default:
		return nil, fmt.Errorf("unknown filter type: %s", filterType)
	}

	return filter, nil
}

// Match reports whether a line passes the filter
func (f *OutputFilter) Match(line Line) bool {
	switch f.FilterType {
	case FilterErrors:
		return line.Category == CategoryError || line.Category == CategoryWarning || isErrorText(line.Text)

	case FilterSearch:
		if f.Pattern == "" {
			return true
		}
		if f.CaseSensitive {
			return strings.Contains(line.Text, f.Pattern)
		}
		return strings.Contains(strings.ToLower(line.Text), strings.ToLower(f.Pattern))

	case FilterRegex:
		if f.regex == nil {
			return true
		}
		return f.regex.MatchString(line.Text)

	default:
		return true
	}
}

// FilterLines applies the filter to multiple lines
func (f *OutputFilter) FilterLines(lines []Line) []Line {
	if f.FilterType == FilterNone {
		return lines
	}

	filtered := []Line{}
	for _, line := range lines {
		if f.Match(line) {
			filtered = append(filtered, line)
		}
	}
	return filtered
}

var errorKeywords = []string{
	"error",
	"exception",
	"fatal",
	"failed",
	"crash",
}

func isErrorText(text string) bool {
	lower := strings.ToLower(text)
	for _, keyword := range errorKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}
