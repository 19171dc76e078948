// Package policy maps a file's modification time and a user-chosen folder
// layout to the relative key an object is stored under.
package policy

import (
	"fmt"
	"strings"
	"time"
)

// Kind selects the folder layout variant.
type Kind string

const (
	KindNone   Kind = "none"
	KindCustom Kind = "custom"
	KindByDate Kind = "by_date"
)

// DatePattern is a closed set of date folder layouts.
type DatePattern string

const (
	PatternYear           DatePattern = "YYYY"
	PatternYearMonth      DatePattern = "YYYY/MM"
	PatternYearMonthDay   DatePattern = "YYYY/MM/DD"
	PatternDashed         DatePattern = "YYYY-MM-DD"
	PatternCompact        DatePattern = "YYYYMMDD"
	PatternYearMonthName  DatePattern = "YYYY/MMM"
	PatternMonthNameDay   DatePattern = "YYYY/MMM/DD"
	PatternSpaced         DatePattern = "YYYY MMM DD"
	PatternNested         DatePattern = "YYYY/YYYY-MM/YYYY-MM-DD"
)

// Go time layouts for each pattern.
var patternLayouts = map[DatePattern]string{
	PatternYear:          "2006",
	PatternYearMonth:     "2006/01",
	PatternYearMonthDay:  "2006/01/02",
	PatternDashed:        "2006-01-02",
	PatternCompact:       "20060102",
	PatternYearMonthName: "2006/Jan",
	PatternMonthNameDay:  "2006/Jan/02",
	PatternSpaced:        "2006 Jan 02",
	PatternNested:        "2006/2006-01/2006-01-02",
}

// Patterns returns the supported date patterns.
func Patterns() []DatePattern {
	return []DatePattern{
		PatternYear, PatternYearMonth, PatternYearMonthDay, PatternDashed,
		PatternCompact, PatternYearMonthName, PatternMonthNameDay,
		PatternSpaced, PatternNested,
	}
}

// Policy is the folder layout rule applied to imported files.
type Policy struct {
	Kind    Kind        `json:"kind"`
	Name    string      `json:"name,omitempty"`    // Custom
	Pattern DatePattern `json:"pattern,omitempty"` // ByDate
}

func None() Policy {
	return Policy{Kind: KindNone}
}

func Custom(name string) Policy {
	return Policy{Kind: KindCustom, Name: name}
}

func ByDate(pattern DatePattern) Policy {
	return Policy{Kind: KindByDate, Pattern: pattern}
}

func (p Policy) Validate() error {
	switch p.Kind {
	case KindNone:
		return nil
	case KindCustom:
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("policy: custom folder name is empty")
		}
		return nil
	case KindByDate:
		if _, ok := patternLayouts[p.Pattern]; !ok {
			return fmt.Errorf("policy: unknown date pattern %q", p.Pattern)
		}
		return nil
	default:
		return fmt.Errorf("policy: unknown kind %q", p.Kind)
	}
}

// Key derives the logical object key for basename under this policy.
// It is a pure function of (policy, basename, modTime). A zero modTime
// falls back to the current time. The rendered prefix never contains
// empty segments and is joined with forward slashes.
func (p Policy) Key(basename string, modTime time.Time) string {
	prefix := p.Prefix(modTime)
	if prefix == "" {
		return basename
	}
	return prefix + "/" + basename
}

// Prefix renders the folder prefix without the basename.
func (p Policy) Prefix(modTime time.Time) string {
	switch p.Kind {
	case KindCustom:
		return cleanSegments(p.Name)
	case KindByDate:
		layout, ok := patternLayouts[p.Pattern]
		if !ok {
			return ""
		}
		if modTime.IsZero() {
			modTime = time.Now()
		}
		return cleanSegments(modTime.Local().Format(layout))
	default:
		return ""
	}
}

// cleanSegments normalises separators and drops empty path segments.
func cleanSegments(raw string) string {
	raw = strings.ReplaceAll(raw, "\\", "/")
	parts := strings.Split(raw, "/")
	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" || part == "." || part == ".." {
			continue
		}
		segments = append(segments, part)
	}
	return strings.Join(segments, "/")
}
