package policy

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var modTime = time.Date(2025, 3, 4, 10, 30, 0, 0, time.Local)

func TestKey_None(t *testing.T) {
	assert.Equal(t, "a.jpg", None().Key("a.jpg", modTime))
}

func TestKey_Custom(t *testing.T) {
	assert.Equal(t, "wedding/a.jpg", Custom("wedding").Key("a.jpg", modTime))
	assert.Equal(t, "jobs/wedding/a.jpg", Custom("jobs/wedding").Key("a.jpg", modTime))
	// separators are normalised, empty segments dropped
	assert.Equal(t, "jobs/wedding/a.jpg", Custom("jobs//wedding/").Key("a.jpg", modTime))
}

func TestKey_ByDate(t *testing.T) {
	cases := map[DatePattern]string{
		PatternYear:          "2025/a.jpg",
		PatternYearMonth:     "2025/03/a.jpg",
		PatternYearMonthDay:  "2025/03/04/a.jpg",
		PatternDashed:        "2025-03-04/a.jpg",
		PatternCompact:       "20250304/a.jpg",
		PatternYearMonthName: "2025/Mar/a.jpg",
		PatternMonthNameDay:  "2025/Mar/04/a.jpg",
		PatternSpaced:        "2025 Mar 04/a.jpg",
		PatternNested:        "2025/2025-03/2025-03-04/a.jpg",
	}
	for pattern, want := range cases {
		assert.Equal(t, want, ByDate(pattern).Key("a.jpg", modTime), "pattern %s", pattern)
	}
}

func TestKey_NoEmptySegments(t *testing.T) {
	for _, pattern := range Patterns() {
		key := ByDate(pattern).Key("a.jpg", modTime)
		for _, seg := range strings.Split(key, "/") {
			assert.NotEmpty(t, seg, "pattern %s produced empty segment in %q", pattern, key)
		}
	}
}

func TestKey_ZeroModTimeFallsBackToNow(t *testing.T) {
	key := ByDate(PatternYear).Key("a.jpg", time.Time{})
	assert.Equal(t, time.Now().Format("2006")+"/a.jpg", key)
}

func TestKey_Pure(t *testing.T) {
	p := ByDate(PatternNested)
	first := p.Key("b.cr2", modTime)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, p.Key("b.cr2", modTime))
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, None().Validate())
	assert.NoError(t, Custom("x").Validate())
	assert.NoError(t, ByDate(PatternYearMonthDay).Validate())

	assert.Error(t, Custom("  ").Validate())
	assert.Error(t, ByDate("YY/MM").Validate())
	assert.Error(t, Policy{Kind: "weird"}.Validate())
}
