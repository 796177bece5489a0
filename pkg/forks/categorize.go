package forks

import "strings"

// Category classifies a commit by its message.
type Category string

const (
	CategoryFeature  Category = "feature"
	CategoryBugfix   Category = "bugfix"
	CategoryDocs     Category = "docs"
	CategoryRefactor Category = "refactor"
	CategoryTest     Category = "test"
	CategoryOther    Category = "other"
)

// Keyword tables checked in order: the first matching category wins.
// Bugfix before feature, so "fix feature flag handling" counts as a fix.
var categoryKeywords = []struct {
	category Category
	keywords []string
}{
	{CategoryBugfix, []string{"fix", "bug", "patch", "hotfix", "repair", "resolve"}},
	{CategoryDocs, []string{"doc", "readme", "comment", "typo", "changelog"}},
	{CategoryTest, []string{"test", "spec", "coverage"}},
	{CategoryRefactor, []string{"refactor", "cleanup", "clean up", "restructure", "rename", "simplify"}},
	{CategoryFeature, []string{"add", "feat", "implement", "support", "new", "introduce", "create"}},
}

// Categorize assigns a category to a commit message by case-insensitive
// keyword matching against the first line.
func Categorize(message string) Category {
	subject := message
	if idx := strings.IndexByte(subject, '\n'); idx >= 0 {
		subject = subject[:idx]
	}
	subject = strings.ToLower(subject)

	for _, entry := range categoryKeywords {
		for _, keyword := range entry.keywords {
			if strings.Contains(subject, keyword) {
				return entry.category
			}
		}
	}
	return CategoryOther
}
