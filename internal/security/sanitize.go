package security

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

const (
	// MaxTestIDLength bounds test IDs taken from URLs.
	MaxTestIDLength = 1024

	// MaxHeaderValueLength bounds build metadata taken from request headers.
	MaxHeaderValueLength = 4096
)

var (
	jobPattern        = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	repositoryPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+/[a-zA-Z0-9_.-]+$`)
	commitPattern     = regexp.MustCompile(`^[0-9a-fA-F]{7,40}$`)
)

// ValidateJobName ensures a job name is safe for use in paths and URLs.
func ValidateJobName(name string) error {
	if name == "" {
		return fmt.Errorf("job name cannot be empty")
	}
	if strings.HasPrefix(name, "-") {
		return fmt.Errorf("job name cannot start with '-'")
	}
	if !jobPattern.MatchString(name) {
		return fmt.Errorf("job name contains invalid characters (only a-z, A-Z, 0-9, _, - allowed)")
	}
	return nil
}

// ValidateRepository checks a GitHub repository given as owner/repo.
func ValidateRepository(repo string) error {
	if !repositoryPattern.MatchString(repo) || strings.Contains(repo, "..") {
		return fmt.Errorf("repository must be in owner/repo form, got %q", repo)
	}
	return nil
}

// ValidateCommitSHA checks an abbreviated or full hex commit hash.
func ValidateCommitSHA(sha string) error {
	if !commitPattern.MatchString(sha) {
		return fmt.Errorf("commit sha must be 7 to 40 hex characters")
	}
	return nil
}

// ValidateTestID checks a test node ID taken from a request path. IDs are
// slash-joined suite, class and case names, so slashes are allowed but
// empty or relative segments and control characters are not.
func ValidateTestID(id string) error {
	if len(id) > MaxTestIDLength {
		return fmt.Errorf("test id too long (maximum %d characters)", MaxTestIDLength)
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return fmt.Errorf("test id contains control characters")
		}
	}
	if id == "" {
		return nil
	}
	for _, segment := range strings.Split(id, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return fmt.Errorf("test id contains an empty or relative segment")
		}
	}
	return nil
}

// CleanHeaderValue strips control characters (other than newlines and tabs)
// from build metadata and truncates it to MaxHeaderValueLength bytes.
func CleanHeaderValue(s string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, strings.TrimSpace(s))

	if len(cleaned) > MaxHeaderValueLength {
		cleaned = strings.ToValidUTF8(cleaned[:MaxHeaderValueLength], "")
	}
	return cleaned
}
