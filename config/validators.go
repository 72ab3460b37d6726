package config

import (
	"os"
	"strconv"
	"strings"
)

// This file is the predicate library described in spec.md §4.3. Grounded
// on original_source/src/config/Validators.cpp, ported to pure functions
// over strings with no exceptions — failures are reported as bool, the
// caller attaches location via ParseError (spec.md §9's exception-driven
// control flow reshape).

// validPort reports whether s is a base-10 integer in [1, 65535] with no
// surrounding whitespace or extra characters.
func validPort(s string) bool {
	if s == "" {
		return false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return false
	}
	return n >= 1 && n <= 65535
}

// ValidHostname is the exported form of validHostname, for callers
// outside this package (the request parser's hostname-fallback check)
// that need the identical predicate without duplicating it.
func ValidHostname(s string) bool {
	return validHostname(s)
}

// validHostname rejects empty labels, labels over 63 chars, hostnames
// over 253 chars, and labels starting/ending with '-'.
func validHostname(s string) bool {
	if s == "" || len(s) > 253 {
		return false
	}
	labels := strings.Split(s, ".")
	for _, label := range labels {
		if !validHostnameLabel(label) {
			return false
		}
	}
	return true
}

func validHostnameLabel(label string) bool {
	if len(label) < 1 || len(label) > 63 {
		return false
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return false
	}
	for i := 0; i < len(label); i++ {
		c := label[i]
		if !isAlnum(c) && c != '-' {
			return false
		}
	}
	return true
}

func isAlnum(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// validErrorCode reports whether s is exactly 3 digits whose first digit
// is '4' or '5'.
func validErrorCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for i := 0; i < 3; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s[0] == '4' || s[0] == '5'
}

// validHTMLFile reports whether path has a (case-insensitive) .html
// suffix and points at an existing regular file.
func validHTMLFile(path string) bool {
	if path == "" || !strings.HasSuffix(strings.ToLower(path), ".html") {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}

// validDirectory reports whether path exists and is a directory.
func validDirectory(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// validURL is deliberately permissive (spec.md §4.3: "non-empty
// (extension point)") — callers only require a non-empty redirect/route
// target string.
func validURL(s string) bool {
	return s != ""
}

// validBodySize reports whether s is a base-10 integer in [10, 2^32-1].
func validBodySize(s string) bool {
	if s == "" {
		return false
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return false
	}
	return n >= 10 && n <= (1<<32)-1
}
