// Package ostype identifies the operating system a shell session runs on.
package ostype

import (
	"runtime"
	"strings"
)

// Type is an operating system family.
type Type string

const (
	Unknown Type = "unknown"
	Linux   Type = "linux"
	MacOS   Type = "macos"
	Windows Type = "windows"
	BSD     Type = "bsd"
	Solaris Type = "solaris"
)

// Local returns the type of the machine this process runs on.
func Local() Type {
	switch runtime.GOOS {
	case "linux", "android":
		return Linux
	case "darwin":
		return MacOS
	case "windows":
		return Windows
	case "freebsd", "openbsd", "netbsd", "dragonfly":
		return BSD
	case "solaris", "illumos":
		return Solaris
	}
	return Unknown
}

// Parse interprets the output of a uname -s or $env:OS probe.
func Parse(probe string) Type {
	s := strings.ToLower(strings.TrimSpace(probe))
	switch {
	case s == "":
		return Unknown
	case strings.HasPrefix(s, "linux"):
		return Linux
	case strings.HasPrefix(s, "darwin"):
		return MacOS
	case strings.HasPrefix(s, "windows"), strings.Contains(s, "mingw"),
		strings.Contains(s, "msys"), strings.Contains(s, "cygwin"):
		return Windows
	case strings.HasSuffix(s, "bsd"), s == "dragonfly":
		return BSD
	case strings.HasPrefix(s, "sunos"):
		return Solaris
	}
	return Unknown
}

// IsWindows reports whether t uses Windows path and process semantics.
func (t Type) IsWindows() bool {
	return t == Windows
}

// PathSeparator returns the native path separator of t.
func (t Type) PathSeparator() string {
	if t == Windows {
		return `\`
	}
	return "/"
}

// Join joins path elements with the separator of t.
func (t Type) Join(elem ...string) string {
	sep := t.PathSeparator()
	parts := make([]string, 0, len(elem))
	for i, e := range elem {
		if e == "" {
			continue
		}
		if i > 0 {
			e = strings.TrimLeft(e, `/\`)
		}
		if i < len(elem)-1 {
			e = strings.TrimRight(e, `/\`)
		}
		parts = append(parts, e)
	}
	return strings.Join(parts, sep)
}

func (t Type) String() string {
	return string(t)
}
