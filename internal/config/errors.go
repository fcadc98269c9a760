package config

import "strings"

// ValidationError aggregates configuration issues.
type ValidationError struct {
	Source string
	Issues []string
}

func (e *ValidationError) Error() string {
	prefix := "config validation failed"
	if e.Source != "" {
		prefix = e.Source + ": " + prefix
	}
	if len(e.Issues) == 0 {
		return prefix
	}
	return prefix + ": " + strings.Join(e.Issues, "; ")
}

func (e *ValidationError) Add(issue string) {
	if strings.TrimSpace(issue) == "" {
		return
	}
	e.Issues = append(e.Issues, issue)
}

func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Issues) == 0 {
		return nil
	}
	return e
}
