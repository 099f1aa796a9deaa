package config

import (
	"fmt"
	"strconv"
	"strings"

	"feeder/internal/bundle"
)

// PriorityDirectory is a directory to collect from and the priority its
// bundles are stamped with.
type PriorityDirectory struct {
	Path     string
	Priority int
}

func (d PriorityDirectory) String() string {
	return fmt.Sprintf("%s:%d", d.Path, d.Priority)
}

// ParsePriorityDirectory parses "path[:priority]". A suffix that is not an
// integer is part of the path and the default priority applies.
func ParsePriorityDirectory(s string) (PriorityDirectory, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return PriorityDirectory{}, fmt.Errorf("empty directory entry")
	}
	pd := PriorityDirectory{Path: s, Priority: bundle.DefaultPriority}
	if i := strings.LastIndex(s, ":"); i >= 0 {
		if p, err := strconv.Atoi(s[i+1:]); err == nil {
			pd.Path = s[:i]
			pd.Priority = p
		}
	}
	if pd.Path == "" {
		return PriorityDirectory{}, fmt.Errorf("directory entry %q has no path", s)
	}
	return pd, nil
}

// PriorityDirectories parses every entry, failing on the first bad one.
func PriorityDirectories(entries []string) ([]PriorityDirectory, error) {
	out := make([]PriorityDirectory, 0, len(entries))
	for _, e := range entries {
		pd, err := ParsePriorityDirectory(e)
		if err != nil {
			return nil, err
		}
		out = append(out, pd)
	}
	return out, nil
}
