package domain

import (
	"fmt"
	"strings"
)

// Priority orders ingestions for dispatch. Lower values are dispatched first.
type Priority int8

const (
	PriorityHigh Priority = iota
	PriorityMedium
	PriorityLow
)

// Priorities lists every tier in dispatch order.
var Priorities = []Priority{PriorityHigh, PriorityMedium, PriorityLow}

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "HIGH"
	case PriorityMedium:
		return "MEDIUM"
	case PriorityLow:
		return "LOW"
	default:
		return ""
	}
}

func (p Priority) Valid() bool {
	return p >= PriorityHigh && p <= PriorityLow
}

// ParsePriority parses a priority name (case-insensitive).
func ParsePriority(s string) (Priority, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HIGH":
		return PriorityHigh, nil
	case "MEDIUM":
		return PriorityMedium, nil
	case "LOW":
		return PriorityLow, nil
	default:
		return 0, fmt.Errorf("invalid priority %q (allowed: HIGH, MEDIUM, LOW)", s)
	}
}

func (p Priority) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid priority %d", int8(p))
	}
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(b []byte) error {
	parsed, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
