package calendar

import (
	"errors"
	"fmt"
	"strings"

	"masterplan/internal/domain"
)

var ErrUnknownMergeMode = errors.New("unknown merge mode")

// MergeMode selects how a remote collection is applied to the local one.
type MergeMode string

const (
	// ModeMerge keeps local-only events; remote wins on identity collision.
	ModeMerge MergeMode = "merge"
	// ModeReplace takes the remote collection wholesale.
	ModeReplace MergeMode = "replace"
)

func ParseMergeMode(s string) (MergeMode, error) {
	switch MergeMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeMerge:
		return ModeMerge, nil
	case ModeReplace:
		return ModeReplace, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMergeMode, s)
	}
}

// Merge applies remote onto local. Remote events come first in remote order,
// followed in merge mode by local events whose id the remote set lacks.
func Merge(mode MergeMode, local, remote []domain.CalendarEvent) ([]domain.CalendarEvent, error) {
	switch mode {
	case ModeReplace:
		return append([]domain.CalendarEvent{}, remote...), nil
	case ModeMerge, "":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMergeMode, mode)
	}
	ids := make(map[string]struct{}, len(remote))
	out := make([]domain.CalendarEvent, 0, len(remote)+len(local))
	for _, ev := range remote {
		ids[ev.ID] = struct{}{}
		out = append(out, ev)
	}
	for _, ev := range local {
		if _, ok := ids[ev.ID]; ok {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}
