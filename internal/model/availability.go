package model

import (
	"fmt"
	"strings"
)

// Availability describes how much of an event type a recording carries.
// Levels are ordered: a higher level satisfies every lower requirement.
type Availability int

const (
	AvailabilityUnknown Availability = iota
	AvailabilityUnavailable
	AvailabilityDisabled
	AvailabilityEnabled
	AvailabilityAvailable
)

var availabilityNames = map[Availability]string{
	AvailabilityUnknown:     "unknown",
	AvailabilityUnavailable: "unavailable",
	AvailabilityDisabled:    "disabled",
	AvailabilityEnabled:     "enabled",
	AvailabilityAvailable:   "available",
}

func (a Availability) String() string {
	if name, ok := availabilityNames[a]; ok {
		return name
	}
	return fmt.Sprintf("availability(%d)", int(a))
}

// Less reports whether a is strictly less available than b.
func (a Availability) Less(b Availability) bool {
	return a < b
}

// Satisfies reports whether a meets the required level.
func (a Availability) Satisfies(required Availability) bool {
	return !a.Less(required)
}

// MinAvailability returns the least available level; Available for no input.
func MinAvailability(levels ...Availability) Availability {
	out := AvailabilityAvailable
	for _, l := range levels {
		if l.Less(out) {
			out = l
		}
	}
	return out
}

func (a Availability) MarshalText() ([]byte, error) {
	if _, ok := availabilityNames[a]; !ok {
		return nil, fmt.Errorf("invalid availability %d", int(a))
	}
	return []byte(a.String()), nil
}

func (a *Availability) UnmarshalText(b []byte) error {
	parsed, err := ParseAvailability(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func ParseAvailability(v string) (Availability, error) {
	key := strings.ToLower(strings.TrimSpace(v))
	for level, name := range availabilityNames {
		if name == key {
			return level, nil
		}
	}
	return AvailabilityUnknown, fmt.Errorf("unknown availability %q", v)
}

// EventRequirement declares the minimum availability a rule needs for one event type.
type EventRequirement struct {
	TypeID string       `json:"type_id" yaml:"type"`
	Level  Availability `json:"level" yaml:"level"`
}

func Requires(typeID string, level Availability) EventRequirement {
	return EventRequirement{TypeID: typeID, Level: level}
}
