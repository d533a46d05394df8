package model

type Kind string

const (
	KindNumber   Kind = "number"
	KindPercent  Kind = "percent"
	KindDuration Kind = "duration"
	KindString   Kind = "string"
	KindBool     Kind = "bool"
	KindList     Kind = "list"
	KindTime     Kind = "time"
)

// Bounds restricts numeric preference values. Nil fields are open.
type Bounds struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
	// MinExclusive rejects values equal to Min.
	MinExclusive bool `json:"min_exclusive,omitempty"`
}

func Between(min, max float64) *Bounds {
	return &Bounds{Min: &min, Max: &max}
}

func AtLeastValue(min float64) *Bounds {
	return &Bounds{Min: &min}
}

// Positive admits values strictly above zero, as scoring limits require.
func Positive() *Bounds {
	zero := 0.0
	return &Bounds{Min: &zero, MinExclusive: true}
}

// TypedPreference is a named, typed, defaulted configuration input of a rule.
// Its identity is Key.
type TypedPreference struct {
	Key         string  `json:"key"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Kind        Kind    `json:"kind"`
	Default     any     `json:"default"`
	Bounds      *Bounds `json:"bounds,omitempty"`
}

// TypedResult is a named, typed output value a rule declares it may attach.
type TypedResult struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Kind        Kind   `json:"kind"`
}

var ScoreResult = TypedResult{
	Key:         "score",
	Name:        "Score",
	Description: "Severity score between 0 and 100",
	Kind:        KindNumber,
}
