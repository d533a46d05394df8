// Package checks holds the built-in diagnostic rules.
package checks

import (
	"flightcheck/internal/rule"
)

const (
	TopicRecording   = "recording"
	TopicClassLoad   = "class_loading"
	TopicExceptions  = "exceptions"
	TopicGC          = "garbage_collection"
	TopicCPU         = "cpu"
	TopicJVMSettings = "jvm_information"
)

const (
	TypeDataLoss       = "jdk.DataLoss"
	TypeClassLoad      = "jdk.ClassLoad"
	TypeClassUnload    = "jdk.ClassUnload"
	TypeErrorThrow     = "jdk.JavaErrorThrow"
	TypeGCPhasePause   = "jdk.GCPhasePause"
	TypeCPULoad        = "jdk.CPULoad"
	TypeJVMInformation = "jdk.JVMInformation"
)

// scoreFunc maps a metric and its limit onto the score scale.
type scoreFunc func(value, limit float64) float64

// Builtin returns a fresh instance of every built-in rule.
func Builtin() []rule.Rule {
	return []rule.Rule{
		NewBufferLost(),
		NewClassLoading(),
		NewClassLeak(),
		NewErrors(),
		NewGcPause(),
		NewHighJvmCpu(),
		NewDiscouragedVmOptions(),
	}
}

// Catalog builds a catalog from the built-in rules plus extra.
func Catalog(extra ...rule.Rule) (*rule.Catalog, error) {
	return rule.NewCatalog(append(Builtin(), extra...)...)
}
