package checks

import (
	"fmt"
	"sort"
	"strings"

	"flightcheck/internal/model"
	"flightcheck/internal/recording"
	"flightcheck/internal/rule"
	"flightcheck/internal/scoring"
)

const jvmArgumentsField = "jvmArguments"

// discouragedOptions maps VM flags to the reason they should not be used.
var discouragedOptions = map[string]string{
	"-XX:+AggressiveOpts":     "removed in JDK 11",
	"-XX:+UseConcMarkSweepGC": "the CMS collector was removed in JDK 14",
	"-Xincgc":                 "incremental CMS was removed in JDK 9",
	"-XX:-UseCompressedOops":  "increases heap footprint on 64-bit VMs",
	"-Xverify:none":           "disables bytecode verification",
	"-noverify":               "disables bytecode verification",
	"-XX:+UseParNewGC":        "removed in JDK 10",
	"-XX:MaxPermSize":         "the permanent generation was removed in JDK 8",
	"-XX:+CMSIncrementalMode": "incremental CMS was removed in JDK 9",
}

func NewDiscouragedVmOptions() *rule.LegacyAdapter {
	return rule.Legacy(rule.Base{
		RuleID:       "DiscouragedVmOptions",
		RuleName:     "Discouraged VM Options",
		RuleTopic:    TopicJVMSettings,
		Requirements: []model.EventRequirement{model.Requires(TypeJVMInformation, model.AvailabilityAvailable)},
	}, checkVMOptions)
}

func checkVMOptions(src recording.Source) (float64, string, error) {
	info, ok := recording.Query[recording.Event](src.Apply(recording.Type(TypeJVMInformation)), recording.First())
	if !ok {
		return -1, "", nil
	}
	if _, ok := info.Field(jvmArgumentsField); !ok {
		return -1, fmt.Sprintf("Events of type %s do not carry the %s attribute.", TypeJVMInformation, jvmArgumentsField), nil
	}
	var found []string
	for _, arg := range strings.Fields(info.Text(jvmArgumentsField)) {
		flag, _, _ := strings.Cut(arg, "=")
		if reason, ok := discouragedOptions[flag]; ok {
			found = append(found, fmt.Sprintf("%s (%s)", flag, reason))
		}
	}
	if len(found) == 0 {
		return 0, "No discouraged VM options were used.", nil
	}
	sort.Strings(found)
	return scoring.Score(float64(len(found)), 1), "Discouraged VM options were used: " + strings.Join(found, ", ") + ".", nil
}
