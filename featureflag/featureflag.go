// Package featureflag toggles optional parts of the scene sent to viewers.
package featureflag

import (
	"slices"
	"strings"
)

// FeatureFlag is the set of flags enabled at start-up.
type FeatureFlag map[Flag]struct{}

// New returns the feature flags named by flags. Names are case insensitive and
// surrounding spaces are ignored, so comma separated environment values can be
// passed as is.
func New(flags []string) FeatureFlag {
	featureFlag := make(FeatureFlag, len(flags))
	for _, f := range flags {
		name := strings.ToUpper(strings.TrimSpace(f))
		if name == "" {
			continue
		}
		featureFlag[Flag(name)] = struct{}{}
	}
	return featureFlag
}

// Unknown returns the enabled flags that no part of the host reads, in
// lexical order. They usually are typos.
func (f FeatureFlag) Unknown() []Flag {
	var unknown []Flag
	for flag := range f {
		if !flag.IsKnown() {
			unknown = append(unknown, flag)
		}
	}

	slices.Sort(unknown)
	return unknown
}

// IfSet calls do when flag is enabled.
func (f FeatureFlag) IfSet(flag Flag, do func()) {
	if _, ok := f[flag]; !ok {
		return
	}
	do()
}

// IfNotSet calls do when flag is not enabled.
func (f FeatureFlag) IfNotSet(flag Flag, do func()) {
	if _, ok := f[flag]; ok {
		return
	}
	do()
}
