// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Capstan Contributors

// Package version resolves plugin semantic versions, SDK compatibility
// ranges, and inter-plugin dependency constraints.
package version

import (
	"errors"
	"log/slog"
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"

	"github.com/capstanhq/capstan/pkg/plugin"
)

// ErrVersionIncompatible is returned when a version falls outside a
// declared SDK range or violates a registered dependency constraint.
var ErrVersionIncompatible = errors.New("version incompatible")

// fallbackVersion is used when a plugin declares an unparseable version.
// Registration stays permissive: the bad version is logged, not fatal.
var fallbackVersion = semver.MustParse("0.0.0")

// PluginVersion is the immutable version record derived for a plugin at
// registration time.
type PluginVersion struct {
	Name    string
	Version *semver.Version

	// MinSDK and MaxSDK bound the host SDK versions the plugin supports.
	// A nil bound is unbounded on that side.
	MinSDK *semver.Version
	MaxSDK *semver.Version

	// Dependencies maps plugin names to parsed constraints. Raw holds
	// the original constraint strings for reporting.
	Dependencies map[string]*semver.Constraints
	Raw          map[string]string
}

// Derive builds a PluginVersion from a plugin's declared version string
// and its optional configuration. An unparseable version string falls
// back to 0.0.0 with a warning; malformed SDK bounds or dependency
// constraints are errors.
func Derive(name, rawVersion string, cfg *plugin.Config) (*PluginVersion, error) {
	v, err := semver.NewVersion(rawVersion)
	if err != nil {
		slog.Warn("plugin declares unparseable version, falling back to 0.0.0",
			"plugin", name,
			"version", rawVersion,
			"error", err)
		v = fallbackVersion
	}

	pv := &PluginVersion{
		Name:    name,
		Version: v,
	}

	if cfg == nil {
		return pv, nil
	}

	if cfg.MinSDKVersion != "" {
		min, err := semver.NewVersion(cfg.MinSDKVersion)
		if err != nil {
			return nil, oops.In("version").
				Code("INVALID_SDK_BOUND").
				With("plugin", name).
				With("min-sdk-version", cfg.MinSDKVersion).
				Wrap(err)
		}
		pv.MinSDK = min
	}
	if cfg.MaxSDKVersion != "" {
		max, err := semver.NewVersion(cfg.MaxSDKVersion)
		if err != nil {
			return nil, oops.In("version").
				Code("INVALID_SDK_BOUND").
				With("plugin", name).
				With("max-sdk-version", cfg.MaxSDKVersion).
				Wrap(err)
		}
		pv.MaxSDK = max
	}

	if len(cfg.Dependencies) > 0 {
		pv.Dependencies = make(map[string]*semver.Constraints, len(cfg.Dependencies))
		pv.Raw = make(map[string]string, len(cfg.Dependencies))
		for dep, raw := range cfg.Dependencies {
			c, err := semver.NewConstraint(raw)
			if err != nil {
				return nil, oops.In("version").
					Code("INVALID_CONSTRAINT").
					With("plugin", name).
					With("dependency", dep).
					With("constraint", raw).
					Wrap(err)
			}
			pv.Dependencies[dep] = c
			pv.Raw[dep] = raw
		}
	}

	return pv, nil
}

// Resolver checks SDK and dependency compatibility against a fixed host
// SDK version.
type Resolver struct {
	sdk *semver.Version
}

// NewResolver creates a resolver for the given host SDK version.
func NewResolver(sdk *semver.Version) *Resolver {
	return &Resolver{sdk: sdk}
}

// SDK returns the host SDK version the resolver checks against.
func (r *Resolver) SDK() *semver.Version {
	return r.sdk
}

// IsSDKCompatible reports whether the host SDK version lies within the
// plugin's declared [MinSDK, MaxSDK] range. An absent bound is
// unbounded on that side.
func (r *Resolver) IsSDKCompatible(pv *PluginVersion) bool {
	if pv.MinSDK != nil && r.sdk.LessThan(pv.MinSDK) {
		return false
	}
	if pv.MaxSDK != nil && r.sdk.GreaterThan(pv.MaxSDK) {
		return false
	}
	return true
}

// SatisfiesDependency reports whether depVersion satisfies pv's declared
// constraint on depName. A dependency pv does not declare is trivially
// satisfied.
func (r *Resolver) SatisfiesDependency(pv *PluginVersion, depName string, depVersion *semver.Version) bool {
	c, ok := pv.Dependencies[depName]
	if !ok {
		return true
	}
	return c.Check(depVersion)
}

// CheckConflicts verifies that every already-registered plugin whose
// dependencies name the new plugin accepts the new plugin's version.
//
// The check is asymmetric: it does not verify that the new plugin's own
// declared dependencies are satisfied by registered versions. That
// direction is surfaced only by ResolveConflicts, so callers wanting a
// symmetric audit should run it after each registration.
func CheckConflicts(newPV *PluginVersion, registered map[string]*PluginVersion) error {
	for _, existing := range registered {
		c, ok := existing.Dependencies[newPV.Name]
		if !ok {
			continue
		}
		if !c.Check(newPV.Version) {
			return oops.In("version").
				Code("VERSION_INCOMPATIBLE").
				With("plugin", newPV.Name).
				With("version", newPV.Version.String()).
				With("required_by", existing.Name).
				With("constraint", existing.Raw[newPV.Name]).
				Wrapf(ErrVersionIncompatible,
					"plugin %s@%s violates constraint %q declared by %s",
					newPV.Name, newPV.Version, existing.Raw[newPV.Name], existing.Name)
		}
	}
	return nil
}

// UpdateSuggestion describes a registered plugin whose version violates
// a constraint declared by another registered plugin.
type UpdateSuggestion struct {
	PluginName     string
	CurrentVersion string
	Constraint     string
	RequiredBy     string
}

// ResolveConflicts audits every declared dependency among registered
// plugins and returns a suggestion for each registered dependency whose
// current version violates its constraint. Dependencies that are not
// registered at all are skipped; only version mismatches are reported.
func ResolveConflicts(registered map[string]*PluginVersion) []UpdateSuggestion {
	var suggestions []UpdateSuggestion
	for _, pv := range registered {
		for dep, c := range pv.Dependencies {
			current, ok := registered[dep]
			if !ok {
				continue
			}
			if c.Check(current.Version) {
				continue
			}
			suggestions = append(suggestions, UpdateSuggestion{
				PluginName:     dep,
				CurrentVersion: current.Version.String(),
				Constraint:     pv.Raw[dep],
				RequiredBy:     pv.Name,
			})
		}
	}

	// Deterministic output for callers that log or display suggestions.
	sort.Slice(suggestions, func(i, j int) bool {
		if suggestions[i].PluginName != suggestions[j].PluginName {
			return suggestions[i].PluginName < suggestions[j].PluginName
		}
		return suggestions[i].RequiredBy < suggestions[j].RequiredBy
	})
	return suggestions
}
