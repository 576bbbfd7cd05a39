package store

import (
	"maps"
	"regexp"
	"strings"
)

var (
	placeholderRe  = regexp.MustCompile(`{{\s*(\w+)\s*}}`)
	variableNameRe = regexp.MustCompile(`^\w+$`)
)

// ResolveVariables returns the variables in effect: Globals first, then the
// active environment overriding them.
func (s *Stores) ResolveVariables() map[string]string {
	envs := s.Environments.Get()
	activeID := s.CurrentEnvironmentID.Get()

	resolved := make(map[string]string)
	for _, e := range envs {
		if e.Name == GlobalsEnvironment {
			for k, v := range e.Variables {
				resolved[k] = v.Value
			}
			break
		}
	}
	for _, e := range envs {
		if activeID != "" && e.ID == activeID {
			for k, v := range e.Variables {
				resolved[k] = v.Value
			}
			break
		}
	}
	return resolved
}

// ResolveForCollection extends ResolveVariables with secrets: global secrets,
// then those scoped to collectionID.
func (s *Stores) ResolveForCollection(collectionID string) map[string]string {
	resolved := s.ResolveVariables()
	secrets := s.Secrets.Get()

	scoped := make(map[string]string)
	for _, sec := range secrets {
		switch {
		case sec.Scope == ScopeGlobal:
			resolved[sec.Key] = sec.Value
		case sec.Scope == ScopeCollection && sec.CollectionID == collectionID:
			scoped[sec.Key] = sec.Value
		}
	}
	maps.Copy(resolved, scoped)
	return resolved
}

// SubstitutePlaceholders replaces {{ name }} with vars[name]. Unknown or
// empty variables are left as written.
func SubstitutePlaceholders(input string, vars map[string]string) string {
	if input == "" || !strings.Contains(input, "{{") {
		return input
	}
	return placeholderRe.ReplaceAllStringFunc(input, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		if v := vars[name]; v != "" {
			return v
		}
		return match
	})
}

// Placeholders lists the distinct variable names referenced by input.
func Placeholders(input string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range placeholderRe.FindAllStringSubmatch(input, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}
