package stack

import (
	"regexp"
	"sort"
)

// =============================================================================
// Variable Extraction
// =============================================================================

// placeholderRegex matches ${VAR_NAME} or ${VAR_NAME:-default}.
var placeholderRegex = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// RequiredVariables returns the unique variable names a descriptor
// references without a default value, sorted. These must be supplied
// at deploy time.
func RequiredVariables(yamlContent string) []string {
	seen := make(map[string]bool)
	var vars []string

	for _, match := range placeholderRegex.FindAllStringSubmatch(yamlContent, -1) {
		name, hasDefault := match[1], match[2] != ""
		if hasDefault || seen[name] {
			continue
		}
		seen[name] = true
		vars = append(vars, name)
	}

	sort.Strings(vars)
	return vars
}

// Variables returns every unique variable name a descriptor references,
// with or without defaults, sorted.
func Variables(yamlContent string) []string {
	seen := make(map[string]bool)
	var vars []string

	for _, match := range placeholderRegex.FindAllStringSubmatch(yamlContent, -1) {
		if seen[match[1]] {
			continue
		}
		seen[match[1]] = true
		vars = append(vars, match[1])
	}

	sort.Strings(vars)
	return vars
}

// =============================================================================
// Variable Substitution
// =============================================================================

// Substitute replaces ${VAR} and ${VAR:-default} placeholders with
// values from the variables map.
//
//   - ${VAR} becomes variables["VAR"] if present, otherwise stays as-is
//   - ${VAR:-default} becomes variables["VAR"] if present, otherwise "default"
//
// Text outside placeholders is left unchanged.
func Substitute(value string, variables map[string]string) string {
	return placeholderRegex.ReplaceAllStringFunc(value, func(match string) string {
		submatch := placeholderRegex.FindStringSubmatch(match)
		name := submatch[1]
		if val, ok := variables[name]; ok {
			return val
		}
		// ${VAR:-default} and ${VAR:-} both fall back to the default,
		// which may be empty.
		if len(match) > len(name)+3 && match[len(name)+2] == ':' {
			return submatch[2]
		}
		return match
	})
}

// =============================================================================
// Semantic Validation
// =============================================================================

// ValidateEnvironment checks that no service declares an environment
// variable whose value resolves to the empty string under the given
// variable set. Empty values almost always mean a missing deploy-time
// variable, so they are reported rather than passed to the runtime.
func ValidateEnvironment(spec *Spec, variables map[string]string) []error {
	var errs []error

	for _, svc := range spec.Services {
		keys := make([]string, 0, len(svc.Environment))
		for k := range svc.Environment {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			resolved := Substitute(svc.Environment[k], variables)
			if resolved == "" || placeholderRegex.MatchString(resolved) {
				errs = append(errs, NewDescriptorError(
					"services."+svc.Name+".environment."+k,
					"value is empty or unresolved; supply the variable at deploy time",
					ErrEmptyEnvironment,
				))
			}
		}
	}

	return errs
}
