//nolint:revive // exported
package mtestspec

import (
	"fmt"
	"regexp"
	"strings"
)

// AssertionType is the closed set of assertion kinds the engine
// understands. String tags from authored specs are parsed through
// ParseAssertionType so unknown tags are rejected at construction time.
type AssertionType int8

const (
	AssertionTypeUndefined AssertionType = iota
	AssertionTypeStatusCode
	AssertionTypeHeader
	AssertionTypeBody
	AssertionTypeSchema
	AssertionTypeContains
	AssertionTypeEquals
	AssertionTypeRegex
	AssertionTypeExists
	AssertionTypeResponseTime
	AssertionTypeExpression
)

var assertionTypeNames = map[AssertionType]string{
	AssertionTypeUndefined:    "undefined",
	AssertionTypeStatusCode:   "status_code",
	AssertionTypeHeader:       "header",
	AssertionTypeBody:         "body",
	AssertionTypeSchema:       "schema",
	AssertionTypeContains:     "contains",
	AssertionTypeEquals:       "equals",
	AssertionTypeRegex:        "regex",
	AssertionTypeExists:       "exists",
	AssertionTypeResponseTime: "response_time",
	AssertionTypeExpression:   "expression",
}

func (t AssertionType) String() string {
	if name, ok := assertionTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("assertion_type(%d)", int8(t))
}

func ParseAssertionType(tag string) (AssertionType, error) {
	for t, name := range assertionTypeNames {
		if t != AssertionTypeUndefined && name == tag {
			return t, nil
		}
	}
	return AssertionTypeUndefined, fmt.Errorf("unknown assertion type: %q", tag)
}

// Matcher selects how an extracted value is compared against the
// expected one. StatusCode, Exists and Schema assertions ignore it.
type Matcher int8

const (
	MatcherUndefined Matcher = iota
	MatcherEquals
	MatcherContains
	MatcherRegex
	MatcherExists
	MatcherLessThan
	MatcherGreaterThan
)

var matcherNames = map[Matcher]string{
	MatcherUndefined:   "",
	MatcherEquals:      "equals",
	MatcherContains:    "contains",
	MatcherRegex:       "regex",
	MatcherExists:      "exists",
	MatcherLessThan:    "less_than",
	MatcherGreaterThan: "greater_than",
}

func (m Matcher) String() string {
	if name, ok := matcherNames[m]; ok {
		return name
	}
	return fmt.Sprintf("matcher(%d)", int8(m))
}

func ParseMatcher(tag string) (Matcher, error) {
	if tag == "" {
		return MatcherUndefined, nil
	}
	for m, name := range matcherNames {
		if m != MatcherUndefined && name == tag {
			return m, nil
		}
	}
	return MatcherUndefined, fmt.Errorf("unknown matcher: %q", tag)
}

// Assertion is one declarative check against a response. Expected holds
// the comparison value; for schema assertions it holds the JSON-Schema
// document, for expression assertions the expression source text.
type Assertion struct {
	Type     AssertionType
	Path     string
	Matcher  Matcher
	Expected any
}

// TestSpec describes one HTTP call plus its checks. It is immutable
// once handed to the runner; the runner never writes back into it.
type TestSpec struct {
	Name          string
	Method        string
	Path          string
	Headers       map[string]string
	QueryParams   map[string]string
	PathVariables map[string]string
	Body          any
	Assertions    []Assertion
}

var methodSet = map[string]struct{}{
	"GET": {}, "POST": {}, "PUT": {}, "PATCH": {}, "DELETE": {},
	"HEAD": {}, "OPTIONS": {}, "TRACE": {},
}

var placeholderPattern = regexp.MustCompile(`\{([^{}]+)\}`)

// Validate checks the structural invariants: a known HTTP verb and
// path_variables keys matching the {name} placeholders in Path.
// Assertions may be empty but must carry known type tags.
func (s *TestSpec) Validate() error {
	method := strings.ToUpper(strings.TrimSpace(s.Method))
	if _, ok := methodSet[method]; !ok {
		return fmt.Errorf("invalid HTTP method: %q", s.Method)
	}

	placeholders := make(map[string]struct{})
	for _, m := range placeholderPattern.FindAllStringSubmatch(s.Path, -1) {
		placeholders[m[1]] = struct{}{}
	}
	for name := range s.PathVariables {
		if _, ok := placeholders[name]; !ok {
			// Numeric-segment hints from curl conversion are advisory
			// and do not correspond to a placeholder.
			if strings.HasPrefix(name, "id_") {
				continue
			}
			return fmt.Errorf("path variable %q has no {%s} placeholder in path %q", name, name, s.Path)
		}
	}

	for i, a := range s.Assertions {
		if _, ok := assertionTypeNames[a.Type]; !ok || a.Type == AssertionTypeUndefined {
			return fmt.Errorf("assertion %d: unknown type %v", i, a.Type)
		}
	}
	return nil
}
