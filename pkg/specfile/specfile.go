// Package specfile decodes authored test-spec documents (YAML or JSON)
// into validated TestSpec values. Assertion tags are parsed into the
// closed enums here, so unknown types are rejected before anything
// reaches the engine.
package specfile

import (
	"fmt"

	"apicheck/pkg/model/mtestspec"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

type assertionDoc struct {
	Type     string `yaml:"type" json:"type"`
	Path     string `yaml:"path" json:"path"`
	Matcher  string `yaml:"matcher" json:"matcher"`
	Expected any    `yaml:"expected" json:"expected"`
	// Value is the legacy spelling of Expected, kept for documents
	// written against the old schema.
	Value any `yaml:"value" json:"value"`
}

type specDoc struct {
	Name          string            `yaml:"name" json:"name"`
	Method        string            `yaml:"method" json:"method"`
	Path          string            `yaml:"path" json:"path"`
	Headers       map[string]string `yaml:"headers" json:"headers"`
	QueryParams   map[string]string `yaml:"query_params" json:"query_params"`
	PathVariables map[string]string `yaml:"path_variables" json:"path_variables"`
	Body          any               `yaml:"body" json:"body"`
	Assertions    []assertionDoc    `yaml:"assertions" json:"assertions"`
}

// Parse decodes a single spec document.
func Parse(data []byte) (mtestspec.TestSpec, error) {
	var doc specDoc
	if err := unmarshal(data, &doc); err != nil {
		return mtestspec.TestSpec{}, err
	}
	return convert(doc)
}

// ParseList decodes a document holding a list of specs.
func ParseList(data []byte) ([]mtestspec.TestSpec, error) {
	var docs []specDoc
	if err := unmarshal(data, &docs); err != nil {
		return nil, err
	}

	specs := make([]mtestspec.TestSpec, 0, len(docs))
	for i, doc := range docs {
		spec, err := convert(doc)
		if err != nil {
			return nil, fmt.Errorf("spec %d (%s): %w", i, doc.Name, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// unmarshal picks the decoder by sniffing: valid JSON goes through the
// JSON decoder, everything else is treated as YAML.
func unmarshal(data []byte, v any) error {
	if json.Valid(data) {
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("decode spec document: %w", err)
		}
		return nil
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode spec document: %w", err)
	}
	return nil
}

func convert(doc specDoc) (mtestspec.TestSpec, error) {
	assertions := make([]mtestspec.Assertion, 0, len(doc.Assertions))
	for i, a := range doc.Assertions {
		assertionType, err := mtestspec.ParseAssertionType(a.Type)
		if err != nil {
			return mtestspec.TestSpec{}, fmt.Errorf("assertion %d: %w", i, err)
		}
		matcher, err := mtestspec.ParseMatcher(a.Matcher)
		if err != nil {
			return mtestspec.TestSpec{}, fmt.Errorf("assertion %d: %w", i, err)
		}

		expected := a.Expected
		if expected == nil {
			expected = a.Value
		}

		assertions = append(assertions, mtestspec.Assertion{
			Type:     assertionType,
			Path:     a.Path,
			Matcher:  matcher,
			Expected: expected,
		})
	}

	spec := mtestspec.TestSpec{
		Name:          doc.Name,
		Method:        doc.Method,
		Path:          doc.Path,
		Headers:       doc.Headers,
		QueryParams:   doc.QueryParams,
		PathVariables: doc.PathVariables,
		Body:          doc.Body,
		Assertions:    assertions,
	}
	if err := spec.Validate(); err != nil {
		return mtestspec.TestSpec{}, err
	}
	return spec, nil
}
