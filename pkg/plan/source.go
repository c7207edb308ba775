package plan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Source defines how plans are loaded into the catalog.
type Source interface {
	Load(ctx context.Context) ([]Plan, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) ([]Plan, error)

func (f SourceFunc) Load(ctx context.Context) ([]Plan, error) { return f(ctx) }

type inMemSource struct {
	plans []Plan
}

// NewInMemSource returns a Source serving a fixed list of plans.
func NewInMemSource(plans ...Plan) Source {
	return &inMemSource{plans: plans}
}

func (s *inMemSource) Load(context.Context) ([]Plan, error) {
	out := make([]Plan, len(s.plans))
	copy(out, s.plans)
	return out, nil
}

type yamlFile struct {
	Plans []Plan `yaml:"plans"`
}

type yamlSource struct {
	path string
}

// NewYAMLSource returns a Source reading a file of the form:
//
//	plans:
//	  - id: price_basic_monthly
//	    key: basic
//	    tier: 1
//	    name: Basic
//	    price_monthly: {amount: 900, currency: USD}
//	    ai_feedback_enabled: true
//	    tts_enabled: false
//	    max_students: 30
//	    max_scripts: 100
func NewYAMLSource(path string) Source {
	return &yamlSource{path: path}
}

func (s *yamlSource) Load(context.Context) ([]Plan, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}
	return ParseYAML(data)
}

// ParseYAML decodes a plans document. Unknown fields are rejected so typos in
// flag names do not silently disable a feature.
func ParseYAML(data []byte) ([]Plan, error) {
	var doc yamlFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, fmt.Errorf("decode plans yaml: %w", err))
	}
	return doc.Plans, nil
}
