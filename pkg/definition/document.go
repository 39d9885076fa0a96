// Package definition parses and validates YAML workflow documents into the
// structured specification stored on a WorkflowDefinition.
package definition

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Document is the YAML shape of a workflow definition.
type Document struct {
	Name     string    `yaml:"name"`
	On       EventList `yaml:"on"`
	Schedule string    `yaml:"schedule"`
	Jobs     JobList   `yaml:"jobs"`
}

// EventList accepts both `on: push` and `on: [push, pull_request]`.
type EventList []string

func (e *EventList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var single string
		if err := node.Decode(&single); err != nil {
			return err
		}

		*e = EventList{single}

		return nil
	case yaml.SequenceNode:
		var many []string
		if err := node.Decode(&many); err != nil {
			return err
		}

		*e = EventList(many)

		return nil
	default:
		return fmt.Errorf("line %d: `on` must be a string or a list of strings", node.Line)
	}
}

// JobList decodes the `jobs:` mapping while preserving document order, which
// YAML maps would otherwise lose.
type JobList []NamedJob

// NamedJob pairs a job's mapping key with its body.
type NamedJob struct {
	ID  string
	Job JobDocument
}

func (j *JobList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: `jobs` must be a mapping", node.Line)
	}

	jobs := make(JobList, 0, len(node.Content)/2)

	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valueNode := node.Content[i], node.Content[i+1]

		var job JobDocument
		if err := valueNode.Decode(&job); err != nil {
			return fmt.Errorf("job %q: %w", keyNode.Value, err)
		}

		jobs = append(jobs, NamedJob{ID: keyNode.Value, Job: job})
	}

	*j = jobs

	return nil
}

// JobDocument is the YAML shape of one job.
type JobDocument struct {
	Name     string            `yaml:"name"`
	RunsOn   string            `yaml:"runs-on"`
	Needs    []string          `yaml:"needs"`
	Strategy *StrategyDocument `yaml:"strategy"`
	Steps    []StepDocument    `yaml:"steps"`
}

// StrategyDocument carries the matrix axes of a job template.
type StrategyDocument struct {
	Matrix map[string][]string `yaml:"matrix"`
}

// StepDocument is the YAML shape of one step. Exactly one of `run` and
// `uses` must be set.
type StepDocument struct {
	Name             string            `yaml:"name"`
	Run              string            `yaml:"run"`
	Uses             string            `yaml:"uses"`
	With             map[string]any    `yaml:"with"`
	WorkingDirectory string            `yaml:"working-directory"`
	Env              map[string]string `yaml:"env"`
	If               string            `yaml:"if"`
	ContinueOnError  bool              `yaml:"continue-on-error"`
	TimeoutMinutes   int               `yaml:"timeout-minutes"`
	Secrets          []string          `yaml:"secrets"`
}

// Parse decodes a YAML workflow document. Decoding is strict: unknown fields
// are rejected so typos surface as configuration errors instead of silently
// dropped settings.
func Parse(data []byte) (*Document, error) {
	var doc Document

	decoder := newStrictDecoder(data)
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("invalid workflow document: %w", err)
	}

	return &doc, nil
}
