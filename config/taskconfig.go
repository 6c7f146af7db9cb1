package config

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"strings"

	yaml "gopkg.in/yaml.v2"

	"github.com/dimes/labelsync/cvat"
	"github.com/dimes/labelsync/runlog"
)

// TaskConfig is the structured form of TASK_CONFIG: the task name and its ordered label schema
type TaskConfig struct {
	Name   string  `yaml:"name"`
	Labels []Label `yaml:"labels"`
}

// Label is one (name, type) pair of a task's label schema. It is written as a two element list
// but a mapping with name and type keys is accepted too.
type Label struct {
	Name string
	Type cvat.LabelType
}

type labelFields struct {
	Name string         `yaml:"name"`
	Type cvat.LabelType `yaml:"type"`
}

// UnmarshalYAML accepts [name, type], [name] or {name: ..., type: ...}
func (l *Label) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var pair []string
	if err := unmarshal(&pair); err == nil {
		switch len(pair) {
		case 1:
			l.Name, l.Type = pair[0], cvat.LabelAny
		case 2:
			l.Name, l.Type = pair[0], cvat.LabelType(pair[1])
		default:
			return fmt.Errorf("label must be a [name, type] pair, got %d values", len(pair))
		}
		return nil
	}

	fields := labelFields{}
	if err := unmarshal(&fields); err != nil {
		return fmt.Errorf("label must be a [name, type] pair or a mapping: %w", err)
	}

	l.Name, l.Type = fields.Name, fields.Type
	if l.Type == "" {
		l.Type = cvat.LabelAny
	}
	return nil
}

// MarshalYAML writes the label as a [name, type] pair
func (l Label) MarshalYAML() (interface{}, error) {
	return []string{l.Name, string(l.Type)}, nil
}

// CVATLabels returns the schema in the form the task creation request takes
func (t *TaskConfig) CVATLabels() []cvat.Label {
	labels := make([]cvat.Label, 0, len(t.Labels))
	for _, label := range t.Labels {
		labels = append(labels, cvat.Label{Name: label.Name, Type: label.Type})
	}
	return labels
}

// Validate checks the name and the label schema
func (t *TaskConfig) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return &InvalidError{Key: TaskConfigKey, Reason: "task name is required"}
	}

	if len(t.Labels) == 0 {
		return &InvalidError{Key: TaskConfigKey, Reason: fmt.Sprintf("task %s needs at least one label", t.Name)}
	}

	var errs []error
	seen := make(map[string]bool, len(t.Labels))
	for i, label := range t.Labels {
		if strings.TrimSpace(label.Name) == "" {
			errs = append(errs, &InvalidError{Key: TaskConfigKey, Reason: fmt.Sprintf("label %d has no name", i)})
			continue
		}

		if seen[label.Name] {
			errs = append(errs, &InvalidError{Key: TaskConfigKey, Reason: fmt.Sprintf("label %s is repeated", label.Name)})
		}
		seen[label.Name] = true

		if err := label.Type.Validate(); err != nil {
			errs = append(errs, &InvalidError{Key: TaskConfigKey, Reason: fmt.Sprintf("label %s: %v", label.Name, err)})
		}
	}

	return errors.Join(errs...)
}

// ParseTaskConfig parses raw as an inline JSON or YAML document, or, if it does not start with
// '{', as the path of a file holding one. The result is validated.
func ParseTaskConfig(raw string) (*TaskConfig, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, &InvalidError{Key: TaskConfigKey, Reason: "not set"}
	}

	taskConfigBytes := []byte(raw)
	if !strings.HasPrefix(raw, "{") {
		runlog.Debugf("Opening task config %s", raw)
		taskConfigFile, err := os.Open(raw)
		if err != nil {
			return nil, fmt.Errorf("Error opening %s: %w", raw, err)
		}
		defer taskConfigFile.Close()

		runlog.Debugf("Reading task config %s", raw)
		taskConfigBytes, err = ioutil.ReadAll(taskConfigFile)
		if err != nil {
			return nil, fmt.Errorf("Error reading %s: %w", raw, err)
		}
	}

	taskConfig := &TaskConfig{}
	// Keys other than name and labels are ignored
	if err := yaml.Unmarshal(taskConfigBytes, taskConfig); err != nil {
		return nil, &InvalidError{Key: TaskConfigKey, Reason: fmt.Sprintf("Error parsing task config: %v", err)}
	}

	if err := taskConfig.Validate(); err != nil {
		return nil, err
	}

	return taskConfig, nil
}

// String returns the task config as a single line JSON-compatible document
func (t *TaskConfig) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "{%q: %q, %q: [", "name", t.Name, "labels")
	for i, label := range t.Labels {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "[%q, %q]", label.Name, string(label.Type))
	}
	b.WriteString("]}")
	return b.String()
}
