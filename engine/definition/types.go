package definition

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

type TaskType string

const (
	TypeSimple     TaskType = "simple"
	TypeScript     TaskType = "script"
	TypeManual     TaskType = "manual"
	TypeExclusive  TaskType = "exclusive"
	TypeParallel   TaskType = "parallel"
	TypeInclusive  TaskType = "inclusive"
	TypeCatch      TaskType = "catch"
	TypeThrow      TaskType = "throw"
	TypeMulti      TaskType = "multi"
	TypeSubprocess TaskType = "subprocess"
	TypeAcquire    TaskType = "acquire"
	TypeRelease    TaskType = "release"
	TypeCancel     TaskType = "cancel"
)

var taskTypes = map[TaskType]bool{
	TypeSimple: true, TypeScript: true, TypeManual: true, TypeExclusive: true,
	TypeParallel: true, TypeInclusive: true, TypeCatch: true, TypeThrow: true,
	TypeMulti: true, TypeSubprocess: true, TypeAcquire: true, TypeRelease: true,
	TypeCancel: true,
}

func (t TaskType) IsValid() bool { return taskTypes[t] }

// Document is the YAML form of a process.
type Document struct {
	Name      string       `yaml:"name"                validate:"required"`
	Lookahead int          `yaml:"lookahead,omitempty" validate:"gte=0"`
	Tasks     []TaskConfig `yaml:"tasks"               validate:"required,min=1,dive"`
	Start     StringList   `yaml:"start"               validate:"required,min=1"`
	End       StringList   `yaml:"end"                 validate:"required,min=1"`
}

type RouteConfig struct {
	Condition string `yaml:"condition" validate:"required"`
	Next      string `yaml:"next"      validate:"required"`
}

// TaskConfig describes one node. Which fields apply depends on Type.
type TaskConfig struct {
	ID        string        `yaml:"id"                  validate:"required"`
	Type      TaskType      `yaml:"type"                validate:"required,task_type"`
	Next      StringList    `yaml:"next,omitempty"`
	Routes    []RouteConfig `yaml:"routes,omitempty"    validate:"dive"`
	Default   string        `yaml:"default,omitempty"`
	Manual    bool          `yaml:"manual,omitempty"`
	Lookahead int           `yaml:"lookahead,omitempty" validate:"gte=0"`
	Requires  []string      `yaml:"requires,omitempty"`
	Provides  []string      `yaml:"provides,omitempty"`

	// script
	Set map[string]any `yaml:"set,omitempty"`

	// catch and throw
	Event   string   `yaml:"event,omitempty"`
	Result  string   `yaml:"result,omitempty"`
	Payload []string `yaml:"payload,omitempty"`

	// multi
	Collection       string      `yaml:"collection,omitempty"`
	Cardinality      int         `yaml:"cardinality,omitempty"       validate:"gte=0"`
	Item             string      `yaml:"item,omitempty"`
	OutputItem       string      `yaml:"output_item,omitempty"`
	OutputCollection string      `yaml:"output_collection,omitempty"`
	Sequential       bool        `yaml:"sequential,omitempty"`
	Completion       string      `yaml:"completion,omitempty"`
	Body             *TaskConfig `yaml:"body,omitempty"              validate:"omitempty"`

	// subprocess
	Process string `yaml:"process,omitempty"`

	// acquire and release
	Mutex string `yaml:"mutex,omitempty"`

	// cancel
	Success bool `yaml:"success,omitempty"`
}

// StringList accepts either a scalar or a sequence of strings.
type StringList []string

func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*l = StringList{s}
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}
		*l = items
		return nil
	default:
		return fmt.Errorf("line %d: expected a string or a list of strings", node.Line)
	}
}
