package task

// Event is delivered to waiting catcher tasks.
type Event struct {
	Name    string         `json:"name"              yaml:"name"`
	Payload map[string]any `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// EventDefinition describes which events a catcher accepts.
type EventDefinition struct {
	Name string `json:"name" yaml:"name" validate:"required"`
}

func (d EventDefinition) Matches(ev Event) bool {
	return d.Name != "" && d.Name == ev.Name
}
