package definition

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("task_type", func(fl validator.FieldLevel) bool {
		return TaskType(fl.Field().String()).IsValid()
	}); err != nil {
		panic(fmt.Sprintf("failed to register task_type validator: %v", err))
	}
	return v
}

// Validate checks struct tags, id uniqueness, references and the fields each
// task type requires.
func (d *Document) Validate(v *validator.Validate) error {
	if err := v.Struct(d); err != nil {
		return formatValidationError(err)
	}
	ids := make(map[string]bool)
	var all []*TaskConfig
	for i := range d.Tasks {
		all = append(all, d.Tasks[i].withBody()...)
	}
	for _, tc := range all {
		if ids[tc.ID] {
			return fmt.Errorf("duplicate task id %q", tc.ID)
		}
		ids[tc.ID] = true
	}
	ref := func(owner, field, id string) error {
		if !ids[id] {
			return fmt.Errorf("task %q: %s references unknown task %q", owner, field, id)
		}
		return nil
	}
	for _, tc := range all {
		if err := tc.validateType(); err != nil {
			return err
		}
		for _, n := range tc.Next {
			if err := ref(tc.ID, "next", n); err != nil {
				return err
			}
		}
		for _, r := range tc.Routes {
			if err := ref(tc.ID, "routes", r.Next); err != nil {
				return err
			}
		}
		if tc.Default != "" {
			if err := ref(tc.ID, "default", tc.Default); err != nil {
				return err
			}
		}
	}
	for _, id := range d.Start {
		if err := ref("start", "start", id); err != nil {
			return err
		}
	}
	for _, id := range d.End {
		if err := ref("end", "end", id); err != nil {
			return err
		}
	}
	return nil
}

func (tc *TaskConfig) withBody() []*TaskConfig {
	out := []*TaskConfig{tc}
	if tc.Body != nil {
		out = append(out, tc.Body.withBody()...)
	}
	return out
}

func (tc *TaskConfig) validateType() error {
	missing := func(field string) error {
		return fmt.Errorf("task %q of type %s requires %s", tc.ID, tc.Type, field)
	}
	switch tc.Type {
	case TypeExclusive, TypeInclusive:
		if len(tc.Routes) == 0 && tc.Default == "" {
			return missing("routes or default")
		}
	case TypeCatch, TypeThrow:
		if tc.Event == "" {
			return missing("event")
		}
	case TypeMulti:
		if tc.Body == nil {
			return missing("body")
		}
		if tc.Collection == "" && tc.Cardinality == 0 {
			return missing("collection or cardinality")
		}
	case TypeSubprocess:
		if tc.Process == "" {
			return missing("process")
		}
	case TypeAcquire, TypeRelease:
		if tc.Mutex == "" {
			return missing("mutex")
		}
	}
	if tc.Type != TypeExclusive && tc.Type != TypeInclusive && (len(tc.Routes) > 0 || tc.Default != "") {
		return fmt.Errorf("task %q of type %s cannot declare routes", tc.ID, tc.Type)
	}
	return nil
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid definition: %s", strings.Join(msgs, "; "))
}
