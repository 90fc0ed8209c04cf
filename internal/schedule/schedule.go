package schedule

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/hackgods/clinic-booking/internal/appointment"
)

// File layout:
//
//	default:
//	  step: 30m
//	  windows:
//	    - {start: "09:00", end: "12:30"}
//	doctors:
//	  <doctor uuid>:
//	    step: 20m
//	    windows: [...]
type fileTemplate struct {
	Step    time.Duration `yaml:"step"`
	Windows []struct {
		Start string `yaml:"start"`
		End   string `yaml:"end"`
	} `yaml:"windows"`
}

type file struct {
	Default *fileTemplate           `yaml:"default"`
	Doctors map[string]fileTemplate `yaml:"doctors"`
}

// Templates resolves a doctor's working hours, falling back to the clinic default.
type Templates struct {
	def       appointment.WorkingHours
	overrides map[uuid.UUID]appointment.WorkingHours
}

func Default() *Templates {
	return &Templates{
		def:       appointment.DefaultWorkingHours(),
		overrides: map[uuid.UUID]appointment.WorkingHours{},
	}
}

func (t *Templates) HoursFor(doctorID uuid.UUID) appointment.WorkingHours {
	if h, ok := t.overrides[doctorID]; ok {
		return h
	}
	return t.def
}

// Load reads templates from path. An empty path yields Default().
func Load(path string) (*Templates, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schedule file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Templates, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("unmarshal schedule YAML: %w", err)
	}

	t := Default()
	if f.Default != nil {
		h, err := f.Default.toHours()
		if err != nil {
			return nil, fmt.Errorf("default template: %w", err)
		}
		t.def = h
	}

	for rawID, tpl := range f.Doctors {
		id, err := uuid.Parse(rawID)
		if err != nil {
			return nil, fmt.Errorf("doctor id %q: %w", rawID, err)
		}
		h, err := tpl.toHours()
		if err != nil {
			return nil, fmt.Errorf("doctor %s template: %w", id, err)
		}
		t.overrides[id] = h
	}
	return t, nil
}

func (ft fileTemplate) toHours() (appointment.WorkingHours, error) {
	h := appointment.WorkingHours{Step: ft.Step}
	if h.Step == 0 {
		h.Step = appointment.DefaultSlotStep
	}
	for _, w := range ft.Windows {
		start, err := appointment.ParseTimeOfDay(w.Start)
		if err != nil {
			return h, err
		}
		end, err := appointment.ParseTimeOfDay(w.End)
		if err != nil {
			return h, err
		}
		h.Windows = append(h.Windows, appointment.Window{Start: start, End: end})
	}
	if err := h.Validate(); err != nil {
		return h, err
	}
	return h, nil
}
