// Package tally records how many rows or users survive each filtering step of
// a stage. A Tally is a plain value; stages return it and callers decide how
// to report it.
package tally

import "fmt"

// Step is one filtering step: Dropped rows were removed, Remaining is the
// population left afterwards (rows or users, see Unit).
type Step struct {
	Stage     string `json:"stage"`
	Name      string `json:"name"`
	Unit      string `json:"unit"`
	Dropped   int    `json:"dropped"`
	Remaining int    `json:"remaining"`
}

func (s Step) String() string {
	return fmt.Sprintf("%s/%s: dropped=%d remaining=%d %s", s.Stage, s.Name, s.Dropped, s.Remaining, s.Unit)
}

type Tally struct {
	Stage string
	Steps []Step
	// Skipped holds the per-record errors behind lenient drops, such as
	// malformed dates, so callers can log which record was affected.
	Skipped []error
}

func New(stage string) *Tally {
	return &Tally{Stage: stage}
}

func (t *Tally) Users(name string, dropped, remaining int) {
	t.add(name, "users", dropped, remaining)
}

func (t *Tally) Rows(name string, dropped, remaining int) {
	t.add(name, "rows", dropped, remaining)
}

func (t *Tally) add(name, unit string, dropped, remaining int) {
	if t == nil {
		return
	}
	t.Steps = append(t.Steps, Step{Stage: t.Stage, Name: name, Unit: unit, Dropped: dropped, Remaining: remaining})
}

// Skip records err for a record that was dropped instead of failing the stage.
func (t *Tally) Skip(err error) {
	if t == nil || err == nil {
		return
	}
	t.Skipped = append(t.Skipped, err)
}

// Merge appends the steps and skipped errors of others, keeping their own stage labels.
func (t *Tally) Merge(others ...*Tally) {
	if t == nil {
		return
	}
	for _, o := range others {
		if o == nil {
			continue
		}
		t.Steps = append(t.Steps, o.Steps...)
		t.Skipped = append(t.Skipped, o.Skipped...)
	}
}

// Dropped sums Dropped over steps with the given name.
func (t *Tally) Dropped(name string) int {
	if t == nil {
		return 0
	}
	n := 0
	for _, s := range t.Steps {
		if s.Name == name {
			n += s.Dropped
		}
	}
	return n
}

// Find returns the last step with the given name.
func (t *Tally) Find(name string) (Step, bool) {
	if t == nil {
		return Step{}, false
	}
	for i := len(t.Steps) - 1; i >= 0; i-- {
		if t.Steps[i].Name == name {
			return t.Steps[i], true
		}
	}
	return Step{}, false
}
