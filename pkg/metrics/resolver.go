package metrics

import (
	"fmt"
	"strings"
)

// Label is one label name and value supplied to an update.
type Label struct {
	Name  string
	Value string
}

// L is shorthand for Label{Name: name, Value: value}.
func L(name, value string) Label {
	return Label{Name: name, Value: value}
}

var labelValueEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

// quoteLabelValue returns the exposition form of a label value.
func quoteLabelValue(v string) string {
	return `"` + labelValueEscaper.Replace(v) + `"`
}

// quotedLen is len(quoteLabelValue(v)) without building the string.
func quotedLen(v string) int {
	n := len(v) + 2
	for i := 0; i < len(v); i++ {
		switch v[i] {
		case '\\', '"', '\n':
			n++
		}
	}
	return n
}

// ResolveStore returns the slot index holding the given label values,
// allocating the first free slot when the combination is new.
func (r *Registry) ResolveStore(m *Metric, labels ...Label) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.owns(m); err != nil {
		return -1, err
	}
	idx, err := r.resolve(m, labels)
	if err != nil {
		return -1, r.warn("resolve", m.name, err)
	}
	return idx, nil
}

// canonicalize orders the supplied values by the declared label names.
func (r *Registry) canonicalize(m *Metric, labels []Label) ([]string, error) {
	if len(labels) != len(m.labels) {
		return nil, fmt.Errorf("%w: got %d labels, want %d", ErrLabelMismatch, len(labels), len(m.labels))
	}
	values := make([]string, len(m.labels))
	seen := make([]bool, len(m.labels))
	for _, l := range labels {
		j := m.labelIndex(l.Name)
		if j < 0 {
			return nil, fmt.Errorf("%w: %q", ErrUnknownLabelName, l.Name)
		}
		if seen[j] {
			return nil, fmt.Errorf("%w: %q supplied twice", ErrLabelMismatch, l.Name)
		}
		if quotedLen(l.Value) >= r.limits.FieldLen {
			return nil, fmt.Errorf("%w: value of label %q", ErrFieldTooLong, l.Name)
		}
		seen[j] = true
		values[j] = l.Value
	}
	return values, nil
}

// find scans the slots in order and returns the index of the store matching
// values, or -1, along with the first free slot, or -1.
func (m *Metric) find(values []string) (match, free int) {
	match, free = -1, -1
	for i := range m.stores {
		s := &m.stores[i]
		if !s.used {
			if free < 0 {
				free = i
			}
			continue
		}
		if equalValues(s.raw, values) {
			return i, free
		}
	}
	return -1, free
}

// resolve is the lookup-or-allocate step. Callers hold the write lock.
func (r *Registry) resolve(m *Metric, labels []Label) (int, error) {
	values, err := r.canonicalize(m, labels)
	if err != nil {
		return -1, err
	}
	match, free := m.find(values)
	if match >= 0 {
		return match, nil
	}
	if free < 0 {
		return -1, ErrStoreExhausted
	}

	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = quoteLabelValue(v)
	}

	s := &m.stores[free]
	s.used = true
	s.raw = values
	s.quoted = quoted
	m.used++
	return free, nil
}

// lookup finds an allocated store without allocating. Callers hold a lock.
func (r *Registry) lookup(m *Metric, labels []Label) (*store, error) {
	values, err := r.canonicalize(m, labels)
	if err != nil {
		return nil, err
	}
	match, _ := m.find(values)
	if match < 0 {
		return nil, nil
	}
	return &m.stores[match], nil
}

func equalValues(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
