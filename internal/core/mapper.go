package core

import "fmt"

// DefaultPreviewRows bounds Preview when the caller passes n <= 0.
const DefaultPreviewRows = 5

// Mapping assigns upload columns to product fields and tracks columns the
// user chose to skip. A skipped column never supplies a value, even when a
// field is mapped to it. The zero value is not usable; call NewMapping.
type Mapping struct {
	headers []string
	index   map[string]int
	columns [numProductFields]string
	skip    map[string]bool
}

// MappingSpec is the wire form of a Mapping.
type MappingSpec struct {
	Columns map[ProductField]string `json:"columns"`
	Skip    []string                `json:"skip,omitempty"`
}

// NewMapping builds a mapping over headers and auto-maps every field whose
// label or key equals a header, ignoring case. The first matching header wins.
func NewMapping(headers []string) *Mapping {
	m := &Mapping{
		headers: append([]string(nil), headers...),
		index:   make(map[string]int, len(headers)),
		skip:    make(map[string]bool),
	}
	for i, h := range headers {
		if _, dup := m.index[h]; !dup {
			m.index[h] = i
		}
	}

	for _, f := range ProductFields() {
		for _, h := range headers {
			if f.matchesHeader(h) {
				m.columns[f] = h
				break
			}
		}
	}
	return m
}

// NewMappingFromSpec builds a mapping over headers from a client-supplied spec.
// Fields absent from the spec are unmapped; no auto-mapping is applied.
func NewMappingFromSpec(headers []string, spec MappingSpec) (*Mapping, error) {
	m := NewMapping(headers)
	m.columns = [numProductFields]string{}

	for f, h := range spec.Columns {
		if err := m.Map(f, h); err != nil {
			return nil, err
		}
	}
	for _, h := range spec.Skip {
		if err := m.Skip(h); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Spec returns the wire form of the current state.
func (m *Mapping) Spec() MappingSpec {
	spec := MappingSpec{Columns: make(map[ProductField]string)}
	for _, f := range ProductFields() {
		if h := m.columns[f]; h != "" {
			spec.Columns[f] = h
		}
	}
	for _, h := range m.headers {
		if m.skip[h] {
			spec.Skip = append(spec.Skip, h)
		}
	}
	return spec
}

// Headers returns the upload's header row.
func (m *Mapping) Headers() []string {
	return append([]string(nil), m.headers...)
}

// Map assigns header to f. An empty header unmaps the field.
func (m *Mapping) Map(f ProductField, header string) error {
	if !f.valid() {
		return fmt.Errorf("%w: %d", ErrUnknownField, int(f))
	}
	if header == "" {
		m.columns[f] = ""
		return nil
	}
	if _, ok := m.index[header]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownColumn, header)
	}
	m.columns[f] = header
	return nil
}

// Unmap clears the column assigned to f.
func (m *Mapping) Unmap(f ProductField) {
	if f.valid() {
		m.columns[f] = ""
	}
}

// Column returns the header mapped to f.
func (m *Mapping) Column(f ProductField) (string, bool) {
	if !f.valid() || m.columns[f] == "" {
		return "", false
	}
	return m.columns[f], true
}

// Skip marks header as skipped.
func (m *Mapping) Skip(header string) error {
	if _, ok := m.index[header]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownColumn, header)
	}
	m.skip[header] = true
	return nil
}

// ToggleSkip flips header in or out of the skip set and reports whether it
// is now skipped.
func (m *Mapping) ToggleSkip(header string) (bool, error) {
	if _, ok := m.index[header]; !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownColumn, header)
	}
	if m.skip[header] {
		delete(m.skip, header)
		return false, nil
	}
	m.skip[header] = true
	return true, nil
}

func (m *Mapping) Skipped(header string) bool {
	return m.skip[header]
}

// source returns the column index feeding f, or -1.
func (m *Mapping) source(f ProductField) int {
	h := m.columns[f]
	if h == "" || m.skip[h] {
		return -1
	}
	idx, ok := m.index[h]
	if !ok {
		return -1
	}
	return idx
}

// Missing lists required fields without a usable, non-skipped column.
func (m *Mapping) Missing() []ProductField {
	var missing []ProductField
	for _, f := range ProductFields() {
		if f.Required() && m.source(f) < 0 {
			missing = append(missing, f)
		}
	}
	return missing
}

// CanProceed reports whether every required field has a usable column.
// It reflects the current state, so call it again after any change.
func (m *Mapping) CanProceed() bool {
	return len(m.Missing()) == 0
}

// Validate returns a *MappingError naming unmapped required fields.
func (m *Mapping) Validate() error {
	if missing := m.Missing(); len(missing) > 0 {
		return &MappingError{Missing: missing}
	}
	return nil
}

// ConvertRow maps one data row onto a ProductInput. Text fields past the end
// of a short row stay empty; mapped numeric fields fall back to 0.
func (m *Mapping) ConvertRow(row []string) ProductInput {
	var in ProductInput
	for _, f := range ProductFields() {
		idx := m.source(f)
		if idx < 0 {
			continue
		}
		var raw string
		if idx < len(row) {
			raw = row[idx]
		}
		fieldSpecs[f].assign(&in, raw)
	}
	return in
}

// Convert converts every row and keeps those with both SKU and name.
// rejected counts the rows that were dropped.
func (m *Mapping) Convert(rows [][]string) (valid []ProductInput, rejected int) {
	valid = make([]ProductInput, 0, len(rows))
	for _, row := range rows {
		in := m.ConvertRow(row)
		if !in.Valid() {
			rejected++
			continue
		}
		valid = append(valid, in)
	}
	return valid, rejected
}

// Preview converts at most n leading rows through the same path as Convert,
// without dropping invalid ones.
func (m *Mapping) Preview(rows [][]string, n int) []ProductInput {
	if n <= 0 {
		n = DefaultPreviewRows
	}
	if n > len(rows) {
		n = len(rows)
	}
	out := make([]ProductInput, n)
	for i := range out {
		out[i] = m.ConvertRow(rows[i])
	}
	return out
}
