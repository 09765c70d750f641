// Package tabular reads CSV data into column frames and encodes them
// into all-numeric matrices for the learner.
package tabular

import (
	"encoding/csv"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrNonNumeric      = errors.New("tabular: not all columns are numeric")
	ErrColumnMismatch  = errors.New("tabular: columns in fitted and transformed frames do not match")
	ErrColumnOrder     = errors.New("tabular: columns in fitted and transformed frames are not in the same order")
	ErrMissingColumn   = errors.New("tabular: column not found")
	ErrMissingValues   = errors.New("tabular: missing values remain after encoding")
	ErrNotImplemented  = errors.New("tabular: encoding not implemented")
	ErrNotFitted       = errors.New("tabular: encoder used before Fit")
	ErrDuplicateColumn = errors.New("tabular: duplicate column name")
)

// Column holds either numeric values (NaN marks a missing value) or
// string labels ("" marks a missing value).
type Column struct {
	Name    string
	Values  []float64
	Labels  []string
	numeric bool
}

// NumericColumn returns a numeric column.
func NumericColumn(name string, values []float64) *Column {
	return &Column{Name: name, Values: values, numeric: true}
}

// LabelColumn returns a categorical column.
func LabelColumn(name string, labels []string) *Column {
	return &Column{Name: name, Labels: labels}
}

func (c *Column) IsNumeric() bool { return c.numeric }

func (c *Column) Len() int {
	if c.numeric {
		return len(c.Values)
	}
	return len(c.Labels)
}

// Missing reports whether row i holds no value.
func (c *Column) Missing(i int) bool {
	if c.numeric {
		return math.IsNaN(c.Values[i])
	}
	return c.Labels[i] == ""
}

// Label returns row i as a string; numbers use their shortest form.
func (c *Column) Label(i int) string {
	if !c.numeric {
		return c.Labels[i]
	}
	if math.IsNaN(c.Values[i]) {
		return ""
	}
	return strconv.FormatFloat(c.Values[i], 'g', -1, 64)
}

// HasMissing reports whether any row is missing.
func (c *Column) HasMissing() bool {
	for i := 0; i < c.Len(); i++ {
		if c.Missing(i) {
			return true
		}
	}
	return false
}

func (c *Column) clone() *Column {
	out := &Column{Name: c.Name, numeric: c.numeric}
	if c.numeric {
		out.Values = append([]float64(nil), c.Values...)
	} else {
		out.Labels = append([]string(nil), c.Labels...)
	}
	return out
}

// Frame is an ordered set of equally long named columns.
type Frame struct {
	cols  []*Column
	index map[string]int
	rows  int
}

// NewFrame returns a frame holding cols in order. Names must be unique.
func NewFrame(cols ...*Column) (*Frame, error) {
	f := &Frame{index: map[string]int{}}
	for _, c := range cols {
		if err := f.Insert(c); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Add appends c, or replaces the column of the same name in place.
func (f *Frame) Add(c *Column) error {
	if len(f.cols) > 0 && c.Len() != f.rows {
		return errors.Errorf("tabular: column %s has %d rows, frame has %d", c.Name, c.Len(), f.rows)
	}
	f.rows = c.Len()
	if i, ok := f.index[c.Name]; ok {
		f.cols[i] = c
		return nil
	}
	f.index[c.Name] = len(f.cols)
	f.cols = append(f.cols, c)
	return nil
}

// Insert appends c and fails with ErrDuplicateColumn when the frame
// already has a column of that name.
func (f *Frame) Insert(c *Column) error {
	if _, ok := f.index[c.Name]; ok {
		return errors.Wrap(ErrDuplicateColumn, c.Name)
	}
	return f.Add(c)
}

// push appends c unchecked; the caller guarantees a fresh name and a
// matching length.
func (f *Frame) push(c *Column) {
	f.index[c.Name] = len(f.cols)
	f.cols = append(f.cols, c)
	f.rows = c.Len()
}

// Drop removes the named column if present.
func (f *Frame) Drop(name string) {
	i, ok := f.index[name]
	if !ok {
		return
	}
	f.cols = append(f.cols[:i], f.cols[i+1:]...)
	f.reindex()
}

func (f *Frame) reindex() {
	f.index = make(map[string]int, len(f.cols))
	for i, c := range f.cols {
		f.index[c.Name] = i
	}
	if len(f.cols) == 0 {
		f.rows = 0
	}
}

func (f *Frame) Rows() int { return f.rows }

// Names returns the column names in order.
func (f *Frame) Names() []string {
	names := make([]string, len(f.cols))
	for i, c := range f.cols {
		names[i] = c.Name
	}
	return names
}

// Column looks up a column by name.
func (f *Frame) Column(name string) (*Column, bool) {
	i, ok := f.index[name]
	if !ok {
		return nil, false
	}
	return f.cols[i], true
}

// Select returns a deep copy holding the named columns in the given
// order, skipping names that are absent.
func (f *Frame) Select(names []string) *Frame {
	out := &Frame{index: map[string]int{}}
	for _, name := range names {
		if c, ok := f.Column(name); ok {
			if _, dup := out.index[name]; dup {
				continue
			}
			out.push(c.clone())
		}
	}
	return out
}

// Take returns a deep copy holding the given rows in order.
func (f *Frame) Take(rows []int) *Frame {
	out := &Frame{index: map[string]int{}}
	for _, c := range f.cols {
		sub := &Column{Name: c.Name, numeric: c.numeric}
		for _, i := range rows {
			if c.numeric {
				sub.Values = append(sub.Values, c.Values[i])
			} else {
				sub.Labels = append(sub.Labels, c.Labels[i])
			}
		}
		out.push(sub)
	}
	return out
}

// NonNumeric lists the columns that still hold labels.
func (f *Frame) NonNumeric() []string {
	var names []string
	for _, c := range f.cols {
		if !c.numeric {
			names = append(names, c.Name)
		}
	}
	return names
}

// Matrix packs the named numeric columns into a rows x len(cols) matrix.
// A nil cols selects every column.
func (f *Frame) Matrix(cols []string) (*mat.Dense, error) {
	if cols == nil {
		cols = f.Names()
	}
	if len(cols) == 0 || f.rows == 0 {
		return nil, errors.New("tabular: empty matrix")
	}
	var bad []string
	picked := make([]*Column, len(cols))
	for j, name := range cols {
		c, ok := f.Column(name)
		if !ok {
			return nil, errors.Wrap(ErrMissingColumn, name)
		}
		if !c.numeric {
			bad = append(bad, name)
		}
		picked[j] = c
	}
	if len(bad) > 0 {
		return nil, errors.Wrapf(ErrNonNumeric, "%s", strings.Join(bad, ", "))
	}
	m := mat.NewDense(f.rows, len(cols), nil)
	for j, c := range picked {
		m.SetCol(j, c.Values)
	}
	return m, nil
}

// ReadCSV reads a CSV with a header row. A column is numeric when every
// non-empty cell parses as a float; "", "NA" and "NaN" are missing.
func ReadCSV(r io.Reader) (*Frame, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "tabular: read csv")
	}
	if len(records) == 0 {
		return nil, errors.New("tabular: csv has no header")
	}
	header, body := records[0], records[1:]
	cols := make([]*Column, 0, len(header))
	for j, name := range header {
		labels := make([]string, len(body))
		for i, rec := range body {
			labels[i] = strings.TrimSpace(rec[j])
		}
		cols = append(cols, parseColumn(strings.TrimSpace(name), labels))
	}
	return NewFrame(cols...)
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

func isMissing(s string) bool {
	return s == "" || s == "NA" || s == "NaN"
}

func parseColumn(name string, labels []string) *Column {
	values := make([]float64, len(labels))
	for i, s := range labels {
		if isMissing(s) {
			values[i] = math.NaN()
			continue
		}
		v, err := parseFloat(s)
		if err != nil {
			for k := range labels {
				if isMissing(labels[k]) {
					labels[k] = ""
				}
			}
			return LabelColumn(name, labels)
		}
		values[i] = v
	}
	return NumericColumn(name, values)
}
