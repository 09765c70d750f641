package tabular

import (
	"hash/fnv"
	"log"
	"math"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Categorical encoding methods for LinearEncoder.
const (
	MethodOneHot  = "force-onehot"
	MethodHashing = "hashing"
	MethodTarget  = "target"
)

const (
	linearMissing  = -999999
	hashSpace      = 25
	oneHotMaxCard  = 10
	naColumnSuffix = "_na"
)

// Encoder turns a frame into an all-numeric frame. Fit learns the
// encoding from training data; Transform applies it to any frame with
// the same columns.
type Encoder interface {
	Fit(f *Frame) error
	Transform(f *Frame) (*Frame, error)
}

// strategy supplies the missing-value and categorical steps of an
// encoder.
type strategy interface {
	fitMissing(f *Frame)
	fixMissing(f *Frame) error
	fitCategories(f *Frame) error
	encodeCategories(f *Frame) error
}

// base runs the shared encoder pipeline: select columns, fix missing
// values, encode categories, scale numeric columns and check the result.
type base struct {
	Numeric     []string
	Categorical []string
	FixMissing  bool
	Scaler      *StandardScaler

	numCols []string
	cols    []string
	fitted  bool
}

func (b *base) features() []string {
	return append(append([]string(nil), b.Categorical...), b.Numeric...)
}

func (b *base) fit(s strategy, f *Frame) error {
	df := f.Select(b.features())
	if b.FixMissing {
		s.fitMissing(df)
		if err := s.fixMissing(df); err != nil {
			return err
		}
	}
	if err := s.fitCategories(df); err != nil {
		return err
	}
	if err := s.encodeCategories(df); err != nil {
		return err
	}

	b.numCols = nil
	for _, name := range b.Numeric {
		if c, ok := df.Column(name); ok && c.IsNumeric() {
			b.numCols = append(b.numCols, name)
		}
	}
	if b.Scaler != nil && len(b.numCols) > 0 {
		m, err := df.Matrix(b.numCols)
		if err != nil {
			return err
		}
		b.Scaler.Fit(m)
	}
	b.cols = df.Names()
	b.fitted = true
	return nil
}

func (b *base) transform(s strategy, f *Frame) (*Frame, error) {
	if !b.fitted {
		return nil, ErrNotFitted
	}
	df := f.Select(b.features())
	if b.FixMissing {
		if err := s.fixMissing(df); err != nil {
			return nil, err
		}
	}
	if err := s.encodeCategories(df); err != nil {
		return nil, err
	}
	if b.Scaler != nil && len(b.numCols) > 0 {
		if err := b.scale(df); err != nil {
			return nil, err
		}
	}

	if bad := df.NonNumeric(); len(bad) > 0 {
		return nil, errors.Wrapf(ErrNonNumeric, "%s", strings.Join(bad, ", "))
	}
	if b.FixMissing {
		var nan []string
		for _, name := range df.Names() {
			if c, _ := df.Column(name); c.HasMissing() {
				nan = append(nan, name)
			}
		}
		if len(nan) > 0 {
			return nil, errors.Wrapf(ErrMissingValues, "%s", strings.Join(nan, ", "))
		}
	}
	if err := b.checkIntegrity(df); err != nil {
		return nil, err
	}
	log.Printf("tabular: encoded rows=%d cols=%d scaled=%d", df.Rows(), len(df.Names()), len(b.numCols))
	return df, nil
}

func (b *base) scale(df *Frame) error {
	m, err := df.Matrix(b.numCols)
	if err != nil {
		return err
	}
	scaled, err := b.Scaler.Transform(m)
	if err != nil {
		return err
	}
	for j, name := range b.numCols {
		if err := df.Add(NumericColumn(name, mat.Col(nil, j, scaled))); err != nil {
			return err
		}
	}
	return nil
}

func (b *base) checkIntegrity(df *Frame) error {
	got := df.Names()
	want := map[string]bool{}
	for _, name := range b.cols {
		want[name] = true
	}
	var diff []string
	have := map[string]bool{}
	for _, name := range got {
		have[name] = true
		if !want[name] {
			diff = append(diff, name)
		}
	}
	for _, name := range b.cols {
		if !have[name] {
			diff = append(diff, name)
		}
	}
	if len(diff) > 0 {
		sort.Strings(diff)
		return errors.Wrapf(ErrColumnMismatch, "%s", strings.Join(diff, ", "))
	}
	for i := range got {
		if got[i] != b.cols[i] {
			return ErrColumnOrder
		}
	}
	return nil
}

// Columns returns the encoded column names seen at fit time.
func (b *base) Columns() []string {
	return append([]string(nil), b.cols...)
}

// TreeEncoder encodes data for tree models and embedding networks:
// missing numeric values become the column median, plus a <col>_na flag
// for columns that had gaps at fit time, and categories become ordered
// integer codes starting at 1, with 0 for missing or unseen values.
type TreeEncoder struct {
	base

	medians    map[string]float64
	flagged    []string
	categories map[string][]string
}

// NewTreeEncoder returns a TreeEncoder; scaler may be nil.
func NewTreeEncoder(numeric, categorical []string, fixMissing bool, scaler *StandardScaler) *TreeEncoder {
	return &TreeEncoder{base: base{Numeric: numeric, Categorical: categorical, FixMissing: fixMissing, Scaler: scaler}}
}

func (t *TreeEncoder) Fit(f *Frame) error { return t.fit(t, f) }

func (t *TreeEncoder) Transform(f *Frame) (*Frame, error) { return t.transform(t, f) }

func (t *TreeEncoder) fitMissing(f *Frame) {
	t.medians = map[string]float64{}
	t.flagged = nil
	for _, name := range t.features() {
		c, ok := f.Column(name)
		if !ok || !c.IsNumeric() {
			continue
		}
		t.medians[name] = median(c.Values)
		if c.HasMissing() {
			t.flagged = append(t.flagged, name)
		}
	}
}

func (t *TreeEncoder) fixMissing(f *Frame) error {
	flags := make([][]float64, len(t.flagged))
	for k, name := range t.flagged {
		c, ok := f.Column(name)
		if !ok {
			return errors.Wrap(ErrMissingColumn, name)
		}
		flags[k] = make([]float64, c.Len())
		for i := range flags[k] {
			if c.Missing(i) {
				flags[k][i] = 1
			}
		}
	}
	for _, name := range t.features() {
		med, ok := t.medians[name]
		if !ok {
			continue
		}
		c, ok := f.Column(name)
		if !ok || !c.IsNumeric() {
			continue
		}
		filled := c.clone()
		for i, v := range filled.Values {
			if math.IsNaN(v) {
				filled.Values[i] = med
			}
		}
		if err := f.Add(filled); err != nil {
			return err
		}
	}
	for k, name := range t.flagged {
		if err := f.Insert(NumericColumn(name+naColumnSuffix, flags[k])); err != nil {
			return errors.Wrapf(err, "missing flag for %s", name)
		}
	}
	return nil
}

func (t *TreeEncoder) fitCategories(f *Frame) error {
	t.categories = map[string][]string{}
	for _, name := range t.Categorical {
		if c, ok := f.Column(name); ok {
			t.categories[name] = uniqueLabels(c)
		}
	}
	return nil
}

func (t *TreeEncoder) encodeCategories(f *Frame) error {
	for _, name := range t.Categorical {
		classes, ok := t.categories[name]
		if !ok {
			continue
		}
		c, ok := f.Column(name)
		if !ok {
			continue
		}
		codes := make(map[string]float64, len(classes))
		for i, cls := range classes {
			codes[cls] = float64(i + 1)
		}
		values := make([]float64, c.Len())
		for i := range values {
			values[i] = codes[c.Label(i)]
		}
		if err := f.Add(NumericColumn(name, values)); err != nil {
			return err
		}
	}
	return nil
}

// LinearEncoder encodes data for linear models and networks without
// embeddings. Missing numeric values become -999999. Categorical columns
// with fewer than 10 classes, or any column under MethodOneHot, are
// one-hot encoded; wider columns are hashed under MethodHashing and left
// untouched otherwise.
type LinearEncoder struct {
	base

	Method string

	// missing lists the numeric columns filled with -999999.
	missing []string
	onehot  map[string][]string
}

// NewLinearEncoder returns a LinearEncoder; scaler may be nil.
func NewLinearEncoder(numeric, categorical []string, fixMissing bool, scaler *StandardScaler, method string) *LinearEncoder {
	return &LinearEncoder{
		base:   base{Numeric: numeric, Categorical: categorical, FixMissing: fixMissing, Scaler: scaler},
		Method: strings.ToLower(method),
	}
}

func (l *LinearEncoder) Fit(f *Frame) error { return l.fit(l, f) }

func (l *LinearEncoder) Transform(f *Frame) (*Frame, error) { return l.transform(l, f) }

func (l *LinearEncoder) fitMissing(f *Frame) {
	l.missing = nil
	for _, name := range l.features() {
		if c, ok := f.Column(name); ok && c.IsNumeric() {
			l.missing = append(l.missing, name)
		}
	}
}

func (l *LinearEncoder) fixMissing(f *Frame) error {
	for _, name := range l.missing {
		c, ok := f.Column(name)
		if !ok || !c.IsNumeric() {
			continue
		}
		filled := c.clone()
		for i, v := range filled.Values {
			if math.IsNaN(v) {
				filled.Values[i] = linearMissing
			}
		}
		if err := f.Add(filled); err != nil {
			return err
		}
	}
	return nil
}

func (l *LinearEncoder) fitCategories(f *Frame) error {
	l.onehot = map[string][]string{}
	for _, name := range l.Categorical {
		c, ok := f.Column(name)
		if !ok {
			continue
		}
		classes := uniqueLabels(c)
		if len(classes) < oneHotMaxCard || l.Method == MethodOneHot {
			if len(classes) > oneHotMaxCard {
				log.Printf("tabular: warning cardinality of %s = %d", name, len(classes))
			}
			l.onehot[name] = classes
			continue
		}
		switch l.Method {
		case MethodTarget:
			return errors.Wrapf(ErrNotImplemented, "target encoding of %s", name)
		case MethodHashing:
		default:
			log.Printf("tabular: warning no encoding set for feature %s", name)
		}
	}
	return nil
}

func (l *LinearEncoder) encodeCategories(f *Frame) error {
	for _, name := range l.Categorical {
		c, ok := f.Column(name)
		if !ok {
			continue
		}
		if classes, ok := l.onehot[name]; ok {
			if err := expand(f, c, classes); err != nil {
				return err
			}
			continue
		}
		if l.Method == MethodHashing {
			values := make([]float64, c.Len())
			for i := range values {
				values[i] = float64(hashBucket(name, c.Label(i)))
			}
			if err := f.Add(NumericColumn(name, values)); err != nil {
				return err
			}
		}
	}
	return nil
}

// expand replaces c with <col>_unknown followed by one <col>_<class>
// indicator per fitted class. A generated name that is already taken,
// including a class literally called "unknown", fails with
// ErrDuplicateColumn.
func expand(f *Frame, c *Column, classes []string) error {
	index := make(map[string]int, len(classes))
	for i, cls := range classes {
		index[cls] = i + 1
	}
	n := c.Len()
	out := make([][]float64, len(classes)+1)
	for k := range out {
		out[k] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		out[index[c.Label(i)]][i] = 1
	}
	f.Drop(c.Name)
	if err := f.Insert(NumericColumn(c.Name+"_unknown", out[0])); err != nil {
		return errors.Wrapf(err, "one-hot encoding of %s", c.Name)
	}
	for k, cls := range classes {
		if err := f.Insert(NumericColumn(c.Name+"_"+cls, out[k+1])); err != nil {
			return errors.Wrapf(err, "one-hot encoding of %s", c.Name)
		}
	}
	return nil
}

func hashBucket(col, value string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(col + "=" + value))
	return h.Sum32() % hashSpace
}

// uniqueLabels returns the sorted distinct non-missing labels of c.
func uniqueLabels(c *Column) []string {
	seen := map[string]bool{}
	var out []string
	for i := 0; i < c.Len(); i++ {
		if c.Missing(i) {
			continue
		}
		label := c.Label(i)
		if !seen[label] {
			seen[label] = true
			out = append(out, label)
		}
	}
	if c.IsNumeric() {
		sort.Slice(out, func(i, j int) bool {
			a, _ := parseFloat(out[i])
			b, _ := parseFloat(out[j])
			return a < b
		})
	} else {
		sort.Strings(out)
	}
	return out
}

// median ignores NaNs and averages the two middle values of an even
// count.
func median(values []float64) float64 {
	var xs []float64
	for _, v := range values {
		if !math.IsNaN(v) {
			xs = append(xs, v)
		}
	}
	if len(xs) == 0 {
		return math.NaN()
	}
	sort.Float64s(xs)
	// Empirical quantiles at the two middle ranks; equal for odd counts.
	n := float64(len(xs))
	lo := stat.Quantile(0.5, stat.Empirical, xs, nil)
	hi := stat.Quantile((float64(len(xs)/2)+0.5)/n, stat.Empirical, xs, nil)
	return (lo + hi) / 2
}
