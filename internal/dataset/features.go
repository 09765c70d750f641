package dataset

import (
	"bytes"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/pkg/errors"
)

// A Featurizer turns a decoded shard sample into an input row and a
// target row.
type Featurizer interface {
	Featurize(s Sample) (input, target []float64, err error)
	InputSize() int
	TargetSize() int
}

// ClassFeatures samples a Grid x Grid intensity map from the image and
// one-hot encodes the label over Classes.
type ClassFeatures struct {
	Grid    int
	Classes int
}

func (c ClassFeatures) InputSize() int  { return c.Grid * c.Grid }
func (c ClassFeatures) TargetSize() int { return c.Classes }

func (c ClassFeatures) Featurize(s Sample) ([]float64, []float64, error) {
	if s.Label < 0 {
		return nil, nil, errors.Errorf("features: sample %s has no label", s.Key)
	}
	img, err := decode(s.Image)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "features: sample %s", s.Key)
	}
	target := make([]float64, c.Classes)
	target[clampLabel(s.Label, c.Classes)] = 1
	return gridIntensity(img, c.Grid), target, nil
}

// SuperResolution pairs a coarse LowGrid intensity map of the image with
// a fine HighGrid map of the same image as the reconstruction target.
type SuperResolution struct {
	LowGrid  int
	HighGrid int
}

func (s SuperResolution) InputSize() int  { return s.LowGrid * s.LowGrid }
func (s SuperResolution) TargetSize() int { return s.HighGrid * s.HighGrid }

func (s SuperResolution) Featurize(sample Sample) ([]float64, []float64, error) {
	img, err := decode(sample.Image)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "features: sample %s", sample.Key)
	}
	return gridIntensity(img, s.LowGrid), gridIntensity(img, s.HighGrid), nil
}

func decode(raw []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	if img.Bounds().Dx() == 0 || img.Bounds().Dy() == 0 {
		return nil, errors.New("empty image")
	}
	return img, nil
}

// gridIntensity samples the mean RGB intensity at grid x grid evenly
// spaced pixels, row-major, in [0, 1].
func gridIntensity(img image.Image, grid int) []float64 {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	features := make([]float64, grid*grid)
	stepX := float64(width) / float64(grid)
	stepY := float64(height) / float64(grid)
	for gy := 0; gy < grid; gy++ {
		for gx := 0; gx < grid; gx++ {
			px := bounds.Min.X + int(math.Min(float64(width-1), float64(gx)*stepX))
			py := bounds.Min.Y + int(math.Min(float64(height-1), float64(gy)*stepY))
			r, g, b, _ := img.At(px, py).RGBA()
			features[gy*grid+gx] = (float64(r) + float64(g) + float64(b)) / (3 * 65535.0)
		}
	}
	return features
}

func clampLabel(label, classes int) int {
	if label < 0 {
		return 0
	}
	return label % classes
}
