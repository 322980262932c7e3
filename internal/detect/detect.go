// Package detect classifies raw capture buffers as active or silent.
// The loudness estimate is the median absolute distance of decoded
// samples from the format's silence reference; the median holds up
// against transient clicks that would push a mean or RMS estimate over
// the threshold.
package detect

import (
	"errors"
	"math"
	"slices"

	"github.com/oszuidwest/zwfm-loopback/internal/pcm"
)

// StopMarginDB is how far below the start threshold the stop threshold
// sits. The dead band keeps a borderline signal from flapping the
// stream open and closed.
const StopMarginDB = 3.0

// ErrNoSamples is returned when a buffer is too short to decode even a
// single frame. Callers must fail the classification cycle rather than
// treat the empty window as silence.
var ErrNoSamples = errors.New("no decodable samples in buffer")

// Thresholds holds the asymmetric start/stop amplitude bounds.
type Thresholds struct {
	Start float64 // rising edge: activity requires exceeding this
	Stop  float64 // falling edge: silence requires dropping below this
}

// NewThresholds derives amplitude thresholds from a sensitivity in dB
// relative to the format's maximum amplitude. The sign of the
// sensitivity is ignored; -60 and 60 describe the same level.
func NewThresholds(sensitivityDB float64, format pcm.StreamFormat) Thresholds {
	return Thresholds{
		Start: amplitude(sensitivityDB, format),
		Stop:  amplitude(math.Abs(sensitivityDB)+StopMarginDB, format),
	}
}

// amplitude converts a dB-below-full-scale level to a linear amplitude.
func amplitude(db float64, format pcm.StreamFormat) float64 {
	return float64(format.MaxAmp) * math.Pow(10, -math.Abs(db)/20)
}

// Classification is the two-sided verdict for one probe cycle. The
// booleans are evaluated independently; rising edges consult
// AboveStart and falling edges consult AboveStop.
type Classification struct {
	Level      float64 // median absolute distance from the reference level
	AboveStart bool
	AboveStop  bool
}

// Classify decodes at most sampleSize frames from buf and compares the
// median sample distance against both thresholds. It returns
// ErrNoSamples when buf does not contain a single complete frame.
func Classify(buf []byte, format pcm.StreamFormat, sampleSize int, th Thresholds) (Classification, error) {
	level, err := Median(buf, format, sampleSize)
	if err != nil {
		return Classification{}, err
	}
	return Classification{
		Level:      level,
		AboveStart: level > th.Start,
		AboveStop:  level > th.Stop,
	}, nil
}

// Median computes the median absolute distance from the format's
// reference level over the first sampleSize frames of buf, across all
// channels.
func Median(buf []byte, format pcm.StreamFormat, sampleSize int) (float64, error) {
	distances := make([]float64, 0, sampleSize*format.Channels)

	dec := pcm.NewDecoder(buf, format)
	for n := 0; n < sampleSize && dec.Next(); n++ {
		for _, sample := range dec.Frame() {
			d := sample - format.Reference
			if d < 0 {
				d = -d
			}
			distances = append(distances, float64(d))
		}
	}

	if len(distances) == 0 {
		return 0, ErrNoSamples
	}

	slices.Sort(distances)
	mid := len(distances) / 2
	if len(distances)%2 == 0 {
		return (distances[mid-1] + distances[mid]) / 2, nil
	}
	return distances[mid], nil
}
