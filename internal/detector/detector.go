// Package detector finds R-peaks in an ECG using the five-stage
// Pan-Tompkins pipeline: band-pass, derivative, squaring, moving-window
// integration and adaptive thresholding.
//
// Every decision depends only on samples already seen, so a Detector fed a
// waveform in arbitrary chunks reports exactly the same beats as one fed the
// whole waveform at once. A candidate is reported once one refractory period
// of later samples has arrived, so beats in the final refractory period of
// the input are held back until more data is processed.
package detector

import (
	"fmt"
	"math"

	"github.com/banshee-data/cardio.report/internal/dsp"
	"github.com/banshee-data/cardio.report/internal/physio"
)

// BeatLabel is attached to every detected event.
const BeatLabel = "R"

const rrHistory = 8

type peak struct {
	idx int     // position of the integrated-signal maximum
	amp float64 // integrated-signal amplitude
	r   int     // refined R-peak position on the band-passed signal
}

// Detector is a streaming QRS detector. It is not safe for concurrent use.
type Detector struct {
	cfg Config
	fs  float64

	bp    *dsp.BandPass
	deriv [4]float64 // previous band-passed samples, newest first

	win    []float64 // squared derivative ring for integration
	winSum float64
	hist   []float64 // band-passed ring for R-peak refinement
	guard  int

	n        int // absolute index of the next sample
	prevMWI  float64
	rising   bool
	learnN   int
	learning bool
	learnMax float64
	learnSum float64
	learned  []peak

	spki, npki float64

	pending    peak
	hasPending bool
	last       peak
	haveBeat   bool
	lastR      int
	rrs        []int

	noise       []peak
	noiseDirty  bool
	refractoryN int
	searchBackN int
}

// New returns a streaming detector after validating cfg against fs.
func New(fs float64, cfg Config) (*Detector, error) {
	if err := cfg.Validate(fs); err != nil {
		return nil, err
	}
	winN := int(math.Round(cfg.IntegrationWindowS * fs))
	guard := int(math.Round(0.05*fs)) + 2
	d := &Detector{
		cfg:         cfg,
		fs:          fs,
		bp:          dsp.NewBandPass(cfg.LowCutHz, cfg.HighCutHz, fs),
		win:         make([]float64, winN),
		hist:        make([]float64, winN+guard+2),
		guard:       guard,
		learnN:      int(math.Round(cfg.LearningS * fs)),
		learning:    true,
		refractoryN: int(math.Round(cfg.MinRRS * fs)),
		searchBackN: int(math.Round(cfg.SearchBackS * fs)),
		lastR:       -1,
	}
	return d, nil
}

// Samples returns how many samples have been processed.
func (d *Detector) Samples() int { return d.n }

// Process consumes a chunk and returns the absolute sample indices of the
// beats confirmed while doing so, in increasing order.
func (d *Detector) Process(chunk []float64) []int {
	var beats []int
	for _, x := range chunk {
		beats = d.step(x, beats)
	}
	return beats
}

func (d *Detector) step(x float64, beats []int) []int {
	i := d.n
	d.n++

	y := d.bp.Step(x)
	d.hist[i%len(d.hist)] = y
	dv := (2*y + d.deriv[0] - d.deriv[2] - 2*d.deriv[3]) * d.fs / 8
	d.deriv[3], d.deriv[2], d.deriv[1], d.deriv[0] = d.deriv[2], d.deriv[1], d.deriv[0], y

	sq := dv * dv
	slot := i % len(d.win)
	d.winSum += sq - d.win[slot]
	d.win[slot] = sq
	if d.winSum < 0 {
		d.winSum = 0
	}
	mwi := d.winSum / float64(len(d.win))

	var found *peak
	if i > 0 {
		if mwi > d.prevMWI {
			d.rising = true
		} else if mwi < d.prevMWI && d.rising {
			d.rising = false
			found = &peak{idx: i - 1, amp: d.prevMWI, r: d.refine(i - 1)}
		}
	}
	d.prevMWI = mwi

	if d.learning {
		d.learnSum += mwi
		if mwi > d.learnMax {
			d.learnMax = mwi
		}
		if found != nil {
			d.learned = append(d.learned, *found)
		}
		if d.n >= d.learnN {
			beats = d.finishLearning(i, beats)
		}
		return beats
	}

	beats = d.advance(i, beats)
	if found != nil {
		d.onPeak(*found)
	}
	return beats
}

func (d *Detector) finishLearning(now int, beats []int) []int {
	d.learning = false
	d.spki = d.learnMax / 3
	d.npki = d.learnSum / float64(d.n) / 2
	for _, p := range d.learned {
		beats = d.advance(p.idx+1, beats)
		d.onPeak(p)
	}
	d.learned = nil
	return d.advance(now, beats)
}

func (d *Detector) threshold() float64 {
	return d.npki + 0.25*(d.spki-d.npki)
}

// onPeak classifies a local maximum of the integrated signal.
func (d *Detector) onPeak(p peak) {
	if d.haveBeat && p.idx-d.last.idx <= d.refractoryN {
		return
	}
	if d.hasPending && p.idx-d.pending.idx <= d.refractoryN {
		if p.amp > d.pending.amp {
			d.pending = p
		}
		return
	}
	if p.amp > d.threshold() {
		d.pending = p
		d.hasPending = true
		return
	}
	d.npki = 0.125*p.amp + 0.875*d.npki
	kept := d.noise[:0]
	for _, q := range d.noise {
		if q.idx >= p.idx-d.searchBackN {
			kept = append(kept, q)
		}
	}
	d.noise = append(kept, p)
	d.noiseDirty = true
}

// advance confirms a pending candidate once its refractory period has passed
// and runs search-back when a beat is overdue.
func (d *Detector) advance(now int, beats []int) []int {
	if d.hasPending && now-d.pending.idx > d.refractoryN {
		d.hasPending = false
		beats = d.accept(d.pending, false, beats)
	}
	if d.hasPending || !d.haveBeat || len(d.rrs) == 0 || !d.noiseDirty {
		return beats
	}
	var sum int
	for _, v := range d.rrs {
		sum += v
	}
	expected := float64(sum) / float64(len(d.rrs))
	if float64(now-d.last.idx) <= d.cfg.ThresholdScale*expected {
		return beats
	}
	d.noiseDirty = false
	thr2 := 0.5 * d.threshold()
	best := -1
	for k, p := range d.noise {
		if p.idx <= d.last.idx+d.refractoryN || p.idx < now-d.searchBackN || p.amp <= thr2 {
			continue
		}
		if best < 0 || p.amp > d.noise[best].amp {
			best = k
		}
	}
	if best >= 0 {
		beats = d.accept(d.noise[best], true, beats)
	}
	return beats
}

func (d *Detector) accept(p peak, searchBack bool, beats []int) []int {
	if searchBack {
		d.spki = 0.25*p.amp + 0.75*d.spki
	} else {
		d.spki = 0.125*p.amp + 0.875*d.spki
	}
	if d.haveBeat {
		d.rrs = append(d.rrs, p.idx-d.last.idx)
		if len(d.rrs) > rrHistory {
			d.rrs = d.rrs[1:]
		}
	}
	d.last = p
	d.haveBeat = true

	kept := d.noise[:0]
	for _, q := range d.noise {
		if q.idx > p.idx {
			kept = append(kept, q)
		}
	}
	d.noise = kept
	d.noiseDirty = len(kept) > 0

	r := p.r
	if r <= d.lastR {
		r = d.lastR + 1
	}
	d.lastR = r
	return append(beats, r)
}

// refine locates the R-peak as the largest absolute band-passed sample in
// the integration window preceding an integrated-signal peak.
func (d *Detector) refine(idx int) int {
	lo := idx - len(d.win) - d.guard
	if oldest := d.n - len(d.hist); lo < oldest {
		lo = oldest
	}
	if lo < 0 {
		lo = 0
	}
	best, bestV := idx, -1.0
	for j := lo; j <= idx; j++ {
		if v := math.Abs(d.hist[j%len(d.hist)]); v > bestV {
			best, bestV = j, v
		}
	}
	return best
}

// Detect runs the detector over a whole series and returns the beats as
// events. It fails with physio.ErrInsufficientSignal when fewer than two
// beats are found.
func Detect(series physio.TimeSeries, cfg Config) (physio.Events, error) {
	d, err := New(series.FS, cfg)
	if err != nil {
		return physio.Events{}, err
	}
	if series.Len() == 0 {
		return physio.Events{}, fmt.Errorf("%w: no samples", physio.ErrEmptyInput)
	}
	idx := d.Process(series.Data)
	if len(idx) < 2 {
		return physio.Events{}, fmt.Errorf("%w: found %d beat(s) in %.1f s of signal",
			physio.ErrInsufficientSignal, len(idx), series.Duration())
	}
	return Label(series.FS, idx)
}

// Label wraps beat indices as events carrying BeatLabel.
func Label(fs float64, idx []int) (physio.Events, error) {
	items := make([]physio.Event, len(idx))
	for i, v := range idx {
		items[i] = physio.Event{Index: v, Label: BeatLabel}
	}
	return physio.NewEvents(fs, items)
}
