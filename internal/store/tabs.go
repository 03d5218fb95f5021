package store

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/banshee-data/cardio.report/internal/hrv"
	"github.com/banshee-data/cardio.report/internal/units"
)

// ErrNoTab is returned when activating an index outside the tab list.
var ErrNoTab = errors.New("no such tab")

// Tab renders the snapshot of one stream. The set of implementations is
// closed: ECGTab, EEGTab and EyeTab.
type Tab interface {
	Modality() Modality
	Stream() string
	Render(w io.Writer, snap *Snapshot) error
	// OnSuspend is called when another tab becomes active.
	OnSuspend()
}

// view carries the per-tab state shared by every modality.
type view struct {
	stream   string
	rendered uint64
}

func (v *view) Stream() string { return v.stream }

// OnSuspend forgets the last rendered version so the next activation draws
// the current snapshot even if it has not changed.
func (v *view) OnSuspend() { v.rendered = 0 }

// Rendered returns the version of the last snapshot drawn.
func (v *view) Rendered() uint64 { return v.rendered }

func (v *view) check(snap *Snapshot, m Modality) error {
	if snap == nil {
		return fmt.Errorf("%w: nil snapshot", ErrUnknownStream)
	}
	if snap.Stream != v.stream || snap.Modality != m {
		return fmt.Errorf("tab for %s stream %q cannot render %s stream %q", m, v.stream, snap.Modality, snap.Stream)
	}
	return nil
}

// ECGTab shows the HRV summary.
type ECGTab struct{ view }

func NewECGTab(stream string) *ECGTab { return &ECGTab{view{stream: stream}} }

func (*ECGTab) Modality() Modality { return ECG }

func (t *ECGTab) Render(w io.Writer, snap *Snapshot) error {
	if err := t.check(snap, ECG); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "stream\t%s\tv%d\n", snap.Stream, snap.Version)
	fmt.Fprintf(tw, "beats\t%d\n", snap.Events.Len())
	if snap.Time != nil {
		m := snap.Time
		fmt.Fprintf(tw, "hr\t%.1f bpm\n", m.MeanHR)
		fmt.Fprintf(tw, "sdnn\t%.1f ms\n", units.ConvertInterval(m.SDNN, units.Milliseconds))
		fmt.Fprintf(tw, "rmssd\t%.1f ms\n", units.ConvertInterval(m.RMSSD, units.Milliseconds))
		fmt.Fprintf(tw, "pnn50\t%.1f %%\n", m.PNN50*100)
	}
	if snap.Frequency != nil {
		fmt.Fprintf(tw, "lf/hf\t%.2f\n", snap.Frequency.LFHF)
	}
	if snap.Nonlinear != nil && snap.Nonlinear.Valid(hrv.MetricPoincare) {
		fmt.Fprintf(tw, "sd1/sd2\t%.3f\n", snap.Nonlinear.SD1SD2)
	}
	if snap.SQI != nil {
		fmt.Fprintf(tw, "quality\t%s\n", snap.SQI.Status)
	}
	writeFailures(tw, snap)
	if err := tw.Flush(); err != nil {
		return err
	}
	t.rendered = snap.Version
	return nil
}

// EEGTab shows band powers.
type EEGTab struct{ view }

func NewEEGTab(stream string) *EEGTab { return &EEGTab{view{stream: stream}} }

func (*EEGTab) Modality() Modality { return EEG }

func (t *EEGTab) Render(w io.Writer, snap *Snapshot) error {
	if err := t.check(snap, EEG); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "stream\t%s\tv%d\n", snap.Stream, snap.Version)
	if b := snap.EEG; b != nil {
		fmt.Fprintf(tw, "delta\t%.4g\n", b.Delta)
		fmt.Fprintf(tw, "theta\t%.4g\n", b.Theta)
		fmt.Fprintf(tw, "alpha\t%.4g\t%.0f %%\n", b.Alpha, b.AlphaRel*100)
		fmt.Fprintf(tw, "beta\t%.4g\n", b.Beta)
		fmt.Fprintf(tw, "alpha peak\t%.2f Hz\n", b.AlphaPeakHz)
	}
	writeFailures(tw, snap)
	if err := tw.Flush(); err != nil {
		return err
	}
	t.rendered = snap.Version
	return nil
}

// EyeTab shows the pupil summary.
type EyeTab struct{ view }

func NewEyeTab(stream string) *EyeTab { return &EyeTab{view{stream: stream}} }

func (*EyeTab) Modality() Modality { return Eye }

func (t *EyeTab) Render(w io.Writer, snap *Snapshot) error {
	if err := t.check(snap, Eye); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "stream\t%s\tv%d\n", snap.Stream, snap.Version)
	if p := snap.Pupil; p != nil {
		fmt.Fprintf(tw, "valid\t%d/%d\n", p.Valid, p.Samples)
		fmt.Fprintf(tw, "diameter\t%.2f mm\t± %.2f\n", p.MeanDiameterMM, p.SDDiameterMM)
	}
	writeFailures(tw, snap)
	if err := tw.Flush(); err != nil {
		return err
	}
	t.rendered = snap.Version
	return nil
}

func writeFailures(w io.Writer, snap *Snapshot) {
	if snap.LastFailure != "" {
		fmt.Fprintf(w, "last failure\t%s\n", snap.LastFailure)
	}
	for _, c := range categoryNames {
		if msg, ok := snap.Failures[c.name]; ok {
			fmt.Fprintf(w, "%s\t%s\n", c.name, msg)
		}
	}
}

// Tabs selects one active tab by index.
type Tabs struct {
	tabs   []Tab
	active int
}

// NewTabs returns the tab set with the first tab active.
func NewTabs(tabs ...Tab) *Tabs {
	return &Tabs{tabs: tabs}
}

// Len returns the number of tabs.
func (t *Tabs) Len() int { return len(t.tabs) }

// Active returns the active tab, or nil when there are none.
func (t *Tabs) Active() Tab {
	if len(t.tabs) == 0 {
		return nil
	}
	return t.tabs[t.active]
}

// ActiveIndex returns the index of the active tab.
func (t *Tabs) ActiveIndex() int { return t.active }

// Activate switches to tab i, suspending the previous tab when it changes.
func (t *Tabs) Activate(i int) (Tab, error) {
	if i < 0 || i >= len(t.tabs) {
		return nil, fmt.Errorf("%w: %d of %d", ErrNoTab, i, len(t.tabs))
	}
	if i != t.active {
		t.tabs[t.active].OnSuspend()
		t.active = i
	}
	return t.tabs[i], nil
}

// Render prepares the active tab's stream in s and renders it. Inactive
// streams are not prepared.
func (t *Tabs) Render(w io.Writer, s *Store) (*Snapshot, error) {
	tab := t.Active()
	if tab == nil {
		return nil, ErrNoTab
	}
	snap, err := s.Prepare(tab.Stream())
	if err != nil {
		return nil, err
	}
	return snap, tab.Render(w, snap)
}
