package serialmux

import (
	"bytes"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/cardio.report/internal/physio"
)

// SyntheticPort is a SerialPorter that streams a synthetic ECG as
// "index,value" lines, looping over one generated segment. Commands written
// to it are recorded and otherwise ignored.
type SyntheticPort struct {
	r *io.PipeReader
	w *io.PipeWriter

	stop chan struct{}
	once sync.Once

	mu       sync.Mutex
	commands []string
}

// SyntheticColumn is the field holding the sample value.
const SyntheticColumn = 1

// NewSyntheticPort starts generating at opts.FS. With tick > 0 samples are
// released in real time once per tick; with tick == 0 they are written as
// fast as the reader consumes them.
func NewSyntheticPort(opts physio.SynthOptions, tick time.Duration) *SyntheticPort {
	if opts.Seconds <= 0 {
		opts.Seconds = 60
	}
	segment := physio.Synthesize(opts)
	r, w := io.Pipe()
	p := &SyntheticPort{r: r, w: w, stop: make(chan struct{})}
	go p.generate(segment, tick)
	return p
}

func (p *SyntheticPort) generate(segment physio.TimeSeries, tick time.Duration) {
	defer p.w.Close()
	if segment.Len() == 0 {
		return
	}
	perTick := 1
	var ticker *time.Ticker
	if tick > 0 {
		perTick = int(math.Max(1, math.Round(segment.FS*tick.Seconds())))
		ticker = time.NewTicker(tick)
		defer ticker.Stop()
	}

	var buf bytes.Buffer
	index := 0
	for {
		if ticker != nil {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
			}
		} else {
			select {
			case <-p.stop:
				return
			default:
			}
		}
		buf.Reset()
		for i := 0; i < perTick; i++ {
			v := segment.Data[index%segment.Len()]
			buf.WriteString(strconv.Itoa(index))
			buf.WriteByte(',')
			buf.WriteString(strconv.FormatFloat(v, 'f', 6, 64))
			buf.WriteByte('\n')
			index++
		}
		if _, err := p.w.Write(buf.Bytes()); err != nil {
			return
		}
	}
}

func (p *SyntheticPort) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *SyntheticPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, line := range strings.Split(strings.TrimRight(string(b), "\n"), "\n") {
		p.commands = append(p.commands, line)
	}
	return len(b), nil
}

// Commands returns the commands written so far.
func (p *SyntheticPort) Commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.commands...)
}

// Close stops generation; pending and future reads return io.EOF.
func (p *SyntheticPort) Close() error {
	p.once.Do(func() {
		close(p.stop)
		p.w.Close()
	})
	return nil
}
