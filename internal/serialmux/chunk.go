package serialmux

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/banshee-data/cardio.report/internal/monitoring"
	"github.com/banshee-data/cardio.report/internal/physio"
)

var logf = monitoring.Prefixed("serial")

// ChunkSamples parses one sample per line from column of each line and
// hands emit a TimeSeries every chunkSize samples. Only FORMAT CSV sample
// lines are accepted: comma separated, every field numeric. Anything else
// (board banners, command replies such as "RATE 250 OK") is skipped. A partial chunk is flushed
// when lines closes. It returns ctx.Err() on cancellation or the first emit
// error.
func ChunkSamples(ctx context.Context, lines <-chan string, fs float64, chunkSize, column int,
	emit func(physio.TimeSeries) error) error {
	if err := physio.ValidateFS(fs); err != nil {
		return err
	}
	if chunkSize < 1 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", physio.ErrConfiguration, chunkSize)
	}

	buf := make([]float64, 0, chunkSize)
	skipped := 0
	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		chunk := physio.TimeSeries{FS: fs, Data: buf}
		buf = make([]float64, 0, chunkSize)
		return emit(chunk)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				if skipped > 0 {
					logf("skipped %d unparseable lines", skipped)
				}
				return flush()
			}
			v, err := parseSampleLine(line, column)
			if err != nil {
				if skipped == 0 {
					logf("skipping line %q: %v", line, err)
				}
				skipped++
				continue
			}
			buf = append(buf, v)
			if len(buf) == chunkSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
}

// parseSampleLine returns field column of a board sample line. Fields are
// split on commas only and must all be numbers; the selected one must also
// be finite.
func parseSampleLine(line string, column int) (float64, error) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	if column < 0 || column >= len(fields) {
		return 0, fmt.Errorf("%w: %d fields, want column %d", physio.ErrConfiguration, len(fields), column)
	}
	var sample float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: field %d %q is not numeric", physio.ErrConfiguration, i, f)
		}
		if i == column {
			sample = v
		}
	}
	if math.IsNaN(sample) || math.IsInf(sample, 0) {
		return 0, fmt.Errorf("%w: sample %v is not finite", physio.ErrConfiguration, sample)
	}
	return sample, nil
}
