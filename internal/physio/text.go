package physio

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// ParseField returns field column (0-based) of a comma, tab or space
// separated line as a number.
func ParseField(line string, column int) (float64, error) {
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || r == ';' || r == '\t' || r == ' '
	})
	if column < 0 || column >= len(fields) {
		return 0, fmt.Errorf("%w: line has %d fields, want column %d", ErrConfiguration, len(fields), column)
	}
	v, err := strconv.ParseFloat(fields[column], 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q is not a finite number", ErrConfiguration, fields[column])
	}
	return v, nil
}

// ReadColumn reads one numeric column from delimited text. Blank lines and
// lines starting with '#' are skipped, as is a non-numeric first line
// (a header).
func ReadColumn(r io.Reader, column int) ([]float64, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	var out []float64
	first := true
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		v, err := ParseField(text, column)
		if err != nil {
			if first {
				first = false
				continue
			}
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		first = false
		out = append(out, v)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no numeric rows", ErrEmptyInput)
	}
	return out, nil
}

// ReadColumnFile opens path, or stdin for "-", and calls ReadColumn.
func ReadColumnFile(path string, column int) ([]float64, error) {
	if path == "-" {
		return ReadColumn(os.Stdin, column)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return ReadColumn(f, column)
}
