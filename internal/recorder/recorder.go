// Package recorder provides recording and replay of waveform chunks.
//
// A recording is a directory holding header.json and a chunks/ directory of
// numbered chunk files. Each chunk file is a sequence of frames; a frame is
// a little-endian uint32 sample count followed by that many float64
// samples. Chunk files are rotated by size.
package recorder

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/cardio.report/internal/physio"
	"github.com/banshee-data/cardio.report/internal/stream"
)

// FormatVersion is written to every header.
const FormatVersion = "1.0"

// DefaultChunkBytes is the size at which chunk files are rotated.
const DefaultChunkBytes = 4 << 20

const (
	headerFile = "header.json"
	chunkDir   = "chunks"
)

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("recorder is closed")

// Header describes a recording. Totals are rewritten on every Append so a
// recording interrupted before Close still replays.
type Header struct {
	Version      string  `json:"version"`
	ID           string  `json:"id"`
	FS           float64 `json:"fs_hz"`
	CreatedNs    int64   `json:"created_ns"`
	TotalFrames  uint64  `json:"total_frames"`
	TotalSamples uint64  `json:"total_samples"`
	ChunkFiles   int     `json:"chunk_files"`
	Closed       bool    `json:"closed"`
}

// Options tunes a Recorder.
type Options struct {
	ChunkBytes int64
	Now        func() time.Time
}

// Recorder writes chunks to a recording directory. It implements
// stream.Sink.
type Recorder struct {
	basePath   string
	chunkBytes int64

	header       Header
	currentChunk int
	chunkFile    *os.File
	chunkOffset  int64

	mu     sync.Mutex
	closed bool
}

var _ stream.Sink = (*Recorder)(nil)

// Create starts a recording at path with default options.
func Create(path string, fs float64) (*Recorder, error) {
	return New(path, fs, Options{})
}

// Opener adapts New into a stream.SinkOpener.
func Opener(opts Options) stream.SinkOpener {
	return func(path string, fs float64) (stream.Sink, error) {
		return New(path, fs, opts)
	}
}

// New creates the recording directory and writes the initial header. An
// existing recording at path is refused.
func New(path string, fs float64, opts Options) (*Recorder, error) {
	if err := physio.ValidateFS(fs); err != nil {
		return nil, err
	}
	if path == "" {
		return nil, fmt.Errorf("%w: recording path is empty", physio.ErrConfiguration)
	}
	if opts.ChunkBytes <= 0 {
		opts.ChunkBytes = DefaultChunkBytes
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if _, err := os.Stat(filepath.Join(path, headerFile)); err == nil {
		return nil, fmt.Errorf("%w: recording already exists at %s", physio.ErrConfiguration, path)
	}
	if err := os.MkdirAll(filepath.Join(path, chunkDir), 0o755); err != nil {
		return nil, fmt.Errorf("%w: failed to create recording directory: %v", physio.ErrRecordingIO, err)
	}

	r := &Recorder{
		basePath:     path,
		chunkBytes:   opts.ChunkBytes,
		currentChunk: -1,
		header: Header{
			Version:   FormatVersion,
			ID:        uuid.NewString(),
			FS:        fs,
			CreatedNs: opts.Now().UnixNano(),
		},
	}
	if err := r.writeHeader(); err != nil {
		return nil, err
	}
	return r, nil
}

// Append writes chunk as one frame and syncs it to disk before returning.
func (r *Recorder) Append(chunk physio.TimeSeries) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if chunk.FS != r.header.FS {
		return fmt.Errorf("%w: chunk at %v Hz in a %v Hz recording", physio.ErrConfiguration, chunk.FS, r.header.FS)
	}
	if len(chunk.Data) == 0 {
		return nil
	}

	size := int64(4 + 8*len(chunk.Data))
	if r.chunkFile == nil || (r.chunkOffset > 0 && r.chunkOffset+size > r.chunkBytes) {
		if err := r.rotateChunk(r.currentChunk + 1); err != nil {
			return err
		}
	}

	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf, uint32(len(chunk.Data)))
	for i, v := range chunk.Data {
		binary.LittleEndian.PutUint64(buf[4+8*i:], math.Float64bits(v))
	}
	if _, err := r.chunkFile.Write(buf); err != nil {
		return fmt.Errorf("%w: failed to write frame: %v", physio.ErrRecordingIO, err)
	}
	if err := r.chunkFile.Sync(); err != nil {
		return fmt.Errorf("%w: failed to sync chunk: %v", physio.ErrRecordingIO, err)
	}

	r.chunkOffset += size
	r.header.TotalFrames++
	r.header.TotalSamples += uint64(len(chunk.Data))
	return r.writeHeader()
}

func (r *Recorder) rotateChunk(chunkIdx int) error {
	if r.chunkFile != nil {
		if err := r.chunkFile.Close(); err != nil {
			return fmt.Errorf("%w: failed to close chunk file: %v", physio.ErrRecordingIO, err)
		}
		r.chunkFile = nil
	}
	f, err := os.OpenFile(chunkPath(r.basePath, chunkIdx), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: failed to create chunk file: %v", physio.ErrRecordingIO, err)
	}
	r.chunkFile = f
	r.currentChunk = chunkIdx
	r.chunkOffset = 0
	r.header.ChunkFiles = chunkIdx + 1
	return nil
}

// writeHeader replaces header.json atomically.
func (r *Recorder) writeHeader() error {
	data, err := json.MarshalIndent(r.header, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	tmp := filepath.Join(r.basePath, headerFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: failed to write header: %v", physio.ErrRecordingIO, err)
	}
	if err := os.Rename(tmp, filepath.Join(r.basePath, headerFile)); err != nil {
		return fmt.Errorf("%w: failed to replace header: %v", physio.ErrRecordingIO, err)
	}
	return nil
}

// Close finalises the header. Closing twice is a no-op.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	if r.chunkFile != nil {
		if err := r.chunkFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%w: failed to close chunk file: %v", physio.ErrRecordingIO, err))
		}
		r.chunkFile = nil
	}
	r.header.Closed = true
	if err := r.writeHeader(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Path returns the recording directory.
func (r *Recorder) Path() string { return r.basePath }

// Header returns a copy of the current header.
func (r *Recorder) Header() Header {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.header
}

func chunkPath(base string, idx int) string {
	return filepath.Join(base, chunkDir, fmt.Sprintf("chunk_%04d.bin", idx))
}

// Replayer reads the chunks of a recording back in the order they were
// appended.
type Replayer struct {
	basePath string
	header   Header

	chunk  int
	file   *os.File
	reader *bufio.Reader
	frames uint64
}

// Open opens a recording for replay.
func Open(path string) (*Replayer, error) {
	data, err := os.ReadFile(filepath.Join(path, headerFile))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read header: %v", physio.ErrRecordingIO, err)
	}
	var h Header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("%w: failed to parse header: %v", physio.ErrRecordingIO, err)
	}
	if h.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported recording version %q", physio.ErrConfiguration, h.Version)
	}
	if err := physio.ValidateFS(h.FS); err != nil {
		return nil, err
	}
	return &Replayer{basePath: path, header: h, chunk: -1}, nil
}

// Header returns the recording header.
func (r *Replayer) Header() Header { return r.header }

// Next returns the next recorded chunk, or io.EOF after the last one.
// Frames beyond the header's TotalFrames belong to an append that did not
// complete and are ignored.
func (r *Replayer) Next() (physio.TimeSeries, error) {
	if r.frames >= r.header.TotalFrames {
		return physio.TimeSeries{}, io.EOF
	}
	for {
		if r.reader == nil {
			if r.chunk+1 >= r.header.ChunkFiles {
				return physio.TimeSeries{}, fmt.Errorf("%w: recording ends after %d of %d frames",
					physio.ErrRecordingIO, r.frames, r.header.TotalFrames)
			}
			if err := r.openChunk(r.chunk + 1); err != nil {
				return physio.TimeSeries{}, err
			}
		}
		var lenBuf [4]byte
		_, err := io.ReadFull(r.reader, lenBuf[:])
		if errors.Is(err, io.EOF) {
			r.closeChunk()
			continue
		}
		if err != nil {
			return physio.TimeSeries{}, fmt.Errorf("%w: failed to read frame length: %v", physio.ErrRecordingIO, err)
		}
		n := binary.LittleEndian.Uint32(lenBuf[:])
		raw := make([]byte, 8*int(n))
		if _, err := io.ReadFull(r.reader, raw); err != nil {
			return physio.TimeSeries{}, fmt.Errorf("%w: failed to read frame data: %v", physio.ErrRecordingIO, err)
		}
		data := make([]float64, n)
		for i := range data {
			data[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:]))
		}
		r.frames++
		return physio.TimeSeries{FS: r.header.FS, Data: data}, nil
	}
}

// ReadAll concatenates every remaining chunk.
func (r *Replayer) ReadAll() (physio.TimeSeries, error) {
	out := physio.TimeSeries{FS: r.header.FS}
	for {
		chunk, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out.Data = append(out.Data, chunk.Data...)
	}
}

func (r *Replayer) openChunk(idx int) error {
	f, err := os.Open(chunkPath(r.basePath, idx))
	if err != nil {
		return fmt.Errorf("%w: failed to open chunk: %v", physio.ErrRecordingIO, err)
	}
	r.file = f
	r.reader = bufio.NewReader(f)
	r.chunk = idx
	return nil
}

func (r *Replayer) closeChunk() {
	if r.file != nil {
		r.file.Close()
	}
	r.file, r.reader = nil, nil
}

// Close releases the open chunk file.
func (r *Replayer) Close() error {
	r.closeChunk()
	return nil
}
