package websocket

import (
	"bytes"
	"compress/flate"
	"io"
)

// deflateTrailer is the four-byte empty-block trailer RFC 7692 §7.2.2
// requires appending to an inbound compressed message before inflation.
var deflateTrailer = []byte{0x00, 0x00, 0xff, 0xff}

const maxWindowHistory = 32 * 1024 // largest permessage-deflate window

// inflateEngine is the narrow interface the message pipeline depends on.
// compress/flate's reader satisfies it directly (it implements
// flate.Resetter), so no adapter is needed; a cgo-backed zlib binding
// could satisfy the same interface without the rest of the pipeline
// changing, per the Open Question resolution in SPEC_FULL.md §12.
type inflateEngine interface {
	io.Reader
	Reset(r io.Reader, dict []byte) error
}

// chunkReader serves a fixed sequence of byte slices, then io.EOF. It is
// reused across messages to avoid allocating a new reader per message.
type chunkReader struct {
	chunks [2][]byte
	n      int
	ci     int
	pos    int
}

func (r *chunkReader) reset(chunks ...[]byte) {
	r.n = copy(r.chunks[:], chunks)
	r.ci, r.pos = 0, 0
}

func (r *chunkReader) Read(p []byte) (int, error) {
	for r.ci < r.n && r.pos >= len(r.chunks[r.ci]) {
		r.ci++
		r.pos = 0
	}
	if r.ci >= r.n {
		return 0, io.EOF
	}
	c := copy(p, r.chunks[r.ci][r.pos:])
	r.pos += c
	return c, nil
}

// Inflater wraps a streaming raw-DEFLATE decoder (windowBits = -15) and a
// growable output buffer, producing one contiguous decompressed view per
// call to Inflate. The view is valid until the next call.
type Inflater struct {
	engine                inflateEngine
	src                   chunkReader
	out                   *pooledBuffer
	scratch               []byte
	serverContextTakeover bool
	history               []byte
}

// NewInflater constructs an Inflater. serverContextTakeover must match the
// negotiated NegotiatedCompression.ServerNoContextTakeover (inverted): when
// true, the decoder's sliding window is carried across messages via an
// explicit dictionary handoff, since compress/flate's Reset always repoints
// the reader and only preserves history if a dictionary is supplied.
func NewInflater(outputInitial int, serverContextTakeover bool) *Inflater {
	return &Inflater{
		engine:                flate.NewReader(bytes.NewReader(nil)).(inflateEngine),
		out:                   newPooledBuffer(outputInitial),
		scratch:               acquireBuffer(4096),
		serverContextTakeover: serverContextTakeover,
	}
}

// Inflate decompresses one complete message's deflated bytes (without the
// RFC 7692 trailer) and returns a view of the decompressed output.
func (inf *Inflater) Inflate(message []byte) ([]byte, error) {
	var dict []byte
	if inf.serverContextTakeover {
		dict = inf.history
	}
	inf.src.reset(message, deflateTrailer)
	if err := inf.engine.Reset(&inf.src, dict); err != nil {
		return nil, protoErr("inflate", err)
	}

	inf.out.reset()
	for {
		n, err := inf.engine.Read(inf.scratch)
		if n > 0 {
			inf.out.append(inf.scratch[:n])
		}
		// The trailer is a sync-flush marker, not a final block, so once the
		// decoder has consumed all input it reports io.ErrUnexpectedEOF; every
		// decoded byte has already been returned by then.
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, protoErr("inflate", err)
		}
		if n == 0 {
			break
		}
	}

	view := inf.out.writtenView()
	if inf.serverContextTakeover {
		inf.updateHistory(view)
	}
	return view, nil
}

func (inf *Inflater) updateHistory(decompressed []byte) {
	if len(decompressed) >= maxWindowHistory {
		inf.history = append(inf.history[:0], decompressed[len(decompressed)-maxWindowHistory:]...)
		return
	}
	keep := maxWindowHistory - len(decompressed)
	if keep > len(inf.history) {
		keep = len(inf.history)
	}
	combined := append([]byte{}, inf.history[len(inf.history)-keep:]...)
	combined = append(combined, decompressed...)
	inf.history = combined
}

func (inf *Inflater) release() {
	inf.out.release()
	releaseBuffer(inf.scratch)
}

// compressionSelfCheck performs the one-shot init/step/end round trip
// spec §4.4 requires before compression is reported available: a tiny
// buffer is deflated and inflated back, confirming the decoder binding
// (here, compress/flate, always present since it is part of the standard
// library) actually works end to end.
func compressionSelfCheck() error {
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return err
	}
	probe := []byte("permessage-deflate self-check")
	if _, err := fw.Write(probe); err != nil {
		return err
	}
	if err := fw.Close(); err != nil {
		return err
	}

	fr := flate.NewReader(&buf)
	defer fr.Close()
	got, err := io.ReadAll(fr)
	if err != nil {
		return err
	}
	if !bytes.Equal(got, probe) {
		return io.ErrUnexpectedEOF
	}
	return nil
}
