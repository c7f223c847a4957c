package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
)

// MaxFrameBytes caps a single line, newline included.
const MaxFrameBytes = 1 << 20

var ErrFrameTooLarge = errors.New("stream frame too large")

// Decoder reads frames from a byte stream that may arrive in arbitrary
// chunks. Lines that are not valid frames are skipped.
type Decoder struct {
	sc   *bufio.Scanner
	done bool
}

func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), MaxFrameBytes)
	return &Decoder{sc: sc}
}

// Next returns the next non-terminal frame. It returns io.EOF once the done
// frame has been read, io.ErrUnexpectedEOF if the stream ends without one,
// and ErrFrameTooLarge when a line exceeds MaxFrameBytes.
func (d *Decoder) Next() (Frame, error) {
	for !d.done {
		if !d.sc.Scan() {
			err := d.sc.Err()
			switch {
			case errors.Is(err, bufio.ErrTooLong):
				return Frame{}, fmt.Errorf("%w: limit is %d bytes", ErrFrameTooLarge, MaxFrameBytes)
			case err != nil:
				return Frame{}, err
			default:
				return Frame{}, io.ErrUnexpectedEOF
			}
		}

		line := d.sc.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		frame, ok := parseFrame(line)
		if !ok {
			continue
		}
		if frame.Type == FrameDone {
			d.done = true
			break
		}
		return frame, nil
	}
	return Frame{}, io.EOF
}

func parseFrame(line []byte) (Frame, bool) {
	var f Frame
	if err := json.Unmarshal(bytes.TrimSpace(line), &f); err != nil {
		log.Debug().Err(err).Msg("skipping malformed stream line")
		return Frame{}, false
	}
	switch f.Type {
	case FrameMessage, FrameEvent, FrameError, FrameDone:
		return f, true
	default:
		return Frame{}, false
	}
}
