package upstream

import (
	"bytes"
	"errors"
)

// ErrLineTooLong is returned when a record grows past the splitter's limit
// without a terminating newline.
var ErrLineTooLong = errors.New("upstream: line exceeds maximum length")

// LineSplitter turns arbitrary chunks into newline-delimited records. It holds
// at most one partial record between calls.
type LineSplitter struct {
	max     int
	partial []byte
}

// NewLineSplitter returns a splitter that rejects records longer than max bytes.
// max <= 0 means unbounded.
func NewLineSplitter(max int) *LineSplitter {
	return &LineSplitter{max: max}
}

// Feed consumes chunk and calls emit once per complete record, in order, with
// exactly one trailing delimiter ("\n" or "\r\n") removed. The emitted slice is
// only valid during the callback.
func (s *LineSplitter) Feed(chunk []byte, emit func([]byte) error) error {
	for len(chunk) > 0 {
		idx := bytes.IndexByte(chunk, '\n')
		if idx < 0 {
			if s.max > 0 && len(s.partial)+len(chunk) > s.max {
				s.partial = s.partial[:0]
				return ErrLineTooLong
			}
			s.partial = append(s.partial, chunk...)
			return nil
		}

		var line []byte
		if len(s.partial) > 0 {
			s.partial = append(s.partial, chunk[:idx]...)
			line = s.partial
		} else {
			line = chunk[:idx]
		}
		chunk = chunk[idx+1:]

		if s.max > 0 && len(line) > s.max {
			s.partial = s.partial[:0]
			return ErrLineTooLong
		}
		line = bytes.TrimSuffix(line, []byte{'\r'})
		err := emit(line)
		s.partial = s.partial[:0]
		if err != nil {
			return err
		}
	}
	return nil
}

// Flush emits a pending unterminated record, if any. It is called once the
// stream has ended cleanly.
func (s *LineSplitter) Flush(emit func([]byte) error) error {
	if len(s.partial) == 0 {
		return nil
	}
	line := bytes.TrimSuffix(s.partial, []byte{'\r'})
	err := emit(line)
	s.partial = s.partial[:0]
	return err
}

// Pending reports how many bytes of an incomplete record are buffered.
func (s *LineSplitter) Pending() int {
	return len(s.partial)
}
