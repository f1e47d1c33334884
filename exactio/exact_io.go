// Package exactio provides all-or-error transfer primitives over byte streams.
// TCP may deliver partial reads and writes; every higher protocol layer relies
// on these helpers so framing code never re-checks for short transfers.
//
// Interrupted system calls are retried by the Go runtime and never surface
// here. A clean close by the peer before a transfer completes is reported as
// ErrClosed together with the short count; anything else is a hard error.
package exactio

import (
	"errors"
	"fmt"
	"io"
)

// maxEmptyReads bounds consecutive (0, nil) reads before giving up.
const maxEmptyReads = 100

// ErrClosed reports that the peer closed the stream before the requested
// number of bytes was transferred.
var ErrClosed = errors.New("exactio: peer closed connection")

// ReadExactly reads len(p) bytes from r into p.
//
// Parameters:
//   - r: The stream to read from
//   - p: Destination; exactly len(p) bytes are requested
//
// Returns:
//   - The number of bytes read; smaller than len(p) only together with an error
//   - ErrClosed on clean EOF, a wrapped error on any other read failure
func ReadExactly(r io.Reader, p []byte) (int, error) {
	read := 0
	empty := 0
	for read < len(p) {
		n, err := r.Read(p[read:])
		read += n
		if err != nil {
			if read == len(p) {
				return read, nil
			}

			if errors.Is(err, io.EOF) {
				return read, ErrClosed
			}

			return read, fmt.Errorf("exactio: read: %w", err)
		}

		if n == 0 {
			empty++
			if empty >= maxEmptyReads {
				return read, fmt.Errorf("exactio: read: %w", io.ErrNoProgress)
			}

			continue
		}

		empty = 0
	}

	return read, nil
}

// Discard consumes n bytes from r without buffering them. It is the
// read-and-discard mode used to skip payload bytes that do not fit into a
// receiver's buffer while keeping the stream aligned.
//
// Parameters:
//   - r: The stream to read from
//   - n: Number of bytes to skip
//
// Returns:
//   - The number of bytes skipped
//   - ErrClosed on clean EOF, a wrapped error on any other read failure
func Discard(r io.Reader, n int64) (int64, error) {
	if n <= 0 {
		return 0, nil
	}

	skipped, err := io.CopyN(io.Discard, r, n)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return skipped, ErrClosed
		}

		return skipped, fmt.Errorf("exactio: discard: %w", err)
	}

	return skipped, nil
}

// WriteExactly writes all of p to w, retrying short writes.
//
// Parameters:
//   - w: The stream to write to
//   - p: Bytes to write
//
// Returns:
//   - len(p) on success; fewer bytes only together with a wrapped error
func WriteExactly(w io.Writer, p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := w.Write(p[written:])
		written += n
		if err != nil {
			return written, fmt.Errorf("exactio: write: %w", err)
		}

		if n == 0 {
			return written, fmt.Errorf("exactio: write: %w", io.ErrShortWrite)
		}
	}

	return written, nil
}

// ReadByte reads a single byte from r.
func ReadByte(r io.Reader) (byte, error) {
	var b [1]byte
	if _, err := ReadExactly(r, b[:]); err != nil {
		return 0, err
	}

	return b[0], nil
}

// WriteByte writes a single byte to w.
func WriteByte(w io.Writer, b byte) error {
	_, err := WriteExactly(w, []byte{b})
	return err
}
