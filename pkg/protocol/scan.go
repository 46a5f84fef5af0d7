package protocol

import "bytes"

// ScanFrames is a bufio.SplitFunc yielding delimiter-terminated chunks with the
// delimiter kept, ready for Parse. Lone delimiters between frames are skipped.
//
// Two kinds of token lack the trailing delimiter: a run longer than
// MaxFrameSize, which cannot be a frame and is cut so the scanner never needs an
// unbounded buffer, and the unterminated tail at EOF. Parse rejects both.
func ScanFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	skip := 0
	for skip < len(data) && data[skip] == Delimiter {
		skip++
	}
	rest := data[skip:]

	if i := bytes.IndexByte(rest, Delimiter); i >= 0 && i < MaxFrameSize {
		return skip + i + 1, rest[:i+1], nil
	}
	if len(rest) > MaxFrameSize {
		return skip + MaxFrameSize, rest[:MaxFrameSize], nil
	}
	if atEOF && len(rest) > 0 {
		return len(data), rest, nil
	}
	return skip, nil, nil
}

// Terminated reports whether chunk ends with a delimiter.
func Terminated(chunk []byte) bool {
	return len(chunk) > 0 && chunk[len(chunk)-1] == Delimiter
}

// ScanBufferSize is a bufio.Scanner buffer limit large enough for ScanFrames.
const ScanBufferSize = 2 * (MaxFrameSize + 1)
