package watcher

import (
	"bytes"
	"errors"
	"io"
	"os"
	"strings"
)

const tailChunkSize = 4096

// Tail returns the last n lines of the file at path. A missing file yields no
// lines and no error. A file truncated while being read yields whatever was
// read before the truncation.
func Tail(path string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	offset := info.Size()
	var data []byte
	for offset > 0 && bytes.Count(data, []byte{'\n'}) <= n {
		size := int64(tailChunkSize)
		if offset < size {
			size = offset
		}
		offset -= size

		chunk := make([]byte, size)
		read, err := f.ReadAt(chunk, offset)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if errors.Is(err, io.EOF) {
			// Truncated underneath us; the window is no longer contiguous.
			return lastLines(chunk[:read], n), nil
		}
		data = append(chunk, data...)
	}

	return lastLines(data, n), nil
}

func lastLines(data []byte, n int) []string {
	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}
