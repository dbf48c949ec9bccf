package api

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	errInvalidRange  = errors.New("invalid range format")
	errUnsatisfiable = errors.New("range not satisfiable")
)

// byteRange is an inclusive byte range.
type byteRange struct {
	Start int64
	End   int64
}

func (b byteRange) Length() int64 {
	return b.End - b.Start + 1
}

func (b byteRange) ContentRange(total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", b.Start, b.End, total)
}

// parseRange parses a single-range Range header against a file of size bytes.
// An empty header yields nil. Only the first range of a multi-range request is
// honoured.
func parseRange(header string, size int64) (*byteRange, error) {
	if header == "" {
		return nil, nil
	}
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return nil, errInvalidRange
	}
	if first, _, multi := strings.Cut(spec, ","); multi {
		spec = first
	}
	startStr, endStr, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok {
		return nil, errInvalidRange
	}

	var start, end int64
	if startStr == "" {
		// Suffix range: the last n bytes.
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return nil, errInvalidRange
		}
		if size == 0 {
			return nil, errUnsatisfiable
		}
		start = max(size-n, 0)
		end = size - 1
	} else {
		var err error
		start, err = strconv.ParseInt(startStr, 10, 64)
		if err != nil || start < 0 {
			return nil, errInvalidRange
		}
		end = size - 1
		if endStr != "" {
			end, err = strconv.ParseInt(endStr, 10, 64)
			if err != nil {
				return nil, errInvalidRange
			}
		}
	}

	if start >= size || start > end {
		return nil, errUnsatisfiable
	}
	end = min(end, size-1)
	return &byteRange{Start: start, End: end}, nil
}
