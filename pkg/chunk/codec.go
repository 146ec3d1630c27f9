// Package chunk splits payloads into fixed-size chunks and reassembles them.
package chunk

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrInvalidChunkSize = errors.New("chunk size must be positive")
	ErrChunkGap         = errors.New("chunk missing from sequence")
)

// GapError reports the first missing index found while joining.
type GapError struct {
	Index int
	Total int
}

func (e *GapError) Error() string {
	return fmt.Sprintf("chunk %d of %d is missing", e.Index, e.Total)
}

func (e *GapError) Is(target error) bool { return target == ErrChunkGap }

// Split cuts data into consecutive pieces of size bytes; the last piece may
// be shorter. Empty input yields no chunks. The returned chunks alias data.
func Split(data []byte, size int) ([][]byte, error) {
	if size <= 0 {
		return nil, ErrInvalidChunkSize
	}
	n := (len(data) + size - 1) / size
	chunks := make([][]byte, 0, n)
	for off := 0; off < len(data); off += size {
		end := off + size
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[off:end:end])
	}
	return chunks, nil
}

type joinOptions struct {
	allowGaps bool
}

type JoinOption func(*joinOptions)

// AllowGaps makes Join skip nil entries instead of failing.
func AllowGaps() JoinOption {
	return func(o *joinOptions) { o.allowGaps = true }
}

// JoinResult is the outcome of Join. Skipped lists the indices left out when
// gaps are allowed.
type JoinResult struct {
	Data    []byte
	Present int
	Skipped []int
}

// Join concatenates chunks in index order. A nil entry is a gap: by default
// the first gap aborts with a *GapError.
func Join(chunks [][]byte, opts ...JoinOption) (*JoinResult, error) {
	var o joinOptions
	for _, opt := range opts {
		opt(&o)
	}
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	res := &JoinResult{}
	buf := bytes.NewBuffer(make([]byte, 0, total))
	for i, c := range chunks {
		if c == nil {
			if !o.allowGaps {
				return nil, &GapError{Index: i, Total: len(chunks)}
			}
			res.Skipped = append(res.Skipped, i)
			continue
		}
		buf.Write(c)
		res.Present++
	}
	res.Data = buf.Bytes()
	return res, nil
}

const sep = "chunk"

// Key names the store entry holding chunk index of userKey.
func Key(userKey string, index int) string {
	return userKey + sep + strconv.Itoa(index)
}

// Keys returns the entry names for indices [from, to).
func Keys(userKey string, from, to int) []string {
	if to <= from {
		return nil
	}
	keys := make([]string, 0, to-from)
	for i := from; i < to; i++ {
		keys = append(keys, Key(userKey, i))
	}
	return keys
}

// ParseKey splits a chunk entry name into its user key and index. Only the
// canonical form produced by Key is accepted.
func ParseKey(entry string) (userKey string, index int, ok bool) {
	i := strings.LastIndex(entry, sep)
	if i < 0 {
		return "", 0, false
	}
	digits := entry[i+len(sep):]
	if digits == "" || (len(digits) > 1 && digits[0] == '0') {
		return "", 0, false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", 0, false
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return "", 0, false
	}
	return entry[:i], n, true
}
