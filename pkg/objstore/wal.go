package objstore

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// WAL journals BulkPut batches so a batch interrupted by a crash can be
// rolled back on the next open. Lines are "BEGIN id", "PUT id hexkey",
// "END id", "ABORT id" and "DEL hexkey".
type WAL struct {
	path string
	f    *os.File
}

func OpenWAL(dir string) (*WAL, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	p := filepath.Join(dir, "wal.log")
	f, err := os.OpenFile(p, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &WAL{path: p, f: f}, nil
}

// Append writes recs and syncs once.
func (w *WAL) Append(recs ...string) error {
	var b strings.Builder
	for _, r := range recs {
		b.WriteString(r)
		b.WriteByte('\n')
	}
	if _, err := w.f.WriteString(b.String()); err != nil {
		return errors.Wrap(err, "append wal")
	}
	return errors.Wrap(w.f.Sync(), "sync wal")
}

// Unfinished returns, per batch id, the hex keys of batches that began but
// never ended or aborted.
func (w *WAL) Unfinished() (map[string][]string, error) {
	f, err := os.Open(w.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	open := make(map[string][]string)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "BEGIN":
			open[fields[1]] = []string{}
		case "PUT":
			if keys, ok := open[fields[1]]; ok && len(fields) == 3 {
				open[fields[1]] = append(keys, fields[2])
			}
		case "END", "ABORT":
			delete(open, fields[1])
		}
	}
	return open, errors.Wrap(sc.Err(), "scan wal")
}

// Truncate drops the journal once every batch in it is settled.
func (w *WAL) Truncate() error {
	if err := w.f.Truncate(0); err != nil {
		return err
	}
	_, err := w.f.Seek(0, 0)
	return err
}

func (w *WAL) Close() error { return w.f.Close() }
