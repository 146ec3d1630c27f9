package meta

import (
	"encoding/json"
	"math"
	"time"
)

type Status string

const (
	// StatusCommitted is also assumed for records written without a status.
	StatusCommitted Status = "committed"
	StatusPending   Status = "pending"
	StatusDeleting  Status = "deleting"
)

// Record is the catalog entry for one uploaded key.
type Record struct {
	Pool       string   `json:"pool"`
	Container  string   `json:"container"`
	Key        string   `json:"key"`
	Filename   string   `json:"filename"`
	Size       int64    `json:"size"`
	UploadTime UnixTime `json:"upload_time"`
	ChunkSize  int64    `json:"chunk_size,omitempty"`
	// ChunkCount is zero for records that predate it; readers then probe.
	ChunkCount int    `json:"chunk_count,omitempty"`
	Status     Status `json:"status,omitempty"`
}

func (r Record) Committed() bool {
	return r.Status == "" || r.Status == StatusCommitted
}

// KnownChunkCount reports whether the chunk count can be trusted without probing.
func (r Record) KnownChunkCount() bool {
	return r.Committed() && r.ChunkCount > 0
}

// UnixTime marshals as fractional Unix seconds.
type UnixTime struct{ time.Time }

func Now() UnixTime { return UnixTime{time.Now()} }

func (t UnixTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("0"), nil
	}
	return json.Marshal(float64(t.UnixNano()) / 1e9)
}

func (t *UnixTime) UnmarshalJSON(b []byte) error {
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		var ts time.Time
		if err2 := json.Unmarshal(b, &ts); err2 != nil {
			return err
		}
		t.Time = ts
		return nil
	}
	if secs == 0 {
		t.Time = time.Time{}
		return nil
	}
	whole, frac := math.Modf(secs)
	t.Time = time.Unix(int64(whole), int64(frac*1e9))
	return nil
}
