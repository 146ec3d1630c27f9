package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"ChunkVault/pkg/transfer"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) putObject(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	filename := r.Header.Get("X-Filename")
	if filename == "" {
		filename = key
	}
	res, err := s.orch.UploadBytes(r.Context(), key, filename, data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) getObject(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	var opts transfer.ReadOptions
	if v := r.URL.Query().Get("allow_gaps"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "allow_gaps: " + err.Error()})
			return
		}
		opts.AllowGaps = b
	}
	res, err := s.orch.Fetch(r.Context(), key, opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Content-Length", strconv.Itoa(len(res.Data)))
	h.Set("X-Chunk-Count", strconv.Itoa(res.Chunks))
	if res.Record.Filename != "" {
		h.Set("X-Filename", res.Record.Filename)
	}
	if len(res.Skipped) > 0 {
		skipped := make([]string, len(res.Skipped))
		for i, idx := range res.Skipped {
			skipped[i] = strconv.Itoa(idx)
		}
		h.Set("X-Skipped-Chunks", strings.Join(skipped, ","))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Data)
}

func (s *Server) deleteObject(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	res, err := s.orch.Delete(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) listObjects(w http.ResponseWriter, r *http.Request) {
	recs, err := s.orch.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) reconcile(w http.ResponseWriter, r *http.Request) {
	dryRun := false
	if v := r.URL.Query().Get("dry_run"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "dry_run: " + err.Error()})
			return
		}
		dryRun = b
	}
	rep, err := s.orch.Reconcile(r.Context(), dryRun)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func keyParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := chi.URLParam(r, "key")
	// chi matches on RawPath when it is set, leaving the key still escaped
	if r.URL.RawPath != "" {
		var err error
		if key, err = url.PathUnescape(key); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
			return "", false
		}
	}
	return key, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, transfer.ErrKeyNotFound):
		return http.StatusNotFound
	case errors.Is(err, transfer.ErrKeyExists):
		return http.StatusConflict
	case errors.Is(err, transfer.ErrInvalidKey), errors.Is(err, transfer.ErrEmptyUpload):
		return http.StatusBadRequest
	case errors.Is(err, transfer.ErrChunkGap), errors.Is(err, transfer.ErrSizeMismatch):
		return http.StatusBadGateway
	case errors.Is(err, transfer.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
	}
	writeJSON(w, code, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
