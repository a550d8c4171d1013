package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/pos-ledger/cache"
	"github.com/warp/pos-ledger/gl"
	"github.com/warp/pos-ledger/jobs"
	"github.com/warp/pos-ledger/localday"
	"github.com/warp/pos-ledger/registry"
)

// Handler carries the API dependencies.
type Handler struct {
	Jobs      *jobs.Manager
	Cache     cache.Cache
	Registry  *registry.Registry
	Aliases   gl.AliasTable
	ExportDir string

	// Now is pinned in tests for stable banners.
	Now func() time.Time
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// Health is a liveness probe.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// JobStatus returns per-queue {waiting, active, completed, failed}.
func (h *Handler) JobStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Jobs.Status())
}

// addJobRequest is the POST /api/jobs/{queue} body.
type addJobRequest struct {
	Data    map[string]interface{} `json:"data"`
	Options *jobs.JobOptions       `json:"options"`
}

// AddJob enqueues a one-off job.
func (h *Handler) AddJob(w http.ResponseWriter, r *http.Request) {
	queueName := chi.URLParam(r, "queue")

	var req addJobRequest
	if r.Body != nil {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
		}
	}

	id, err := h.Jobs.Add(queueName, req.Data, req.Options)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, jobs.ErrUnknownQueue) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": id, "queue": queueName})
}

// cachedJSON proxies a Redis key holding a JSON document.
func (h *Handler) cachedJSON(w http.ResponseWriter, r *http.Request, key string) {
	val, err := h.Cache.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			writeError(w, http.StatusNotFound, errors.New("not synced yet"))
			return
		}
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(val))
}

func (h *Handler) Locations(w http.ResponseWriter, r *http.Request) {
	h.cachedJSON(w, r, cache.KeyLocations)
}

func (h *Handler) Inventory(w http.ResponseWriter, r *http.Request) {
	h.cachedJSON(w, r, cache.KeyInventory(chi.URLParam(r, "locationID")))
}

func (h *Handler) Discounts(w http.ResponseWriter, r *http.Request) {
	h.cachedJSON(w, r, cache.KeyDiscounts(chi.URLParam(r, "locationID")))
}

// GLExportUpload ingests a tabular export pushed over HTTP and renders
// the `_post` suffixed journal files. Accepted bodies: text/csv, or
// application/json as a bare row array or a {date, data} envelope. The
// report date comes from ?date=, then the JSON envelope, then the rows.
func (h *Handler) GLExportUpload(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctype := r.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(ctype); err == nil {
		ctype = mt
	}

	var records []gl.TabularRecord
	var envDate localday.Date
	switch {
	case ctype == "text/csv":
		records, err = gl.ParseTabularCSV(strings.NewReader(string(body)))
	case ctype == "application/json", ctype == "":
		envDate, records, err = gl.ParseTabularJSON(body)
	default:
		writeError(w, http.StatusUnsupportedMediaType, errors.New("expected text/csv or application/json"))
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(records) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("no rows in body"))
		return
	}

	date := envDate
	if q := r.URL.Query().Get("date"); q != "" {
		d, err := localday.ParseDate(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		date = d
	}
	if date == "" {
		date = records[0].Date
	}
	if date == "" {
		writeError(w, http.StatusBadRequest, errors.New("no report date: pass ?date= or date rows"))
		return
	}

	aliases := h.Aliases
	if aliases == nil {
		aliases = gl.DefaultAliases
	}
	totals, unmatched := gl.AggregateTabular(date, records, aliases, func(name string) (string, string, bool) {
		s, ok := h.Registry.ByName(name)
		if !ok {
			return "", "", false
		}
		return s.BranchCode, s.Name, true
	})
	if len(unmatched) > 0 {
		log.Printf("[API] gl export upload: unmatched locations: %v", unmatched)
	}
	if len(totals) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("no rows matched a registered store"))
		return
	}

	files, err := gl.WriteFiles(h.ExportDir, date, totals, gl.RenderOptions{
		Source:      gl.SourcePost,
		GeneratedAt: h.now(),
	})
	if err != nil {
		if errors.Is(err, gl.ErrImbalance) {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   len(unmatched) == 0,
		"date":      string(date),
		"stores":    len(totals),
		"files":     files,
		"unmatched": unmatched,
	})
}
