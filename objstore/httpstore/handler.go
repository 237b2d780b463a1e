package httpstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/mhbvr/photocat/catalog"
)

var (
	objectsServed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "objstore_objects_served_total",
			Help: "Total number of objects served",
		},
	)

	bytesServed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "objstore_bytes_served_total",
			Help: "Total bytes served",
		},
	)

	objectsStored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "objstore_objects_stored_total",
			Help: "Total number of objects stored",
		},
	)

	bytesStored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "objstore_bytes_stored_total",
			Help: "Total bytes stored",
		},
	)

	objectsDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "objstore_objects_deleted_total",
			Help: "Total number of objects deleted",
		},
	)
)

func init() {
	prometheus.MustRegister(objectsServed)
	prometheus.MustRegister(bytesServed)
	prometheus.MustRegister(objectsStored)
	prometheus.MustRegister(bytesStored)
	prometheus.MustRegister(objectsDeleted)
}

// maxObjectBytes bounds PUT bodies. Catalog objects are CSV shards and
// a JSON manifest, far below this.
const maxObjectBytes = 256 << 20

// Handler serves a store directory over HTTP. Every object responds
// with a content digest ETag, which is what clients use as the version
// token for change detection. Writes replace objects atomically, so
// concurrent readers always see complete content.
type Handler struct {
	root   string
	logger *log.Logger
	tracer oteltrace.Tracer
}

// NewHandler returns a handler serving objects under root. A nil
// logger discards output.
func NewHandler(root string, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Handler{
		root:   root,
		logger: logger,
		tracer: otel.Tracer("objstore"),
	}
}

// objectPath maps a request path to a file under the store root,
// rejecting traversal attempts.
func (h *Handler) objectPath(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty object key")
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." || strings.Contains(part, `\`) {
			return "", fmt.Errorf("invalid object key %q", key)
		}
	}
	return filepath.Join(h.root, filepath.FromSlash(key)), nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := strings.Trim(r.URL.Path, "/")
	if key == "list" && r.Method == http.MethodGet {
		h.handleList(w, r)
		return
	}
	target, err := h.objectPath(key)
	if err != nil {
		http.Error(w, "Invalid object key", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.handleGet(w, r, key, target, true)
	case http.MethodHead:
		h.handleGet(w, r, key, target, false)
	case http.MethodPut:
		h.handlePut(w, r, key, target)
	case http.MethodDelete:
		h.handleDelete(w, r, key, target)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, key, target string, withBody bool) {
	_, span := h.tracer.Start(r.Context(), "serve_object")
	defer span.End()
	span.SetAttributes(attribute.String("object.key", key))

	info, err := os.Stat(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			span.SetAttributes(attribute.String("error", "object not found"))
			http.Error(w, "Object not found", http.StatusNotFound)
		} else {
			span.RecordError(err)
			http.Error(w, "Failed to access object", http.StatusInternalServerError)
		}
		return
	}
	if info.IsDir() {
		span.SetAttributes(attribute.String("error", "is directory"))
		http.Error(w, "Object not found", http.StatusNotFound)
		return
	}

	data, err := os.ReadFile(target)
	if err != nil {
		span.RecordError(err)
		http.Error(w, "Failed to read object", http.StatusInternalServerError)
		return
	}

	w.Header().Set("ETag", `"`+catalog.Digest(data)+`"`)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	if !withBody {
		return
	}

	written, err := w.Write(data)
	if err != nil {
		span.RecordError(err)
		return
	}

	objectsServed.Inc()
	bytesServed.Add(float64(written))
	span.SetAttributes(attribute.Int("bytes.served", written))
}

// handleList reports every object key under the root as a JSON array.
// The "list" path is reserved for this, catalog objects never use that
// name.
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	_, span := h.tracer.Start(r.Context(), "list_objects")
	defer span.End()

	keys := []string{}
	err := filepath.WalkDir(h.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.Contains(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(h.root, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		span.RecordError(err)
		http.Error(w, "Failed to list objects", http.StatusInternalServerError)
		return
	}
	sort.Strings(keys)
	span.SetAttributes(attribute.Int("objects.listed", len(keys)))

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(keys); err != nil {
		span.RecordError(err)
	}
}

func (h *Handler) handlePut(w http.ResponseWriter, r *http.Request, key, target string) {
	_, span := h.tracer.Start(r.Context(), "store_object")
	defer span.End()
	span.SetAttributes(attribute.String("object.key", key))

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxObjectBytes))
	if err != nil {
		span.RecordError(err)
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		span.RecordError(err)
		http.Error(w, "Failed to create object directory", http.StatusInternalServerError)
		return
	}
	if err := catalog.WriteFileAtomic(target, data); err != nil {
		span.RecordError(err)
		http.Error(w, "Failed to store object", http.StatusInternalServerError)
		return
	}

	objectsStored.Inc()
	bytesStored.Add(float64(len(data)))
	span.SetAttributes(attribute.Int("bytes.stored", len(data)))

	h.logger.Printf("Stored object %s, %d bytes", key, len(data))

	w.Header().Set("ETag", `"`+catalog.Digest(data)+`"`)
	w.WriteHeader(http.StatusCreated)
}

// handleDelete removes an object. Deleting an absent object succeeds,
// so a client retrying a wipe converges instead of failing.
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request, key, target string) {
	_, span := h.tracer.Start(r.Context(), "delete_object")
	defer span.End()
	span.SetAttributes(attribute.String("object.key", key))

	err := os.Remove(target)
	switch {
	case err == nil:
		objectsDeleted.Inc()
		h.logger.Printf("Deleted object %s", key)
	case errors.Is(err, os.ErrNotExist):
	default:
		span.RecordError(err)
		http.Error(w, "Failed to delete object", http.StatusInternalServerError)
		return
	}

	// Drop the owner directory once its last object is gone.
	if dir := filepath.Dir(target); dir != filepath.Clean(h.root) {
		os.Remove(dir)
	}
	w.WriteHeader(http.StatusNoContent)
}
