// Package api implements the gateway's HTTP surface: objects are
// uploaded in plaintext, stored encrypted, and served decrypted, with
// Range requests satisfied by fetching only the ciphertext frames that
// cover the requested bytes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/keystone-storage/objseal/internal/audit"
	"github.com/keystone-storage/objseal/internal/byterange"
	"github.com/keystone-storage/objseal/internal/cache"
	"github.com/keystone-storage/objseal/internal/config"
	"github.com/keystone-storage/objseal/internal/crypto"
	"github.com/keystone-storage/objseal/internal/dare"
	"github.com/keystone-storage/objseal/internal/metrics"
	"github.com/keystone-storage/objseal/internal/storage"
)

// Handler handles object requests.
type Handler struct {
	backend storage.Backend
	keks    *config.KEKProvider
	logger  *logrus.Logger
	metrics *metrics.Metrics
	cache   *cache.ObjectInfoCache
	audit   *audit.Logger
}

// NewHandler creates an API handler. cache and auditLogger may be nil.
func NewHandler(
	backend storage.Backend,
	keks *config.KEKProvider,
	logger *logrus.Logger,
	m *metrics.Metrics,
	infoCache *cache.ObjectInfoCache,
	auditLogger *audit.Logger,
) *Handler {
	return &Handler{
		backend: backend,
		keks:    keks,
		logger:  logger,
		metrics: m,
		cache:   infoCache,
		audit:   auditLogger,
	}
}

// RegisterRoutes registers all API routes.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.handleHealth).Methods("GET")
	r.HandleFunc("/ready", h.handleHealth).Methods("GET")
	r.HandleFunc("/live", h.handleHealth).Methods("GET")

	r.HandleFunc("/objects", h.handleListObjects).Methods("GET")
	r.HandleFunc("/objects/{key:.+}", h.handleGetObject).Methods("GET")
	r.HandleFunc("/objects/{key:.+}", h.handlePutObject).Methods("PUT")
	r.HandleFunc("/objects/{key:.+}", h.handleHeadObject).Methods("HEAD")
	r.HandleFunc("/objects/{key:.+}", h.handleDeleteObject).Methods("DELETE")
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handlePutObject encrypts the request body under a fresh object key and
// stores the ciphertext with the sealed key in the object's metadata.
func (h *Handler) handlePutObject(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	key := mux.Vars(r)["key"]
	ctx := r.Context()

	counter := &countingReader{src: r.Body}
	reader, metadata, err := crypto.EncryptObject(counter, h.keks.Current(), key)
	if err != nil {
		h.writeError(w, r, err, key)
		return
	}

	if err := h.backend.PutObject(ctx, key, reader, r.Header.Get("Content-Type"), metadata); err != nil {
		h.logger.WithError(err).WithField("key", key).Error("PUT failed")
		h.recordCrypto("encrypt", key, start, counter.n, false, err)
		h.writeError(w, r, err, key)
		return
	}

	if h.cache != nil {
		h.cache.Invalidate(key)
	}
	h.recordCrypto("encrypt", key, start, counter.n, true, nil)

	w.Header().Set("Content-Length", "0")
	w.WriteHeader(http.StatusOK)
}

// handleGetObject serves an object decrypted. With a Range header only
// the covering ciphertext frames are fetched from the backend and the
// decrypted stream is trimmed to the exact requested bytes.
func (h *Handler) handleGetObject(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
		h.serveRange(w, r, key, rangeHeader)
		return
	}
	h.serveWhole(w, r, key)
}

func (h *Handler) serveWhole(w http.ResponseWriter, r *http.Request, key string) {
	start := time.Now()
	ctx := r.Context()

	body, info, err := h.backend.GetObject(ctx, key, "")
	if err != nil {
		h.writeError(w, r, err, key)
		return
	}
	defer body.Close()

	if !crypto.IsEncrypted(info.Metadata) {
		setObjectHeaders(w, info, info.Size)
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, body); err != nil {
			h.logger.WithError(err).WithField("key", key).Error("GET passthrough aborted")
		}
		return
	}

	// The decrypter unseals the object key up front, so a wrong KEK or a
	// spliced sealed key fails here, before any headers are written.
	writer, err := crypto.NewObjectDecrypter(w, h.keks.Current(), info.Metadata, key)
	if err != nil {
		h.recordCrypto("decrypt", key, start, 0, false, err)
		h.writeError(w, r, err, key)
		return
	}

	plaintextSize := dare.DecryptedSize(info.Size)
	setObjectHeaders(w, info, plaintextSize)
	w.WriteHeader(http.StatusOK)

	if err := pump(writer, body); err != nil {
		// Headers are out; all we can do is cut the stream short so the
		// client sees a truncated body, never unauthenticated bytes.
		h.logger.WithError(err).WithField("key", key).Error("GET decryption aborted")
		h.recordCrypto("decrypt", key, start, 0, false, err)
		return
	}
	h.recordCrypto("decrypt", key, start, plaintextSize, true, nil)
}

func (h *Handler) serveRange(w http.ResponseWriter, r *http.Request, key, rangeHeader string) {
	start := time.Now()
	ctx := r.Context()

	rng, err := byterange.Parse(rangeHeader)
	if err != nil {
		h.writeError(w, r, err, key)
		return
	}

	info, err := h.objectInfo(ctx, key)
	if err != nil {
		h.writeError(w, r, err, key)
		return
	}

	if !crypto.IsEncrypted(info.Metadata) {
		h.serveRangePassthrough(w, r, key, rng, info)
		return
	}

	plaintextSize := dare.DecryptedSize(info.Size)
	offset, length, err := rng.OffsetLength(plaintextSize)
	if err != nil {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", plaintextSize))
		h.writeError(w, r, err, key)
		return
	}
	fetchStart, fetchEnd, err := rng.BackendRange(plaintextSize, true)
	if err != nil {
		h.writeError(w, r, err, key)
		return
	}

	body, _, err := h.backend.GetObject(ctx, key, fmt.Sprintf("bytes=%d-%d", fetchStart, fetchEnd))
	if err != nil {
		h.writeError(w, r, err, key)
		return
	}
	defer body.Close()

	// The decryption starts at the first fetched frame, so the filter's
	// running offset is seeded with that frame's plaintext position.
	writer, err := crypto.NewRangedObjectDecrypter(
		w, h.keks.Current(), info.Metadata, key,
		offset, length, byterange.FrameAlignedOffset(offset),
	)
	if err != nil {
		h.recordCrypto("decrypt", key, start, 0, false, err)
		h.writeError(w, r, err, key)
		return
	}

	w.Header().Set("Content-Type", info.ContentType)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", length))
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, offset+length-1, plaintextSize))
	w.WriteHeader(http.StatusPartialContent)

	if err := pump(writer, body); err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"key":   key,
			"range": rangeHeader,
		}).Error("ranged GET decryption aborted")
		h.recordCrypto("decrypt", key, start, 0, false, err)
		return
	}
	if h.metrics != nil {
		h.metrics.RecordRangedRequest(fetchEnd-fetchStart+1, length)
	}
	h.recordCrypto("decrypt", key, start, length, true, nil)
}

func (h *Handler) serveRangePassthrough(w http.ResponseWriter, r *http.Request, key string, rng byterange.Range, info *storage.ObjectInfo) {
	ctx := r.Context()

	fetchStart, fetchEnd, err := rng.BackendRange(info.Size, false)
	if err != nil {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", info.Size))
		h.writeError(w, r, err, key)
		return
	}

	body, _, err := h.backend.GetObject(ctx, key, fmt.Sprintf("bytes=%d-%d", fetchStart, fetchEnd))
	if err != nil {
		h.writeError(w, r, err, key)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", info.ContentType)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", fetchEnd-fetchStart+1))
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", fetchStart, fetchEnd, info.Size))
	w.WriteHeader(http.StatusPartialContent)

	if _, err := io.Copy(w, body); err != nil {
		h.logger.WithError(err).WithField("key", key).Error("ranged GET passthrough aborted")
	}
}

// handleHeadObject reports the object's plaintext size without fetching
// or decrypting the body.
func (h *Handler) handleHeadObject(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	info, err := h.backend.HeadObject(r.Context(), key)
	if err != nil {
		h.writeError(w, r, err, key)
		return
	}
	if h.cache != nil {
		h.cache.Set(key, info)
	}

	setObjectHeaders(w, info, crypto.DecryptedSize(info.Size, info.Metadata))
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleDeleteObject(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	if err := h.backend.DeleteObject(r.Context(), key); err != nil {
		h.writeError(w, r, err, key)
		return
	}
	if h.cache != nil {
		h.cache.Invalidate(key)
	}
	h.logAccess(r, "delete_object", key, true, nil)

	w.WriteHeader(http.StatusNoContent)
}

// listEntry is one object in a listing. Size is the stored (ciphertext)
// size; clients needing the plaintext size issue a HEAD per object.
type listEntry struct {
	Key          string    `json:"key"`
	Size         uint64    `json:"size"`
	ETag         string    `json:"etag,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

func (h *Handler) handleListObjects(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")

	var maxKeys int32
	if v := r.URL.Query().Get("max-keys"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &maxKeys); err != nil || maxKeys < 0 {
			ErrInvalidRequest.WriteJSON(w)
			return
		}
	}

	objects, err := h.backend.ListObjects(r.Context(), prefix, storage.ListOptions{
		Marker:  r.URL.Query().Get("marker"),
		MaxKeys: maxKeys,
	})
	if err != nil {
		h.writeError(w, r, err, prefix)
		return
	}

	entries := make([]listEntry, 0, len(objects))
	for _, obj := range objects {
		entries = append(entries, listEntry{
			Key:          obj.Key,
			Size:         obj.Size,
			ETag:         obj.ETag,
			LastModified: obj.LastModified,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"objects": entries})
}

// objectInfo returns the object's description, served from the cache
// when fresh.
func (h *Handler) objectInfo(ctx context.Context, key string) (*storage.ObjectInfo, error) {
	if h.cache != nil {
		if info, ok := h.cache.Get(key); ok {
			return info, nil
		}
	}
	info, err := h.backend.HeadObject(ctx, key)
	if err != nil {
		return nil, err
	}
	if h.cache != nil {
		h.cache.Set(key, info)
	}
	return info, nil
}

// pump feeds every byte of src into the decrypting writer and closes it.
func pump(writer *dare.DecryptWriter, src io.Reader) error {
	if _, err := io.Copy(writer, src); err != nil {
		return err
	}
	return writer.Close()
}

func setObjectHeaders(w http.ResponseWriter, info *storage.ObjectInfo, size uint64) {
	w.Header().Set("Content-Length", fmt.Sprintf("%d", size))
	if info.ContentType != "" {
		w.Header().Set("Content-Type", info.ContentType)
	}
	if info.ETag != "" {
		w.Header().Set("ETag", info.ETag)
	}
	if !info.LastModified.IsZero() {
		w.Header().Set("Last-Modified", info.LastModified.UTC().Format(http.TimeFormat))
	}
	w.Header().Set("Accept-Ranges", "bytes")
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, key string) {
	apiErr := TranslateError(err, r.URL.Path, getRequestID(r))
	apiErr.WriteJSON(w)
	h.logAccess(r, operationName(r.Method), key, false, err)
}

func (h *Handler) recordCrypto(operation, key string, start time.Time, bytes uint64, success bool, err error) {
	duration := time.Since(start)
	if h.metrics != nil {
		if success {
			frames := (bytes + dare.MaxPayloadSize - 1) / dare.MaxPayloadSize
			h.metrics.RecordCryptoOperation(operation, duration, bytes, frames)
		} else {
			h.metrics.RecordCryptoError(operation, errorType(err))
		}
	}
	if h.audit != nil {
		eventType := audit.EventTypeEncrypt
		if operation == "decrypt" {
			eventType = audit.EventTypeDecrypt
		}
		h.audit.LogCrypto(eventType, key, success, err, duration)
	}
}

func (h *Handler) logAccess(r *http.Request, operation, key string, success bool, err error) {
	if h.audit == nil {
		return
	}
	h.audit.LogAccess(operation, key, r.Header.Get("Range"), getClientIP(r), getRequestID(r), success, err, 0)
}

func operationName(method string) string {
	switch method {
	case http.MethodGet:
		return "get_object"
	case http.MethodPut:
		return "put_object"
	case http.MethodHead:
		return "head_object"
	case http.MethodDelete:
		return "delete_object"
	default:
		return method
	}
}

// errorType buckets an error for metric labels.
func errorType(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, dare.ErrAuthentication):
		return "authentication"
	case errors.Is(err, dare.ErrMalformedHeader):
		return "malformed_header"
	case errors.Is(err, storage.ErrNotFound):
		return "not_found"
	default:
		return "other"
	}
}

// countingReader counts the bytes read through it.
type countingReader struct {
	src io.Reader
	n   uint64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.src.Read(p)
	c.n += uint64(n)
	return n, err
}
