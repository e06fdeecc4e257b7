package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/google/uuid"
	"github.com/oapi-codegen/runtime"
	"github.com/pkg/errors"

	"bypasskv/internal/engine"
	"bypasskv/internal/faults"
	"bypasskv/internal/hooks"
	"bypasskv/internal/region"
	"bypasskv/internal/storage"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

type ServerOptions struct {
	// DataDir holds one commit log per table; empty keeps tables in memory only.
	DataDir string
	// Capacity is the row capacity of tables created without an explicit one.
	Capacity int
}

// Server hosts named tables, one region each, and exposes them over HTTP.
type Server struct {
	opts   ServerOptions
	router chi.Router

	mu     sync.RWMutex
	tables map[string]*region.Region
}

// NewServer wires the table handlers into a router and exposes a health check.
func NewServer(opts ServerOptions) *Server {
	if opts.Capacity <= 0 {
		opts.Capacity = region.DefaultCapacity
	}
	s := &Server{opts: opts, tables: make(map[string]*region.Region)}

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/tables", s.listTables)
	r.Route("/tables/{table}", func(r chi.Router) {
		r.Put("/", s.createTable)
		r.Delete("/", s.dropTable)
		r.Post("/batch", s.batchMutate)
		r.Get("/rows/{key}", s.getRow)
		r.Put("/predicate", s.setPredicate)
		r.Get("/counters", s.counters)
	})
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Region returns the region backing a table.
func (s *Server) Region(table string) (*region.Region, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reg, ok := s.tables[table]
	return reg, ok
}

// Close closes every table's region. Commit logs stay on disk.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for name, reg := range s.tables {
		if err := reg.Close(); err != nil {
			log.Printf("close table %s: %v", name, err)
			if first == nil {
				first = err
			}
		}
		delete(s.tables, name)
	}
	return first
}

func (s *Server) listTables(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) createTable(w http.ResponseWriter, r *http.Request) {
	table, ok := tableParam(w, r)
	if !ok {
		return
	}
	var req TableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{Message: "invalid body: " + err.Error()})
		return
	}
	if req.Capacity <= 0 {
		req.Capacity = s.opts.Capacity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if reg, exists := s.tables[table]; exists {
		writeJSON(w, http.StatusOK, tableResponse(reg))
		return
	}

	opts := region.Options{Table: table, Family: req.Family, Capacity: req.Capacity}
	if s.opts.DataDir != "" {
		opts.CommitLog = engine.CommitLogCfg{Path: s.commitLogPath(table)}
	}
	reg, err := region.Open(context.Background(), opts)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{Message: err.Error()})
		return
	}
	s.tables[table] = reg
	log.Printf("created table %s", table)
	writeJSON(w, http.StatusCreated, tableResponse(reg))
}

// dropTable disables and deletes a table, including its commit log.
func (s *Server) dropTable(w http.ResponseWriter, r *http.Request) {
	table, ok := tableParam(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	reg, exists := s.tables[table]
	delete(s.tables, table)
	s.mu.Unlock()

	if !exists {
		writeError(w, http.StatusNotFound, ErrorResponse{Message: "unknown table " + table})
		return
	}
	if err := reg.Close(); err != nil {
		writeError(w, http.StatusInternalServerError, ErrorResponse{Message: err.Error()})
		return
	}
	if s.opts.DataDir != "" {
		if err := os.Remove(s.commitLogPath(table)); err != nil && !os.IsNotExist(err) {
			writeError(w, http.StatusInternalServerError, ErrorResponse{Message: err.Error()})
			return
		}
	}
	log.Printf("dropped table %s", table)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) batchMutate(w http.ResponseWriter, r *http.Request) {
	reg, ok := s.regionParam(w, r)
	if !ok {
		return
	}

	batchID := r.Header.Get(BatchIDHeader)
	if batchID == "" {
		batchID = uuid.NewString()
	}
	w.Header().Set(BatchIDHeader, batchID)

	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{Message: "invalid body: " + err.Error()})
		return
	}
	batch, err := DecodeBatch(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{Message: err.Error()})
		return
	}

	log.Printf("batch %s: %d mutations for table %s", batchID, len(batch), reg.Table())
	if err := reg.BatchMutate(r.Context(), batch); err != nil {
		var sf *faults.StorageFault
		switch {
		case errors.As(err, &sf) && errors.Is(sf.Cause, storage.ErrCapacity):
			writeError(w, http.StatusInsufficientStorage, ErrorResponse{
				Message: err.Error(), Kind: ErrorKindCapacity, Index: sf.Index, Key: EncodeBytes(sf.Key),
			})
		case errors.As(err, &sf):
			writeError(w, http.StatusInternalServerError, ErrorResponse{
				Message: err.Error(), Kind: ErrorKindStorage, Index: sf.Index, Key: EncodeBytes(sf.Key),
			})
		default:
			writeError(w, http.StatusUnprocessableEntity, ErrorResponse{Message: err.Error()})
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getRow(w http.ResponseWriter, r *http.Request) {
	reg, ok := s.regionParam(w, r)
	if !ok {
		return
	}
	var rawKey string
	if err := runtime.BindStyledParameterWithLocation("simple", false, "key", runtime.ParamLocationPath, chi.URLParam(r, "key"), &rawKey); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{Message: err.Error()})
		return
	}
	key, err := DecodePathKey(rawKey)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{Message: err.Error()})
		return
	}

	payload, found, err := reg.Get(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrorResponse{Message: err.Error()})
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, ErrorResponse{Message: "row not found"})
		return
	}
	writeJSON(w, http.StatusOK, RowResponse{Key: EncodeBytes(key), Payload: EncodePayload(payload)})
}

func (s *Server) setPredicate(w http.ResponseWriter, r *http.Request) {
	reg, ok := s.regionParam(w, r)
	if !ok {
		return
	}
	var req PredicateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{Message: "invalid body: " + err.Error()})
		return
	}
	keys := make([][]byte, 0, len(req.BypassKeys))
	for _, k := range req.BypassKeys {
		key, err := DecodeBytes(k)
		if err != nil {
			writeError(w, http.StatusBadRequest, ErrorResponse{Message: err.Error()})
			return
		}
		keys = append(keys, key)
	}
	reg.SetPredicate(hooks.NewKeySet(keys...))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) counters(w http.ResponseWriter, r *http.Request) {
	reg, ok := s.regionParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, reg.Counters().Snapshot())
}

func (s *Server) commitLogPath(table string) string {
	return filepath.Join(s.opts.DataDir, table+".log")
}

func (s *Server) regionParam(w http.ResponseWriter, r *http.Request) (*region.Region, bool) {
	table, ok := tableParam(w, r)
	if !ok {
		return nil, false
	}
	reg, exists := s.Region(table)
	if !exists {
		writeError(w, http.StatusNotFound, ErrorResponse{Message: "unknown table " + table})
		return nil, false
	}
	return reg, true
}

func tableParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	var table string
	if err := runtime.BindStyledParameterWithLocation("simple", false, "table", runtime.ParamLocationPath, chi.URLParam(r, "table"), &table); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{Message: err.Error()})
		return "", false
	}
	if err := validation.Validate(table, validation.Required, validation.Match(tableNamePattern)); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{Message: "table name: " + err.Error()})
		return "", false
	}
	return table, true
}

func tableResponse(reg *region.Region) TableResponse {
	return TableResponse{Table: reg.Table(), Family: reg.Family(), RegionID: reg.ID().String()}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, body ErrorResponse) {
	writeJSON(w, status, body)
}
