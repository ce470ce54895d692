package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/luojiyin1987/img-squeeze/internal/compressor"
	"github.com/luojiyin1987/img-squeeze/internal/discovery"
	"github.com/luojiyin1987/img-squeeze/internal/inspect"
	"github.com/luojiyin1987/img-squeeze/internal/logger"
)

// maxUploadBytes bounds the multipart body of a single compress request.
const maxUploadBytes = 100 << 20

// Settings configure a Server.
type Settings struct {
	Defaults   compressor.CompressionOptions
	OutputDir  string
	ScratchDir string
	Recursive  bool
	MaxFiles   int
}

type Server struct {
	settings   Settings
	log        *logrus.Logger
	compressor compressor.Compressor
	inspector  *inspect.Inspector
	router     *mux.Router
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	wsClients  map[*websocket.Conn]bool
	wsMutex    sync.RWMutex

	// Batch state. Only one batch runs at a time.
	operationMutex sync.RWMutex
	isRunning      bool
	batches        map[string]*Batch
	ctx            context.Context
	cancel         context.CancelFunc
	running        sync.WaitGroup
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// BatchRequest starts a batch over a file, directory or glob.
type BatchRequest struct {
	Input     string                         `json:"input"`
	OutputDir string                         `json:"output_dir,omitempty"`
	Recursive *bool                          `json:"recursive,omitempty"`
	Options   *compressor.CompressionOptions `json:"options,omitempty"`
}

// BatchState is the lifecycle state of a batch.
type BatchState string

const (
	BatchRunning   BatchState = "running"
	BatchCompleted BatchState = "completed"
	BatchFailed    BatchState = "failed"
	BatchCancelled BatchState = "cancelled"
)

// Batch tracks a batch started through the API.
type Batch struct {
	ID        string
	Input     string
	OutputDir string
	Total     int
	CreatedAt time.Time

	done   atomic.Int64
	cancel context.CancelFunc

	mu     sync.RWMutex
	state  BatchState
	report *compressor.BatchReport
	err    string
}

// BatchView is the JSON representation of a Batch.
type BatchView struct {
	ID        string                  `json:"id"`
	State     BatchState              `json:"state"`
	Input     string                  `json:"input"`
	OutputDir string                  `json:"output_dir"`
	Total     int                     `json:"total"`
	Done      int64                   `json:"done"`
	CreatedAt time.Time               `json:"created_at"`
	Report    *compressor.BatchReport `json:"report,omitempty"`
	Error     string                  `json:"error,omitempty"`
}

func (b *Batch) view() BatchView {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return BatchView{
		ID:        b.ID,
		State:     b.state,
		Input:     b.Input,
		OutputDir: b.OutputDir,
		Total:     b.Total,
		Done:      b.done.Load(),
		CreatedAt: b.CreatedAt,
		Report:    b.report,
		Error:     b.err,
	}
}

func (b *Batch) finish(state BatchState, report *compressor.BatchReport, errMsg string) {
	b.mu.Lock()
	b.state = state
	b.report = report
	b.err = errMsg
	b.mu.Unlock()
}

// FormatInfo describes a supported output format.
type FormatInfo struct {
	Name            string `json:"name"`
	Extension       string `json:"extension"`
	SupportsQuality bool   `json:"supports_quality"`
	ContentType     string `json:"content_type"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func NewServer(settings Settings, log *logrus.Logger, c compressor.Compressor) *Server {
	if settings.Defaults.Quality == 0 {
		settings.Defaults = compressor.DefaultOptions()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		settings:   settings,
		log:        log,
		compressor: c,
		inspector:  inspect.NewInspector(log),
		router:     mux.NewRouter(),
		wsClients:  make(map[*websocket.Conn]bool),
		batches:    make(map[string]*Batch),
		ctx:        ctx,
		cancel:     cancel,
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins in development
			},
		},
	}

	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/formats", s.handleFormats).Methods("GET")
	api.HandleFunc("/info", s.handleInfo).Methods("GET")
	api.HandleFunc("/compress", s.handleCompress).Methods("POST")
	api.HandleFunc("/batches", s.handleListBatches).Methods("GET")
	api.HandleFunc("/batches", s.handleStartBatch).Methods("POST")
	api.HandleFunc("/batches/{id}", s.handleGetBatch).Methods("GET")
	api.HandleFunc("/batches/{id}", s.handleCancelBatch).Methods("DELETE")

	s.router.HandleFunc("/ws", s.handleWebSocket)
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	s.log.Infof("Starting web server on http://localhost%s", addr)
	return s.httpServer.ListenAndServe()
}

// Stop cancels running batches, waits for them and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()
	s.running.Wait()

	s.wsMutex.Lock()
	for conn := range s.wsClients {
		conn.Close()
		delete(s.wsClients, conn)
	}
	s.wsMutex.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	running := s.isRunning
	counts := make(map[BatchState]int)
	for _, b := range s.batches {
		counts[b.view().State]++
	}
	s.operationMutex.RUnlock()

	s.wsMutex.RLock()
	clients := len(s.wsClients)
	s.wsMutex.RUnlock()

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"running":           running,
			"batches":           counts,
			"websocket_clients": clients,
			"defaults":          s.settings.Defaults,
			"inspect_cache":     s.inspector.GetCacheStats(),
		},
	})
}

func (s *Server) handleFormats(w http.ResponseWriter, r *http.Request) {
	formats := compressor.SupportedFormats()
	out := make([]FormatInfo, 0, len(formats))
	for _, f := range formats {
		out = append(out, FormatInfo{
			Name:            f.String(),
			Extension:       f.Extension(),
			SupportsQuality: f.SupportsQuality(),
			ContentType:     contentType(f),
		})
	}
	s.writeJSON(w, APIResponse{Success: true, Data: out})
}

func (s *Server) handleStartBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Input == "" {
		s.writeError(w, "Input is required", http.StatusBadRequest)
		return
	}

	opts := s.settings.Defaults
	if req.Options != nil {
		opts = *req.Options
	}
	if err := opts.Validate(); err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	recursive := s.settings.Recursive
	if req.Recursive != nil {
		recursive = *req.Recursive
	}
	found, err := discovery.NewCollector(s.log, discovery.Options{Recursive: recursive, MaxFiles: s.settings.MaxFiles}).Collect(req.Input)
	if err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	outputDir := req.OutputDir
	if outputDir == "" {
		outputDir = s.settings.OutputDir
	}

	// Check if already running
	s.operationMutex.Lock()
	if s.isRunning {
		s.operationMutex.Unlock()
		s.writeError(w, "Operation already in progress", http.StatusConflict)
		return
	}
	ctx, cancel := context.WithCancel(s.ctx)
	batch := &Batch{
		ID:        uuid.NewString(),
		Input:     req.Input,
		OutputDir: outputDir,
		Total:     len(found.Files),
		CreatedAt: time.Now(),
		cancel:    cancel,
		state:     BatchRunning,
	}
	s.batches[batch.ID] = batch
	s.isRunning = true
	s.running.Add(1)
	s.operationMutex.Unlock()

	go s.runBatchAsync(ctx, batch, found, opts)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Batch started",
		Data:    batch.view(),
	})
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	views := make([]BatchView, 0, len(s.batches))
	for _, b := range s.batches {
		views = append(views, b.view())
	}
	s.operationMutex.RUnlock()

	sort.Slice(views, func(i, j int) bool { return views[i].CreatedAt.Before(views[j].CreatedAt) })
	s.writeJSON(w, APIResponse{Success: true, Data: views})
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	batch, ok := s.lookupBatch(mux.Vars(r)["id"])
	if !ok {
		s.writeError(w, "Batch not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, APIResponse{Success: true, Data: batch.view()})
}

func (s *Server) handleCancelBatch(w http.ResponseWriter, r *http.Request) {
	batch, ok := s.lookupBatch(mux.Vars(r)["id"])
	if !ok {
		s.writeError(w, "Batch not found", http.StatusNotFound)
		return
	}
	batch.cancel()

	s.broadcastWSMessage("batch_cancel_requested", map[string]interface{}{
		"id": batch.ID,
	})

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Cancellation requested",
	})
}

// handleInfo inspects a file under the server output directory. The file
// query parameter is a path relative to that directory.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	rel := r.URL.Query().Get("file")
	if rel == "" || !filepath.IsLocal(rel) {
		s.writeError(w, "file must be a relative path inside the output directory", http.StatusBadRequest)
		return
	}

	info, err := s.inspector.Inspect(filepath.Join(s.settings.OutputDir, rel))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.writeError(w, "File not found", http.StatusNotFound)
			return
		}
		s.writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"info":        info,
			"megapixels":  info.Megapixels(),
			"suggestions": inspect.Suggestions(info),
		},
	})
}

// handleCompress compresses one uploaded image and streams the result back.
func (s *Server) handleCompress(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, "A multipart field named file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	opts, err := s.formOptions(r)
	if err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	name := filepath.Base(header.Filename)
	if !discovery.IsSupported(name) {
		s.writeError(w, fmt.Sprintf("Unsupported file type: %s", name), http.StatusBadRequest)
		return
	}

	inputPath, cleanup, err := s.stageUpload(file, name)
	if err != nil {
		s.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer cleanup()

	encoded, err := s.compressor.Encode(r.Context(), compressor.ImageTask{
		InputPath:  inputPath,
		OutputPath: compressor.OutputPath(name, "", "", opts.OutputFormat),
		Options:    opts,
	})
	if err != nil {
		status := http.StatusUnprocessableEntity
		if compressor.KindOf(err).IsFatal() {
			status = http.StatusBadRequest
		}
		s.writeError(w, err.Error(), status)
		return
	}

	logger.WithFileOperation(s.log, name, "web_compress").WithFields(logrus.Fields{
		"original":   encoded.OriginalSize,
		"compressed": len(encoded.Data),
	}).Debug("Compressed upload")

	w.Header().Set("Content-Type", contentType(encoded.Format))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", encoded.Name))
	w.Header().Set("X-Original-Size", strconv.FormatInt(encoded.OriginalSize, 10))
	w.Header().Set("X-Compressed-Size", strconv.Itoa(len(encoded.Data)))
	w.Header().Set("X-Image-Dimensions", fmt.Sprintf("%dx%d", encoded.Width, encoded.Height))
	if _, err := w.Write(encoded.Data); err != nil {
		s.log.Debugf("Failed to write response: %v", err)
	}
}

func (s *Server) formOptions(r *http.Request) (compressor.CompressionOptions, error) {
	opts := s.settings.Defaults
	intField := func(key string, dst *int) error {
		v := r.FormValue(key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %q", key, v)
		}
		*dst = n
		return nil
	}
	for key, dst := range map[string]*int{"quality": &opts.Quality, "max_width": &opts.MaxWidth, "max_height": &opts.MaxHeight} {
		if err := intField(key, dst); err != nil {
			return opts, err
		}
	}
	// An explicit dimension must be positive; omit the field to leave it unconstrained.
	for _, key := range []string{"max_width", "max_height"} {
		if r.FormValue(key) == "" {
			continue
		}
		if n, _ := strconv.Atoi(r.FormValue(key)); n <= 0 {
			return opts, &compressor.Error{
				Kind: compressor.KindInvalidOption,
				Err:  fmt.Errorf("%s %d: %w", key, n, compressor.ErrInvalidDimension),
			}
		}
	}
	if v := r.FormValue("format"); v != "" {
		f, err := compressor.ParseFormat(v)
		if err != nil {
			return opts, err
		}
		opts.OutputFormat = f
	}
	return opts, opts.Validate()
}

func (s *Server) stageUpload(src io.Reader, name string) (string, func(), error) {
	dir, err := os.MkdirTemp(s.settings.ScratchDir, ".img-squeeze-upload-*")
	if err != nil {
		return "", nil, fmt.Errorf("failed to stage upload: %w", err)
	}
	cleanup := func() { os.RemoveAll(dir) }

	path := filepath.Join(dir, name)
	dst, err := os.Create(path)
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to stage upload: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		cleanup()
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", nil, fmt.Errorf("upload exceeds %d bytes", maxUploadBytes)
		}
		return "", nil, fmt.Errorf("failed to stage upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to stage upload: %w", err)
	}
	return path, cleanup, nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.wsMutex.Lock()
	s.wsClients[conn] = true
	s.wsMutex.Unlock()

	s.log.Debug("WebSocket client connected")

	// Remove client on disconnect
	defer func() {
		s.wsMutex.Lock()
		delete(s.wsClients, conn)
		s.wsMutex.Unlock()
		s.log.Debug("WebSocket client disconnected")
	}()

	// Keep connection alive
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}
}

func (s *Server) runBatchAsync(ctx context.Context, batch *Batch, found *discovery.Result, opts compressor.CompressionOptions) {
	defer s.running.Done()
	defer batch.cancel()

	log := logger.WithBatch(s.log, batch.ID)
	log.WithField("files", batch.Total).Info("Batch started")
	// Outputs about to be rewritten must not be served from stale entries.
	s.inspector.ClearCache()

	s.broadcastWSMessage("batch_started", map[string]interface{}{
		"id":         batch.ID,
		"input":      batch.Input,
		"output_dir": batch.OutputDir,
		"total":      batch.Total,
	})

	progress := func(p compressor.Progress, res compressor.CompressionResult) {
		batch.done.Store(p.Done)
		s.broadcastWSMessage("batch_progress", map[string]interface{}{
			"id":      batch.ID,
			"done":    p.Done,
			"total":   p.Total,
			"file":    res.InputPath,
			"success": res.Success,
			"error":   res.Message,
		})
	}

	report, err := s.compressor.Run(ctx, found.Files, opts, batch.OutputDir,
		compressor.WithInputRoot(found.Root), compressor.WithProgress(progress))

	defer func() {
		s.operationMutex.Lock()
		s.isRunning = false
		s.operationMutex.Unlock()
	}()

	switch {
	case err != nil:
		batch.finish(BatchFailed, nil, err.Error())
		log.Errorf("Batch failed: %v", err)
		s.broadcastWSMessage("batch_error", map[string]interface{}{
			"id":    batch.ID,
			"error": err.Error(),
		})
	case ctx.Err() != nil:
		batch.finish(BatchCancelled, report, "")
		s.broadcastWSMessage("batch_cancelled", map[string]interface{}{
			"id":      batch.ID,
			"summary": report.Summary,
		})
	default:
		batch.finish(BatchCompleted, report, "")
		s.broadcastWSMessage("batch_completed", map[string]interface{}{
			"id":      batch.ID,
			"summary": report.Summary,
		})
	}
}

func (s *Server) lookupBatch(id string) (*Batch, bool) {
	s.operationMutex.RLock()
	defer s.operationMutex.RUnlock()
	b, ok := s.batches[id]
	return b, ok
}

func (s *Server) broadcastWSMessage(messageType string, data interface{}) {
	message := WSMessage{
		Type: messageType,
		Data: data,
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		s.log.Errorf("Failed to marshal WebSocket message: %v", err)
		return
	}

	// Writes hold the exclusive lock; gorilla connections allow one writer at a time.
	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()

	for conn := range s.wsClients {
		err := conn.WriteMessage(websocket.TextMessage, msgBytes)
		if err != nil {
			s.log.Errorf("Failed to write WebSocket message: %v", err)
			delete(s.wsClients, conn)
			conn.Close()
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   message,
	})
}

func contentType(f compressor.Format) string {
	switch f {
	case compressor.FormatJPEG:
		return "image/jpeg"
	case compressor.FormatPNG:
		return "image/png"
	case compressor.FormatWebP:
		return "image/webp"
	case compressor.FormatBMP:
		return "image/bmp"
	case compressor.FormatTIFF:
		return "image/tiff"
	case compressor.FormatGIF:
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}
