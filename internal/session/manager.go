package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/heic-converter/backend/internal/convert"
	"github.com/heic-converter/backend/internal/models"
	"github.com/heic-converter/backend/internal/profile"
	"github.com/heic-converter/backend/internal/storage"
)

// MaxSessions limits concurrent sessions to prevent memory exhaustion.
const MaxSessions = 50

// KeepAliveWindow is how long a recently-accessed session is protected from
// age-based cleanup.
const KeepAliveWindow = 5 * time.Minute

// Recorder receives completed conversions. Satisfied by *history.Store.
type Recorder interface {
	Record(rec models.ConversionRecord) error
}

// State holds session metadata plus the converted output, which lives in
// memory until download or cleanup.
type State struct {
	Session      *models.ConvertSession
	FileID       string
	SourcePath   string
	Result       []byte
	Meta         models.ImageMeta
	LastAccessed time.Time
}

// Manager handles active conversion sessions.
type Manager struct {
	sessions  map[string]*State
	mu        sync.RWMutex
	store     storage.Store
	converter *convert.Converter
	profiles  *profile.Set
	history   Recorder // may be nil when history is disabled
}

// NewManager creates a session manager.
func NewManager(store storage.Store, converter *convert.Converter, profiles *profile.Set, history Recorder) *Manager {
	if profiles == nil {
		profiles = profile.Default()
	}
	return &Manager{
		sessions:  make(map[string]*State),
		store:     store,
		converter: converter,
		profiles:  profiles,
		history:   history,
	}
}

// Create registers a new session for an uploaded file and returns a
// snapshot of it.
func (m *Manager) Create(info *models.FileInfo, sourcePath string) models.ConvertSession {
	m.cleanupIfNeeded()

	sessionID := uuid.New().String()
	sess := models.NewConvertSession(sessionID, info.Name)

	m.mu.Lock()
	m.sessions[sessionID] = &State{
		Session:      sess,
		FileID:       info.ID,
		SourcePath:   sourcePath,
		LastAccessed: time.Now(),
	}
	snap := *sess
	m.mu.Unlock()

	return snap
}

// ConvertRequest carries the per-request conversion parameters.
type ConvertRequest struct {
	OutputFormat string
	Quality      int
	StripEXIF    bool
}

// StartConvert begins converting the session's file in the background.
// Returns a session snapshot, or false if the session is unknown.
func (m *Manager) StartConvert(id string, req ConvertRequest) (models.ConvertSession, bool) {
	m.mu.Lock()
	state, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return models.ConvertSession{}, false
	}

	format := convert.NormalizeFormat(req.OutputFormat)
	if req.OutputFormat == "" {
		format = convert.NormalizeFormat(m.profiles.DefaultFormat)
	}
	preset := m.profiles.For(format)
	quality := req.Quality
	if quality < 1 || quality > 100 {
		quality = preset.Quality
	}

	state.Session.Status = models.StatusConverting
	state.Session.Progress = 5
	state.Session.OutputFormat = format
	state.Session.Quality = quality
	state.Session.StripMetadata = req.StripEXIF
	state.Session.Error = ""
	state.LastAccessed = time.Now()
	sourcePath := state.SourcePath
	opts := convert.Options{Format: format, Quality: quality, Lossless: preset.Lossless}
	snap := *state.Session
	m.mu.Unlock()

	go m.runConvert(id, sourcePath, opts, req.StripEXIF)

	return snap, true
}

func (m *Manager) runConvert(id, sourcePath string, opts convert.Options, strip bool) {
	// Recover from panics to prevent backend crash
	defer func() {
		if r := recover(); r != nil {
			fmt.Printf("[Convert %s] PANIC recovered: %v\n", shortID(id), r)
			m.failSession(id, fmt.Sprintf("conversion panicked: %v", r))
		}
	}()

	start := time.Now()
	fmt.Printf("[Convert %s] Starting conversion of %s to %s\n", shortID(id), sourcePath, opts.Format)

	progressCb := func(p float64) {
		m.mu.Lock()
		if state, ok := m.sessions[id]; ok {
			state.Session.Progress = p
		}
		m.mu.Unlock()
	}

	out, err := m.converter.Convert(sourcePath, opts, strip, progressCb)
	if err != nil {
		fmt.Printf("[Convert %s] ERROR: %v\n", shortID(id), err)
		m.failSession(id, err.Error())
		return
	}

	elapsed := time.Since(start).Milliseconds()
	fmt.Printf("[Convert %s] Conversion complete: %d bytes via %s in %dms\n",
		shortID(id), len(out.Data), out.Decoder, elapsed)

	m.mu.Lock()
	state, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return
	}

	var inputBytes int64
	state.Result = out.Data
	state.Meta = out.Meta
	state.Session.Status = models.StatusComplete
	state.Session.Progress = 100
	state.Session.OutputSize = int64(len(out.Data))
	state.Session.ProcessingTimeMs = elapsed
	state.Session.Decoder = out.Decoder
	filename := state.Session.Filename
	if info, err := m.store.Get(state.FileID); err == nil {
		inputBytes = info.Size
	}
	m.mu.Unlock()

	if m.history != nil {
		rec := models.ConversionRecord{
			ID:           id,
			Filename:     filename,
			SourceFormat: out.SourceFormat,
			OutputFormat: out.Format,
			InputBytes:   inputBytes,
			OutputBytes:  int64(len(out.Data)),
			DurationMs:   elapsed,
			Decoder:      out.Decoder,
			CompletedAt:  time.Now(),
		}
		if err := m.history.Record(rec); err != nil {
			fmt.Printf("[Convert %s] Warning: failed to record history: %v\n", shortID(id), err)
		}
	}
}

func (m *Manager) failSession(id, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[id]
	if !ok {
		return
	}
	state.Session.Status = models.StatusError
	state.Session.Error = reason
}

// Get returns a snapshot of the session by ID. The copy is taken under the
// lock so callers never observe the struct the conversion goroutine mutates.
func (m *Manager) Get(id string) (models.ConvertSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.sessions[id]
	if !ok {
		return models.ConvertSession{}, false
	}
	return *state.Session, true
}

// Result returns the converted bytes and a session snapshot once the
// session is complete.
func (m *Manager) Result(id string) ([]byte, models.ConvertSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.sessions[id]
	if !ok || state.Session.Status != models.StatusComplete {
		return nil, models.ConvertSession{}, false
	}
	return state.Result, *state.Session, true
}

// Meta returns the source image metadata captured during conversion.
func (m *Manager) Meta(id string) (models.ImageMeta, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.sessions[id]
	if !ok || state.Session.Status != models.StatusComplete {
		return models.ImageMeta{}, false
	}
	return state.Meta, true
}

// Touch updates the LastAccessed timestamp to protect an active session
// from cleanup.
func (m *Manager) Touch(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[id]
	if !ok {
		return false
	}
	state.LastAccessed = time.Now()
	return true
}

// Clear deletes the session's uploaded file and record. Idempotent.
func (m *Manager) Clear(id string) {
	m.mu.Lock()
	state, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return
	}

	if err := m.store.Delete(state.FileID); err != nil {
		fmt.Printf("[Manager] Warning: failed to delete file for session %s: %v\n", shortID(id), err)
	}
}

// cleanupIfNeeded evicts finished sessions when at capacity.
func (m *Manager) cleanupIfNeeded() {
	m.mu.Lock()

	if len(m.sessions) < MaxSessions {
		m.mu.Unlock()
		return
	}

	var evict []*State
	toFree := len(m.sessions) - MaxSessions + 1
	for id, state := range m.sessions {
		if len(evict) >= toFree {
			break
		}
		if state.Session.Status == models.StatusComplete ||
			state.Session.Status == models.StatusError {
			delete(m.sessions, id)
			evict = append(evict, state)
			fmt.Printf("[Manager] Evicted finished session %s to free memory\n", shortID(id))
		}
	}
	m.mu.Unlock()

	for _, state := range evict {
		m.store.Delete(state.FileID)
	}
}

// CleanupOldSessions removes finished sessions older than maxAge, keeping
// sessions accessed within KeepAliveWindow.
func (m *Manager) CleanupOldSessions(maxAge time.Duration) {
	m.mu.Lock()

	cutoff := time.Now().Add(-maxAge)
	keepAliveCutoff := time.Now().Add(-KeepAliveWindow)

	var evict []*State
	for id, state := range m.sessions {
		if state.Session.Status != models.StatusComplete &&
			state.Session.Status != models.StatusError {
			continue
		}
		if state.LastAccessed.After(keepAliveCutoff) {
			continue
		}
		if state.LastAccessed.Before(cutoff) {
			delete(m.sessions, id)
			evict = append(evict, state)
			fmt.Printf("[Manager] Cleaned up aged session %s (last accessed %s ago)\n",
				shortID(id), time.Since(state.LastAccessed).Round(time.Second))
		}
	}
	m.mu.Unlock()

	for _, state := range evict {
		m.store.Delete(state.FileID)
	}
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// shortID safely truncates an ID for logging.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
