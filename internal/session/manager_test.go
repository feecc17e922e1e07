package session

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/heic-converter/backend/internal/convert"
	"github.com/heic-converter/backend/internal/models"
	"github.com/heic-converter/backend/internal/storage"
	"github.com/heic-converter/backend/internal/testutil"
)

func testPNGBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 60), G: uint8(y * 60), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode test png: %v", err)
	}
	return buf.Bytes()
}

func newTestManager(t *testing.T) (*Manager, *storage.LocalStore) {
	t.Helper()
	store, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	mgr := NewManager(store, convert.NewConverter("", ""), nil, nil)
	return mgr, store
}

func uploadTestFile(t *testing.T, mgr *Manager, store *storage.LocalStore) models.ConvertSession {
	t.Helper()
	info, err := store.SaveBytes("photo.png", testPNGBytes(t))
	if err != nil {
		t.Fatalf("Failed to save file: %v", err)
	}
	path, err := store.GetFilePath(info.ID)
	if err != nil {
		t.Fatalf("Failed to get file path: %v", err)
	}
	return mgr.Create(info, path)
}

func waitForStatus(t *testing.T, mgr *Manager, id string, want models.ConvertStatus) models.ConvertSession {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		sess, ok := mgr.Get(id)
		if !ok {
			t.Fatalf("session %s disappeared while waiting", id)
		}
		if sess.Status == want {
			return sess
		}
		if sess.Status == models.StatusError && want != models.StatusError {
			t.Fatalf("session failed: %s", sess.Error)
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for status %s", want)
	return models.ConvertSession{}
}

func TestManager_Create(t *testing.T) {
	mgr, store := newTestManager(t)

	sess := uploadTestFile(t, mgr, store)
	if sess.ID == "" {
		t.Error("Expected session ID to be set")
	}
	if sess.Status != models.StatusPending {
		t.Errorf("Expected status pending, got %v", sess.Status)
	}
	if sess.Filename != "photo.png" {
		t.Errorf("Expected filename photo.png, got %v", sess.Filename)
	}
	if mgr.Len() != 1 {
		t.Errorf("Expected 1 session, got %d", mgr.Len())
	}
}

func TestManager_ConvertLifecycle(t *testing.T) {
	mgr, store := newTestManager(t)
	sess := uploadTestFile(t, mgr, store)

	started, ok := mgr.StartConvert(sess.ID, ConvertRequest{OutputFormat: "jpeg", Quality: 85})
	if !ok {
		t.Fatal("Expected StartConvert to find the session")
	}
	if started.Status != models.StatusConverting {
		t.Errorf("Expected status converting, got %v", started.Status)
	}

	done := waitForStatus(t, mgr, sess.ID, models.StatusComplete)
	if done.Progress != 100 {
		t.Errorf("Expected progress 100, got %v", done.Progress)
	}
	if done.OutputFormat != "jpeg" {
		t.Errorf("Expected output format jpeg, got %v", done.OutputFormat)
	}
	if done.OutputSize == 0 {
		t.Error("Expected non-zero output size")
	}
	if done.Decoder != convert.DecoderStdlib {
		t.Errorf("Expected stdlib decoder, got %v", done.Decoder)
	}

	data, resultSess, ok := mgr.Result(sess.ID)
	if !ok {
		t.Fatal("Expected result to be available")
	}
	if len(data) == 0 {
		t.Error("Expected non-empty result data")
	}
	if resultSess.ID != sess.ID {
		t.Error("Result session mismatch")
	}

	meta, ok := mgr.Meta(sess.ID)
	if !ok {
		t.Fatal("Expected meta to be available")
	}
	if meta.Width != 4 || meta.Height != 4 {
		t.Errorf("Unexpected meta dimensions %dx%d", meta.Width, meta.Height)
	}
}

func TestManager_GetReturnsSnapshot(t *testing.T) {
	mgr, store := newTestManager(t)
	sess := uploadTestFile(t, mgr, store)

	snap, ok := mgr.Get(sess.ID)
	if !ok {
		t.Fatal("Expected session to exist")
	}

	// Mutating the snapshot must not leak into manager state
	snap.Status = models.StatusError
	snap.Progress = 55

	fresh, _ := mgr.Get(sess.ID)
	if fresh.Status != models.StatusPending {
		t.Errorf("Expected status pending after snapshot mutation, got %v", fresh.Status)
	}
	if fresh.Progress != 0 {
		t.Errorf("Expected progress 0 after snapshot mutation, got %v", fresh.Progress)
	}
}

func TestManager_ConcurrentStatusReads(t *testing.T) {
	mgr, store := newTestManager(t)
	sess := uploadTestFile(t, mgr, store)

	if _, ok := mgr.StartConvert(sess.ID, ConvertRequest{OutputFormat: "jpeg"}); !ok {
		t.Fatal("Expected StartConvert to accept session")
	}

	// Hammer Get and Result while the conversion goroutine updates the
	// session; snapshots keep readers off the mutated struct.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				snap, ok := mgr.Get(sess.ID)
				if !ok {
					t.Error("session disappeared during conversion")
					return
				}
				mgr.Result(sess.ID)
				if snap.Status == models.StatusComplete || snap.Status == models.StatusError {
					return
				}
			}
		}()
	}
	wg.Wait()

	done := waitForStatus(t, mgr, sess.ID, models.StatusComplete)
	if done.Progress != 100 {
		t.Errorf("Expected progress 100, got %v", done.Progress)
	}
}

func TestManager_ConvertUnknownSession(t *testing.T) {
	mgr, _ := newTestManager(t)

	if _, ok := mgr.StartConvert("no-such-session", ConvertRequest{}); ok {
		t.Error("Expected StartConvert to reject unknown session")
	}
	if _, ok := mgr.Get("no-such-session"); ok {
		t.Error("Expected Get to reject unknown session")
	}
	if mgr.Touch("no-such-session") {
		t.Error("Expected Touch to reject unknown session")
	}
}

func TestManager_ResultBeforeComplete(t *testing.T) {
	mgr, store := newTestManager(t)
	sess := uploadTestFile(t, mgr, store)

	if _, _, ok := mgr.Result(sess.ID); ok {
		t.Error("Expected no result before conversion starts")
	}
	if _, ok := mgr.Meta(sess.ID); ok {
		t.Error("Expected no meta before conversion completes")
	}
}

func TestManager_ConvertFailure(t *testing.T) {
	mgr, store := newTestManager(t)

	info, err := store.SaveBytes("broken.heic", []byte("not an image"))
	if err != nil {
		t.Fatalf("Failed to save file: %v", err)
	}
	path, _ := store.GetFilePath(info.ID)
	sess := mgr.Create(info, path)

	// Point the fallback stage at a tool that does not exist so the
	// chain fails fast.
	mgr.converter = convert.NewConverter("nonexistent-conversion-tool", "")

	if _, ok := mgr.StartConvert(sess.ID, ConvertRequest{OutputFormat: "jpeg"}); !ok {
		t.Fatal("Expected StartConvert to accept session")
	}

	failed := waitForStatus(t, mgr, sess.ID, models.StatusError)
	if failed.Error == "" {
		t.Error("Expected error message on failed session")
	}
	if _, _, ok := mgr.Result(sess.ID); ok {
		t.Error("Expected no result for failed session")
	}
}

func TestManager_DefaultFormatFromProfiles(t *testing.T) {
	mgr, store := newTestManager(t)
	sess := uploadTestFile(t, mgr, store)

	// Empty output format falls back to the profile default.
	started, ok := mgr.StartConvert(sess.ID, ConvertRequest{})
	if !ok {
		t.Fatal("Expected StartConvert to accept session")
	}
	if started.OutputFormat != "jpeg" {
		t.Errorf("Expected default format jpeg, got %v", started.OutputFormat)
	}
	if started.Quality != convert.DefaultQuality {
		t.Errorf("Expected default quality %d, got %d", convert.DefaultQuality, started.Quality)
	}

	waitForStatus(t, mgr, sess.ID, models.StatusComplete)
}

func TestManager_Clear(t *testing.T) {
	mgr, store := newTestManager(t)
	sess := uploadTestFile(t, mgr, store)

	mgr.Clear(sess.ID)

	if _, ok := mgr.Get(sess.ID); ok {
		t.Error("Expected session to be gone after Clear")
	}
	if mgr.Len() != 0 {
		t.Errorf("Expected 0 sessions, got %d", mgr.Len())
	}

	files, err := store.List(10)
	if err != nil {
		t.Fatalf("Failed to list files: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("Expected uploaded file to be deleted, %d files remain", len(files))
	}

	// Clearing again is a no-op
	mgr.Clear(sess.ID)
}

func TestManager_CleanupOldSessions(t *testing.T) {
	mgr, store := newTestManager(t)

	oldSess := uploadTestFile(t, mgr, store)
	activeSess := uploadTestFile(t, mgr, store)

	mgr.mu.Lock()
	oldState := mgr.sessions[oldSess.ID]
	oldState.Session.Status = models.StatusComplete
	oldState.LastAccessed = time.Now().Add(-2 * time.Hour)
	activeState := mgr.sessions[activeSess.ID]
	activeState.Session.Status = models.StatusComplete
	mgr.mu.Unlock()

	mgr.CleanupOldSessions(30 * time.Minute)

	if _, ok := mgr.Get(oldSess.ID); ok {
		t.Error("Expected aged session to be cleaned up")
	}
	if _, ok := mgr.Get(activeSess.ID); !ok {
		t.Error("Expected recently accessed session to survive")
	}
}

func TestManager_CapacityEviction(t *testing.T) {
	mock := testutil.NewMockStorage()
	mgr := NewManager(mock, convert.NewConverter("", ""), nil, nil)

	for i := 0; i < MaxSessions; i++ {
		id := fmt.Sprintf("file-%d", i)
		info := mock.AddFile(id, "photo.heic", []byte("data"))
		sess := mgr.Create(info, "/mock/path/"+id)
		// Mark most sessions finished so they are evictable
		if i < MaxSessions-1 {
			mgr.mu.Lock()
			mgr.sessions[sess.ID].Session.Status = models.StatusComplete
			mgr.mu.Unlock()
		}
	}
	if mgr.Len() != MaxSessions {
		t.Fatalf("Expected %d sessions, got %d", MaxSessions, mgr.Len())
	}

	// The next Create must evict a finished session to stay under the cap
	info := mock.AddFile("file-extra", "photo.heic", []byte("data"))
	mgr.Create(info, "/mock/path/file-extra")

	if mgr.Len() > MaxSessions {
		t.Errorf("Expected at most %d sessions after eviction, got %d", MaxSessions, mgr.Len())
	}
	// Eviction deletes the backing file too
	if got := mock.GetFileCount(); got != MaxSessions {
		t.Errorf("Expected %d stored files after eviction, got %d", MaxSessions, got)
	}
}

func TestManager_ConvertWithRegisteredFile(t *testing.T) {
	mock := testutil.NewMockStorageWithTempDir(t.TempDir())
	mgr := NewManager(mock, convert.NewConverter("", ""), nil, nil)

	source := testPNGBytes(t)
	info := mock.AddFile("file-1", "photo.png", source)
	path, err := mock.GetFilePath("file-1")
	if err != nil {
		t.Fatalf("Failed to get file path: %v", err)
	}

	sess := mgr.Create(info, path)
	if _, ok := mgr.StartConvert(sess.ID, ConvertRequest{OutputFormat: "jpeg"}); !ok {
		t.Fatal("Expected StartConvert to accept session")
	}

	done := waitForStatus(t, mgr, sess.ID, models.StatusComplete)
	if done.OutputSize == 0 {
		t.Error("Expected non-zero output size")
	}

	// Conversion reads the registered file without touching its bytes
	data, err := mock.GetFileData("file-1")
	if err != nil {
		t.Fatalf("Failed to get file data: %v", err)
	}
	if !bytes.Equal(data, source) {
		t.Error("Source bytes changed during conversion")
	}
}

func TestManager_CleanupSkipsPending(t *testing.T) {
	mgr, store := newTestManager(t)
	sess := uploadTestFile(t, mgr, store)

	mgr.mu.Lock()
	mgr.sessions[sess.ID].LastAccessed = time.Now().Add(-2 * time.Hour)
	mgr.mu.Unlock()

	mgr.CleanupOldSessions(30 * time.Minute)

	if _, ok := mgr.Get(sess.ID); !ok {
		t.Error("Pending session should not be cleaned up by age")
	}
}

// recordingHistory captures history records for assertion.
type recordingHistory struct {
	mu      sync.Mutex
	records []models.ConversionRecord
}

func (r *recordingHistory) Record(rec models.ConversionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *recordingHistory) snapshot() []models.ConversionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ConversionRecord(nil), r.records...)
}

func TestManager_RecordsHistory(t *testing.T) {
	store, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	hist := &recordingHistory{}
	mgr := NewManager(store, convert.NewConverter("", ""), nil, hist)

	sess := uploadTestFile(t, mgr, store)
	if _, ok := mgr.StartConvert(sess.ID, ConvertRequest{OutputFormat: "png"}); !ok {
		t.Fatal("Expected StartConvert to accept session")
	}
	waitForStatus(t, mgr, sess.ID, models.StatusComplete)

	// The record is written just after the status flips, wait for it.
	var records []models.ConversionRecord
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		records = hist.snapshot()
		if len(records) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if len(records) != 1 {
		t.Fatalf("Expected 1 history record, got %d", len(records))
	}
	rec := records[0]
	if rec.ID != sess.ID {
		t.Errorf("Expected record ID %s, got %s", sess.ID, rec.ID)
	}
	if rec.SourceFormat != "png" || rec.OutputFormat != "png" {
		t.Errorf("Unexpected formats %s -> %s", rec.SourceFormat, rec.OutputFormat)
	}
	if rec.OutputBytes == 0 {
		t.Error("Expected non-zero output bytes in record")
	}
}
