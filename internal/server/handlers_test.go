package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/videocollage/internal/collage"
	"github.com/maauso/videocollage/internal/encode"
	"github.com/maauso/videocollage/internal/export"
	"github.com/maauso/videocollage/internal/job"
	"github.com/maauso/videocollage/internal/layout"
	"github.com/maauso/videocollage/internal/media"
	"github.com/maauso/videocollage/internal/storage"
)

// mockService implements ExportService for testing.
type mockService struct {
	mock.Mock
}

func (m *mockService) PlanAndExport(ctx context.Context, req collage.Request) (*export.Job, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*export.Job), args.Error(1)
}

func (m *mockService) Get(ctx context.Context, id string) (*job.Job, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*job.Job), args.Error(1)
}

func (m *mockService) List(ctx context.Context) ([]*job.Job, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*job.Job), args.Error(1)
}

func (m *mockService) Cancel(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockService) Exporting() bool {
	args := m.Called()
	return args.Bool(0)
}

// stubDecoder reports every clip as a 1920x1080 clip of 5 seconds.
type stubDecoder struct{}

func (stubDecoder) Probe(_ context.Context, identifier string) (media.TrackInfo, error) {
	if identifier == "audio.m4a" {
		return media.TrackInfo{VisualTrackPresent: false}, nil
	}
	return media.TrackInfo{
		VisualTrackPresent: true,
		NaturalSize:        media.Size{Width: 1920, Height: 1080},
		Duration:           media.Seconds(5),
	}, nil
}

// doneSession is an encode session that has already completed.
type doneSession struct {
	progress chan float64
	done     chan struct{}
}

func (s *doneSession) Progress() <-chan float64 { return s.progress }
func (s *doneSession) Done() <-chan struct{}    { return s.done }
func (s *doneSession) Status() encode.Status    { return encode.StatusCompleted }
func (s *doneSession) Err() error               { return nil }
func (s *doneSession) Cancel()                  {}

// fileBackend writes the output and completes immediately.
type fileBackend struct{}

func (fileBackend) Start(_ context.Context, req encode.Request) (encode.Session, error) {
	if err := os.WriteFile(req.OutputPath, []byte("collage"), 0o600); err != nil {
		return nil, err
	}
	s := &doneSession{progress: make(chan float64), done: make(chan struct{})}
	close(s.progress)
	close(s.done)
	return s, nil
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(svc ExportService) http.Handler {
	logger := newTestLogger()
	return NewRouter(NewHandlers(svc, logger), logger, DefaultConfig())
}

func newCollageService(t *testing.T) *collage.Service {
	t.Helper()
	root := t.TempDir()
	store, err := storage.NewLocalStorage(filepath.Join(root, "tmp"), filepath.Join(root, "library"))
	require.NoError(t, err)

	svc := collage.NewService(stubDecoder{}, fileBackend{}, store, job.NewMemoryRepository(), newTestLogger(), collage.Options{
		OutputSize: media.Size{Width: 1080, Height: 1920},
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return svc
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestHealth(t *testing.T) {
	svc := new(mockService)
	svc.On("Exporting").Return(true)

	rec := doRequest(t, newTestRouter(svc), http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Exporting)
}

func TestCreateExport_Success(t *testing.T) {
	svc := newCollageService(t)
	router := newTestRouter(svc)

	rec := doRequest(t, router, http.MethodPost, "/exports", CreateExportRequest{
		Clips: []string{"a.mp4", "b.mp4", "c.mp4"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp CreateExportResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotEmpty(t, resp.ID)
	assert.NotEmpty(t, resp.Status)

	require.Eventually(t, func() bool {
		got, err := svc.Get(context.Background(), resp.ID)
		return err == nil && got.Status == job.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	rec = doRequest(t, router, http.MethodGet, "/exports/"+resp.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var details ExportResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&details))
	assert.Equal(t, "COMPLETED", details.Status)
	assert.Equal(t, 1.0, details.Progress)
	assert.Equal(t, 1080, details.OutputWidth)
	assert.Equal(t, 1920, details.OutputHeight)
	require.Len(t, details.Clips, 3)
	assert.Equal(t, 0, details.Clips[0].BandY)
	assert.Equal(t, 640, details.Clips[1].BandY)
	assert.Equal(t, collage.DefaultOutputName, filepath.Base(details.OutputPath))
	assert.NotNil(t, details.CompletedAt)
}

func TestCreateExport_InvalidJSON(t *testing.T) {
	svc := new(mockService)

	rec := doRequest(t, newTestRouter(svc), http.MethodPost, "/exports", "invalid json")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_JSON", decodeError(t, rec).Code)
	svc.AssertNotCalled(t, "PlanAndExport", mock.Anything, mock.Anything)
}

func TestCreateExport_ValidationError(t *testing.T) {
	tests := []struct {
		name string
		body CreateExportRequest
	}{
		{name: "blank clip", body: CreateExportRequest{Clips: []string{"a.mp4", ""}}},
		{name: "output name with directory", body: CreateExportRequest{Clips: []string{"a.mp4"}, OutputName: "../out.mp4"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(mockService)

			rec := doRequest(t, newTestRouter(svc), http.MethodPost, "/exports", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rec).Code)
			svc.AssertNotCalled(t, "PlanAndExport", mock.Anything, mock.Anything)
		})
	}
}

func TestCreateExport_EmptyInput(t *testing.T) {
	rec := doRequest(t, newTestRouter(newCollageService(t)), http.MethodPost, "/exports", CreateExportRequest{})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, string(collage.KindEmptyInput), resp.Code)
	assert.Nil(t, resp.ClipIndex)
}

func TestCreateExport_NoVisualTrackReportsClipIndex(t *testing.T) {
	rec := doRequest(t, newTestRouter(newCollageService(t)), http.MethodPost, "/exports", CreateExportRequest{
		Clips: []string{"a.mp4", "audio.m4a"},
	})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, string(collage.KindInvalidTrack), resp.Code)
	require.NotNil(t, resp.ClipIndex)
	assert.Equal(t, 1, *resp.ClipIndex)
}

func TestCreateExport_FailureStatus(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   collage.Kind
	}{
		{
			name:       "export in progress",
			err:        collage.NewFailure(export.ErrExportInProgress),
			wantStatus: http.StatusConflict,
			wantCode:   collage.KindExportInProgress,
		},
		{
			name:       "session unavailable",
			err:        collage.NewFailure(encode.ErrSessionUnavailable),
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   collage.KindExportSessionUnavailable,
		},
		{
			name:       "invalid track",
			err:        &layout.TrackError{Index: 2, Err: layout.ErrInvalidTrack},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   collage.KindInvalidTrack,
		},
		{
			name:       "destination conflict",
			err:        export.ErrDestinationConflict,
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   collage.KindDestinationConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(mockService)
			svc.On("PlanAndExport", mock.Anything, collage.Request{Clips: []string{"a.mp4"}}).Return(nil, tt.err)

			rec := doRequest(t, newTestRouter(svc), http.MethodPost, "/exports", CreateExportRequest{
				Clips: []string{"a.mp4"},
			})

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, string(tt.wantCode), decodeError(t, rec).Code)
			svc.AssertExpectations(t)
		})
	}
}

func TestCreateExport_SecondExportConflicts(t *testing.T) {
	svc := new(mockService)
	svc.On("PlanAndExport", mock.Anything, mock.Anything).Return(nil, collage.NewFailure(export.ErrExportInProgress))

	rec := doRequest(t, newTestRouter(svc), http.MethodPost, "/exports", CreateExportRequest{
		Clips:         []string{"a.mp4", "b.mp4"},
		OutputName:    "mine.mp4",
		PushToLibrary: true,
	})

	assert.Equal(t, http.StatusConflict, rec.Code)
	svc.AssertCalled(t, "PlanAndExport", mock.Anything, collage.Request{
		Clips:         []string{"a.mp4", "b.mp4"},
		OutputName:    "mine.mp4",
		PushToLibrary: true,
	})
}

func TestListExports(t *testing.T) {
	first := job.NewWithID("export-1")
	second := job.NewWithID("export-2")
	require.NoError(t, second.Fail(string(collage.KindEncodeFailed), "ffmpeg exited"))

	svc := new(mockService)
	svc.On("List", mock.Anything).Return([]*job.Job{first, second}, nil)

	rec := doRequest(t, newTestRouter(svc), http.MethodGet, "/exports", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ListExportsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Exports, 2)
	assert.Equal(t, "export-1", resp.Exports[0].ID)
	assert.Equal(t, "BUILDING", resp.Exports[0].Status)
	assert.Nil(t, resp.Exports[0].CompletedAt)
	assert.Equal(t, "FAILED", resp.Exports[1].Status)
	assert.Equal(t, "EncodeFailed", resp.Exports[1].ErrorKind)
	assert.Equal(t, "ffmpeg exited", resp.Exports[1].Error)
}

func TestListExports_Empty(t *testing.T) {
	svc := new(mockService)
	svc.On("List", mock.Anything).Return([]*job.Job{}, nil)

	rec := doRequest(t, newTestRouter(svc), http.MethodGet, "/exports", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"exports":[]}`, rec.Body.String())
}

func TestListExports_RepositoryError(t *testing.T) {
	svc := new(mockService)
	svc.On("List", mock.Anything).Return(nil, errors.New("database is locked"))

	rec := doRequest(t, newTestRouter(svc), http.MethodGet, "/exports", nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "EXPORT_LIST_FAILED", decodeError(t, rec).Code)
}

func TestGetExport_Success(t *testing.T) {
	rec := job.NewWithID("export-42")
	rec.PushToLibrary = true
	rec.Clips = []job.Clip{{Index: 0, Identifier: "a.mp4", Width: 1920, Height: 1080, Duration: "5/1", BandHeight: 1920}}
	require.NoError(t, rec.StartEncoding())
	rec.UpdateProgress(0.4)

	svc := new(mockService)
	svc.On("Get", mock.Anything, "export-42").Return(rec, nil)

	resp := doRequest(t, newTestRouter(svc), http.MethodGet, "/exports/export-42", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var details ExportResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&details))
	assert.Equal(t, "export-42", details.ID)
	assert.Equal(t, "ENCODING", details.Status)
	assert.InDelta(t, 0.4, details.Progress, 1e-9)
	assert.True(t, details.PushToLibrary)
	require.Len(t, details.Clips, 1)
	assert.Equal(t, "a.mp4", details.Clips[0].Identifier)
	assert.Equal(t, "5/1", details.Clips[0].Duration)
}

func TestGetExport_NotFound(t *testing.T) {
	svc := new(mockService)
	svc.On("Get", mock.Anything, "nonexistent").Return(nil, job.ErrJobNotFound)

	rec := doRequest(t, newTestRouter(svc), http.MethodGet, "/exports/nonexistent", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "EXPORT_NOT_FOUND", decodeError(t, rec).Code)
}

func TestCancelExport(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "running", err: nil, wantStatus: http.StatusNoContent},
		{name: "unknown", err: job.ErrJobNotFound, wantStatus: http.StatusNotFound, wantCode: "EXPORT_NOT_FOUND"},
		{name: "finished", err: collage.ErrAlreadyFinished, wantStatus: http.StatusConflict, wantCode: "EXPORT_FINISHED"},
		{name: "not running", err: collage.ErrNotRunning, wantStatus: http.StatusConflict, wantCode: "EXPORT_NOT_RUNNING"},
		{name: "repository error", err: errors.New("disk I/O error"), wantStatus: http.StatusInternalServerError, wantCode: "EXPORT_CANCEL_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(mockService)
			svc.On("Cancel", mock.Anything, "export-7").Return(tt.err)

			rec := doRequest(t, newTestRouter(svc), http.MethodDelete, "/exports/export-7", nil)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, decodeError(t, rec).Code)
			} else {
				assert.Empty(t, rec.Body.String())
			}
			svc.AssertExpectations(t)
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	rec := doRequest(t, newTestRouter(new(mockService)), http.MethodPut, "/exports/export-1", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRequestIDHeaderIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	svc := new(mockService)
	svc.On("Exporting").Return(false)

	router := NewRouter(NewHandlers(svc, logger), logger, DefaultConfig())
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", "req-123")
	router.ServeHTTP(httptest.NewRecorder(), req)

	assert.Contains(t, buf.String(), `"request_id":"req-123"`)
}

func TestCORSPreflight(t *testing.T) {
	router := newTestRouter(new(mockService))

	req := httptest.NewRequest(http.MethodOptions, "/exports", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := newTestLogger()
	handler := RecoveryMiddleware(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", decodeError(t, rec).Code)
}

func TestRecoveryMiddleware_ReraisesAbortHandler(t *testing.T) {
	handler := RecoveryMiddleware(newTestLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestLoggingMiddleware_RecordsStatusAndBytes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	handler := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short"))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/brew", nil))

	assert.Contains(t, buf.String(), `"status":418`)
	assert.Contains(t, buf.String(), `"bytes":5`)
	assert.Contains(t, buf.String(), `"path":"/brew"`)
}

func TestCORS_UnlistedOrigin(t *testing.T) {
	svc := new(mockService)
	svc.On("Exporting").Return(false)
	logger := newTestLogger()
	router := NewRouter(NewHandlers(svc, logger), logger, Config{AllowedOrigins: []string{"https://studio.example"}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://other.example")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
