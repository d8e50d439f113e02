package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ytget/fetchd/internal/engine"
	"github.com/ytget/fetchd/internal/model"
)

// stubJobs is a scripted JobService
type stubJobs struct {
	jobs      map[string]model.Job
	events    map[string][]model.LogEvent
	created   []engine.CreateRequest
	createErr error
}

func newStubJobs() *stubJobs {
	return &stubJobs{
		jobs:   make(map[string]model.Job),
		events: make(map[string][]model.LogEvent),
	}
}

func (s *stubJobs) CreateJob(ctx context.Context, req engine.CreateRequest) (model.Job, error) {
	if s.createErr != nil {
		return model.Job{}, s.createErr
	}
	s.created = append(s.created, req)
	job := model.Job{
		ID:        "job-1",
		TargetID:  req.Target,
		OwnerKey:  req.OwnerKey,
		Status:    model.JobStatusQueued,
		CreatedAt: time.Now().UTC(),
	}
	s.jobs[job.ID] = job
	return job, nil
}

func (s *stubJobs) GetJob(id string) (model.Job, error) {
	job, ok := s.jobs[id]
	if !ok {
		return model.Job{}, model.ErrNotFound
	}
	return job, nil
}

func (s *stubJobs) ListJobs() []model.Job {
	out := make([]model.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	return out
}

func (s *stubJobs) CancelJob(id string) (model.Job, error) {
	job, ok := s.jobs[id]
	if !ok {
		return model.Job{}, model.ErrNotFound
	}
	job.Status = model.JobStatusCanceled
	s.jobs[id] = job
	return job, nil
}

func (s *stubJobs) SubscribeLogs(id string) (<-chan model.LogEvent, func(), error) {
	events, ok := s.events[id]
	if !ok {
		return nil, nil, model.ErrNotFound
	}
	ch := make(chan model.LogEvent, len(events))
	for _, event := range events {
		ch <- event
	}
	close(ch)
	return ch, func() {}, nil
}

func newTestServer(t *testing.T, jobs *stubJobs) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer((&Server{Jobs: jobs}).Router())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, apiKey, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, newStubJobs())

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateJob(t *testing.T) {
	jobs := newStubJobs()
	srv := newTestServer(t, jobs)

	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/jobs", "owner-a",
		`{"target":"https://example.com/watch?v=dQw4w9WgXcQ","archive":true}`)
	defer resp.Body.Close()

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var job model.Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&job))
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, model.JobStatusQueued, job.Status)

	require.Len(t, jobs.created, 1)
	assert.Equal(t, "owner-a", jobs.created[0].OwnerKey)
	assert.True(t, jobs.created[0].Archive)
}

func TestCreateJobRequiresAPIKey(t *testing.T) {
	srv := newTestServer(t, newStubJobs())

	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/jobs", "", `{"target":"abc123"}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateJobRejectsBadJSON(t *testing.T) {
	srv := newTestServer(t, newStubJobs())

	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/jobs", "owner-a", `{not json`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateJobMapsInvalidInput(t *testing.T) {
	jobs := newStubJobs()
	jobs.createErr = model.ErrInvalidInput
	srv := newTestServer(t, jobs)

	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/jobs", "owner-a", `{"target":""}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetJob(t *testing.T) {
	jobs := newStubJobs()
	jobs.jobs["job-1"] = model.Job{ID: "job-1", Status: model.JobStatusRunning, Progress: 42.5}
	srv := newTestServer(t, jobs)

	resp, err := http.Get(srv.URL + "/v1/jobs/job-1")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var job model.Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&job))
	assert.Equal(t, model.JobStatusRunning, job.Status)
	assert.Equal(t, 42.5, job.Progress)
}

func TestGetJobNotFound(t *testing.T) {
	srv := newTestServer(t, newStubJobs())

	resp, err := http.Get(srv.URL + "/v1/jobs/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListJobsFiltersByStatus(t *testing.T) {
	jobs := newStubJobs()
	jobs.jobs["job-1"] = model.Job{ID: "job-1", Status: model.JobStatusRunning}
	jobs.jobs["job-2"] = model.Job{ID: "job-2", Status: model.JobStatusSuccess}
	srv := newTestServer(t, jobs)

	resp, err := http.Get(srv.URL + "/v1/jobs?status=success")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed []model.Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "job-2", listed[0].ID)
}

func TestListJobsRejectsUnknownStatus(t *testing.T) {
	srv := newTestServer(t, newStubJobs())

	resp, err := http.Get(srv.URL + "/v1/jobs?status=exploded")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCancelJob(t *testing.T) {
	jobs := newStubJobs()
	jobs.jobs["job-1"] = model.Job{ID: "job-1", Status: model.JobStatusRunning}
	srv := newTestServer(t, jobs)

	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/jobs/job-1/cancel", "owner-a", "")
	defer resp.Body.Close()

	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var job model.Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&job))
	assert.Equal(t, model.JobStatusCanceled, job.Status)
}

func TestStreamLogsSSE(t *testing.T) {
	jobs := newStubJobs()
	endPayload, _ := json.Marshal(model.EndPayload{Status: model.JobStatusSuccess})
	jobs.events["job-1"] = []model.LogEvent{
		{Seq: 1, Kind: model.EventMilestone, Message: "Job started"},
		{Seq: 2, Kind: model.EventProgress, Message: "[download]  45.5%", Progress: 45.5},
		{Seq: 3, Kind: model.EventEnd, Message: string(endPayload)},
	}
	jobs.jobs["job-1"] = model.Job{ID: "job-1", Status: model.JobStatusSuccess}
	srv := newTestServer(t, jobs)

	resp, err := http.Get(srv.URL + "/v1/jobs/job-1/logs")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var dataLines []string
	sawEndEvent := false
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "event: end" {
			sawEndEvent = true
		}
		if strings.HasPrefix(line, "data: ") {
			dataLines = append(dataLines, strings.TrimPrefix(line, "data: "))
		}
	}

	require.True(t, sawEndEvent, "stream must carry a named end event")
	require.Len(t, dataLines, 3)

	var first model.LogEvent
	require.NoError(t, json.Unmarshal([]byte(dataLines[0]), &first))
	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, model.EventMilestone, first.Kind)

	var end model.EndPayload
	require.NoError(t, json.Unmarshal([]byte(dataLines[2]), &end))
	assert.Equal(t, model.JobStatusSuccess, end.Status)
}

func TestStreamLogsUnknownJob(t *testing.T) {
	srv := newTestServer(t, newStubJobs())

	resp, err := http.Get(srv.URL + "/v1/jobs/missing/logs")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStreamLogsWebSocket(t *testing.T) {
	jobs := newStubJobs()
	endPayload, _ := json.Marshal(model.EndPayload{Status: model.JobStatusFailed, ErrorMessage: "boom"})
	jobs.events["job-1"] = []model.LogEvent{
		{Seq: 1, Kind: model.EventError, Message: "ERROR: boom"},
		{Seq: 2, Kind: model.EventEnd, Message: string(endPayload)},
	}
	srv := newTestServer(t, jobs)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/jobs/job-1/logs/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	var got []model.LogEvent
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure),
				"expected normal closure, got %v", err)
			break
		}
		var event model.LogEvent
		require.NoError(t, json.Unmarshal(message, &event))
		got = append(got, event)
	}

	require.Len(t, got, 2)
	assert.Equal(t, model.EventError, got[0].Kind)
	assert.Equal(t, model.EventEnd, got[1].Kind)
}

func TestDownloadArchive(t *testing.T) {
	archivePath := filepath.Join(t.TempDir(), "content.tar.gz")
	require.NoError(t, os.WriteFile(archivePath, []byte("gzip bytes"), 0o644))

	jobs := newStubJobs()
	jobs.jobs["job-1"] = model.Job{
		ID: "job-1", OwnerKey: "owner-a",
		Status: model.JobStatusSuccess, ArchivePath: archivePath,
	}
	srv := newTestServer(t, jobs)

	resp := doJSON(t, http.MethodGet, srv.URL+"/v1/jobs/job-1/archive", "owner-a", "")
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/gzip", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "content.tar.gz")
}

func TestDownloadArchiveDeniesOtherOwner(t *testing.T) {
	jobs := newStubJobs()
	jobs.jobs["job-1"] = model.Job{
		ID: "job-1", OwnerKey: "owner-a",
		Status: model.JobStatusSuccess, ArchivePath: "/tmp/whatever.tar.gz",
	}
	srv := newTestServer(t, jobs)

	resp := doJSON(t, http.MethodGet, srv.URL+"/v1/jobs/job-1/archive", "owner-b", "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestDownloadArchiveNotReady(t *testing.T) {
	jobs := newStubJobs()
	jobs.jobs["job-1"] = model.Job{ID: "job-1", OwnerKey: "owner-a", Status: model.JobStatusRunning}
	srv := newTestServer(t, jobs)

	resp := doJSON(t, http.MethodGet, srv.URL+"/v1/jobs/job-1/archive", "owner-a", "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
