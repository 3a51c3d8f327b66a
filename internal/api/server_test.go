package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/amillerrr/gif-pipeline/internal/auth"
	"github.com/amillerrr/gif-pipeline/internal/config"
	"github.com/amillerrr/gif-pipeline/internal/converter"
	"github.com/amillerrr/gif-pipeline/internal/session"
	"github.com/amillerrr/gif-pipeline/internal/solver"
	"github.com/amillerrr/gif-pipeline/pkg/models"
)

var testProps = models.NewVideoProperties(25, 250, 640, 360, 2<<20)

// fakeEngine answers every call from its fields.
type fakeEngine struct {
	loadErr    error
	convertErr error
	result     *converter.Result
	gotReq     converter.Request
	gotHint    string
	gotFit     models.SizeConstraint
}

func (f *fakeEngine) Load(_ context.Context, sess *session.Session, path string) (models.VideoProperties, error) {
	if f.loadErr != nil {
		return models.VideoProperties{}, f.loadErr
	}
	sess.SetVideo(path, testProps)
	return testProps, nil
}

func (f *fakeEngine) Estimate(_ context.Context, sess *session.Session, params *models.ConversionParams, c models.SizeConstraint) (solver.Outcome, error) {
	if _, _, err := sess.Video(); err != nil {
		return solver.Outcome{}, err
	}
	return solver.Outcome{State: solver.StateSatisfied, Params: models.DefaultParams(testProps), Constraint: c}, nil
}

func (f *fakeEngine) Suggest(_ context.Context, sess *session.Session, hint string) ([]models.Suggestion, error) {
	f.gotHint = hint
	if _, _, err := sess.Video(); err != nil {
		return nil, err
	}
	return []models.Suggestion{{Name: "Balanced", Source: models.SourceFallback}}, nil
}

func (f *fakeEngine) Convert(_ context.Context, _ *session.Session, req converter.Request) (*converter.Result, error) {
	f.gotReq = req
	if f.convertErr != nil {
		return nil, f.convertErr
	}
	return f.result, nil
}

func (f *fakeEngine) OptimizeGIF(_ context.Context, data []byte, c models.SizeConstraint) (*solver.FitResult, error) {
	f.gotFit = c
	return &solver.FitResult{Data: data[:len(data)/2], Passes: 2, Satisfied: true}, nil
}

type fakeObjects struct {
	sizes map[string]int64
}

func (f *fakeObjects) PresignUpload(_ context.Context, bucket, key, _ string, _ time.Duration) (string, error) {
	return "https://" + bucket + ".s3/" + key + "?put", nil
}

func (f *fakeObjects) PresignDownload(_ context.Context, bucket, key string, _ time.Duration) (string, error) {
	return "https://" + bucket + ".s3/" + key + "?get", nil
}

func (f *fakeObjects) ObjectSize(_ context.Context, _, key string) (int64, error) {
	size, ok := f.sizes[key]
	if !ok {
		return 0, errors.New("NotFound")
	}
	return size, nil
}

type fakeJobs struct {
	mu      sync.Mutex
	records map[string]*models.JobRecord
}

func (f *fakeJobs) CreateJob(_ context.Context, job models.ConversionJob, size int64) (*models.JobRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := &models.JobRecord{JobID: job.JobID, Status: models.StatusPending, S3SourceKey: job.S3Key, SourceSizeBytes: size}
	f.records[job.JobID] = rec
	return rec, nil
}

func (f *fakeJobs) GetJob(_ context.Context, id string) (*models.JobRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return nil, models.ErrJobNotFound
	}
	return rec, nil
}

func (f *fakeJobs) ListJobs(_ context.Context, _ int32, _ map[string]types.AttributeValue) ([]models.JobRecord, map[string]types.AttributeValue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.JobRecord
	for _, rec := range f.records {
		out = append(out, *rec)
	}
	return out, nil, nil
}

type fakeQueue struct {
	bodies []string
}

func (f *fakeQueue) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.bodies = append(f.bodies, aws.ToString(in.MessageBody))
	return &sqs.SendMessageOutput{}, nil
}

type testServer struct {
	handler  http.Handler
	engine   *fakeEngine
	sessions *session.Store
	objects  *fakeObjects
	jobs     *fakeJobs
	queue    *fakeQueue
}

func newTestServer(t *testing.T, withJobs bool) *testServer {
	t.Helper()

	cfg := &config.Config{
		API: config.APIConfig{Username: "admin", Password: "pw", MaxUploadBytes: 1 << 20},
		AWS: config.AWSConfig{SourceBucket: "src", GIFBucket: "gifs", SQSQueueURL: "https://sqs.local/q"},
	}
	jwtSvc, err := auth.NewJWTService([]byte("test-secret-that-is-long-enough-for-testing"))
	if err != nil {
		t.Fatalf("NewJWTService() error = %v", err)
	}
	sessions := session.NewStore(session.StoreConfig{Root: t.TempDir(), TTL: time.Hour, CleanupInterval: time.Hour})
	t.Cleanup(sessions.Stop)

	ts := &testServer{
		engine: &fakeEngine{result: &converter.Result{
			Data:               []byte("GIF89a-data"),
			SizeBytes:          11,
			Params:             models.ConversionParams{FPS: 10, Quality: 85, Width: 320, Height: 180},
			ReportedConstraint: models.SizeConstraint{Operator: models.OpLess, Value: 2, Unit: "MB", Enabled: true},
			BestEffort:         true,
			Warnings:           []string{"constraint relaxed"},
		}},
		sessions: sessions,
	}

	sc := &ServerConfig{
		Config:     cfg,
		Engine:     ts.engine,
		Sessions:   sessions,
		JWTService: jwtSvc,
	}
	if withJobs {
		ts.objects = &fakeObjects{sizes: map[string]int64{}}
		ts.jobs = &fakeJobs{records: map[string]*models.JobRecord{}}
		ts.queue = &fakeQueue{}
		sc.Objects, sc.Jobs, sc.Queue = ts.objects, ts.jobs, ts.queue
	}

	h := NewHandlers(&HandlersConfig{
		Config:     cfg,
		Engine:     sc.Engine,
		Sessions:   sessions,
		JWTService: jwtSvc,
		Objects:    sc.Objects,
		Jobs:       sc.Jobs,
		Queue:      sc.Queue,
	})
	ts.handler = NewRouter(sc, h)
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func (ts *testServer) login(t *testing.T) LoginResponse {
	t.Helper()
	req := httptest.NewRequest("POST", "/login", nil)
	req.SetBasicAuth("admin", "pw")
	rr := ts.do(req)
	if rr.Code != http.StatusOK {
		t.Fatalf("login returned %d: %s", rr.Code, rr.Body.String())
	}
	var resp LoginResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return resp
}

func authed(method, path, token string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return bytes.NewReader(b)
}

func multipartBody(t *testing.T, field, filename string, data []byte, fields map[string]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(data)
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func (ts *testServer) uploadVideo(t *testing.T, token string) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, "video", "clip.mp4", []byte("fake video"), nil)
	req := authed("POST", "/v1/videos", token, body)
	req.Header.Set("Content-Type", ct)
	return ts.do(req)
}

func TestLogin(t *testing.T) {
	ts := newTestServer(t, false)

	t.Run("bad credentials", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/login", nil)
		req.SetBasicAuth("admin", "wrong")
		if rr := ts.do(req); rr.Code != http.StatusUnauthorized {
			t.Errorf("Status = %d, want %d", rr.Code, http.StatusUnauthorized)
		}
	})

	t.Run("wrong method", func(t *testing.T) {
		if rr := ts.do(httptest.NewRequest("GET", "/login", nil)); rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("Status = %d, want %d", rr.Code, http.StatusMethodNotAllowed)
		}
	})

	t.Run("opens a session", func(t *testing.T) {
		resp := ts.login(t)
		if resp.Token == "" || resp.SessionID == "" {
			t.Fatalf("login = %+v", resp)
		}
		if _, ok := ts.sessions.Get(resp.SessionID); !ok {
			t.Error("session not registered")
		}
	})
}

func TestProtectedRoutes_RequireToken(t *testing.T) {
	ts := newTestServer(t, false)

	for _, path := range []string{"/v1/session", "/v1/videos", "/v1/estimate", "/v1/suggestions", "/v1/convert", "/v1/session/reset"} {
		t.Run(path, func(t *testing.T) {
			if rr := ts.do(httptest.NewRequest("POST", path, nil)); rr.Code != http.StatusUnauthorized {
				t.Errorf("Status = %d, want %d", rr.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestExpiredSession(t *testing.T) {
	ts := newTestServer(t, false)
	login := ts.login(t)
	ts.sessions.Delete(login.SessionID)

	rr := ts.do(authed("GET", "/v1/session", login.Token, nil))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestUploadVideo(t *testing.T) {
	ts := newTestServer(t, false)
	login := ts.login(t)

	rr := ts.uploadVideo(t, login.Token)
	if rr.Code != http.StatusOK {
		t.Fatalf("Status = %d: %s", rr.Code, rr.Body.String())
	}

	var resp UploadVideoResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Properties.Width != 640 || resp.DefaultParams != models.DefaultParams(testProps) {
		t.Errorf("response = %+v", resp)
	}

	sess, _ := ts.sessions.Get(login.SessionID)
	path, _, err := sess.Video()
	if err != nil {
		t.Fatalf("Video() error = %v", err)
	}
	if data, _ := os.ReadFile(path); string(data) != "fake video" {
		t.Errorf("stored upload = %q", data)
	}
}

func TestUploadVideo_Rejected(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		loadErr  error
		want     int
	}{
		{"bad extension", "notes.txt", nil, http.StatusBadRequest},
		{"probe failure", "clip.mp4", models.NewStageError(models.StageProbe, models.ErrProbeFailed, "no video stream"), http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, false)
			ts.engine.loadErr = tt.loadErr
			login := ts.login(t)

			body, ct := multipartBody(t, "video", tt.filename, []byte("x"), nil)
			req := authed("POST", "/v1/videos", login.Token, body)
			req.Header.Set("Content-Type", ct)
			if rr := ts.do(req); rr.Code != tt.want {
				t.Errorf("Status = %d, want %d", rr.Code, tt.want)
			}

			sess, _ := ts.sessions.Get(login.SessionID)
			if _, _, err := sess.Video(); !errors.Is(err, models.ErrNoVideo) {
				t.Errorf("rejected upload left a video loaded: %v", err)
			}
		})
	}
}

func TestEstimate(t *testing.T) {
	ts := newTestServer(t, false)
	login := ts.login(t)

	t.Run("no video", func(t *testing.T) {
		rr := ts.do(authed("POST", "/v1/estimate", login.Token, strings.NewReader(`{}`)))
		if rr.Code != http.StatusNotFound {
			t.Errorf("Status = %d, want %d", rr.Code, http.StatusNotFound)
		}
	})

	ts.uploadVideo(t, login.Token)

	t.Run("invalid constraint", func(t *testing.T) {
		body := `{"constraint":{"operator":"~","value":1,"unit":"MB","enabled":true}}`
		rr := ts.do(authed("POST", "/v1/estimate", login.Token, strings.NewReader(body)))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("Status = %d, want %d", rr.Code, http.StatusBadRequest)
		}
	})

	t.Run("lower case unit", func(t *testing.T) {
		body := `{"constraint":{"operator":" <= ","value":2,"unit":"mb","enabled":true}}`
		rr := ts.do(authed("POST", "/v1/estimate", login.Token, strings.NewReader(body)))
		if rr.Code != http.StatusOK {
			t.Fatalf("Status = %d: %s", rr.Code, rr.Body.String())
		}
		var out solver.Outcome
		if err := json.NewDecoder(rr.Body).Decode(&out); err != nil {
			t.Fatal(err)
		}
		want := models.SizeConstraint{Operator: models.OpLessEqual, Value: 2, Unit: "MB", Enabled: true}
		if out.Constraint != want {
			t.Errorf("engine constraint = %+v, want %+v", out.Constraint, want)
		}
	})

	t.Run("solves", func(t *testing.T) {
		body := `{"constraint":{"operator":"<","value":2,"unit":"MB","enabled":true}}`
		rr := ts.do(authed("POST", "/v1/estimate", login.Token, strings.NewReader(body)))
		if rr.Code != http.StatusOK {
			t.Fatalf("Status = %d: %s", rr.Code, rr.Body.String())
		}
		var out solver.Outcome
		if err := json.NewDecoder(rr.Body).Decode(&out); err != nil {
			t.Fatal(err)
		}
		if out.State != solver.StateSatisfied {
			t.Errorf("State = %s, want satisfied", out.State)
		}
	})
}

func TestSuggestions(t *testing.T) {
	ts := newTestServer(t, false)
	login := ts.login(t)
	ts.uploadVideo(t, login.Token)

	rr := ts.do(authed("POST", "/v1/suggestions", login.Token, jsonBody(t, SuggestionsRequest{Hint: "for slack"})))
	if rr.Code != http.StatusOK {
		t.Fatalf("Status = %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Suggestions []models.Suggestion `json:"suggestions"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Suggestions) != 1 || ts.engine.gotHint != "for slack" {
		t.Errorf("suggestions = %+v, hint = %q", resp.Suggestions, ts.engine.gotHint)
	}
}

func TestConvert(t *testing.T) {
	ts := newTestServer(t, false)
	login := ts.login(t)
	ts.uploadVideo(t, login.Token)

	body := `{"params":{"fps":10,"quality":85,"width":320,"height":180},"constraint":{"operator":"<","value":1,"unit":"KB","enabled":true}}`

	t.Run("gif body", func(t *testing.T) {
		rr := ts.do(authed("POST", "/v1/convert", login.Token, strings.NewReader(body)))
		if rr.Code != http.StatusOK {
			t.Fatalf("Status = %d: %s", rr.Code, rr.Body.String())
		}
		if rr.Body.String() != "GIF89a-data" {
			t.Errorf("body = %q", rr.Body.String())
		}
		want := map[string]string{
			"Content-Type":      "image/gif",
			HeaderGIFSize:       "11",
			HeaderGIFBestEffort: "true",
			HeaderGIFParams:     "320x180@10fps q85 optimize=false",
			HeaderGIFConstraint: "< 2 MB",
			HeaderGIFWarnings:   "1",
		}
		for k, v := range want {
			if got := rr.Header().Get(k); got != v {
				t.Errorf("%s = %q, want %q", k, got, v)
			}
		}
		if p := ts.engine.gotReq.Params; p == nil || p.FPS != 10 {
			t.Errorf("engine params = %+v", p)
		}
	})

	t.Run("normalizes unit", func(t *testing.T) {
		body := `{"params":{"fps":10,"quality":85,"width":320,"height":180},"constraint":{"operator":"<","value":500,"unit":"kb","enabled":true}}`
		rr := ts.do(authed("POST", "/v1/convert", login.Token, strings.NewReader(body)))
		if rr.Code != http.StatusOK {
			t.Fatalf("Status = %d: %s", rr.Code, rr.Body.String())
		}
		if got := ts.engine.gotReq.Constraint.Unit; got != "KB" {
			t.Errorf("engine unit = %q, want KB", got)
		}
	})

	t.Run("json body", func(t *testing.T) {
		req := authed("POST", "/v1/convert", login.Token, strings.NewReader(body))
		req.Header.Set("Accept", "application/json")
		rr := ts.do(req)
		var resp struct {
			GIF        []byte `json:"gif"`
			BestEffort bool   `json:"bestEffort"`
		}
		if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
			t.Fatal(err)
		}
		if string(resp.GIF) != "GIF89a-data" || !resp.BestEffort {
			t.Errorf("response = %+v", resp)
		}
	})

	t.Run("reset while converting", func(t *testing.T) {
		ts.engine.convertErr = models.ErrSessionReset
		defer func() { ts.engine.convertErr = nil }()
		rr := ts.do(authed("POST", "/v1/convert", login.Token, strings.NewReader(body)))
		if rr.Code != http.StatusConflict {
			t.Errorf("Status = %d, want %d", rr.Code, http.StatusConflict)
		}
	})

	t.Run("encode failure hides detail", func(t *testing.T) {
		ts.engine.convertErr = models.NewStageError(models.StageEncode, models.ErrEncodeFailed, "palette")
		defer func() { ts.engine.convertErr = nil }()
		rr := ts.do(authed("POST", "/v1/convert", login.Token, strings.NewReader(body)))
		if rr.Code != http.StatusInternalServerError || strings.Contains(rr.Body.String(), "palette") {
			t.Errorf("Status = %d, body = %s", rr.Code, rr.Body.String())
		}
	})
}

func TestOptimizeGIF(t *testing.T) {
	ts := newTestServer(t, false)

	t.Run("shrinks", func(t *testing.T) {
		body, ct := multipartBody(t, "gif", "in.gif", []byte("12345678"), map[string]string{
			"operator": "<=", "value": "500", "unit": "kb",
		})
		req := httptest.NewRequest("POST", "/v1/gif/optimize", body)
		req.Header.Set("Content-Type", ct)
		rr := ts.do(req)
		if rr.Code != http.StatusOK {
			t.Fatalf("Status = %d: %s", rr.Code, rr.Body.String())
		}
		if rr.Body.String() != "1234" || rr.Header().Get(HeaderGIFBestEffort) != "false" {
			t.Errorf("body = %q, best effort = %q", rr.Body.String(), rr.Header().Get(HeaderGIFBestEffort))
		}
		if ts.engine.gotFit.Unit != "KB" || !ts.engine.gotFit.Enabled {
			t.Errorf("constraint = %+v", ts.engine.gotFit)
		}
	})

	t.Run("bad value", func(t *testing.T) {
		body, ct := multipartBody(t, "gif", "in.gif", []byte("x"), map[string]string{
			"operator": "<", "value": "lots", "unit": "MB",
		})
		req := httptest.NewRequest("POST", "/v1/gif/optimize", body)
		req.Header.Set("Content-Type", ct)
		if rr := ts.do(req); rr.Code != http.StatusBadRequest {
			t.Errorf("Status = %d, want %d", rr.Code, http.StatusBadRequest)
		}
	})
}

func TestResetSession(t *testing.T) {
	ts := newTestServer(t, false)
	login := ts.login(t)
	ts.uploadVideo(t, login.Token)

	rr := ts.do(authed("POST", "/v1/session/reset", login.Token, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("Status = %d", rr.Code)
	}

	rr = ts.do(authed("GET", "/v1/session", login.Token, nil))
	var resp SessionResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Video != nil {
		t.Errorf("video still loaded after reset: %+v", resp.Video)
	}
	if resp.Generation < 2 {
		t.Errorf("Generation = %d, want at least 2", resp.Generation)
	}
}

func TestJobs_Disabled(t *testing.T) {
	ts := newTestServer(t, false)
	login := ts.login(t)

	rr := ts.do(authed("POST", "/v1/jobs/init", login.Token, strings.NewReader(`{}`)))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("Status = %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}
}

func TestJobs_Lifecycle(t *testing.T) {
	ts := newTestServer(t, true)
	login := ts.login(t)

	rr := ts.do(authed("POST", "/v1/jobs/init", login.Token, jsonBody(t, InitJobRequest{Filename: "clip.MOV", ContentType: "video/quicktime"})))
	if rr.Code != http.StatusOK {
		t.Fatalf("init Status = %d: %s", rr.Code, rr.Body.String())
	}
	var initResp InitJobResponse
	if err := json.NewDecoder(rr.Body).Decode(&initResp); err != nil {
		t.Fatal(err)
	}
	if initResp.Key != "uploads/"+initResp.JobID+".mov" || !strings.HasPrefix(initResp.UploadURL, "https://src.s3/") {
		t.Errorf("init = %+v", initResp)
	}

	create := CreateJobRequest{
		JobID:      initResp.JobID,
		Key:        initResp.Key,
		Filename:   "clip.MOV",
		Constraint: models.SizeConstraint{Operator: models.OpLess, Value: 3, Unit: "MB", Enabled: true},
	}

	rr = ts.do(authed("POST", "/v1/jobs", login.Token, jsonBody(t, create)))
	if rr.Code != http.StatusNotFound {
		t.Errorf("create before upload Status = %d, want %d", rr.Code, http.StatusNotFound)
	}

	ts.objects.sizes[initResp.Key] = 4096
	rr = ts.do(authed("POST", "/v1/jobs", login.Token, jsonBody(t, create)))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("create Status = %d: %s", rr.Code, rr.Body.String())
	}
	if len(ts.queue.bodies) != 1 {
		t.Fatalf("queued %d messages, want 1", len(ts.queue.bodies))
	}
	var job models.ConversionJob
	if err := json.Unmarshal([]byte(ts.queue.bodies[0]), &job); err != nil {
		t.Fatal(err)
	}
	if job.Bucket != "src" || job.S3Key != initResp.Key || job.Constraint != create.Constraint {
		t.Errorf("queued job = %+v", job)
	}

	rec := ts.jobs.records[initResp.JobID]
	rec.Status = models.StatusCompleted
	rec.S3GIFKey = "gifs/" + initResp.JobID + ".gif"

	rr = ts.do(authed("GET", "/v1/jobs/"+initResp.JobID, login.Token, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("get Status = %d: %s", rr.Code, rr.Body.String())
	}
	var got struct {
		Status      models.JobStatus `json:"status"`
		DownloadURL string           `json:"downloadUrl"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusCompleted || got.DownloadURL != "https://gifs.s3/"+rec.S3GIFKey+"?get" {
		t.Errorf("job = %+v", got)
	}

	rr = ts.do(authed("GET", "/v1/jobs/missing", login.Token, nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing job Status = %d, want %d", rr.Code, http.StatusNotFound)
	}

	rr = ts.do(authed("GET", "/v1/jobs?limit=5", login.Token, nil))
	var list JobListResponse
	if err := json.NewDecoder(rr.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list.Jobs) != 1 {
		t.Errorf("listed %d jobs, want 1", len(list.Jobs))
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{models.ErrInvalidParams, http.StatusBadRequest},
		{models.ErrNoVideo, http.StatusNotFound},
		{models.ErrSessionReset, http.StatusConflict},
		{models.NewStageError(models.StageSample, models.ErrInsufficientFrames, "1 usable"), http.StatusUnprocessableEntity},
		{models.ErrEncodeFailed, http.StatusInternalServerError},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := &Handlers{}
	handlers := map[string]http.HandlerFunc{
		"videos":   h.UploadVideoHandler,
		"estimate": h.EstimateHandler,
		"convert":  h.ConvertHandler,
		"optimize": h.OptimizeGIFHandler,
		"reset":    h.ResetSessionHandler,
		"job":      h.GetJobHandler,
		"jobs":     h.JobsHandler,
	}
	for name, handler := range handlers {
		t.Run(name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			handler(rr, httptest.NewRequest("DELETE", "/", nil))
			if rr.Code != http.StatusMethodNotAllowed {
				t.Errorf("Status = %d, want %d", rr.Code, http.StatusMethodNotAllowed)
			}
		})
	}
}
