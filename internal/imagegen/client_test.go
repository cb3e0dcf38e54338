package imagegen

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	apperrors "github.com/Meow711/story-generator-ui/internal/errors"
	"github.com/Meow711/story-generator-ui/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeService 按脚本依次返回任务状态的远端服务
type fakeService struct {
	mu         sync.Mutex
	submitCode int
	statuses   []statusData
	polls      int
	submitted  JobRequest
	apiKey     string
}

func (f *fakeService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/job", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.apiKey = r.Header.Get("x-api-key")
		_ = json.NewDecoder(r.Body).Decode(&f.submitted)

		if f.submitCode != 0 {
			writeJSON(w, map[string]interface{}{"code": f.submitCode, "msg": "quota exceeded"})
			return
		}
		writeJSON(w, map[string]interface{}{"code": 0, "msg": "ok", "data": map[string]string{"job_id": "job-1"}})
	})
	mux.HandleFunc("/job/status", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if r.URL.Query().Get("job_id") != "job-1" {
			http.Error(w, "unknown job", http.StatusNotFound)
			return
		}
		idx := f.polls
		if idx >= len(f.statuses) {
			idx = len(f.statuses) - 1
		}
		f.polls++
		writeJSON(w, map[string]interface{}{"code": 0, "msg": "ok", "data": f.statuses[idx]})
	})
	return mux
}

func (f *fakeService) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, svc *fakeService, maxAttempts int) (*Client, *int) {
	t.Helper()
	server := httptest.NewServer(svc.handler())
	t.Cleanup(server.Close)

	client := NewClient(Config{
		BaseURL:     server.URL,
		APIKey:      "test-key",
		MaxAttempts: maxAttempts,
	})
	t.Cleanup(func() { _ = client.Close() })

	sleeps := 0
	client.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps++
		if d != DefaultPollInterval {
			t.Errorf("轮询间隔应为 %v，实际为 %v", DefaultPollInterval, d)
		}
		return ctx.Err()
	}
	return client, &sleeps
}

func TestRunResolvesAfterProcessing(t *testing.T) {
	svc := &fakeService{statuses: []statusData{
		{JobStatus: StatusProcessing},
		{JobStatus: StatusProcessing},
		{JobStatus: StatusSuccess, Results: []string{"https://img/1.png", "https://img/2.png"}},
	}}
	client, sleeps := newTestClient(t, svc, 0)

	result, err := client.Generate(context.Background(), "a castle")
	require.NoError(t, err)
	assert.Equal(t, "https://img/1.png", result)
	assert.Equal(t, 3, svc.pollCount())
	assert.Equal(t, 2, *sleeps)

	assert.Equal(t, "test-key", svc.apiKey)
	assert.Equal(t, JobRequest{
		Prompt:   "a castle",
		JobType:  "text2img",
		Priority: 1,
		JobStyle: "normal",
		Model:    "FLUX",
	}, svc.submitted)
}

func TestRunFailsWithRemoteReason(t *testing.T) {
	svc := &fakeService{statuses: []statusData{
		{JobStatus: StatusProcessing},
		{JobStatus: "failure", Reason: "X"},
	}}
	client, _ := newTestClient(t, svc, 0)

	_, err := client.Generate(context.Background(), "a castle")
	require.Error(t, err)
	assert.True(t, apperrors.IsJobFailedError(err))
	assert.Equal(t, "X", apperrors.JobFailureReason(err))
	assert.Equal(t, 2, svc.pollCount())
}

func TestRunFailureWithoutReasonUsesGenericMessage(t *testing.T) {
	svc := &fakeService{statuses: []statusData{{JobStatus: "failed"}}}
	client, _ := newTestClient(t, svc, 0)

	_, err := client.Generate(context.Background(), "p")
	require.Error(t, err)
	assert.Equal(t, apperrors.DefaultJobFailureReason, apperrors.JobFailureReason(err))
}

func TestSubmitErrorShortCircuits(t *testing.T) {
	svc := &fakeService{submitCode: 1001, statuses: []statusData{{JobStatus: StatusSuccess, Results: []string{"x"}}}}
	client, _ := newTestClient(t, svc, 0)

	_, err := client.Generate(context.Background(), "p")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeRemoteApplication, apperrors.TypeOf(err))
	assert.Equal(t, 0, svc.pollCount())
}

func TestSubmitTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL})
	defer client.Close()

	_, err := client.Submit(context.Background(), client.NewJobRequest("p"))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeTransport, apperrors.TypeOf(err))
}

func TestRunStopsAtMaxAttempts(t *testing.T) {
	svc := &fakeService{statuses: []statusData{{JobStatus: StatusProcessing}}}
	client, _ := newTestClient(t, svc, 4)

	_, err := client.Generate(context.Background(), "p")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeTimeout, apperrors.TypeOf(err))
	assert.Equal(t, 4, svc.pollCount())
}

func TestRunStopsOnCancel(t *testing.T) {
	svc := &fakeService{statuses: []statusData{{JobStatus: StatusProcessing}}}
	client, _ := newTestClient(t, svc, 0)

	ctx, cancel := context.WithCancel(context.Background())
	client.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := client.Generate(ctx, "p")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeTimeout, apperrors.TypeOf(err))
	assert.Equal(t, 1, svc.pollCount())
}

func TestRunRecordsMetrics(t *testing.T) {
	svc := &fakeService{statuses: []statusData{
		{JobStatus: StatusProcessing},
		{JobStatus: StatusSuccess, Results: []string{"u"}},
	}}
	client, _ := newTestClient(t, svc, 0)
	metrics := utils.NewAppMetricsWith(utils.NewMetricsCollector())
	client.WithMetrics(metrics)

	_, err := client.Generate(context.Background(), "p")
	require.NoError(t, err)

	collector := metrics.Collector()
	assert.Equal(t, int64(1), collector.GetCounterValue("imagegen_jobs_total"))
	assert.Equal(t, int64(2), collector.GetCounterValue("imagegen_polls_total"))
	assert.Equal(t, int64(0), collector.GetCounterValue("imagegen_jobs_failed"))
}

func TestSleepContextHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepContext(ctx, time.Hour); err == nil {
		t.Fatal("已取消的上下文应立即返回错误")
	}
	if err := sleepContext(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("正常等待不应返回错误: %v", err)
	}
}

func TestUpdateStyle(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://unused"})
	defer client.Close()

	req := client.NewJobRequest("a cat")
	assert.Equal(t, "FLUX", req.Model)
	assert.Equal(t, "normal", req.JobStyle)

	client.UpdateStyle("SDXL", "")
	req = client.NewJobRequest("a cat")
	assert.Equal(t, "SDXL", req.Model)
	assert.Equal(t, "normal", req.JobStyle, "空值不覆盖原有风格")
}
