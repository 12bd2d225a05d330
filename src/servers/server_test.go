package servers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/camvigil/camvigil/src/configs"
	"github.com/camvigil/camvigil/src/instance"
	"github.com/camvigil/camvigil/src/recorders"
)

type fakeManager struct {
	recorders.Manager
	root      string
	running   map[int]map[string]interface{}
	duration  time.Duration
	immediate bool
}

func (m *fakeManager) ArchiveRoot() string { return m.root }
func (m *fakeManager) SessionID() string   { return "abc" }

func (m *fakeManager) GetAllSourcePIDs() []int { return []int{os.Getpid()} }

func (m *fakeManager) HasRecorder(ctx context.Context, index int) bool {
	_, ok := m.running[index]
	return ok
}

func (m *fakeManager) GetRecorderStatus(ctx context.Context, index int) (map[string]interface{}, error) {
	status, ok := m.running[index]
	if !ok {
		return nil, recorders.ErrRecorderNotExist
	}
	return status, nil
}

func (m *fakeManager) UpdateSegmentDuration(d time.Duration, immediate bool) {
	m.duration, m.immediate = d, immediate
}

func setup(t *testing.T) (context.Context, *fakeManager) {
	cfg := configs.NewConfig()
	cfg.Cameras = []configs.CameraProfile{
		{Name: "door", MainURL: "rtsp://door"},
		{Name: "yard", MainURL: "rtsp://yard"},
	}
	configs.SetCurrentConfig(cfg)
	t.Cleanup(func() { configs.SetCurrentConfig(nil) })

	m := &fakeManager{running: map[int]map[string]interface{}{
		1: {"camera": "yard", "state": "running"},
	}}
	inst := &instance.Instance{RecorderManager: m}
	return instance.WithInstance(context.Background(), inst), m
}

func do(ctx context.Context, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	initMux(ctx).ServeHTTP(w, httptest.NewRequest(method, path, strings.NewReader(body)))
	return w
}

func TestHealth(t *testing.T) {
	ctx, m := setup(t)

	w := do(ctx, "GET", "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "waiting", gjson.Get(w.Body.String(), "status").String())

	m.root = "/mnt/usb"
	w = do(ctx, "GET", "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := gjson.Parse(w.Body.String())
	assert.Equal(t, "ok", body.Get("status").String())
	assert.Equal(t, "/mnt/usb", body.Get("archive_root").String())
	assert.Equal(t, "abc", body.Get("session_id").String())
	assert.Equal(t, int64(1), body.Get("recorders").Int())
	assert.Equal(t, int64(2), body.Get("cameras").Int())
}

func TestMetricsRoute(t *testing.T) {
	ctx, _ := setup(t)
	w := do(ctx, "GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStats(t *testing.T) {
	ctx, _ := setup(t)
	w := do(ctx, "GET", "/api/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := gjson.Parse(w.Body.String())
	assert.Equal(t, int64(os.Getpid()), body.Get("sources.0.pid").Int())
	assert.Positive(t, body.Get("self.goroutines").Int())
}

func TestRecorders(t *testing.T) {
	ctx, _ := setup(t)

	w := do(ctx, "GET", "/api/recorders", "")
	require.Equal(t, http.StatusOK, w.Code)
	list := gjson.Parse(w.Body.String()).Array()
	require.Len(t, list, 1)
	assert.Equal(t, "yard", list[0].Get("camera").String())

	w = do(ctx, "GET", "/api/recorders/1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "running", gjson.Get(w.Body.String(), "state").String())

	w = do(ctx, "GET", "/api/recorders/0", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, int64(http.StatusNotFound), gjson.Get(w.Body.String(), "err_no").Int())

	w = do(ctx, "GET", "/api/recorders/x", "")
	assert.Equal(t, http.StatusNotFound, w.Code, "route only matches digits")
}

func TestSegmentDuration(t *testing.T) {
	ctx, m := setup(t)

	w := do(ctx, "PUT", "/api/segment-duration", `{"duration": "1m", "immediate": true}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, time.Minute, m.duration)
	assert.True(t, m.immediate)
	assert.Equal(t, time.Minute, configs.GetCurrentConfig().Archive.SegmentDuration)

	w = do(ctx, "PUT", "/api/segment-duration", `{"duration": "1s"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(ctx, "PUT", "/api/segment-duration", `{"duration": "soon"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, time.Minute, m.duration)
}

func TestServerStartClose(t *testing.T) {
	ctx, m := setup(t)
	m.root = "/mnt/usb"
	cfg := configs.GetCurrentConfig()
	cfg.Metrics.Bind = "127.0.0.1:0"

	s := NewServer(ctx)
	inst := instance.GetInstance(ctx)
	assert.Same(t, s, inst.Server)
	require.NoError(t, s.Start(ctx))

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	s.Close(ctx)
	inst.WaitGroup.Wait()
	_, err = http.Get("http://" + s.Addr() + "/healthz")
	assert.Error(t, err)
}

func TestAccessLog(t *testing.T) {
	ctx, _ := setup(t)
	hooks := logrus.StandardLogger().ReplaceHooks(make(logrus.LevelHooks))
	hook := test.NewGlobal()
	level := logrus.GetLevel()
	logrus.SetLevel(logrus.DebugLevel)
	t.Cleanup(func() {
		logrus.SetLevel(level)
		logrus.StandardLogger().ReplaceHooks(hooks)
	})

	w := do(ctx, "GET", "/api/recorders/0", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.DebugLevel, entry.Level)
	assert.Equal(t, "http request", entry.Message)
	assert.Equal(t, http.StatusNotFound, entry.Data["status"])
	assert.Equal(t, "/api/recorders/0", entry.Data["path"])
}
