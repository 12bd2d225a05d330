package servers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/tidwall/gjson"

	"github.com/camvigil/camvigil/src/configs"
	"github.com/camvigil/camvigil/src/consts"
	"github.com/camvigil/camvigil/src/instance"
	applog "github.com/camvigil/camvigil/src/log"
	"github.com/camvigil/camvigil/src/pkg/procstats"
	"github.com/camvigil/camvigil/src/recorders"
)

type commonResp struct {
	ErrNo  int         `json:"err_no"`
	ErrMsg string      `json:"err_msg"`
	Data   interface{} `json:"data,omitempty"`
}

type healthResp struct {
	Status      string `json:"status"`
	ArchiveRoot string `json:"archive_root"`
	SessionID   string `json:"session_id"`
	Recorders   int    `json:"recorders"`
	Cameras     int    `json:"cameras"`
}

func writeJSON(writer http.ResponseWriter, obj interface{}) {
	writeJsonWithStatusCode(writer, http.StatusOK, obj)
}

func writeJsonWithStatusCode(writer http.ResponseWriter, statusCode int, obj interface{}) {
	b, err := json.Marshal(obj)
	if err != nil {
		applog.GetLogger().WithError(err).Error("failed to marshal response")
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(statusCode)
	if _, err := writer.Write(b); err != nil {
		applog.GetLogger().WithError(err).Debug("failed to write response")
	}
}

func writeError(writer http.ResponseWriter, statusCode int, msg string) {
	writeJsonWithStatusCode(writer, statusCode, commonResp{
		ErrNo:  statusCode,
		ErrMsg: msg,
	})
}

func cameraCount() int {
	if cfg := configs.GetCurrentConfig(); cfg != nil {
		return len(cfg.Cameras)
	}
	return 0
}

func recorderManager(r *http.Request) (recorders.Manager, bool) {
	inst := instance.GetInstance(r.Context())
	if inst == nil {
		return nil, false
	}
	m, ok := inst.RecorderManager.(recorders.Manager)
	return m, ok
}

// getHealth answers 200 while the archive is recording and 503 while it
// waits for storage.
func getHealth(writer http.ResponseWriter, r *http.Request) {
	resp := healthResp{Status: "waiting", Cameras: cameraCount()}
	m, ok := recorderManager(r)
	if ok {
		resp.ArchiveRoot = m.ArchiveRoot()
		resp.SessionID = m.SessionID()
		for i := 0; i < resp.Cameras; i++ {
			if m.HasRecorder(r.Context(), i) {
				resp.Recorders++
			}
		}
	}
	if resp.ArchiveRoot == "" {
		writeJsonWithStatusCode(writer, http.StatusServiceUnavailable, resp)
		return
	}
	resp.Status = "ok"
	writeJSON(writer, resp)
}

func getInfo(writer http.ResponseWriter, r *http.Request) {
	writeJSON(writer, consts.GetAppInfo())
}

func getStats(writer http.ResponseWriter, r *http.Request) {
	var pids []int
	if m, ok := recorderManager(r); ok {
		pids = m.GetAllSourcePIDs()
	}
	writeJSON(writer, procstats.Collect(pids))
}

func getAllRecorders(writer http.ResponseWriter, r *http.Request) {
	m, ok := recorderManager(r)
	if !ok {
		writeError(writer, http.StatusServiceUnavailable, "recorder manager is not running")
		return
	}
	statuses := make([]map[string]interface{}, 0, 4)
	for i := 0; i < cameraCount(); i++ {
		status, err := m.GetRecorderStatus(r.Context(), i)
		if err != nil {
			continue
		}
		statuses = append(statuses, status)
	}
	writeJSON(writer, statuses)
}

func getRecorder(writer http.ResponseWriter, r *http.Request) {
	m, ok := recorderManager(r)
	if !ok {
		writeError(writer, http.StatusServiceUnavailable, "recorder manager is not running")
		return
	}
	vars := mux.Vars(r)
	index, err := strconv.Atoi(vars["index"])
	if err != nil {
		writeError(writer, http.StatusBadRequest, err.Error())
		return
	}
	status, err := m.GetRecorderStatus(r.Context(), index)
	if err != nil {
		writeError(writer, http.StatusNotFound, fmt.Sprintf("camera %d: %s", index, err.Error()))
		return
	}
	writeJSON(writer, status)
}

// putSegmentDuration takes {"duration": "5m", "immediate": false}. The new
// duration is persisted and pushed to the running recorders.
func putSegmentDuration(writer http.ResponseWriter, r *http.Request) {
	b, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err != nil {
		writeError(writer, http.StatusBadRequest, err.Error())
		return
	}
	data := gjson.ParseBytes(b)
	d, err := time.ParseDuration(data.Get("duration").String())
	if err != nil {
		writeError(writer, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := configs.SetSegmentDuration(d); err != nil {
		writeError(writer, http.StatusBadRequest, err.Error())
		return
	}
	if m, ok := recorderManager(r); ok {
		m.UpdateSegmentDuration(d, data.Get("immediate").Bool())
	}
	applog.GetLogger().WithField("segment_duration", d).Info("segment duration changed")
	writeJSON(writer, commonResp{Data: d.String()})
}
