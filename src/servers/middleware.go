package servers

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	applog "github.com/camvigil/camvigil/src/log"
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// accessLog logs each request after it was answered. Server errors are
// warnings, everything else is debug output.
func accessLog(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		handler.ServeHTTP(sw, r)
		entry := applog.WithFields(logrus.Fields{
			"method":  r.Method,
			"path":    r.URL.Path,
			"remote":  r.RemoteAddr,
			"status":  sw.status,
			"elapsed": time.Since(start).String(),
		})
		if sw.status >= http.StatusInternalServerError {
			entry.Warn("http request failed")
			return
		}
		entry.Debug("http request")
	})
}
