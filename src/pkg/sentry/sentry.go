// Package sentry wraps sentry-go for crash reporting and panic-safe goroutines.
package sentry

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
)

var (
	initialized bool
	initMu      sync.RWMutex
)

var sensitiveKeywords = []string{
	"password", "passwd", "secret", "token", "auth", "credential", "dsn",
}

var keywordPatterns = func() []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(sensitiveKeywords))
	for _, keyword := range sensitiveKeywords {
		patterns = append(patterns, regexp.MustCompile(`(?i)(`+regexp.QuoteMeta(keyword)+`)\s*[=:]\s*[^\s,}"\[\]&]+`))
	}
	return patterns
}()

var (
	sensitiveQueryPattern = regexp.MustCompile(`([?&](?:token|key|secret|password|auth|access_token|session))=[^&\s]*`)
	// scheme://user:pass@ as used by most rtsp cameras
	urlUserInfoPattern = regexp.MustCompile(`([a-zA-Z][a-zA-Z0-9+.-]*://)[^/@\s]+@`)
)

// Init enables reporting. An empty dsn leaves reporting disabled.
func Init(dsn, environment, release string) error {
	if dsn == "" {
		return nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          release,
		AttachStacktrace: true,
		BeforeSend:       beforeSendHook,
		SampleRate:       1.0,
	})
	if err != nil {
		return err
	}
	initMu.Lock()
	initialized = true
	initMu.Unlock()
	return nil
}

func IsInitialized() bool {
	initMu.RLock()
	defer initMu.RUnlock()
	return initialized
}

// Flush waits for queued events, call before exit.
func Flush(timeout time.Duration) {
	if !IsInitialized() {
		return
	}
	sentry.Flush(timeout)
}

// RecoverWithContext must be deferred directly; recover() only works there.
// The panic is reported and swallowed so the goroutine ends quietly.
func RecoverWithContext(ctx context.Context) {
	err := recover()
	if err == nil {
		return
	}
	if !IsInitialized() {
		return
	}
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	if hub != nil {
		hub.RecoverWithContext(ctx, err)
	}
}

func Recover() {
	err := recover()
	if err == nil {
		return
	}
	if !IsInitialized() {
		return
	}
	if hub := sentry.CurrentHub(); hub != nil {
		hub.Recover(err)
	}
}

func CaptureException(err error) {
	if !IsInitialized() || err == nil {
		return
	}
	sentry.CaptureException(err)
}

func CaptureMessage(msg string) {
	if !IsInitialized() {
		return
	}
	sentry.CaptureMessage(msg)
}

// Go runs f on a new goroutine with panic recovery.
func Go(f func()) {
	go func() {
		defer Recover()
		f()
	}()
}

// GoWithContext runs f(ctx) on a new goroutine with panic recovery.
func GoWithContext(ctx context.Context, f func(context.Context)) {
	go func() {
		defer RecoverWithContext(ctx)
		f(ctx)
	}()
}

func beforeSendHook(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
	event.Message = Scrub(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = Scrub(event.Exception[i].Value)
		if st := event.Exception[i].Stacktrace; st != nil {
			for j := range st.Frames {
				st.Frames[j].Vars = scrubMap(st.Frames[j].Vars)
			}
		}
	}
	event.Extra = scrubMap(event.Extra)
	for key, ctxData := range event.Contexts {
		event.Contexts[key] = scrubMap(ctxData)
	}
	for k, v := range event.Tags {
		if isSensitiveKey(k) {
			event.Tags[k] = "[REDACTED]"
		} else {
			event.Tags[k] = Scrub(v)
		}
	}
	return event
}

// Scrub removes credentials from URLs and key=value pairs in s.
func Scrub(s string) string {
	if s == "" {
		return s
	}
	s = urlUserInfoPattern.ReplaceAllString(s, "${1}[REDACTED]@")
	s = sensitiveQueryPattern.ReplaceAllString(s, "$1=[REDACTED]")
	for _, pattern := range keywordPatterns {
		s = pattern.ReplaceAllString(s, "$1=[REDACTED]")
	}
	return s
}

func scrubMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	result := make(map[string]interface{}, len(m))
	for key, value := range m {
		switch v := value.(type) {
		case string:
			if isSensitiveKey(key) {
				result[key] = "[REDACTED]"
			} else {
				result[key] = Scrub(v)
			}
		case map[string]interface{}:
			result[key] = scrubMap(v)
		default:
			if isSensitiveKey(key) {
				result[key] = "[REDACTED]"
			} else {
				result[key] = v
			}
		}
	}
	return result
}

func isSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, keyword := range sensitiveKeywords {
		if strings.Contains(keyLower, keyword) {
			return true
		}
	}
	return false
}
