package httpapi

import (
	"net/http"
	"sync"
)

// Redirector sends the browser elsewhere. Handlers return right after calling it.
type Redirector interface {
	Redirect(w http.ResponseWriter, r *http.Request, target string)
}

// HTTPRedirector answers with 302 Found.
type HTTPRedirector struct{}

func (HTTPRedirector) Redirect(w http.ResponseWriter, r *http.Request, target string) {
	http.Redirect(w, r, target, http.StatusFound)
}

// RecordingRedirector remembers targets and answers 200 with the target in the body so
// tests can inspect where a flow ended.
type RecordingRedirector struct {
	mu      sync.Mutex
	targets []string
}

func (rr *RecordingRedirector) Redirect(w http.ResponseWriter, r *http.Request, target string) {
	rr.mu.Lock()
	rr.targets = append(rr.targets, target)
	rr.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"redirect": target})
}

// Targets returns the recorded redirects in order.
func (rr *RecordingRedirector) Targets() []string {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	return append([]string(nil), rr.targets...)
}

// Last returns the most recent redirect target.
func (rr *RecordingRedirector) Last() string {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	if len(rr.targets) == 0 {
		return ""
	}
	return rr.targets[len(rr.targets)-1]
}
