package testdata

import (
	"net/http"
	"net/http/httptest"
	"sync"
)

// TestToken is the service token the fake Moodle accepts.
const TestToken = "test-token-0123456789"

// idParams are the request parameters that identify the target record of
// each remote function, in lookup order.
var idParams = []string{"criteriavalue", "value", "courseids[0]", "forumid", "discussionid"}

// Call records one request received by FakeMoodle.
type Call struct {
	Function string
	Key      string
	Token    string
}

// FakeMoodle serves fixture files keyed by "wsfunction" or
// "wsfunction:target" where target is the id or query of the request.
// Unknown keys answer with Moodle's missing-record exception.
type FakeMoodle struct {
	Server    *httptest.Server
	Responses map[string]string

	mu    sync.Mutex
	calls []Call
}

// NewFakeMoodle starts a fake Moodle REST endpoint. Callers must Close it.
func NewFakeMoodle(responses map[string]string) *FakeMoodle {
	f := &FakeMoodle{Responses: responses}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	return f
}

// URL is the base URL of the fake site.
func (f *FakeMoodle) URL() string {
	return f.Server.URL
}

// Close shuts the server down.
func (f *FakeMoodle) Close() {
	f.Server.Close()
}

// Calls returns the requests received so far.
func (f *FakeMoodle) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount returns how many times a remote function was called.
func (f *FakeMoodle) CallCount(function string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Function == function {
			n++
		}
	}
	return n
}

func (f *FakeMoodle) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/webservice/rest/server.php" || r.Method != http.MethodPost {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	function := r.PostForm.Get("wsfunction")
	target := ""
	for _, p := range idParams {
		if v := r.PostForm.Get(p); v != "" {
			target = v
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, Call{Function: function, Key: function + ":" + target, Token: r.PostForm.Get("wstoken")})
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")

	if r.PostForm.Get("wstoken") != TestToken {
		_, _ = w.Write(MustGetFixture("exception_invalidtoken.json"))
		return
	}

	name, ok := f.Responses[function+":"+target]
	if !ok {
		name, ok = f.Responses[function]
	}
	if !ok {
		_, _ = w.Write(MustGetFixture("exception_invalidrecord.json"))
		return
	}
	_, _ = w.Write(MustGetFixture(name))
}
