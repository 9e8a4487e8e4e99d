// Package nsapitest runs a fake NationStates for tests: the lastlogin API
// shard and the login/restore form.
package nsapitest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
)

// Nation is a nation known to the fake.
type Nation struct {
	Password  string
	LastLogin time.Time
	// Dead nations answer 404 on the API and can be restored.
	Dead bool
}

// Server is a fake NationStates backed by httptest.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	nations  map[string]*Nation
	hooks    map[string]chan struct{}
	requests []Request

	inFlight    int32
	maxInFlight int32
	// Fail makes every request answer 500.
	Fail atomic.Bool
}

// Request records one request seen by the fake.
type Request struct {
	Kind      string // "status", "login" or "restore"
	Nation    string
	UserAgent string
	At        time.Time
}

// NewServer starts a fake. Close it when done.
func NewServer() *Server {
	s := &Server{
		nations: make(map[string]*Nation),
		hooks:   make(map[string]chan struct{}),
	}
	r := chi.NewRouter()
	r.Use(s.track)
	r.Get("/cgi-bin/api.cgi", s.handleAPI)
	r.Post("/", s.handleForm)
	s.Server = httptest.NewServer(r)
	return s
}

// APIURL is the API endpoint of the fake.
func (s *Server) APIURL() string { return s.URL + "/cgi-bin/api.cgi" }

// SiteURL is the site root of the fake.
func (s *Server) SiteURL() string { return s.URL + "/" }

// AddNation registers a nation under its normalized name.
func (s *Server) AddNation(name string, n Nation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nations[normalize(name)] = &n
}

// Block makes requests about name wait until the returned function is called.
func (s *Server) Block(name string) (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.hooks[normalize(name)] = ch
	s.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// Requests returns the requests seen so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// MaxInFlight is the highest number of concurrently served requests.
func (s *Server) MaxInFlight() int {
	return int(atomic.LoadInt32(&s.maxInFlight))
}

func (s *Server) track(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&s.inFlight, 1)
		defer atomic.AddInt32(&s.inFlight, -1)
		for {
			m := atomic.LoadInt32(&s.maxInFlight)
			if n <= m || atomic.CompareAndSwapInt32(&s.maxInFlight, m, n) {
				break
			}
		}
		if s.Fail.Load() {
			http.Error(w, "unavailable", http.StatusInternalServerError)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) record(kind, nation string, r *http.Request) *Nation {
	key := normalize(nation)
	s.mu.Lock()
	s.requests = append(s.requests, Request{Kind: kind, Nation: key, UserAgent: r.UserAgent(), At: time.Now()})
	hook := s.hooks[key]
	s.mu.Unlock()

	if hook != nil {
		select {
		case <-hook:
		case <-r.Context().Done():
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nations[key]
	if !ok {
		return nil
	}
	cp := *n
	return &cp
}

func (s *Server) handleAPI(w http.ResponseWriter, r *http.Request) {
	if r.UserAgent() == "" || strings.HasPrefix(r.UserAgent(), "Go-http-client") {
		http.Error(w, "user agent required", http.StatusForbidden)
		return
	}
	name := r.URL.Query().Get("nation")
	if r.URL.Query().Get("q") != "lastlogin" {
		http.Error(w, "unknown shard", http.StatusBadRequest)
		return
	}
	n := s.record("status", name, r)
	if n == nil || n.Dead {
		http.Error(w, "Unknown nation", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	fmt.Fprintf(w, "<NATION id=%q>\n<LASTLOGIN>%d</LASTLOGIN>\n</NATION>\n", name, n.LastLogin.Unix())
}

func (s *Server) handleForm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if r.PostForm.Get("logging_in") != "1" {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	name := r.PostForm.Get("nation")
	restore := r.PostForm.Get("restore_nation") != ""

	kind, password := "login", r.PostForm.Get("password")
	if restore {
		kind, password = "restore", r.PostForm.Get("restore_password")
	}
	n := s.record(kind, name, r)

	ok := n != nil && n.Password == password
	if restore {
		ok = ok && n.Dead && r.PostForm.Get("restore_nation") == " Restore "+strings.TrimSpace(name)+" "
	} else {
		ok = ok && !n.Dead
	}
	if ok {
		s.mu.Lock()
		live := s.nations[normalize(name)]
		live.Dead = false
		live.LastLogin = time.Now()
		s.mu.Unlock()
		http.SetCookie(w, &http.Cookie{Name: "pin", Value: "12345", Path: "/"})
	}
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprint(w, "<html><body>NationStates</body></html>")
}

func normalize(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}
