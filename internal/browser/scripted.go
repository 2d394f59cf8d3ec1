package browser

import (
	"context"
	"encoding/json"
	"sync"
)

// ScriptedSession is a Session fake that replays scripted network events
// and evaluate results. Evaluate results round-trip through JSON, so a
// script can hand back nulls exactly the way a real page would.
type ScriptedSession struct {
	// EvalFunc maps a JS expression to its result. Nil results are fine.
	EvalFunc func(js string) (any, error)
	// NavigateFunc can veto or observe navigations; nil always succeeds.
	NavigateFunc func(url string) error
	// CookieJar is returned verbatim by Cookies.
	CookieJar map[string]string
	// Responses are emitted to every listener on each Navigate.
	Responses []NetworkResponse

	mu        sync.Mutex
	listeners map[int]func(NetworkResponse)
	nextID    int
	Navigated []string
	Closed    bool
}

func (s *ScriptedSession) Navigate(_ context.Context, url string) error {
	s.mu.Lock()
	s.Navigated = append(s.Navigated, url)
	fns := make([]func(NetworkResponse), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	responses := s.Responses
	s.mu.Unlock()

	if s.NavigateFunc != nil {
		if err := s.NavigateFunc(url); err != nil {
			return err
		}
	}
	for _, r := range responses {
		for _, fn := range fns {
			fn(r)
		}
	}
	return nil
}

func (s *ScriptedSession) Evaluate(_ context.Context, js string, out any) error {
	if s.EvalFunc == nil {
		return nil
	}
	result, err := s.EvalFunc(js)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (s *ScriptedSession) Cookies(context.Context) (map[string]string, error) {
	if s.CookieJar == nil {
		return map[string]string{}, nil
	}
	return s.CookieJar, nil
}

func (s *ScriptedSession) ListenResponses(fn func(NetworkResponse)) (stop func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listeners == nil {
		s.listeners = map[int]func(NetworkResponse){}
	}
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *ScriptedSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}
