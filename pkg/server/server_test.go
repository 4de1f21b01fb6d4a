package server

import (
	"bufio"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/striderlabs/strider/pkg/agent"
	"github.com/striderlabs/strider/pkg/llms"
	"github.com/striderlabs/strider/pkg/observability"
	"github.com/striderlabs/strider/pkg/scratchpad"
	"github.com/striderlabs/strider/pkg/tools"
)

func testFactory(answer string) EngineFactory {
	return func(sessionID string) (*agent.Engine, error) {
		mock := llms.NewMockProvider(llms.TextCompletion("FINAL ANSWER: " + answer))
		reg := tools.NewRegistry()
		_ = reg.RegisterTool(tools.NewExitTool())
		return agent.NewEngine(mock, reg, scratchpad.NewMemFS(), nil, agent.EngineConfig{
			SessionID: sessionID,
			Model:     "gpt-4o",
			Mode:      agent.ModeDirect,
		})
	}
}

func TestHealth(t *testing.T) {
	srv := New(Config{}, testFactory("x"), nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ok") {
		t.Error("health body missing status")
	}
}

func TestExecuteStreamsSSE(t *testing.T) {
	srv := New(Config{}, testFactory("streamed result"), observability.New())
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/sessions/s1/execute", "application/json",
		strings.NewReader(`{"request": "do it"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected SSE content type, got %q", ct)
	}

	var eventTypes []string
	var sawAnswer bool
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			eventTypes = append(eventTypes, strings.TrimPrefix(line, "event: "))
		}
		if strings.Contains(line, "streamed result") {
			sawAnswer = true
		}
	}
	if !sawAnswer {
		t.Error("answer content should appear in the stream")
	}
	if len(eventTypes) == 0 || eventTypes[len(eventTypes)-1] != "done" {
		t.Errorf("stream must end with done, got %v", eventTypes)
	}
}

func TestExecuteRejectsBadBody(t *testing.T) {
	srv := New(Config{}, testFactory("x"), nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sessions/s1/execute",
		strings.NewReader("not json")))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestStopUnknownSession(t *testing.T) {
	srv := New(Config{}, testFactory("x"), nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/sessions/ghost/", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestSessionsAreSticky(t *testing.T) {
	calls := 0
	factory := func(sessionID string) (*agent.Engine, error) {
		calls++
		return testFactory(fmt.Sprintf("answer %d", calls))(sessionID)
	}
	srv := New(Config{}, factory, nil)
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	for i := 0; i < 2; i++ {
		resp, err := http.Post(ts.URL+"/v1/sessions/sticky/execute", "application/json",
			strings.NewReader(`{"request": "go"}`))
		if err != nil {
			t.Fatal(err)
		}
		_ = resp.Body.Close()
	}
	if calls != 1 {
		t.Errorf("one engine per session expected, factory ran %d times", calls)
	}
}
