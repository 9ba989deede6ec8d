package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// rpcRecorder serves canned JSON-RPC responses and records requests.
type rpcRecorder struct {
	mu       sync.Mutex
	requests []jsonRPCRequest
	results  []string
	rpcErr   *jsonRPCError
}

func (r *rpcRecorder) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var rpcReq jsonRPCRequest
		if err := json.NewDecoder(req.Body).Decode(&rpcReq); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		r.mu.Lock()
		r.requests = append(r.requests, rpcReq)
		resp := jsonRPCResponse{ID: rpcReq.ID, Error: r.rpcErr}
		if r.rpcErr == nil && len(r.results) > 0 {
			resp.Result = json.RawMessage(r.results[0])
			if len(r.results) > 1 {
				r.results = r.results[1:]
			}
		}
		r.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func (r *rpcRecorder) lastRequest(t *testing.T) jsonRPCRequest {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.requests) == 0 {
		t.Fatalf("no rpc requests recorded")
	}
	return r.requests[len(r.requests)-1]
}

func TestAria2DispatchRegistersGID(t *testing.T) {
	rec := &rpcRecorder{results: []string{`"gid-1"`}}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	e := NewAria2Engine(srv.URL, "s3cret")
	err := e.Dispatch(context.Background(), DispatchRequest{
		TaskID:   "t1",
		URL:      "https://example.com/a.mp3",
		Dir:      "/downloads",
		Filename: "a.mp3",
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	req := rec.lastRequest(t)
	if req.Method != "aria2.addUri" {
		t.Fatalf("rpc method = %q, want aria2.addUri", req.Method)
	}
	if len(req.Params) == 0 || req.Params[0] != "token:s3cret" {
		t.Fatalf("params = %v, want secret token first", req.Params)
	}

	gid, ok := e.gidForTask("t1")
	if !ok || gid != "gid-1" {
		t.Fatalf("gidForTask = %q/%v, want gid-1/true", gid, ok)
	}
	taskID, ok := e.taskForGID("gid-1")
	if !ok || taskID != "t1" {
		t.Fatalf("taskForGID = %q/%v, want t1/true", taskID, ok)
	}
}

func TestAria2DispatchRejection(t *testing.T) {
	rec := &rpcRecorder{rpcErr: &jsonRPCError{Code: 1, Message: "too many downloads"}}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	e := NewAria2Engine(srv.URL, "")
	err := e.Dispatch(context.Background(), DispatchRequest{TaskID: "t1", URL: "https://example.com/a"})

	var dispatchErr *DispatchError
	if !errors.As(err, &dispatchErr) {
		t.Fatalf("Dispatch() error = %v, want DispatchError", err)
	}
	if dispatchErr.TaskID != "t1" {
		t.Fatalf("DispatchError.TaskID = %q, want t1", dispatchErr.TaskID)
	}
	if _, ok := e.gidForTask("t1"); ok {
		t.Fatalf("gid tracked after rejected dispatch")
	}
}

func TestAria2RetryReplacesGIDMapping(t *testing.T) {
	rec := &rpcRecorder{results: []string{`"gid-1"`, `"gid-2"`}}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	e := NewAria2Engine(srv.URL, "")
	req := DispatchRequest{TaskID: "t1", URL: "https://example.com/a"}
	if err := e.Dispatch(context.Background(), req); err != nil {
		t.Fatalf("first Dispatch() error = %v", err)
	}
	if err := e.Dispatch(context.Background(), req); err != nil {
		t.Fatalf("second Dispatch() error = %v", err)
	}

	if gid, _ := e.gidForTask("t1"); gid != "gid-2" {
		t.Fatalf("gidForTask = %q, want gid-2", gid)
	}
	if _, ok := e.taskForGID("gid-1"); ok {
		t.Fatalf("stale gid-1 still mapped after retry")
	}
	if id, ok := e.taskForGID("gid-2"); !ok || id != "t1" {
		t.Fatalf("taskForGID(gid-2) = %q/%v, want t1/true", id, ok)
	}
}

func TestStatusToEvent(t *testing.T) {
	evt := statusToEvent("t1", aria2Status{
		GID:             "gid-1",
		Status:          "active",
		TotalLength:     "1000",
		CompletedLength: "250",
		DownloadSpeed:   "512",
		ErrorMessage:    "",
	})

	if evt.TaskID != "t1" || evt.RawStatus != "active" {
		t.Fatalf("event identity = %q/%q, want t1/active", evt.TaskID, evt.RawStatus)
	}
	if evt.FileSize == nil || *evt.FileSize != 1000 {
		t.Fatalf("FileSize = %v, want 1000", evt.FileSize)
	}
	if evt.DownloadedSize == nil || *evt.DownloadedSize != 250 {
		t.Fatalf("DownloadedSize = %v, want 250", evt.DownloadedSize)
	}
	if evt.Speed == nil || *evt.Speed != 512 {
		t.Fatalf("Speed = %v, want 512", evt.Speed)
	}
	if evt.Progress == nil || *evt.Progress != 25 {
		t.Fatalf("Progress = %v, want 25", evt.Progress)
	}
}

func TestStatusToEventOmitsUnreportedFields(t *testing.T) {
	evt := statusToEvent("t1", aria2Status{Status: "error", ErrorMessage: "disk full"})

	if evt.FileSize != nil || evt.DownloadedSize != nil || evt.Speed != nil || evt.Progress != nil {
		t.Fatalf("numeric fields set without engine data: %+v", evt)
	}
	if evt.ErrorMessage != "disk full" {
		t.Fatalf("ErrorMessage = %q, want passed through", evt.ErrorMessage)
	}
}

func TestStatusToEventNoProgressForUnknownTotal(t *testing.T) {
	evt := statusToEvent("t1", aria2Status{Status: "active", TotalLength: "0", CompletedLength: "100"})
	if evt.Progress != nil {
		t.Fatalf("Progress = %v, want nil for zero total", evt.Progress)
	}
}

func TestParseInt64(t *testing.T) {
	if got := parseInt64(""); got != nil {
		t.Fatalf("parseInt64(empty) = %v, want nil", got)
	}
	if got := parseInt64("abc"); got != nil {
		t.Fatalf("parseInt64(garbage) = %v, want nil", got)
	}
	got := parseInt64("42")
	if got == nil || *got != 42 {
		t.Fatalf("parseInt64(42) = %v, want 42", got)
	}
}

func TestMockEmitDeliversToHandler(t *testing.T) {
	m := NewMock()
	var got []Event
	m.SetHandler(func(evt Event) { got = append(got, evt) })

	m.Emit(Event{TaskID: "t1", RawStatus: "complete"})

	if len(got) != 1 || got[0].TaskID != "t1" {
		t.Fatalf("handler received %v, want one event for t1", got)
	}
}
