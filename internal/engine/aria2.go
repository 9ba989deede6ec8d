package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Aria2Engine drives a local aria2 daemon over its JSON-RPC interface. aria2
// addresses transfers by GID, so the adapter owns the gid<->task mapping and
// translates in both directions.
type Aria2Engine struct {
	rpcURL string
	secret string
	client *http.Client

	mu        sync.Mutex
	gidByTask map[string]string
	taskByGID map[string]string
}

func NewAria2Engine(rpcURL, secret string) *Aria2Engine {
	return &Aria2Engine{
		rpcURL:    rpcURL,
		secret:    secret,
		client:    &http.Client{Timeout: 10 * time.Second},
		gidByTask: make(map[string]string),
		taskByGID: make(map[string]string),
	}
}

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	ID      string `json:"id"`
	Params  []any  `json:"params"`
}

type jsonRPCResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *jsonRPCError   `json:"error,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Aria2Engine) call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	// The secret, when set, must be the first parameter as "token:<secret>".
	finalParams := make([]any, 0, len(params)+1)
	if e.secret != "" {
		finalParams = append(finalParams, "token:"+e.secret)
	}
	finalParams = append(finalParams, params...)

	body, err := json.Marshal(jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		ID:      "fetchqueue",
		Params:  finalParams,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var rpcResp jsonRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, err
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

func (e *Aria2Engine) Dispatch(ctx context.Context, req DispatchRequest) error {
	opts := map[string]any{}
	if req.Dir != "" {
		opts["dir"] = req.Dir
	}
	if req.Filename != "" {
		opts["out"] = req.Filename
	}
	if len(req.Headers) > 0 {
		headers := make([]string, 0, len(req.Headers))
		for k, v := range req.Headers {
			headers = append(headers, fmt.Sprintf("%s: %s", k, v))
		}
		opts["header"] = headers
	}

	res, err := e.call(ctx, "aria2.addUri", []string{req.URL}, opts)
	if err != nil {
		return &DispatchError{TaskID: req.TaskID, Reason: err.Error()}
	}
	var gid string
	if err := json.Unmarshal(res, &gid); err != nil || gid == "" {
		return &DispatchError{TaskID: req.TaskID, Reason: "engine returned no gid"}
	}

	e.mu.Lock()
	// A retry replaces the previous attempt's mapping.
	if old, ok := e.gidByTask[req.TaskID]; ok {
		delete(e.taskByGID, old)
	}
	e.gidByTask[req.TaskID] = gid
	e.taskByGID[gid] = req.TaskID
	e.mu.Unlock()
	return nil
}

func (e *Aria2Engine) RequestPause(taskID string) {
	gid, ok := e.gidForTask(taskID)
	if !ok {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := e.call(ctx, "aria2.pause", gid); err != nil {
			log.Printf("aria2 pause %s: %v", gid, err)
		}
	}()
}

func (e *Aria2Engine) RequestCancel(taskID string) {
	gid, ok := e.gidForTask(taskID)
	if !ok {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := e.call(ctx, "aria2.forceRemove", gid); err != nil {
			log.Printf("aria2 remove %s: %v", gid, err)
		}
		// Completed/errored downloads linger in aria2's result list.
		_, _ = e.call(ctx, "aria2.removeDownloadResult", gid)
	}()
}

func (e *Aria2Engine) UpdateConcurrencyLimit(n int) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		opts := map[string]string{"max-concurrent-downloads": strconv.Itoa(n)}
		if _, err := e.call(ctx, "aria2.changeGlobalOption", opts); err != nil {
			log.Printf("aria2 changeGlobalOption: %v", err)
		}
	}()
}

func (e *Aria2Engine) gidForTask(taskID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	gid, ok := e.gidByTask[taskID]
	return gid, ok
}

func (e *Aria2Engine) taskForGID(gid string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.taskByGID[gid]
	return id, ok
}

func (e *Aria2Engine) forgetGID(gid string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if id, ok := e.taskByGID[gid]; ok {
		delete(e.gidByTask, id)
		delete(e.taskByGID, gid)
	}
}

func (e *Aria2Engine) trackedGIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.taskByGID))
	for gid := range e.taskByGID {
		out = append(out, gid)
	}
	return out
}

// aria2Status is the subset of aria2.tellStatus we consume.
type aria2Status struct {
	GID             string `json:"gid"`
	Status          string `json:"status"`
	TotalLength     string `json:"totalLength"`
	CompletedLength string `json:"completedLength"`
	DownloadSpeed   string `json:"downloadSpeed"`
	ErrorMessage    string `json:"errorMessage"`
}

// statusEvent fetches a tellStatus snapshot for gid and converts it to an
// Event attributed to the owning task.
func (e *Aria2Engine) statusEvent(ctx context.Context, gid string) (Event, bool) {
	taskID, ok := e.taskForGID(gid)
	if !ok {
		return Event{}, false
	}

	res, err := e.call(ctx, "aria2.tellStatus", gid,
		[]string{"gid", "status", "totalLength", "completedLength", "downloadSpeed", "errorMessage"})
	if err != nil {
		// Removed GIDs disappear from aria2 entirely; stop tracking them.
		e.forgetGID(gid)
		return Event{}, false
	}
	var st aria2Status
	if err := json.Unmarshal(res, &st); err != nil {
		return Event{}, false
	}
	return statusToEvent(taskID, st), true
}

func statusToEvent(taskID string, st aria2Status) Event {
	evt := Event{
		TaskID:       taskID,
		RawStatus:    st.Status,
		ErrorMessage: st.ErrorMessage,
	}
	total := parseInt64(st.TotalLength)
	completed := parseInt64(st.CompletedLength)
	speed := parseInt64(st.DownloadSpeed)
	if total != nil {
		evt.FileSize = total
	}
	if completed != nil {
		evt.DownloadedSize = completed
	}
	if speed != nil {
		evt.Speed = speed
	}
	if total != nil && completed != nil && *total > 0 {
		p := float64(*completed) / float64(*total) * 100
		evt.Progress = &p
	}
	return evt
}

func parseInt64(v string) *int64 {
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}
