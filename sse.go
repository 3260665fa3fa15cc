package braid

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

type sseRequest struct {
	Message string `json:"message"`
}

// ServeSSE returns a handler that streams the agent's answer as
// Server-Sent Events. The request is a POST with body {"message": "..."}.
// Text deltas arrive as data frames {"text": "..."}; a terminal "done"
// event carries the final text and usage, and a failure surfaces as an
// "error" event. Client disconnection propagates to the agent through the
// request context.
func ServeSSE(a *Agent) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var body sseRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if body.Message == "" {
			http.Error(w, "message required", http.StatusBadRequest)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		ch := make(chan string, 64)
		type chatResult struct {
			msg Message
			err error
		}
		resultCh := make(chan chatResult, 1)
		var closeOnce sync.Once
		safeClose := func() { closeOnce.Do(func() { close(ch) }) }

		go func() {
			defer func() {
				if p := recover(); p != nil {
					// Close ch so the write loop below does not block
					// forever, then report the failure.
					safeClose()
					resultCh <- chatResult{err: fmt.Errorf("agent panic: %v", p)}
				}
			}()
			msg, err := a.Stream(r.Context(), UserMessage(body.Message), ch)
			safeClose()
			resultCh <- chatResult{msg: msg, err: err}
		}()

		for chunk := range ch {
			data, err := json.Marshal(map[string]string{"text": chunk})
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}

		res := <-resultCh
		if res.err != nil {
			errData, _ := json.Marshal(map[string]string{"error": res.err.Error()})
			fmt.Fprintf(w, "event: error\ndata: %s\n\n", errData)
			flusher.Flush()
			return
		}
		done := map[string]any{"text": res.msg.Text()}
		if res.msg.Usage != nil {
			done["usage"] = res.msg.Usage
		}
		doneData, _ := json.Marshal(done)
		fmt.Fprintf(w, "event: done\ndata: %s\n\n", doneData)
		flusher.Flush()
	})
}
