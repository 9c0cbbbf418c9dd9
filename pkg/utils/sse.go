package utils

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
)

// SetupSSEHeaders prepares a response for a Server-Sent Events stream.
func SetupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
}

// SendSSEChunk writes one data frame to an SSE stream.
func SendSSEChunk(w http.ResponseWriter, flusher http.Flusher, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("failed to marshal sse payload: %v", err)
		return
	}

	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		log.Printf("failed to write sse payload: %v", err)
		return
	}
	flusher.Flush()
}

// SendSSEHeartbeat writes a comment line that keeps intermediaries from
// timing out an idle stream. Clients skip it when parsing.
func SendSSEHeartbeat(w http.ResponseWriter, flusher http.Flusher) {
	if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
		log.Printf("failed to write sse heartbeat: %v", err)
		return
	}
	flusher.Flush()
}
