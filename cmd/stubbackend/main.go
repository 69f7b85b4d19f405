// Command stubbackend is a local stand-in for the transcription, classify
// and template services. It lets the engine run end-to-end on a laptop: PCM
// frames arriving on the websocket are answered with canned transcript
// events, classification requests echo their ids back with rotating labels,
// and a small template set is served for session starts.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

type transcriptEvent struct {
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
}

type classifyRequest struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type classifyResponse struct {
	ID    string  `json:"id"`
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

var labels = []string{"pricing", "timeline", "objection", "next_steps"}

func streamHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("stream connected from %s", r.RemoteAddr)

	var frames int
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			log.Printf("stream closed: %v", err)
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		frames++
		log.Printf("frame %d received (%d bytes)", frames, len(data))

		// Every frame yields an interim, every fourth a final segment.
		interim := transcriptEvent{Type: "interim", Text: "so about the", Confidence: 0.62}
		if err := conn.WriteJSON(interim); err != nil {
			return
		}

		if frames%4 == 0 {
			final := transcriptEvent{
				Type:       "final",
				Text:       fmt.Sprintf("so about the pricing for segment %d", frames/4),
				Confidence: 0.94,
			}
			if err := conn.WriteJSON(final); err != nil {
				return
			}
		}
	}
}

func classifyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var request classifyRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	// Simulate model latency
	time.Sleep(150 * time.Millisecond)

	response := classifyResponse{
		ID:    request.ID,
		Label: labels[len(request.Text)%len(labels)],
		Score: 0.5 + float64(len(request.Text)%50)/100.0,
	}

	log.Printf("classified %q -> %s (%.2f)", request.Text, response.Label, response.Score)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func templatesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	templates := []map[string]interface{}{
		{
			"id":          "discovery-30",
			"name":        "Discovery Call (30 min)",
			"description": "First-touch discovery conversation",
			"content": map[string]interface{}{
				"total_duration_minutes": 30,
				"sections": []map[string]interface{}{
					{
						"title":            "Introduction",
						"duration_minutes": 5,
						"items": []map[string]interface{}{
							{"id": "greet", "text": "Greet and build rapport"},
							{"id": "agenda", "text": "Confirm the agenda"},
						},
					},
					{
						"title":            "Needs Analysis",
						"duration_minutes": 20,
						"items": []map[string]interface{}{
							{"id": "pain", "text": "Identify the main pain point"},
							{"id": "budget", "text": "Qualify the budget"},
						},
					},
					{
						"title":            "Next Steps",
						"duration_minutes": 5,
						"items": []map[string]interface{}{
							{"id": "followup", "text": "Book the follow-up"},
						},
					},
				},
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(templates)
}

func main() {
	http.HandleFunc("/stream", streamHandler)
	http.HandleFunc("/classify", classifyHandler)
	http.HandleFunc("/templates", templatesHandler)

	port := ":8090"
	log.Printf("stub backend starting on %s", port)
	log.Printf("  ws://localhost%s/stream", port)
	log.Printf("  http://localhost%s/classify", port)
	log.Printf("  http://localhost%s/templates", port)

	if err := http.ListenAndServe(port, nil); err != nil {
		log.Fatal("server failed to start:", err)
	}
}
