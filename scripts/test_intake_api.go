package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/fatih/color"
	"github.com/google/uuid"
)

// Walks a running server through a full intake: two turns, a follow-up,
// then the session and recommendation endpoints.

const actorID = "smoke-test"

func baseURL() string {
	if u := os.Getenv("API_BASE_URL"); u != "" {
		return u
	}
	return "http://localhost:3000/api"
}

// Pretty print JSON helper
func prettyPrint(raw []byte) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		fmt.Println(string(raw))
		return
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

// Request helper
func sendRequest(method, path string, body interface{}) (*http.Response, []byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		bodyReader = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequest(method, baseURL()+path, bodyReader)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	return resp, respBody, err
}

func step(title, method, path string, body interface{}) {
	color.Yellow("\n%s", title)
	resp, raw, err := sendRequest(method, path, body)
	if err != nil {
		color.Red("Failed: %v", err)
		os.Exit(1)
	}
	if resp.StatusCode >= 400 {
		color.Red("Status: %s", resp.Status)
	} else {
		color.Green("Status: %s", resp.Status)
	}
	prettyPrint(raw)
}

func main() {
	color.Cyan("Starting intake API smoke test against %s\n", baseURL())
	sessionID := uuid.NewString()

	turn := func(prompt string) map[string]interface{} {
		return map[string]interface{}{"prompt": prompt, "session_id": sessionID, "actor_id": actorID}
	}

	step("1. Skip the document", "POST", "/chat/v1/turn", turn("skip"))
	step("2. Describe the project", "POST", "/chat/v1/turn", turn("Cotton farming in Chad, we want better soil health"))
	step("3. Budget and capacity", "POST", "/chat/v1/turn", turn("Low budget and basic technical capacity"))
	step("4. Follow-up question", "POST", "/chat/v1/turn", turn("Which of these is cheapest to measure?"))
	step("5. Session state", "GET", "/chat/v1/sessions/"+sessionID+"?actor_id="+actorID, nil)
	step("6. Parsed recommendations", "GET", "/chat/v1/recommendations?session_id="+sessionID+"&actor_id="+actorID, nil)
	step("7. End the session", "DELETE", "/chat/v1/sessions/"+sessionID+"?actor_id="+actorID, nil)

	color.Cyan("\nDone.")
}
