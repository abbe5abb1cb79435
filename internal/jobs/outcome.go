package jobs

import (
	"encoding/json"
	"strings"
)

// DefaultFailureMessage is stored when the provider reports failure without
// saying why.
const DefaultFailureMessage = "Generation failed"

// Outcome is the interpreted state of a provider notification. It is one of
// Succeeded, Failed or InProgress.
type Outcome interface {
	outcome()
}

type Succeeded struct {
	// ResultURL is empty when the provider reported success with no result
	// reference we recognize.
	ResultURL string
}

type Failed struct {
	Message string
}

type InProgress struct {
	State string
}

// Status is what a status query reports for a job the provider is still
// working on.
func (p InProgress) Status() Status {
	switch strings.ToLower(p.State) {
	case "processing", "running", "generating":
		return StatusProcessing
	}
	return StatusPending
}

func (Succeeded) outcome()  {}
func (Failed) outcome()     {}
func (InProgress) outcome() {}

// resultFields is the lookup order for the result reference.
var resultFields = []string{
	"resultUrl", "imageUrl", "videoUrl", "audioUrl",
	"image_url", "video_url", "audio_url",
}

// ParseOutcome interprets a provider state and its result payload. payload is
// either a JSON object or a JSON string holding one; anything unparsable is
// treated as an empty payload.
func ParseOutcome(state string, payload json.RawMessage, failMsg string) Outcome {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "success", "succeeded", "completed":
		return Succeeded{ResultURL: ExtractResultURL(payload)}
	case "fail", "failed", "error":
		msg := strings.TrimSpace(failMsg)
		if msg == "" {
			msg = DefaultFailureMessage
		}
		return Failed{Message: msg}
	default:
		return InProgress{State: state}
	}
}

// ExtractResultURL returns the first result reference found in payload, or "".
func ExtractResultURL(payload json.RawMessage) string {
	fields := decodePayload(payload)
	if fields == nil {
		return ""
	}

	if raw, ok := fields["resultUrls"]; ok {
		var urls []string
		if json.Unmarshal(raw, &urls) == nil && len(urls) > 0 && urls[0] != "" {
			return urls[0]
		}
	}
	for _, name := range resultFields {
		raw, ok := fields[name]
		if !ok {
			continue
		}
		var s string
		if json.Unmarshal(raw, &s) == nil && s != "" {
			return s
		}
	}
	return ""
}

func decodePayload(payload json.RawMessage) map[string]json.RawMessage {
	if len(payload) == 0 {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err == nil {
		return fields
	}

	var encoded string
	if err := json.Unmarshal(payload, &encoded); err != nil || encoded == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(encoded), &fields); err != nil {
		return nil
	}
	return fields
}
