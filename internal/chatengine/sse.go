package chatengine

import "strings"

// sseChunk is one blank-line-delimited server-sent-event chunk: an
// optional event name and its (possibly multi-line) data payload.
type sseChunk struct {
	Event string
	Data  string
}

// parseSSE splits body into blank-line-delimited chunks, each
// contributing an "event:" line and one or more "data:" lines
// (newline-joined when multi-line). Lines outside event:/data: are
// ignored, as is a chunk whose only data is "[DONE]".
func parseSSE(body string) []sseChunk {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	rawChunks := strings.Split(body, "\n\n")

	chunks := make([]sseChunk, 0, len(rawChunks))
	for _, raw := range rawChunks {
		var event string
		var dataLines []string
		for _, line := range strings.Split(raw, "\n") {
			switch {
			case strings.HasPrefix(line, "event:"):
				event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			}
		}
		if len(dataLines) == 0 && event == "" {
			continue
		}
		data := strings.Join(dataLines, "\n")
		if strings.TrimSpace(data) == "[DONE]" {
			continue
		}
		chunks = append(chunks, sseChunk{Event: event, Data: data})
	}
	return chunks
}
