// Package providers defines the wire-adapter contract each provider family
// implements: native request construction and response-stream decoding into
// the canonical event model.
package providers

import (
	"bytes"
	"strings"

	"github.com/airfit/coachengine/models"
	"github.com/airfit/coachengine/transport"
)

// Known provider identifiers. These key credentials, configuration, and the
// adapter registry.
const (
	OpenAI    = "openai"
	Anthropic = "anthropic"
	Gemini    = "gemini"
)

// Adapter builds provider-native requests and decodes provider-native stream
// chunks. DecodeChunk may retain a small buffer for partial SSE frames, so
// one adapter instance serves exactly one in-flight request.
type Adapter interface {
	Provider() string
	BuildRequest(bundle models.PromptBundle, model, credential string) (transport.Request, error)
	DecodeChunk(raw []byte) []models.StreamEvent
}

// LineBuffer assembles complete lines out of arbitrary byte chunks. SSE
// frames are line-delimited; a chunk boundary can land anywhere, so partial
// trailing lines are held until the next feed.
type LineBuffer struct {
	pending bytes.Buffer
}

// Feed appends raw bytes and returns the complete lines now available,
// stripped of line endings.
func (b *LineBuffer) Feed(raw []byte) []string {
	b.pending.Write(raw)
	var lines []string
	for {
		data := b.pending.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			return lines
		}
		line := strings.TrimRight(string(data[:idx]), "\r")
		b.pending.Next(idx + 1)
		lines = append(lines, line)
	}
}

// DataPayload extracts the payload of an SSE "data:" line, reporting whether
// the line was a data line at all.
func DataPayload(line string) (string, bool) {
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(line, "data:")), true
}
