package gateway

import (
	"bytes"
	"encoding/json"

	"assistgen/completion"

	"github.com/gin-gonic/gin"
)

// writeEvent writes one "data: <json>\n\n" frame and flushes it. HTML is not
// escaped so non-ASCII and markup reach the client verbatim.
func writeEvent(c *gin.Context, payload any) error {
	var buf bytes.Buffer
	buf.WriteString("data: ")
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return err
	}
	// Encode ends with a newline; one more ends the frame
	buf.WriteByte('\n')
	if _, err := c.Writer.Write(buf.Bytes()); err != nil {
		return err
	}
	c.Writer.Flush()
	return nil
}

func startStream(c *gin.Context) {
	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Status(200)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()
}

// chunkPayload is what a chunk looks like on the wire. Errors share the
// framing of content; Done chunks are not sent.
func chunkPayload(chunk *completion.CompletionChunk) (string, bool) {
	switch chunk.Kind {
	case completion.ChunkContent:
		return chunk.Content, true
	case completion.ChunkError:
		return "\n\n[Error] " + chunk.Error.Error(), true
	}
	return "", false
}
