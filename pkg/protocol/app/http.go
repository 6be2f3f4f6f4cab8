package app

import (
	"bytes"
	"fmt"

	"github.com/protei/dpmi/pkg/protocol"
)

// RegisterHTTP adds a minimal HTTP descriptor to r: it recognises the
// presence of a request/status line but does not parse headers or body
// (§1 excludes per-protocol pretty-printer bodies).
func RegisterHTTP(r *protocol.Registry) {
	r.Register(&protocol.Descriptor{
		Type:         protocol.TypeHTTP,
		Name:         "http",
		PartialPrint: true,
		Format:       httpFormat,
	})
}

func httpFormat(w protocol.WriteFlusher, payload []byte, offset int, _ protocol.Flags) {
	if offset >= len(payload) {
		fmt.Fprintf(w, "http (truncated)")
		return
	}
	line := payload[offset:]
	if idx := bytes.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	line = bytes.TrimRight(line, "\r")
	fmt.Fprintf(w, "http %q", string(line))
}
