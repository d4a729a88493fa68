package model

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/tidwall/gjson"
)

// ErrInvalidJSON is returned when a request body is not a JSON document.
var ErrInvalidJSON = errors.New("request body is not valid JSON")

// StreamFlag records what a chat body says about streaming.
type StreamFlag int

const (
	// StreamAbsent means the body has no stream field, or it is null.
	StreamAbsent StreamFlag = iota
	// StreamTrue means stream is the JSON literal true.
	StreamTrue
	// StreamOther means stream is present with any other value.
	StreamOther
)

// String returns a label suitable for logs and metrics.
func (f StreamFlag) String() string {
	switch f {
	case StreamTrue:
		return "true"
	case StreamOther:
		return "other"
	default:
		return "absent"
	}
}

// ChatBody is a parsed chat-completion request body.
type ChatBody struct {
	// Raw is the compacted JSON document.
	Raw    []byte
	Stream StreamFlag
}

// ParseChatBody validates data as JSON and classifies its stream field.
func ParseChatBody(data []byte) (*ChatBody, error) {
	if !gjson.ValidBytes(data) {
		return nil, ErrInvalidJSON
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return nil, errors.Join(ErrInvalidJSON, err)
	}

	return &ChatBody{
		Raw:    buf.Bytes(),
		Stream: classifyStream(gjson.GetBytes(data, "stream")),
	}, nil
}

func classifyStream(r gjson.Result) StreamFlag {
	switch {
	case !r.Exists() || r.Type == gjson.Null:
		return StreamAbsent
	case r.Type == gjson.True:
		return StreamTrue
	default:
		return StreamOther
	}
}

// Enabled reports the outbound stream flag. It defaults to false.
func (b *ChatBody) Enabled() bool {
	return b != nil && b.Stream == StreamTrue
}

// Buffered reports whether a successful upstream reply to this body is
// read whole and re-serialized rather than relayed as an event stream.
// Only a stream field that is present and not literally true selects it.
func (b *ChatBody) Buffered() bool {
	return b != nil && b.Stream == StreamOther
}
