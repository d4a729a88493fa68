package model

import (
	"errors"
	"testing"
)

func TestParseChatBody_StreamFlag(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		wantFlag     StreamFlag
		wantEnabled  bool
		wantBuffered bool
	}{
		{"absent", `{"model":"gpt-4"}`, StreamAbsent, false, false},
		{"null", `{"stream":null}`, StreamAbsent, false, false},
		{"true", `{"stream":true}`, StreamTrue, true, false},
		{"false", `{"stream":false}`, StreamOther, false, true},
		{"string true", `{"stream":"true"}`, StreamOther, false, true},
		{"number one", `{"stream":1}`, StreamOther, false, true},
		{"zero", `{"stream":0}`, StreamOther, false, true},
		{"object", `{"stream":{"on":true}}`, StreamOther, false, true},
		{"nested only", `{"options":{"stream":true}}`, StreamAbsent, false, false},
		{"top-level array", `[{"stream":true}]`, StreamAbsent, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := ParseChatBody([]byte(tt.body))
			if err != nil {
				t.Fatalf("ParseChatBody() error = %v", err)
			}
			if b.Stream != tt.wantFlag {
				t.Errorf("Stream = %v, want %v", b.Stream, tt.wantFlag)
			}
			if b.Enabled() != tt.wantEnabled {
				t.Errorf("Enabled() = %v, want %v", b.Enabled(), tt.wantEnabled)
			}
			if b.Buffered() != tt.wantBuffered {
				t.Errorf("Buffered() = %v, want %v", b.Buffered(), tt.wantBuffered)
			}
		})
	}
}

func TestParseChatBody_Compacts(t *testing.T) {
	b, err := ParseChatBody([]byte("{\n  \"b\": 1,\n  \"a\": [1, 2]\n}\n"))
	if err != nil {
		t.Fatalf("ParseChatBody() error = %v", err)
	}
	// Key order is preserved; only whitespace is dropped.
	if got, want := string(b.Raw), `{"b":1,"a":[1,2]}`; got != want {
		t.Errorf("Raw = %q, want %q", got, want)
	}
}

func TestParseChatBody_Invalid(t *testing.T) {
	for _, body := range []string{"", "not json", `{"stream":`, `{"a":1}}`} {
		t.Run(body, func(t *testing.T) {
			_, err := ParseChatBody([]byte(body))
			if !errors.Is(err, ErrInvalidJSON) {
				t.Errorf("ParseChatBody(%q) error = %v, want ErrInvalidJSON", body, err)
			}
		})
	}
}

func TestChatBody_NilDefaults(t *testing.T) {
	var b *ChatBody
	if b.Enabled() {
		t.Error("nil body Enabled() = true, want false")
	}
	if b.Buffered() {
		t.Error("nil body Buffered() = true, want false")
	}
}
