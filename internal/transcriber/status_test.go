package transcriber

import (
	"errors"
	"fmt"
	"testing"
)

func TestParseSessionStatus(t *testing.T) {
	cases := []struct {
		status, result, detail string
		want                   Status
	}{
		{"processing", "", "", Pending()},
		{"pending", "", "", Pending()},
		{"", "", "", Pending()},
		{"completed", "hello world", "", Completed("hello world")},
		{"failed", "", "engine crashed", Failed("engine crashed")},
		{"error", "", "", Failed("transcription failed")},
	}
	for _, tc := range cases {
		if got := ParseSessionStatus(tc.status, tc.result, tc.detail); got != tc.want {
			t.Fatalf("%q: expected %+v, got %+v", tc.status, tc.want, got)
		}
	}
}

func TestStatusIsTerminal(t *testing.T) {
	if Pending().IsTerminal() {
		t.Fatal("pending must not be terminal")
	}
	if !Completed("x").IsTerminal() || !Failed("y").IsTerminal() {
		t.Fatal("completed and failed must be terminal")
	}
}

func TestUploadError_Message(t *testing.T) {
	err := &UploadError{Op: "start", Kind: KindHTTPStatus, StatusCode: 503, Message: "busy"}
	if got := err.Error(); got != "start: backend returned status 503: busy" {
		t.Fatalf("unexpected message %q", got)
	}
	wrapped := fmt.Errorf("session start: %w", &UploadError{Op: "poll", Kind: KindNetwork, Err: errors.New("refused")})
	if !IsNetworkError(wrapped) {
		t.Fatal("expected network error to be detected through wrapping")
	}
	if IsNetworkError(err) {
		t.Fatal("http status error is not a network error")
	}
}
