package testutil

import (
	"bytes"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/dnaeon/go-vcr.v2/cassette"
	"gopkg.in/dnaeon/go-vcr.v2/recorder"
)

// NewVCRRecorder creates a VCR recorder for testing. Cassettes live under
// testdata/fixtures; set VCR_MODE=record to refresh them against a live host.
func NewVCRRecorder(t *testing.T, cassetteName string) (*recorder.Recorder, func()) {
	t.Helper()

	mode := recorder.ModeReplaying
	if os.Getenv("VCR_MODE") == "record" {
		mode = recorder.ModeRecording
	}

	cassettePath := filepath.Join("testdata", "fixtures", cassetteName)

	r, err := recorder.NewAsMode(cassettePath, mode, nil)
	if err != nil {
		t.Fatalf("Failed to create VCR recorder: %v", err)
	}

	// Reload calls share a URL and differ only in their body.
	r.SetMatcher(func(req *http.Request, i cassette.Request) bool {
		if req.Body == nil {
			return cassette.DefaultMatcher(req, i)
		}
		var b bytes.Buffer
		if _, err := b.ReadFrom(req.Body); err != nil {
			return false
		}
		req.Body = io.NopCloser(&b)
		return cassette.DefaultMatcher(req, i) && b.String() == i.Body
	})

	// Never write credentials into a cassette.
	r.AddFilter(func(i *cassette.Interaction) error {
		delete(i.Request.Headers, "Authorization")
		return nil
	})

	cleanup := func() {
		if err := r.Stop(); err != nil {
			t.Errorf("Failed to stop VCR recorder: %v", err)
		}
	}

	return r, cleanup
}

// VCRHTTPClient returns an HTTP client configured to use the VCR recorder
func VCRHTTPClient(r *recorder.Recorder) *http.Client {
	return &http.Client{
		Transport: r,
	}
}
