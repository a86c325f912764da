package langbot

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tjfontaine/polyglot-keyconf/internal/testutil"
)

const testBaseURL = "http://langbot.test:5300"

func TestReloader_Replay(t *testing.T) {
	recorder, cleanup := testutil.NewVCRRecorder(t, "langbot_reload")
	defer cleanup()

	r, err := New(Config{BaseURL: testBaseURL + "/"}, WithHTTPClient(testutil.VCRHTTPClient(recorder)))
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := r.ReloadProviders(ctx); err != nil {
		t.Errorf("ReloadProviders() error = %v", err)
	}
	if err := r.ReloadPlugins(ctx); err != nil {
		t.Errorf("ReloadPlugins() error = %v", err)
	}
	if err := r.ReloadPlatform(ctx); err != nil {
		t.Errorf("ReloadPlatform() error = %v", err)
	}
}

func TestReloader_ReplayErrors(t *testing.T) {
	recorder, cleanup := testutil.NewVCRRecorder(t, "langbot_reload_errors")
	defer cleanup()

	r, err := New(Config{BaseURL: testBaseURL}, WithHTTPClient(testutil.VCRHTTPClient(recorder)))
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	err = r.ReloadPlugins(ctx)
	if err == nil || !strings.Contains(err.Error(), "plugin manager busy") {
		t.Errorf("ReloadPlugins() error = %v, want host message", err)
	}

	err = r.ReloadPlatform(ctx)
	if err == nil || !strings.Contains(err.Error(), "status 401") {
		t.Errorf("ReloadPlatform() error = %v, want status 401", err)
	}
}

func TestReloader_Request(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr bool
	}{
		{name: "ok", status: http.StatusOK, body: `{"code":0}`},
		{name: "empty body", status: http.StatusNoContent},
		{name: "plain text body", status: http.StatusOK, body: "done"},
		{name: "non-zero code", status: http.StatusOK, body: `{"code":2,"msg":"nope"}`, wantErr: true},
		{name: "server error", status: http.StatusInternalServerError, body: "boom", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotAuth, gotPath, gotBody string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				gotAuth = req.Header.Get("Authorization")
				gotPath = req.URL.Path
				b, _ := io.ReadAll(req.Body)
				gotBody = string(b)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			r, err := New(Config{BaseURL: srv.URL, Token: "secret"})
			if err != nil {
				t.Fatal(err)
			}

			err = r.ReloadProviders(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("ReloadProviders() error = %v, wantErr %v", err, tt.wantErr)
			}
			if gotAuth != "Bearer secret" {
				t.Errorf("Authorization = %q", gotAuth)
			}
			if gotPath != ReloadPath {
				t.Errorf("path = %q, want %q", gotPath, ReloadPath)
			}
			if gotBody != `{"scope":"provider"}` {
				t.Errorf("body = %q", gotBody)
			}
		})
	}
}

func TestNew_RequiresBaseURL(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New() without base URL should fail")
	}
}

func TestNoop(t *testing.T) {
	var n Noop
	if err := n.ReloadPlugins(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("ReloadPlugins() error = %v, want ErrNotConfigured", err)
	}
}
