package updater

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/tjfontaine/polyglot-keyconf/internal/core/domain"
	"github.com/tjfontaine/polyglot-keyconf/internal/documents"
)

const providerFixture = `{
    "enable-chat": true,
    "keys": {
        "openai": ["sk-original", "sk-spare"]
    },
    "requester": {
        "openai-chat-completions": {
            "base-url": "https://api.openai.com/v1",
            "timeout": 120
        }
    },
    "model": "gpt-3.5-turbo"
}
`

const registryFixture = `{
    "list": [
        {"name": "OneAPI/deepseek-r1", "model_name": "deepseek-r1", "tool_call_supported": true, "vision_supported": false},
        {"name": "gpt-4", "model_name": "gpt-4"},
        {"name": "local/llama3", "model_name": "llama3"}
    ]
}
`

var fixedNow = time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

type fixture struct {
	dir          string
	providerPath string
	registryPath string
	updater      *Updater
}

func newFixture(t *testing.T, provider, registry string) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		dir:          dir,
		providerPath: filepath.Join(dir, "config", "provider.json"),
		registryPath: filepath.Join(dir, "metadata", "llm-models.json"),
	}
	if provider != "" {
		writeFile(t, f.providerPath, provider)
	}
	if registry != "" {
		writeFile(t, f.registryPath, registry)
	}

	u, err := New(Config{
		ProviderPath:  f.providerPath,
		RegistryPath:  f.registryPath,
		Namespace:     "OneAPI",
		Kind:          "openai-chat-completions",
		CredentialKey: "openai",
	}, WithClock(func() time.Time { return fixedNow }), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	f.updater = u
	return f
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func (f *fixture) provider(t *testing.T) *documents.ProviderDocument {
	t.Helper()
	doc, err := documents.LoadProvider(f.providerPath)
	if err != nil {
		t.Fatalf("LoadProvider() error = %v", err)
	}
	return doc
}

func (f *fixture) registryNames(t *testing.T) []string {
	t.Helper()
	r, err := documents.LoadRegistry(f.registryPath)
	if err != nil {
		t.Fatal(err)
	}
	return r.DisplayNames()
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{RegistryPath: "r.json", Namespace: "OneAPI"}); err == nil {
		t.Error("New() without provider path should fail")
	}
	if _, err := New(Config{ProviderPath: "p.json", RegistryPath: "r.json"}); err == nil {
		t.Error("New() without namespace should fail")
	}
}

func TestApply_FullSetup(t *testing.T) {
	f := newFixture(t, providerFixture, registryFixture)

	out, err := f.updater.Apply(context.Background(), domain.UpdateRequest{
		APIKey:    "sk-abc123",
		APIURL:    "https://ai.thelazy.top/v1",
		ModelName: "gpt-4o",
		Mode:      domain.ModeFullSetup,
	})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	doc := f.provider(t)
	if diff := cmp.Diff([]string{"sk-abc123"}, doc.Credentials("openai")); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}
	if got := doc.BaseURL("openai-chat-completions"); got != "https://ai.thelazy.top/v1" {
		t.Errorf("base-url = %q", got)
	}
	if got := doc.Model(); got != "OneAPI/gpt-4o" {
		t.Errorf("model = %q, want OneAPI/gpt-4o", got)
	}

	wantNames := []string{"OneAPI/gpt-4o", "OneAPI/deepseek-r1", "gpt-4", "local/llama3"}
	if diff := cmp.Diff(wantNames, f.registryNames(t)); diff != "" {
		t.Errorf("registry mismatch (-want +got):\n%s", diff)
	}

	if out.ModelExisted {
		t.Error("ModelExisted = true, want false")
	}
	if out.ProviderCreated {
		t.Error("ProviderCreated = true, want false")
	}
	if want := documents.BackupName(f.providerPath, fixedNow); out.ProviderBackup != want {
		t.Errorf("ProviderBackup = %q, want %q", out.ProviderBackup, want)
	}
	if want := documents.BackupName(f.registryPath, fixedNow); out.RegistryBackup != want {
		t.Errorf("RegistryBackup = %q, want %q", out.RegistryBackup, want)
	}

	// Backups hold the pre-update bytes.
	if got := readFile(t, out.ProviderBackup); got != providerFixture {
		t.Errorf("provider backup content mismatch:\n%s", got)
	}
	if got := readFile(t, out.RegistryBackup); got != registryFixture {
		t.Errorf("registry backup content mismatch:\n%s", got)
	}

	report := Report(out)
	for _, want := range []string{
		"OneAPI/gpt-4o",
		"added OneAPI/gpt-4o to the model registry",
		filepath.Base(out.ProviderBackup),
		filepath.Base(out.RegistryBackup),
		"docker restart langbot",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q:\n%s", want, report)
		}
	}
}

func TestApply_FullSetupWithoutDocuments(t *testing.T) {
	f := newFixture(t, "", "")

	out, err := f.updater.Apply(context.Background(), domain.UpdateRequest{
		APIKey:    "sk-new",
		APIURL:    "https://relay/v1",
		ModelName: "deepseek-r1",
		Mode:      domain.ModeFullSetup,
	})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	if !out.ProviderCreated {
		t.Error("ProviderCreated = false, want true")
	}
	if out.ProviderBackup != "" || out.RegistryBackup != "" {
		t.Errorf("unexpected backups: %q %q", out.ProviderBackup, out.RegistryBackup)
	}

	doc := f.provider(t)
	if diff := cmp.Diff([]string{"sk-new"}, doc.Credentials("openai")); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}
	if got := doc.Model(); got != "OneAPI/deepseek-r1" {
		t.Errorf("model = %q", got)
	}
	if diff := cmp.Diff([]string{"OneAPI/deepseek-r1"}, f.registryNames(t)); diff != "" {
		t.Errorf("registry mismatch (-want +got):\n%s", diff)
	}
}

func TestApply_ModelOnly(t *testing.T) {
	f := newFixture(t, providerFixture, registryFixture)

	out, err := f.updater.Apply(context.Background(), domain.UpdateRequest{
		APIKey:    "sk-original",
		APIURL:    "https://ignored/v1",
		ModelName: "claude-3-5-sonnet",
		Mode:      domain.ModeModelOnly,
	})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	doc := f.provider(t)
	if diff := cmp.Diff([]string{"sk-original", "sk-spare"}, doc.Credentials("openai")); diff != "" {
		t.Errorf("keys changed (-want +got):\n%s", diff)
	}
	if got := doc.BaseURL("openai-chat-completions"); got != "https://api.openai.com/v1" {
		t.Errorf("base-url changed to %q", got)
	}
	if got := doc.Model(); got != "OneAPI/claude-3-5-sonnet" {
		t.Errorf("model = %q", got)
	}

	for _, c := range out.Changes {
		if c.Document == "provider" && c.Field != "model" {
			t.Errorf("model-only update changed provider field %q", c.Field)
		}
	}
}

func TestApply_ModelOnlyWithoutProvider(t *testing.T) {
	f := newFixture(t, "", registryFixture)

	_, err := f.updater.Apply(context.Background(), domain.UpdateRequest{
		ModelName: "gpt-4o",
		Mode:      domain.ModeModelOnly,
	})
	if !errors.Is(err, domain.ErrProviderMissing) {
		t.Fatalf("Apply() error = %v, want ErrProviderMissing", err)
	}
	if kind := domain.KindOf(err); kind != domain.ErrorKindConfigRead {
		t.Errorf("kind = %q, want %q", kind, domain.ErrorKindConfigRead)
	}

	if got := readFile(t, f.registryPath); got != registryFixture {
		t.Errorf("registry modified:\n%s", got)
	}
	if _, err := os.Stat(f.providerPath); !os.IsNotExist(err) {
		t.Errorf("provider file created: %v", err)
	}

	report := ErrorReport(err)
	if !strings.Contains(report, "Run the full setup") {
		t.Errorf("error report missing full setup hint:\n%s", report)
	}
}

func TestApply_MalformedProviderReportsBackup(t *testing.T) {
	f := newFixture(t, `{"keys": [`, registryFixture)

	_, err := f.updater.Apply(context.Background(), domain.UpdateRequest{
		APIKey:    "sk-1",
		ModelName: "gpt-4o",
		Mode:      domain.ModeFullSetup,
	})
	if err == nil {
		t.Fatal("Apply() error = nil, want malformed provider error")
	}
	if !errors.Is(err, documents.ErrMalformed) {
		t.Errorf("error = %v, want ErrMalformed in chain", err)
	}

	backup := domain.BackupOf(err)
	if backup != documents.BackupName(f.providerPath, fixedNow) {
		t.Errorf("BackupOf() = %q", backup)
	}
	if !strings.Contains(ErrorReport(err), "restore from the backup file: "+filepath.Base(backup)) {
		t.Errorf("error report missing recovery hint:\n%s", ErrorReport(err))
	}
	if got := readFile(t, f.registryPath); got != registryFixture {
		t.Errorf("registry modified:\n%s", got)
	}
}

func TestApply_WriteFailureKeepsProvider(t *testing.T) {
	tests := []struct {
		name     string
		failPath func(f *fixture) string
		registry bool // registry expected to hold the new model
	}{
		{name: "registry write fails", failPath: func(f *fixture) string { return f.registryPath }},
		{name: "provider write fails", failPath: func(f *fixture) string { return f.providerPath }, registry: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, providerFixture, registryFixture)
			failing := tt.failPath(f)
			f.updater.write = func(path string, data []byte) error {
				if path == failing {
					return errors.New("no space left on device")
				}
				return documents.WriteAtomic(path, data)
			}

			_, err := f.updater.Apply(context.Background(), domain.UpdateRequest{
				APIKey:    "sk-new",
				APIURL:    "https://ai.thelazy.top/v1",
				ModelName: "gpt-4o",
				Mode:      domain.ModeFullSetup,
			})
			if kind := domain.KindOf(err); kind != domain.ErrorKindWrite {
				t.Fatalf("kind = %q (err %v), want %q", kind, err, domain.ErrorKindWrite)
			}
			if got := readFile(t, f.providerPath); got != providerFixture {
				t.Errorf("provider changed after failed update:\n%s", got)
			}

			backup := documents.BackupName(f.providerPath, fixedNow)
			if domain.BackupOf(err) != backup {
				t.Errorf("BackupOf() = %q, want %q", domain.BackupOf(err), backup)
			}
			if got := readFile(t, backup); got != providerFixture {
				t.Errorf("provider backup differs from the original:\n%s", got)
			}
			report := ErrorReport(err)
			if !strings.Contains(report, "restore from the backup file: "+filepath.Base(backup)) {
				t.Errorf("error report missing recovery hint:\n%s", report)
			}

			hasModel := false
			for _, name := range f.registryNames(t) {
				if name == "OneAPI/gpt-4o" {
					hasModel = true
				}
			}
			if hasModel != tt.registry {
				t.Errorf("registry holds new model = %v, want %v", hasModel, tt.registry)
			}
		})
	}
}

func TestApply_BackupFailureIsFatal(t *testing.T) {
	f := newFixture(t, providerFixture, "")
	// A directory at the registry path exists but cannot be copied.
	if err := os.MkdirAll(f.registryPath, 0o755); err != nil {
		t.Fatal(err)
	}

	_, err := f.updater.Apply(context.Background(), domain.UpdateRequest{
		APIKey:    "sk-1",
		ModelName: "gpt-4o",
		Mode:      domain.ModeFullSetup,
	})
	if kind := domain.KindOf(err); kind != domain.ErrorKindBackup {
		t.Fatalf("kind = %q (err %v), want %q", kind, err, domain.ErrorKindBackup)
	}
	if got := readFile(t, f.providerPath); got != providerFixture {
		t.Errorf("provider modified after backup failure:\n%s", got)
	}
}

func TestApply_Idempotent(t *testing.T) {
	f := newFixture(t, providerFixture, registryFixture)
	req := domain.UpdateRequest{APIKey: "sk-1", APIURL: "https://x/v1", ModelName: "gpt-4o", Mode: domain.ModeFullSetup}

	first, err := f.updater.Apply(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.updater.Apply(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}

	if first.ModelExisted {
		t.Error("first.ModelExisted = true")
	}
	if !second.ModelExisted {
		t.Error("second.ModelExisted = false, want true")
	}
	if !strings.Contains(Report(second), "OneAPI/gpt-4o already existed") {
		t.Errorf("second report should say the model already existed:\n%s", Report(second))
	}
	if second.ProviderBackup == first.ProviderBackup {
		t.Error("second update overwrote the first backup")
	}

	count := 0
	for _, name := range f.registryNames(t) {
		if name == "OneAPI/gpt-4o" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("OneAPI/gpt-4o appears %d times, want 1", count)
	}
}

func TestApply_UnmanagedOrderPreserved(t *testing.T) {
	f := newFixture(t, providerFixture, registryFixture)

	for _, model := range []string{"a", "b", "c", "b"} {
		if _, err := f.updater.Apply(context.Background(), domain.UpdateRequest{
			APIKey: "sk-1", ModelName: model, Mode: domain.ModeFullSetup,
		}); err != nil {
			t.Fatalf("Apply(%s) error = %v", model, err)
		}
	}

	want := []string{"OneAPI/c", "OneAPI/b", "OneAPI/a", "OneAPI/deepseek-r1", "gpt-4", "local/llama3"}
	if diff := cmp.Diff(want, f.registryNames(t)); diff != "" {
		t.Errorf("registry mismatch (-want +got):\n%s", diff)
	}
}

func TestApply_InvalidRequest(t *testing.T) {
	f := newFixture(t, providerFixture, registryFixture)

	tests := []struct {
		name string
		req  domain.UpdateRequest
	}{
		{name: "missing model", req: domain.UpdateRequest{APIKey: "sk-1", Mode: domain.ModeFullSetup}},
		{name: "missing key on full setup", req: domain.UpdateRequest{ModelName: "m", Mode: domain.ModeFullSetup}},
		{name: "unknown mode", req: domain.UpdateRequest{ModelName: "m", Mode: "partial"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.updater.Apply(context.Background(), tt.req)
			if kind := domain.KindOf(err); kind != domain.ErrorKindInputFormat {
				t.Errorf("kind = %q, want %q", kind, domain.ErrorKindInputFormat)
			}
		})
	}

	if got := readFile(t, f.providerPath); got != providerFixture {
		t.Error("provider modified by invalid request")
	}
}

func TestCurrentAPIKey(t *testing.T) {
	t.Run("first credential", func(t *testing.T) {
		f := newFixture(t, providerFixture, "")
		key, err := f.updater.CurrentAPIKey(context.Background())
		if err != nil {
			t.Fatalf("CurrentAPIKey() error = %v", err)
		}
		if key != "sk-original" {
			t.Errorf("CurrentAPIKey() = %q, want sk-original", key)
		}
	})

	t.Run("missing document", func(t *testing.T) {
		f := newFixture(t, "", "")
		_, err := f.updater.CurrentAPIKey(context.Background())
		if !errors.Is(err, domain.ErrProviderMissing) {
			t.Errorf("CurrentAPIKey() error = %v, want ErrProviderMissing", err)
		}
	})

	t.Run("empty credential list", func(t *testing.T) {
		f := newFixture(t, `{"keys": {"openai": []}}`, "")
		_, err := f.updater.CurrentAPIKey(context.Background())
		if kind := domain.KindOf(err); kind != domain.ErrorKindConfigRead {
			t.Errorf("kind = %q, want %q", kind, domain.ErrorKindConfigRead)
		}
	})
}
