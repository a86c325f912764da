package updater

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tjfontaine/polyglot-keyconf/internal/core/domain"
)

// RestartSteps are appended to every success report.
var RestartSteps = []string{
	"Stop the running LangBot",
	"Start LangBot again (server users: run `docker restart langbot` in the console)",
	"Start chatting once it is up",
}

// Report renders the multi-line success message for out. Whether the model
// was added or already existed is taken from out.ModelExisted only.
func Report(out *domain.UpdateOutcome) string {
	var b strings.Builder
	b.WriteString("Configuration updated successfully!")

	n := 0
	line := func(s string) {
		n++
		fmt.Fprintf(&b, "\n%d. %s", n, s)
	}

	for _, c := range out.Changes {
		line(c.Detail)
	}
	if out.ProviderCreated {
		line("provider config did not exist and was created")
	}
	if out.ProviderBackup != "" {
		line("provider config backed up as: " + filepath.Base(out.ProviderBackup))
	}
	if out.RegistryBackup != "" {
		line("model registry backed up as: " + filepath.Base(out.RegistryBackup))
	}

	b.WriteString("\n\nNext steps:")
	for i, step := range RestartSteps {
		fmt.Fprintf(&b, "\n%d. %s", i+1, step)
	}
	return b.String()
}

// ErrorReport renders the failure message for err: the message, the wrap
// chain as diagnostic detail and, when a provider backup was taken, the file
// to restore from.
func ErrorReport(err error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Configuration update failed: %v", err)

	if chain := domain.Chain(err); len(chain) > 0 {
		b.WriteString("\nDetails:")
		for _, c := range chain {
			b.WriteString("\n  " + c)
		}
	}

	if errors.Is(err, domain.ErrProviderMissing) {
		b.WriteString("\nThe provider config does not exist yet. Run the full setup instead.")
	}
	if backup := domain.BackupOf(err); backup != "" {
		b.WriteString("\nYou can restore from the backup file: " + filepath.Base(backup))
	}
	return b.String()
}
