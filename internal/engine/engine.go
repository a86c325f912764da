// Package engine implements the conversational configuration dialogue.
//
// Each inbound message is either consumed with a reply, or declined so the
// host can route it elsewhere. A private "start" command opens a dialogue
// that collects a mode, an API key and a model name, then hands them to the
// updater. Reload commands are served in any context and never touch a
// dialogue.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/polyglot-keyconf/internal/core/domain"
	"github.com/tjfontaine/polyglot-keyconf/internal/core/ports"
	"github.com/tjfontaine/polyglot-keyconf/internal/pkg/config"
	"github.com/tjfontaine/polyglot-keyconf/internal/reload"
	"github.com/tjfontaine/polyglot-keyconf/internal/session"
	"github.com/tjfontaine/polyglot-keyconf/internal/updater"
)

// Message is one inbound chat message.
type Message struct {
	UserID  string `json:"user_id"`
	Text    string `json:"text"`
	Private bool   `json:"private"`
}

// Result is the engine's answer to a Message. When Handled is false the
// message was not meant for the engine and Reply is empty.
type Result struct {
	Handled bool
	Reply   string
	// Task is the reload scheduled by a successful update, if any.
	Task *reload.Task
}

// Settings are the parts of the engine that follow the service configuration.
type Settings struct {
	Commands config.CommandsConfig
	// APIURL is preset on every new dialogue and written on full setup.
	APIURL string
	// AutoReload schedules a host reload after each successful update.
	AutoReload bool
}

// SettingsFromConfig extracts the engine settings from the service config.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Commands:   cfg.Commands,
		APIURL:     cfg.Provider.APIURL,
		AutoReload: cfg.Reload.AutoAfterUpdate,
	}
}

// Config wires an Engine.
type Config struct {
	Settings Settings
	Updater  ports.Updater
	// Reloader serves the maintenance commands. Nil replies with an error.
	Reloader ports.Reloader
	// Scheduler runs reloads after updates. Nil disables them.
	Scheduler *reload.Scheduler
	// Audit records update attempts. Nil disables recording.
	Audit    ports.AuditStore
	Sessions *session.Store
	Logger   *slog.Logger
}

// Engine routes messages through the dialogue.
type Engine struct {
	updater   ports.Updater
	reloader  ports.Reloader
	scheduler *reload.Scheduler
	audit     ports.AuditStore
	sessions  *session.Store
	logger    *slog.Logger

	mu       sync.RWMutex
	settings Settings
}

// New creates an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Updater == nil {
		return nil, errors.New("engine: updater is required")
	}
	if cfg.Settings.Commands.Start == "" {
		return nil, errors.New("engine: start command is required")
	}

	e := &Engine{
		updater:   cfg.Updater,
		reloader:  cfg.Reloader,
		scheduler: cfg.Scheduler,
		audit:     cfg.Audit,
		sessions:  cfg.Sessions,
		logger:    cfg.Logger,
		settings:  cfg.Settings,
	}
	if e.sessions == nil {
		e.sessions = session.NewStore()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e, nil
}

// Reconfigure replaces the settings. Open dialogues keep their preset URL.
func (e *Engine) Reconfigure(s Settings) error {
	if s.Commands.Start == "" {
		return errors.New("engine: start command is required")
	}
	e.mu.Lock()
	e.settings = s
	e.mu.Unlock()

	e.logger.Info("engine settings updated",
		slog.String("start_command", s.Commands.Start),
		slog.Bool("auto_reload", s.AutoReload))
	return nil
}

// Settings returns the current settings.
func (e *Engine) Settings() Settings {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.settings
}

// Sessions exposes the session store.
func (e *Engine) Sessions() *session.Store {
	return e.sessions
}

// Handle processes one message.
func (e *Engine) Handle(ctx context.Context, msg Message) Result {
	s := e.Settings()
	cmd := s.Commands
	// Commands, choices and the credential prefix match the text as received.
	text := msg.Text

	if scope, ok := maintenanceScope(cmd, text); ok {
		return e.handleReload(ctx, msg.UserID, scope)
	}

	if !msg.Private {
		guarded := strings.TrimSpace(text)
		if strings.HasPrefix(guarded, cmd.Start) || (cmd.CredentialPrefix != "" && strings.HasPrefix(guarded, cmd.CredentialPrefix)) {
			e.logger.Warn("configuration attempt outside a private chat", slog.String("user_id", msg.UserID))
			return reply(privacyWarning)
		}
		return Result{}
	}

	if text == cmd.Start {
		st := e.sessions.Create(msg.UserID, s.APIURL)
		e.logger.Info("dialogue started",
			slog.String("user_id", msg.UserID),
			slog.String("session_id", st.ID))
		return reply(menu(cmd))
	}

	st, ok := e.sessions.Get(msg.UserID)
	if !ok {
		return Result{}
	}

	switch st.Step {
	case session.AwaitingChoice:
		return e.handleChoice(ctx, s, st, text)
	case session.AwaitingAPIKey:
		return e.handleAPIKey(cmd, st, text)
	case session.AwaitingModelName:
		return e.handleModelName(ctx, s, st, text, domain.ModeFullSetup)
	case session.AwaitingModelNameOnly:
		return e.handleModelName(ctx, s, st, text, domain.ModeModelOnly)
	default:
		e.sessions.DeleteIf(st.UserID, st.ID)
		e.logger.Error("dialogue in unknown step",
			slog.String("session_id", st.ID),
			slog.String("step", st.Step.String()))
		return reply("Something went wrong. Send " + cmd.Start + " to start over.")
	}
}

func (e *Engine) handleChoice(ctx context.Context, s Settings, st session.State, text string) Result {
	switch text {
	case s.Commands.FullSetup:
		st.Step = session.AwaitingAPIKey
		e.save(st)
		return reply(keyPrompt(s.Commands.CredentialPrefix))

	case s.Commands.ModelOnly:
		key, err := e.updater.CurrentAPIKey(ctx)
		if err != nil {
			e.sessions.DeleteIf(st.UserID, st.ID)
			e.logger.Warn("model-only dialogue cannot read the current key",
				slog.String("session_id", st.ID),
				slog.String("error", err.Error()))
			return reply(fmt.Sprintf("Could not read the current configuration: %v\nRun the full setup instead: send %s and choose %s.",
				err, s.Commands.Start, s.Commands.FullSetup))
		}
		st.APIKey = key
		st.Step = session.AwaitingModelNameOnly
		e.save(st)
		return reply(modelPrompt)

	default:
		return reply("Invalid choice.\n" + menu(s.Commands))
	}
}

func (e *Engine) handleAPIKey(cmd config.CommandsConfig, st session.State, text string) Result {
	if !strings.HasPrefix(text, cmd.CredentialPrefix) {
		return reply("The API key format is invalid. " + keyPrompt(cmd.CredentialPrefix))
	}
	st.APIKey = strings.TrimSpace(text)
	st.Step = session.AwaitingModelName
	e.save(st)
	return reply(modelPrompt)
}

func (e *Engine) handleModelName(ctx context.Context, s Settings, st session.State, text string, mode domain.Mode) Result {
	name := strings.TrimSpace(text)
	if name == "" {
		return reply("The model name cannot be empty. " + modelPrompt)
	}
	st.ModelName = name

	// Claim the dialogue before writing. It ends whatever the outcome, and a
	// concurrent message for the same dialogue finds nothing to apply.
	if !e.sessions.DeleteIf(st.UserID, st.ID) {
		return Result{}
	}

	out, err := e.updater.Apply(ctx, domain.UpdateRequest{
		APIKey:    st.APIKey,
		APIURL:    st.APIURL,
		ModelName: st.ModelName,
		Mode:      mode,
		UserID:    st.UserID,
	})
	e.record(ctx, st, mode, out, err)
	if err != nil {
		return reply(updater.ErrorReport(err))
	}

	res := reply(updater.Report(out))
	if s.AutoReload && e.scheduler != nil {
		task, err := e.scheduler.Schedule(st.UserID)
		if err != nil {
			e.logger.Warn("reload not scheduled",
				slog.String("session_id", st.ID),
				slog.String("error", err.Error()))
		} else {
			res.Task = task
			res.Reply += "\n\nThe host will also be reloaded automatically. You will get a separate message with the result."
		}
	}
	return res
}

func (e *Engine) handleReload(ctx context.Context, userID string, scope reload.Scope) Result {
	if e.reloader == nil {
		return reply(fmt.Sprintf("Reload %s failed: no reload hook is configured", scope))
	}
	if err := reload.Run(ctx, e.reloader, scope); err != nil {
		e.logger.Warn("reload command failed",
			slog.String("user_id", userID),
			slog.String("scope", string(scope)),
			slog.String("error", err.Error()))
		return reply(fmt.Sprintf("Reload %s failed: %v", scope, err))
	}
	e.logger.Info("reload command completed",
		slog.String("user_id", userID),
		slog.String("scope", string(scope)))
	return reply(fmt.Sprintf("Reloaded %s.", scope))
}

func (e *Engine) save(st session.State) {
	if err := e.sessions.Update(st); err != nil {
		e.logger.Warn("session not saved",
			slog.String("session_id", st.ID),
			slog.String("error", err.Error()))
	}
}

func (e *Engine) record(ctx context.Context, st session.State, mode domain.Mode, out *domain.UpdateOutcome, err error) {
	if e.audit == nil {
		return
	}

	rec := &ports.AuditRecord{
		ID:        uuid.New().String(),
		SessionID: st.ID,
		UserID:    st.UserID,
		Mode:      mode.String(),
		ModelName: st.ModelName,
		Status:    ports.AuditStatusSucceeded,
		CreatedAt: time.Now().UTC(),
	}
	if out != nil {
		rec.ModelExisted = out.ModelExisted
		rec.RegistryBackup = out.RegistryBackup
		rec.ProviderBackup = out.ProviderBackup
	}
	if err != nil {
		rec.Status = ports.AuditStatusFailed
		rec.ErrorKind = string(domain.KindOf(err))
		rec.ErrorMessage = err.Error()
		rec.ProviderBackup = domain.BackupOf(err)
	}

	if err := e.audit.RecordUpdate(context.WithoutCancel(ctx), rec); err != nil {
		e.logger.Error("failed to record update",
			slog.String("session_id", st.ID),
			slog.String("error", err.Error()))
	}
}

func maintenanceScope(cmd config.CommandsConfig, text string) (reload.Scope, bool) {
	switch {
	case text == "":
		return "", false
	case text == cmd.ReloadPlugins:
		return reload.ScopePlugins, true
	case text == cmd.ReloadPlatform:
		return reload.ScopePlatform, true
	case text == cmd.ReloadProviders:
		return reload.ScopeProviders, true
	}
	return "", false
}

func reply(text string) Result {
	return Result{Handled: true, Reply: text}
}

const (
	privacyWarning = "To keep your API key safe, send configuration commands to the bot in a private chat."
	modelPrompt    = "Enter the model name, for example gpt-4o or deepseek-r1."
)

func menu(cmd config.CommandsConfig) string {
	return fmt.Sprintf("What would you like to update?\n%s = full setup (API key, base URL and model)\n%s = change model only",
		cmd.FullSetup, cmd.ModelOnly)
}

func keyPrompt(prefix string) string {
	return fmt.Sprintf("Enter your API key. It must start with %s, for example %sxxxxxxxx.", prefix, prefix)
}
