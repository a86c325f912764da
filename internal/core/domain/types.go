// Package domain holds the core types shared by the conversation engine and
// the config updater.
package domain

// Mode selects which parts of the provider document an update rewrites.
type Mode string

const (
	// ModeFullSetup rewrites the credential list, the routing base URL and the
	// active model.
	ModeFullSetup Mode = "full_setup"

	// ModeModelOnly changes only the active model.
	ModeModelOnly Mode = "model_only"
)

func (m Mode) String() string {
	return string(m)
}

// ModelRecord is one entry of the model registry `list`.
type ModelRecord struct {
	ModelName         string `json:"model_name"`
	DisplayName       string `json:"name"`
	ToolCallSupported bool   `json:"tool_call_supported"`
	VisionSupported   bool   `json:"vision_supported"`
}

// UpdateRequest is the input of a configuration update.
type UpdateRequest struct {
	APIKey    string
	APIURL    string
	ModelName string
	Mode      Mode

	// UserID is only used for logging and auditing.
	UserID string
}

// Change describes one modification applied by an update.
type Change struct {
	Document string // "registry" or "provider"
	Field    string
	Detail   string
}

// UpdateOutcome is the result of a successful update.
type UpdateOutcome struct {
	Mode        Mode
	ModelName   string
	DisplayName string // <namespace>/<modelName>
	ModelRef    string // value written to the provider `model` field

	// ModelExisted is set when the registry already held a managed record
	// with the same display name.
	ModelExisted bool

	// ProviderCreated is set when FullSetup had to synthesise a provider
	// document because none existed.
	ProviderCreated bool

	RegistryBackup string
	ProviderBackup string

	Changes []Change
}
