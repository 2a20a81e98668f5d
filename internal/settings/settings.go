// Package settings defines the flat configuration surface exposed to
// clients and the typed partial-update patch applied to the engine.
package settings

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Values is the full configuration snapshot: one named field per
// recognized setting key. The JSON names form the flat namespace clients
// see; the YAML names serve startup profiles.
type Values struct {
	// LLM settings.
	Model         string  `json:"model" yaml:"model"`
	Temperature   float64 `json:"temperature" yaml:"temperature"`
	APIKey        string  `json:"api_key" yaml:"api_key"`
	APIBase       string  `json:"api_base" yaml:"api_base"`
	MaxTokens     int     `json:"max_tokens" yaml:"max_tokens"`
	ContextWindow int     `json:"context_window" yaml:"context_window"`

	// Execution settings.
	AutoRun   bool   `json:"auto_run" yaml:"auto_run"`
	Verbose   bool   `json:"verbose" yaml:"verbose"`
	Debug     bool   `json:"debug" yaml:"debug"`
	Offline   bool   `json:"offline" yaml:"offline"`
	MaxOutput int    `json:"max_output" yaml:"max_output"`
	SafeMode  string `json:"safe_mode" yaml:"safe_mode"`

	// Display settings.
	ShrinkImages        bool `json:"shrink_images" yaml:"shrink_images"`
	MultiLine           bool `json:"multi_line" yaml:"multi_line"`
	PlainTextDisplay    bool `json:"plain_text_display" yaml:"plain_text_display"`
	HighlightActiveLine bool `json:"highlight_active_line" yaml:"highlight_active_line"`

	// Conversation settings.
	ConversationHistory    bool   `json:"conversation_history" yaml:"conversation_history"`
	ConversationFilename   string `json:"conversation_filename" yaml:"conversation_filename"`
	ContributeConversation bool   `json:"contribute_conversation" yaml:"contribute_conversation"`

	// Loop settings.
	Loop         bool     `json:"loop" yaml:"loop"`
	LoopMessage  string   `json:"loop_message" yaml:"loop_message"`
	LoopBreakers []string `json:"loop_breakers" yaml:"loop_breakers"`

	// Advanced settings.
	DisableTelemetry   bool   `json:"disable_telemetry" yaml:"disable_telemetry"`
	OSMode             bool   `json:"os" yaml:"os"`
	SpeakMessages      bool   `json:"speak_messages" yaml:"speak_messages"`
	SyncComputer       bool   `json:"sync_computer" yaml:"sync_computer"`
	ImportComputerAPI  bool   `json:"import_computer_api" yaml:"import_computer_api"`
	ImportSkills       bool   `json:"import_skills" yaml:"import_skills"`
	SkillsPath         string `json:"skills_path" yaml:"skills_path"`
	CustomInstructions string `json:"custom_instructions" yaml:"custom_instructions"`
	SystemMessage      string `json:"system_message" yaml:"system_message"`
}

// Patch is a partial update: only non-nil fields are applied. Unknown keys
// in an incoming payload are dropped by decoding, never rejected, so old
// servers tolerate new clients and vice versa.
type Patch struct {
	Model         *string  `json:"model,omitempty" yaml:"model"`
	Temperature   *float64 `json:"temperature,omitempty" yaml:"temperature"`
	APIKey        *string  `json:"api_key,omitempty" yaml:"api_key"`
	APIBase       *string  `json:"api_base,omitempty" yaml:"api_base"`
	MaxTokens     *int     `json:"max_tokens,omitempty" yaml:"max_tokens"`
	ContextWindow *int     `json:"context_window,omitempty" yaml:"context_window"`

	AutoRun   *bool   `json:"auto_run,omitempty" yaml:"auto_run"`
	Verbose   *bool   `json:"verbose,omitempty" yaml:"verbose"`
	Debug     *bool   `json:"debug,omitempty" yaml:"debug"`
	Offline   *bool   `json:"offline,omitempty" yaml:"offline"`
	MaxOutput *int    `json:"max_output,omitempty" yaml:"max_output"`
	SafeMode  *string `json:"safe_mode,omitempty" yaml:"safe_mode"`

	ShrinkImages        *bool `json:"shrink_images,omitempty" yaml:"shrink_images"`
	MultiLine           *bool `json:"multi_line,omitempty" yaml:"multi_line"`
	PlainTextDisplay    *bool `json:"plain_text_display,omitempty" yaml:"plain_text_display"`
	HighlightActiveLine *bool `json:"highlight_active_line,omitempty" yaml:"highlight_active_line"`

	ConversationHistory    *bool   `json:"conversation_history,omitempty" yaml:"conversation_history"`
	ConversationFilename   *string `json:"conversation_filename,omitempty" yaml:"conversation_filename"`
	ContributeConversation *bool   `json:"contribute_conversation,omitempty" yaml:"contribute_conversation"`

	Loop         *bool    `json:"loop,omitempty" yaml:"loop"`
	LoopMessage  *string  `json:"loop_message,omitempty" yaml:"loop_message"`
	LoopBreakers []string `json:"loop_breakers,omitempty" yaml:"loop_breakers"`

	DisableTelemetry   *bool   `json:"disable_telemetry,omitempty" yaml:"disable_telemetry"`
	OSMode             *bool   `json:"os,omitempty" yaml:"os"`
	SpeakMessages      *bool   `json:"speak_messages,omitempty" yaml:"speak_messages"`
	SyncComputer       *bool   `json:"sync_computer,omitempty" yaml:"sync_computer"`
	ImportComputerAPI  *bool   `json:"import_computer_api,omitempty" yaml:"import_computer_api"`
	ImportSkills       *bool   `json:"import_skills,omitempty" yaml:"import_skills"`
	SkillsPath         *string `json:"skills_path,omitempty" yaml:"skills_path"`
	CustomInstructions *string `json:"custom_instructions,omitempty" yaml:"custom_instructions"`
	SystemMessage      *string `json:"system_message,omitempty" yaml:"system_message"`
}

// ApplyTo writes every present field of the patch onto v, leaving absent
// fields untouched. No semantic validation happens here; a bad value
// surfaces when the engine uses it.
func (p Patch) ApplyTo(v *Values) {
	if p.Model != nil {
		v.Model = *p.Model
	}
	if p.Temperature != nil {
		v.Temperature = *p.Temperature
	}
	if p.APIKey != nil {
		v.APIKey = *p.APIKey
	}
	if p.APIBase != nil {
		v.APIBase = *p.APIBase
	}
	if p.MaxTokens != nil {
		v.MaxTokens = *p.MaxTokens
	}
	if p.ContextWindow != nil {
		v.ContextWindow = *p.ContextWindow
	}
	if p.AutoRun != nil {
		v.AutoRun = *p.AutoRun
	}
	if p.Verbose != nil {
		v.Verbose = *p.Verbose
	}
	if p.Debug != nil {
		v.Debug = *p.Debug
	}
	if p.Offline != nil {
		v.Offline = *p.Offline
	}
	if p.MaxOutput != nil {
		v.MaxOutput = *p.MaxOutput
	}
	if p.SafeMode != nil {
		v.SafeMode = *p.SafeMode
	}
	if p.ShrinkImages != nil {
		v.ShrinkImages = *p.ShrinkImages
	}
	if p.MultiLine != nil {
		v.MultiLine = *p.MultiLine
	}
	if p.PlainTextDisplay != nil {
		v.PlainTextDisplay = *p.PlainTextDisplay
	}
	if p.HighlightActiveLine != nil {
		v.HighlightActiveLine = *p.HighlightActiveLine
	}
	if p.ConversationHistory != nil {
		v.ConversationHistory = *p.ConversationHistory
	}
	if p.ConversationFilename != nil {
		v.ConversationFilename = *p.ConversationFilename
	}
	if p.ContributeConversation != nil {
		v.ContributeConversation = *p.ContributeConversation
	}
	if p.Loop != nil {
		v.Loop = *p.Loop
	}
	if p.LoopMessage != nil {
		v.LoopMessage = *p.LoopMessage
	}
	if p.LoopBreakers != nil {
		v.LoopBreakers = append([]string(nil), p.LoopBreakers...)
	}
	if p.DisableTelemetry != nil {
		v.DisableTelemetry = *p.DisableTelemetry
	}
	if p.OSMode != nil {
		v.OSMode = *p.OSMode
	}
	if p.SpeakMessages != nil {
		v.SpeakMessages = *p.SpeakMessages
	}
	if p.SyncComputer != nil {
		v.SyncComputer = *p.SyncComputer
	}
	if p.ImportComputerAPI != nil {
		v.ImportComputerAPI = *p.ImportComputerAPI
	}
	if p.ImportSkills != nil {
		v.ImportSkills = *p.ImportSkills
	}
	if p.SkillsPath != nil {
		v.SkillsPath = *p.SkillsPath
	}
	if p.CustomInstructions != nil {
		v.CustomInstructions = *p.CustomInstructions
	}
	if p.SystemMessage != nil {
		v.SystemMessage = *p.SystemMessage
	}
}

// Defaults returns the canonical engine defaults. A live engine reports its
// own settings; these seed fresh instances and tests.
func Defaults() Values {
	return Values{
		Model:               "gpt-4o",
		Temperature:         0,
		SafeMode:            "off",
		MaxOutput:           2800,
		HighlightActiveLine: true,
		ConversationHistory: true,
		LoopMessage:         "Proceed with the task. If the task is complete, say so.",
		LoopBreakers: []string{
			"The task is done.",
			"The task is impossible.",
			"Let me know what you'd like to do next.",
		},
		SystemMessage: "You are a capable assistant that can execute code on the user's machine to accomplish tasks.",
	}
}

// LoadProfile reads a YAML settings profile from disk. Profiles are partial:
// only the keys present in the file are applied at startup.
func LoadProfile(path string) (Patch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Patch{}, fmt.Errorf("read profile: %w", err)
	}
	var p Patch
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Patch{}, fmt.Errorf("parse profile %s: %w", path, err)
	}
	return p, nil
}
