// Package config loads and saves the project file and the small
// cross-project application-state file, using viper to layer defaults
// under whatever a project file on disk actually specifies.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/oscillo/scopewatch/model"
	"github.com/oscillo/scopewatch/recordfmt"
)

// Default values.
const (
	DefaultSpeedKHz       = 4000
	DefaultPollRateHz     = 100
	DefaultTimeoutMs      = 100
	DefaultMaxDataPoints  = 10_000
	DefaultChannelBufSize = 1024
	DefaultMaxRecentFiles = 10
)

// Protocol names the wire protocol a probe selector is expected to speak.
type Protocol string

const (
	ProtocolSwd Protocol = "swd"
	ProtocolJtag Protocol = "jtag"
)

// ConnectUnderReset names the reset-policy-on-attach options.
type ConnectUnderReset string

const (
	ResetNone   ConnectUnderReset = "none"
	ResetHalt   ConnectUnderReset = "halt"
	ResetHard   ConnectUnderReset = "hard"
)

// ProbeConfig describes how to connect to the target.
type ProbeConfig struct {
	ProbeSelector     string            `json:"probe_selector"`
	TargetChip        string            `json:"target_chip"`
	SpeedKHz          int               `json:"speed_khz"`
	Protocol          Protocol          `json:"protocol"`
	ConnectUnderReset ConnectUnderReset `json:"connect_under_reset"`
	HaltOnConnect     bool              `json:"halt_on_connect"`
}

// Persistence describes the optional to-disk record sink.
type Persistence struct {
	Enabled             bool             `json:"enabled"`
	FilePath            string           `json:"file_path"`
	MaxFileSizeBytes    int64            `json:"max_file_size_bytes"`
	IncludeVariableName bool             `json:"include_variable_name"`
	IncludeVariableAddr bool             `json:"include_variable_address"`
	Format              recordfmt.Format `json:"format"`
	AppendMode          bool             `json:"append_mode"`
}

// CollectionConfig holds the sampling/runtime defaults.
type CollectionConfig struct {
	PollRateHz     float64          `json:"poll_rate_hz"`
	TimeoutMs      int              `json:"timeout_ms"`
	MaxDataPoints  int              `json:"max_data_points"`
	LogToFile      bool             `json:"log_to_file"`
	LogFilePath    string           `json:"log_file_path"`
	LogFormat      recordfmt.Format `json:"log_format"`
	ChannelBufSize int              `json:"channel_buffer_size"`
}

// UIConfig holds presentation preferences the core persists but never
// interprets; they are opaque to everything but the UI layer.
type UIConfig struct {
	PanelSizes map[string]float64 `json:"panel_sizes"`
	PlotThemes map[string]string  `json:"plot_themes"`
	ShowLegend bool               `json:"show_legend"`
}

// ProjectInner is the "config" object nested inside a Project file.
type ProjectInner struct {
	Probe      ProbeConfig      `json:"probe"`
	Variables  []model.Variable `json:"variables"`
	UI         UIConfig         `json:"ui"`
	Collection CollectionConfig `json:"collection"`
}

// Project is the top-level project file schema.
type Project struct {
	Version     int          `json:"version"`
	Name        string       `json:"name"`
	Config      ProjectInner `json:"config"`
	BinaryPath  string       `json:"binary_path,omitempty"`
	Persistence Persistence  `json:"persistence"`
}

// DefaultProject returns a Project seeded with this package's documented
// defaults, ready for a caller to layer variables onto.
func DefaultProject(name string) *Project {
	return &Project{
		Version: 1,
		Name:    name,
		Config: ProjectInner{
			Probe: ProbeConfig{
				SpeedKHz:          DefaultSpeedKHz,
				Protocol:          ProtocolSwd,
				ConnectUnderReset: ResetNone,
				HaltOnConnect:     false,
			},
			UI: UIConfig{ShowLegend: true},
			Collection: CollectionConfig{
				PollRateHz:     DefaultPollRateHz,
				TimeoutMs:      DefaultTimeoutMs,
				MaxDataPoints:  DefaultMaxDataPoints,
				LogFormat:      recordfmt.FormatCSV,
				ChannelBufSize: DefaultChannelBufSize,
			},
		},
	}
}

// applyDefaults seeds v with DefaultProject's values before the file (if
// any) is read, the way the example pack's Load functions call
// v.SetDefault per field ahead of v.ReadInConfig.
func applyDefaults(v *viper.Viper, def *Project) {
	v.SetDefault("version", def.Version)
	v.SetDefault("config.probe.speed_khz", def.Config.Probe.SpeedKHz)
	v.SetDefault("config.probe.protocol", def.Config.Probe.Protocol)
	v.SetDefault("config.probe.connect_under_reset", def.Config.Probe.ConnectUnderReset)
	v.SetDefault("config.probe.halt_on_connect", def.Config.Probe.HaltOnConnect)
	v.SetDefault("config.ui.show_legend", def.Config.UI.ShowLegend)
	v.SetDefault("config.collection.poll_rate_hz", def.Config.Collection.PollRateHz)
	v.SetDefault("config.collection.timeout_ms", def.Config.Collection.TimeoutMs)
	v.SetDefault("config.collection.max_data_points", def.Config.Collection.MaxDataPoints)
	v.SetDefault("config.collection.log_format", string(def.Config.Collection.LogFormat))
	v.SetDefault("config.collection.channel_buffer_size", def.Config.Collection.ChannelBufSize)
}

// Load reads a project file from path, applying this package's documented
// defaults for any field the file omits.
func Load(path string) (*Project, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	def := DefaultProject(filepath.Base(path))
	applyDefaults(v, def)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read project file %s: %w", path, err)
	}

	var p Project
	if err := decodeSettings(v, &p); err != nil {
		return nil, fmt.Errorf("config: unmarshal project file %s: %w", path, err)
	}
	return &p, nil
}

// decodeSettings re-encodes v's merged settings (file contents layered
// over the defaults applyDefaults seeded) and decodes them through
// encoding/json rather than viper's own mapstructure-based Unmarshal.
// Variable's Type field needs its custom MarshalJSON/UnmarshalJSON pair
// to round-trip, and mapstructure never calls it; going through
// encoding/json also means every struct field's json tag, not a
// separate mapstructure tag, is what governs decoding.
func decodeSettings(v *viper.Viper, out any) error {
	raw, err := json.Marshal(v.AllSettings())
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// Save writes p to path as JSON (viper's in-memory Set/WriteConfigAs
// round-trips through the same tags Load reads, so the written file is
// itself loadable).
func Save(path string, p *Project) error {
	v := viper.New()
	v.SetConfigType("json")
	v.Set("version", p.Version)
	v.Set("name", p.Name)
	v.Set("config", p.Config)
	v.Set("binary_path", p.BinaryPath)
	v.Set("persistence", p.Persistence)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create project directory: %w", err)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("config: write project file %s: %w", path, err)
	}
	return nil
}

// RecentProject is one entry of the app-state recent-projects list.
type RecentProject struct {
	Path       string `json:"path"`
	Name       string `json:"name"`
	LastOpened string `json:"last_opened"` // RFC3339
}

// AppState is the small cross-project state file persisted outside any
// single project: recent projects, last target, UI prefs.
type AppState struct {
	Version           int               `json:"version"`
	RecentProjects    []RecentProject   `json:"recent_projects"`
	LastProjectPath   string            `json:"last_project_path,omitempty"`
	LastTargetChip    string            `json:"last_target_chip,omitempty"`
	LastProbeSelector string            `json:"last_probe_selector,omitempty"`
	UIPreferences     map[string]string `json:"ui_preferences,omitempty"`
}

// LoadAppState reads the app-state file at path, returning a fresh
// AppState (not an error) if the file does not yet exist, since first run
// has none.
func LoadAppState(path string) (*AppState, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetDefault("version", 1)

	if _, err := os.Stat(path); err != nil {
		return &AppState{Version: 1}, nil
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read app state %s: %w", path, err)
	}
	var s AppState
	if err := decodeSettings(v, &s); err != nil {
		return nil, fmt.Errorf("config: unmarshal app state %s: %w", path, err)
	}
	return &s, nil
}

// SaveAppState writes s to path as JSON.
func SaveAppState(path string, s *AppState) error {
	v := viper.New()
	v.SetConfigType("json")
	v.Set("version", s.Version)
	v.Set("recent_projects", s.RecentProjects)
	v.Set("last_project_path", s.LastProjectPath)
	v.Set("last_target_chip", s.LastTargetChip)
	v.Set("last_probe_selector", s.LastProbeSelector)
	v.Set("ui_preferences", s.UIPreferences)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create app state directory: %w", err)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("config: write app state %s: %w", path, err)
	}
	return nil
}

// PushRecentProject records path as the most-recently-opened project,
// deduplicating by path and capping the list at DefaultMaxRecentFiles
// entries, most-recent-first.
func (s *AppState) PushRecentProject(entry RecentProject) {
	filtered := s.RecentProjects[:0:0]
	for _, existing := range s.RecentProjects {
		if existing.Path != entry.Path {
			filtered = append(filtered, existing)
		}
	}
	s.RecentProjects = append([]RecentProject{entry}, filtered...)
	if len(s.RecentProjects) > DefaultMaxRecentFiles {
		s.RecentProjects = s.RecentProjects[:DefaultMaxRecentFiles]
	}
	s.LastProjectPath = entry.Path
}
