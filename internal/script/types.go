package script

// Script is one manifest entry: a command id bound to a source file and
// its display metadata.
type Script struct {
	ID             string `yaml:"id"`
	DisplayText    string `yaml:"display_text"`
	DisplayTooltip string `yaml:"display_tooltip,omitempty"`
	SourceFile     string `yaml:"source_file"`
	RunAtStartup   bool   `yaml:"run_at_startup,omitempty"`
	Disabled       bool   `yaml:"disabled,omitempty"`
}

// Meta is the display-safe projection of a Script handed to sandboxed
// code and list views. It carries no source and no internal flags
// beyond what the UI needs.
type Meta struct {
	ID             string
	DisplayText    string
	DisplayTooltip string
}

// meta builds the display-safe projection.
func (s Script) meta() Meta {
	return Meta{
		ID:             s.ID,
		DisplayText:    s.DisplayText,
		DisplayTooltip: s.DisplayTooltip,
	}
}

// ChangeKind describes what the watcher observed for a script.
type ChangeKind string

const (
	// ChangeUpdated means the script's source or manifest entry changed.
	ChangeUpdated ChangeKind = "updated"

	// ChangeRemoved means the script left the manifest.
	ChangeRemoved ChangeKind = "removed"

	// ChangeDisabled means the script was disabled in the manifest.
	ChangeDisabled ChangeKind = "disabled"
)

// Change is one watcher observation.
type Change struct {
	ID   string
	Kind ChangeKind
}
