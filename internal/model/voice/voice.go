package voice

// Engine tags the synthesis backend of a voice.
const (
	EnginePiper      = "piper"
	EngineVolcengine = "volcengine"
)

// Entry is the public catalog metadata exposed to the frontend.
type Entry struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Engine      string `json:"engine"`
	IsDefault   bool   `json:"is_default"`
}

// SynthesisParams tunes a local piper voice. Zero values keep the model defaults.
type SynthesisParams struct {
	SpeakerID   *int     `yaml:"speaker_id" json:"speaker_id,omitempty"`
	LengthScale *float64 `yaml:"length_scale" json:"length_scale,omitempty"`
	NoiseScale  *float64 `yaml:"noise_scale" json:"noise_scale,omitempty"`
	NoiseWScale *float64 `yaml:"noise_w_scale" json:"noise_w_scale,omitempty"`
	Volume      *float64 `yaml:"volume" json:"volume,omitempty"`
}

// Source is one voice personality as configured on disk, with model paths
// resolved against the model root.
type Source struct {
	ID             string          `yaml:"id"`
	Label          string          `yaml:"label"`
	Description    string          `yaml:"description"`
	Engine         string          `yaml:"engine"`
	ModelFilename  string          `yaml:"model_filename"`
	ConfigFilename string          `yaml:"config_filename"`
	Speaker        string          `yaml:"speaker"`
	Synthesis      SynthesisParams `yaml:"synthesis"`

	ModelPath  string `yaml:"-"`
	ConfigPath string `yaml:"-"`
	File       string `yaml:"-"`
}

// Entry converts the source into catalog metadata.
func (s Source) Entry(isDefault bool) Entry {
	return Entry{
		ID:          s.ID,
		Label:       s.Label,
		Description: s.Description,
		Engine:      s.Engine,
		IsDefault:   isDefault,
	}
}
