package live

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/eleven-am/voice-live/internal/shared"
	"github.com/eleven-am/voice-live/internal/transport"
)

// ProfilesFile is the on-disk form of the instruction profiles.
//
//	voice: Kore
//	profiles:
//	  conversation:
//	    instruction: |
//	      You are a helpful assistant.
//	  dictation:
//	    voice: Puck
//	    modalities: [AUDIO]
type ProfilesFile struct {
	Voice    string                 `yaml:"voice"`
	Profiles map[string]ProfileFile `yaml:"profiles"`
}

type ProfileFile struct {
	Instruction string   `yaml:"instruction"`
	Voice       string   `yaml:"voice"`
	Modalities  []string `yaml:"modalities"`
}

// LoadProfiles reads a profiles file and overlays it on the defaults. Fields
// left empty in the file keep their default value.
func LoadProfiles(path string) (Profiles, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles file %s: %w", path, err)
	}

	var file ProfilesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse profiles file %s: %w", path, err)
	}

	profiles, err := file.Apply(DefaultProfiles())
	if err != nil {
		return nil, fmt.Errorf("profiles file %s: %w", path, err)
	}
	return profiles, nil
}

func (f ProfilesFile) Apply(base Profiles) (Profiles, error) {
	out := make(Profiles, len(base))
	for mode, p := range base {
		if f.Voice != "" && p.Voice == "" {
			p.Voice = f.Voice
		}
		out[mode] = p
	}

	for name, pf := range f.Profiles {
		mode, err := shared.ParseMode(name)
		if err != nil {
			return nil, err
		}
		p := out[mode]
		p.Mode = mode
		if pf.Instruction != "" {
			p.Instruction = pf.Instruction
		}
		if pf.Voice != "" {
			p.Voice = pf.Voice
		}
		if len(pf.Modalities) > 0 {
			p.Modalities = make([]transport.Modality, 0, len(pf.Modalities))
			for _, m := range pf.Modalities {
				modality := transport.Modality(strings.ToUpper(m))
				if modality != transport.ModalityAudio && modality != transport.ModalityText {
					return nil, fmt.Errorf("profile %s: unknown modality %q", mode, m)
				}
				p.Modalities = append(p.Modalities, modality)
			}
		}
		out[mode] = p
	}

	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}
