package jetveto

import (
	_ "embed"
	"sync"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed profiles.yaml
var profilesYAML []byte

// Profile is a named era and correction pair.
type Profile struct {
	Name       string `yaml:"name"`
	Era        string `yaml:"era"`
	Correction string `yaml:"correction"`
	Mode       Mode   `yaml:"mode"`
	IsMC       bool   `yaml:"is_mc"`
}

// Config returns the producer configuration for the profile.
func (p Profile) Config() Config {
	return Config{
		IsMC:           p.IsMC,
		Era:            p.Era,
		CorrectionName: p.Correction,
		VetoMapName:    DefaultVetoMapName,
		Mode:           p.Mode,
	}
}

var (
	profilesOnce sync.Once
	profiles     []Profile
	profilesErr  error
)

func loadProfiles() ([]Profile, error) {
	profilesOnce.Do(func() {
		profiles, profilesErr = parseProfiles(profilesYAML)
	})
	return profiles, profilesErr
}

func parseProfiles(data []byte) ([]Profile, error) {
	var doc struct {
		Profiles []Profile `yaml:"profiles"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "jetveto: parse profiles")
	}
	seen := make(map[string]bool, len(doc.Profiles))
	for _, p := range doc.Profiles {
		if p.Name == "" || p.Era == "" || p.Correction == "" {
			return nil, eris.Errorf("jetveto: incomplete profile %+v", p)
		}
		if seen[p.Name] {
			return nil, eris.Errorf("jetveto: duplicate profile %q", p.Name)
		}
		if _, err := ParseMode(string(p.Mode)); err != nil {
			return nil, eris.Wrapf(err, "profile %q", p.Name)
		}
		seen[p.Name] = true
	}
	return doc.Profiles, nil
}

// Profiles returns the built-in profiles.
func Profiles() []Profile {
	ps, err := loadProfiles()
	if err != nil {
		// The table is embedded; a parse failure is a build defect.
		panic(err)
	}
	out := make([]Profile, len(ps))
	copy(out, ps)
	return out
}

// LookupProfile returns the built-in profile with the given name.
func LookupProfile(name string) (Profile, error) {
	for _, p := range Profiles() {
		if p.Name == name {
			return p, nil
		}
	}
	return Profile{}, eris.Wrapf(ErrConfig, "unknown profile %q", name)
}
