package facts

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	"gopkg.in/yaml.v3"

	"github.com/probatio/probatio/internal/models"
)

//go:embed profiles/*.yaml
var embeddedProfiles embed.FS

// LevelVocabulary enumerates the terms the extractor may use at one level.
// Levels are cumulative; callers usually want Through, not a single level.
type LevelVocabulary struct {
	Level           int      `yaml:"level"`
	Predicates      []string `yaml:"predicates"`
	MetricNames     []string `yaml:"metric_names"`
	ConstraintKinds []string `yaml:"constraint_kinds"`
	RiskTypes       []string `yaml:"risk_types"`
}

// Vocabulary is one profile's controlled term set across all four levels.
type Vocabulary struct {
	Profile string            `yaml:"profile"`
	Version string            `yaml:"version"`
	Levels  []LevelVocabulary `yaml:"levels"`
}

func (v *Vocabulary) validate() error {
	if v.Profile == "" {
		return fmt.Errorf("vocabulary missing profile")
	}
	if v.Version == "" {
		return fmt.Errorf("vocabulary %s missing version", v.Profile)
	}
	if len(v.Levels) == 0 {
		return fmt.Errorf("vocabulary %s has no levels", v.Profile)
	}
	seen := map[int]bool{}
	for _, lv := range v.Levels {
		if lv.Level < models.ExtractionLevelMin || lv.Level > models.ExtractionLevelMax {
			return fmt.Errorf("vocabulary %s: level %d out of range", v.Profile, lv.Level)
		}
		if seen[lv.Level] {
			return fmt.Errorf("vocabulary %s: duplicate level %d", v.Profile, lv.Level)
		}
		seen[lv.Level] = true
	}
	if !seen[models.ExtractionLevelMin] {
		return fmt.Errorf("vocabulary %s: level 1 is required", v.Profile)
	}
	return nil
}

// Through returns the cumulative vocabulary for levels 1..level. Level k
// enumerates everything level k-1 does plus its own additions, which is what
// makes the level hierarchy monotone.
func (v *Vocabulary) Through(level int) LevelVocabulary {
	out := LevelVocabulary{Level: level}
	for _, lv := range v.Levels {
		if lv.Level > level {
			continue
		}
		out.Predicates = appendUnique(out.Predicates, lv.Predicates)
		out.MetricNames = appendUnique(out.MetricNames, lv.MetricNames)
		out.ConstraintKinds = appendUnique(out.ConstraintKinds, lv.ConstraintKinds)
		out.RiskTypes = appendUnique(out.RiskTypes, lv.RiskTypes)
	}
	return out
}

func appendUnique(dst, src []string) []string {
	seen := make(map[string]bool, len(dst))
	for _, s := range dst {
		seen[s] = true
	}
	for _, s := range src {
		if !seen[s] {
			dst = append(dst, s)
			seen[s] = true
		}
	}
	return dst
}

// VocabularySet holds the loaded vocabulary per profile.
type VocabularySet struct {
	vocabularies map[models.ExtractionProfile]*Vocabulary
}

// LoadVocabularies loads the embedded profile vocabularies, then overlays any
// <profile>.yaml files found in dir. An empty or missing dir means embedded
// only; a present but broken override file is an error, not a silent skip.
func LoadVocabularies(logger arbor.ILogger, dir string) (*VocabularySet, error) {
	set := &VocabularySet{vocabularies: make(map[models.ExtractionProfile]*Vocabulary)}

	entries, err := embeddedProfiles.ReadDir("profiles")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded vocabularies: %w", err)
	}
	for _, entry := range entries {
		data, err := embeddedProfiles.ReadFile("profiles/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read embedded vocabulary %s: %w", entry.Name(), err)
		}
		if err := set.add(data); err != nil {
			return nil, fmt.Errorf("embedded vocabulary %s: %w", entry.Name(), err)
		}
	}

	if dir != "" {
		overrides, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
		if err != nil {
			return nil, fmt.Errorf("failed to scan vocabulary dir %s: %w", dir, err)
		}
		for _, path := range overrides {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read vocabulary %s: %w", path, err)
			}
			if err := set.add(data); err != nil {
				return nil, fmt.Errorf("vocabulary %s: %w", path, err)
			}
			logger.Info().Str("path", path).Msg("Loaded vocabulary override")
		}
	}

	return set, nil
}

func (s *VocabularySet) add(data []byte) error {
	var vocab Vocabulary
	if err := yaml.Unmarshal(data, &vocab); err != nil {
		return fmt.Errorf("invalid YAML: %w", err)
	}
	if err := vocab.validate(); err != nil {
		return err
	}
	s.vocabularies[models.ExtractionProfile(vocab.Profile)] = &vocab
	return nil
}

// Get returns the vocabulary for a profile.
func (s *VocabularySet) Get(profile models.ExtractionProfile) (*Vocabulary, error) {
	vocab, ok := s.vocabularies[profile]
	if !ok {
		return nil, fmt.Errorf("unknown extraction profile %q", profile)
	}
	return vocab, nil
}

// Profiles lists the loaded profile names.
func (s *VocabularySet) Profiles() []models.ExtractionProfile {
	out := make([]models.ExtractionProfile, 0, len(s.vocabularies))
	for p := range s.vocabularies {
		out = append(out, p)
	}
	return out
}
