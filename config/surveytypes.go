package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/samber/lo"
	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// SurveyType describes one configured survey product: the name submissions
// reference and the AGOL items the engine materializes layers from.
type SurveyType struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	LayerItems  []string `json:"layer_items"`
	// GridzoneFile is a server-side workbook used when the submission does
	// not carry one.
	GridzoneFile string `json:"gridzone_file,omitempty"`
}

// SurveyTypeSet is the loaded survey catalogue keyed by lower-cased name.
type SurveyTypeSet struct {
	types map[string]SurveyType
}

type surveyDefinitionFile struct {
	SurveyTypes []SurveyType `json:"survey_types"`
}

// LoadSurveyTypes reads the survey definitions JSON file.
func LoadSurveyTypes(path string) (*SurveyTypeSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read survey definitions: %w", err)
	}

	var defs surveyDefinitionFile
	if err := json.Unmarshal(raw, &defs); err != nil {
		return nil, fmt.Errorf("parse survey definitions: %w", err)
	}
	if len(defs.SurveyTypes) == 0 {
		return nil, fmt.Errorf("survey definitions %s lists no survey types", path)
	}

	set := &SurveyTypeSet{types: make(map[string]SurveyType, len(defs.SurveyTypes))}
	for _, st := range defs.SurveyTypes {
		name := strings.ToLower(strings.TrimSpace(st.Name))
		if name == "" {
			return nil, fmt.Errorf("survey definitions %s contains an unnamed survey type", path)
		}
		set.types[name] = st
	}
	return set, nil
}

// NewSurveyTypeSet builds a catalogue from the given definitions.
func NewSurveyTypeSet(types ...SurveyType) *SurveyTypeSet {
	set := &SurveyTypeSet{types: make(map[string]SurveyType, len(types))}
	for _, st := range types {
		set.types[strings.ToLower(strings.TrimSpace(st.Name))] = st
	}
	return set
}

// Get returns the survey type for name, case-insensitively.
func (s *SurveyTypeSet) Get(name string) (SurveyType, bool) {
	st, ok := s.types[strings.ToLower(strings.TrimSpace(name))]
	return st, ok
}

// Names returns the configured survey type names, sorted.
func (s *SurveyTypeSet) Names() []string {
	names := lo.Keys(s.types)
	sort.Strings(names)
	return names
}

// Closest returns the configured name nearest to the given one, for
// did-you-mean rejection messages. Empty when the set is empty.
func (s *SurveyTypeSet) Closest(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	best := ""
	bestDist := -1
	for _, candidate := range s.Names() {
		dist := levenshtein.DistanceForStrings([]rune(name), []rune(candidate), levenshtein.DefaultOptions)
		if bestDist < 0 || dist < bestDist {
			best = candidate
			bestDist = dist
		}
	}
	return best
}
