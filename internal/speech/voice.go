// Package speech turns reply text into audible speech. Voice selection is
// deterministic over the engine's catalog, and a new utterance always cancels
// the one in flight before speaking.
package speech

import "strings"

// Voice is one synthesis voice offered by an engine.
type Voice struct {
	Name     string // display name, e.g. "Celeste"
	Model    string // engine model id, e.g. "aura-2-celeste-es"
	Language string // BCP 47 tag, e.g. "es-ES"
}

// Profile is the speaking configuration applied to every utterance.
type Profile struct {
	Voice    Voice
	Pitch    float64
	Rate     float64
	Language string
}

// DefaultProfile returns the assistant's speaking profile for v.
func DefaultProfile(v Voice) Profile {
	return Profile{Voice: v, Pitch: 1.3, Rate: 1.1, Language: "es-ES"}
}

// Voices whose names suggest a register the assistant does not use.
var excludedVoiceNames = []string{
	"pablo", "raul", "paco", "jose", "microsoft david", "jorge",
	"male", "masculino", "guy",
}

// SelectVoice picks the assistant's voice from catalog. preferred, when
// non-empty, wins on a case-insensitive name match. Otherwise Spanish voices
// are filtered through the exclusion list and the second survivor is chosen;
// the selection is stable for a stable catalog.
func SelectVoice(catalog []Voice, preferred string) (Voice, bool) {
	if len(catalog) == 0 {
		return Voice{}, false
	}

	if preferred != "" {
		want := strings.ToLower(preferred)
		for _, v := range catalog {
			if strings.Contains(strings.ToLower(v.Name), want) {
				return v, true
			}
		}
	}

	var spanish []Voice
	for _, v := range catalog {
		if strings.HasPrefix(strings.ToLower(v.Language), "es") {
			spanish = append(spanish, v)
		}
	}

	var candidates []Voice
	for _, v := range spanish {
		name := strings.ToLower(v.Name)
		excluded := false
		for _, bad := range excludedVoiceNames {
			if strings.Contains(name, bad) {
				excluded = true
				break
			}
		}
		if !excluded {
			candidates = append(candidates, v)
		}
	}

	switch {
	case len(candidates) >= 2:
		return candidates[1], true
	case len(candidates) == 1:
		return candidates[0], true
	case len(spanish) > 0:
		return spanish[0], true
	default:
		return catalog[0], true
	}
}
