package voice

// Profile is an immutable voice catalog entry. Profiles are defined
// statically and never mutated at runtime.
type Profile struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Language    string `json:"language"`
	Gender      string `json:"gender"`
	SizeLabel   string `json:"size"`
	Quality     string `json:"quality"`
	Category    string `json:"category"` // "therapeutic" or "natural"
	Icon        string `json:"icon"`
	Description string `json:"description"`
	ModelPath   string `json:"model_path"`
	Recommended bool   `json:"recommended"`
}

var catalog = []Profile{
	{
		ID:          "amy-warm",
		Name:        "Amy",
		Language:    "en-US",
		Gender:      "female",
		SizeLabel:   "medium",
		Quality:     "high",
		Category:    "therapeutic",
		Icon:        "🌸",
		Description: "Warm, steady voice suited to reflective conversations.",
		ModelPath:   "en/en_US/amy/medium/en_US-amy-medium",
		Recommended: true,
	},
	{
		ID:          "ryan-calm",
		Name:        "Ryan",
		Language:    "en-US",
		Gender:      "male",
		SizeLabel:   "medium",
		Quality:     "high",
		Category:    "therapeutic",
		Icon:        "🌊",
		Description: "Low, unhurried voice for guided breathing and check-ins.",
		ModelPath:   "en/en_US/ryan/medium/en_US-ryan-medium",
	},
	{
		ID:          "jenny-natural",
		Name:        "Jenny",
		Language:    "en-GB",
		Gender:      "female",
		SizeLabel:   "small",
		Quality:     "standard",
		Category:    "natural",
		Icon:        "🎙️",
		Description: "Bright conversational voice for everyday journaling.",
		ModelPath:   "en/en_GB/jenny_dioco/medium/en_GB-jenny_dioco-medium",
	},
	{
		ID:          "alba-natural",
		Name:        "Alba",
		Language:    "en-GB",
		Gender:      "female",
		SizeLabel:   "small",
		Quality:     "standard",
		Category:    "natural",
		Icon:        "🍃",
		Description: "Soft Scottish voice, lighter model for slower devices.",
		ModelPath:   "en/en_GB/alba/medium/en_GB-alba-medium",
	},
}

// Voices returns a copy of the static voice catalog.
func Voices() []Profile {
	out := make([]Profile, len(catalog))
	copy(out, catalog)
	return out
}

// ProfileByID looks up a catalog entry; ok is false for unknown ids.
func ProfileByID(id string) (Profile, bool) {
	for _, p := range catalog {
		if p.ID == id {
			return p, true
		}
	}
	return Profile{}, false
}

// DefaultProfile returns the recommended catalog entry.
func DefaultProfile() Profile {
	for _, p := range catalog {
		if p.Recommended {
			return p
		}
	}
	return catalog[0]
}
