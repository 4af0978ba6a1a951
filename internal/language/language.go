package language

import (
	"strings"

	"golang.org/x/text/language"
)

// MaxTagLength bounds the stored language tag.
const MaxTagLength = 16

// Undetermined is stored when the detected language cannot be mapped.
const Undetermined = "und"

type entry struct {
	code2   string   // ISO 639-1 (2-letter)
	code3   string   // ISO 639-2 primary (3-letter)
	alt3    string   // ISO 639-2 alternate (e.g. "fre" vs "fra")
	display string   // Human-readable name
	words   []string // Full word forms (e.g. "english")
}

var languages = []entry{
	{"en", "eng", "", "English", []string{"english"}},
	{"hi", "hin", "", "Hindi", []string{"hindi"}},
	{"bn", "ben", "", "Bengali", []string{"bengali", "bangla"}},
	{"ta", "tam", "", "Tamil", []string{"tamil"}},
	{"te", "tel", "", "Telugu", []string{"telugu"}},
	{"mr", "mar", "", "Marathi", []string{"marathi"}},
	{"ur", "urd", "", "Urdu", []string{"urdu"}},
	{"es", "spa", "", "Spanish", []string{"spanish"}},
	{"fr", "fra", "fre", "French", []string{"french"}},
	{"de", "deu", "ger", "German", []string{"german"}},
	{"it", "ita", "", "Italian", []string{"italian"}},
	{"pt", "por", "", "Portuguese", []string{"portuguese"}},
	{"ja", "jpn", "", "Japanese", []string{"japanese"}},
	{"ko", "kor", "", "Korean", []string{"korean"}},
	{"zh", "zho", "chi", "Chinese", []string{"chinese", "mandarin"}},
	{"ru", "rus", "", "Russian", []string{"russian"}},
	{"ar", "ara", "", "Arabic", []string{"arabic"}},
	{"nl", "nld", "dut", "Dutch", []string{"dutch"}},
	{"pl", "pol", "", "Polish", []string{"polish"}},
}

// Mixed-language names models like to answer with. They map onto the base
// language written in Latin script.
var romanized = map[string]string{
	"hinglish": "hi-Latn",
	"banglish": "bn-Latn",
	"tanglish": "ta-Latn",
}

// Index maps built at init time.
var (
	byCode2 map[string]*entry
	byCode3 map[string]*entry
	byWord  map[string]*entry
)

func init() {
	byCode2 = make(map[string]*entry, len(languages))
	byCode3 = make(map[string]*entry, len(languages)*2)
	byWord = make(map[string]*entry, len(languages))
	for i := range languages {
		e := &languages[i]
		byCode2[e.code2] = e
		byCode3[e.code3] = e
		if e.alt3 != "" {
			byCode3[e.alt3] = e
		}
		for _, w := range e.words {
			byWord[w] = e
		}
	}
}

func lookup(code string) *entry {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return nil
	}
	if e, ok := byCode2[code]; ok {
		return e
	}
	if e, ok := byCode3[code]; ok {
		return e
	}
	if e, ok := byWord[code]; ok {
		return e
	}
	return nil
}

// Normalize maps a detected language (a tag, an ISO code, or an English
// language name such as "Hindi" or "Hinglish") onto a canonical BCP 47 tag
// no longer than MaxTagLength. Input that cannot be mapped yields "und";
// empty input yields "".
func Normalize(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	word := strings.ToLower(value)
	// "Hindi (romanized)", "English, Hindi": keep the first named language.
	if idx := strings.IndexAny(word, "(,/;"); idx > 0 {
		word = strings.TrimSpace(word[:idx])
	}
	if tag, ok := romanized[word]; ok {
		return tag
	}
	if e := lookup(word); e != nil {
		return e.code2
	}
	tag, err := language.Parse(strings.ReplaceAll(word, "_", "-"))
	if err != nil || tag == language.Und {
		return Undetermined
	}
	// Keep language, script and region only; extensions and variants can
	// push a tag past the stored width.
	base, script, region := tag.Raw()
	trimmed, err := language.Compose(base, script, region)
	if err != nil {
		return Undetermined
	}
	canonical := trimmed.String()
	if len(canonical) > MaxTagLength {
		return Undetermined
	}
	return canonical
}

// ToISO2 converts any recognized language code or word to ISO 639-1 (2-letter).
// Returns empty string for unrecognized input.
// If the input is already a 2-letter code (even if unknown), it passes through.
func ToISO2(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return ""
	}
	if e := lookup(code); e != nil {
		return e.code2
	}
	if len(code) == 2 {
		return code
	}
	if tag, err := language.Parse(code); err == nil && tag != language.Und {
		base, _ := tag.Base()
		if iso := base.String(); len(iso) == 2 {
			return iso
		}
	}
	return ""
}

// DisplayName returns a human-readable language name for any recognized code.
// Returns "Unknown" for empty input, or the uppercased code for unrecognized input.
func DisplayName(code string) string {
	if strings.TrimSpace(code) == "" {
		return "Unknown"
	}
	if e := lookup(code); e != nil {
		return e.display
	}
	if base, _, ok := strings.Cut(strings.TrimSpace(code), "-"); ok {
		if e := lookup(base); e != nil {
			return e.display
		}
	}
	return strings.ToUpper(strings.TrimSpace(code))
}
