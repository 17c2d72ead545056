package language

import (
	"strings"

	"golang.org/x/text/language"
)

type entry struct {
	code2     string   // ISO 639-1
	code3     string   // ISO 639-2/T
	alt3      string   // ISO 639-2/B when it differs ("fre" vs "fra")
	tesseract string   // traineddata name
	display   string   // Human-readable name
	words     []string // Full word forms (e.g. "english")
}

var languages = []entry{
	{"en", "eng", "", "eng", "English", []string{"english"}},
	{"fr", "fra", "fre", "fra", "French", []string{"french", "français", "francais"}},
	{"de", "deu", "ger", "deu", "German", []string{"german", "deutsch"}},
	{"es", "spa", "", "spa", "Spanish", []string{"spanish", "español"}},
	{"it", "ita", "", "ita", "Italian", []string{"italian", "italiano"}},
	{"pt", "por", "", "por", "Portuguese", []string{"portuguese"}},
	{"nl", "nld", "dut", "nld", "Dutch", []string{"dutch"}},
	{"la", "lat", "", "lat", "Latin", []string{"latin"}},
	{"el", "ell", "gre", "ell", "Greek", []string{"greek"}},
	{"ru", "rus", "", "rus", "Russian", []string{"russian"}},
	{"pl", "pol", "", "pol", "Polish", []string{"polish"}},
	{"sv", "swe", "", "swe", "Swedish", []string{"swedish"}},
	{"da", "dan", "", "dan", "Danish", []string{"danish"}},
	{"no", "nor", "", "nor", "Norwegian", []string{"norwegian"}},
	{"fi", "fin", "", "fin", "Finnish", []string{"finnish"}},
	{"ja", "jpn", "", "jpn", "Japanese", []string{"japanese"}},
	{"zh", "zho", "chi", "chi_sim", "Chinese", []string{"chinese"}},
	{"ar", "ara", "", "ara", "Arabic", []string{"arabic"}},
}

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

// lookup accepts ISO codes, words and BCP 47 tags such as "en-GB".
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
	if tag, err := language.Parse(code); err == nil {
		base, _ := tag.Base()
		if e, ok := byCode2[base.String()]; ok {
			return e
		}
		if e, ok := byCode3[base.ISO3()]; ok {
			return e
		}
	}
	return nil
}

// ToISO2 converts any recognized language code or word to ISO 639-1.
// Returns empty string for unrecognized input. Unknown 2-letter codes pass
// through.
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
	return ""
}

// ToISO3 converts any recognized language code to ISO 639-2.
// Returns "und" for unrecognized input that is not already 3 letters.
func ToISO3(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return "und"
	}
	if e := lookup(code); e != nil {
		return e.code3
	}
	if len(code) == 3 {
		return code
	}
	return "und"
}

// Tesseract returns the traineddata name used to recognise text in the given
// language, or "" when no model is known.
func Tesseract(code string) string {
	if e := lookup(code); e != nil {
		return e.tesseract
	}
	return ""
}

// DisplayName returns a human-readable language name for any recognized code.
func DisplayName(code string) string {
	if strings.TrimSpace(code) == "" {
		return "Unknown"
	}
	if e := lookup(code); e != nil {
		return e.display
	}
	return strings.ToUpper(strings.TrimSpace(code))
}

// CanonicalTag validates a BCP 47 language tag and returns its canonical
// form ("EN-gb" becomes "en-GB"). Word forms are accepted for known languages.
func CanonicalTag(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	if e, ok := byWord[strings.ToLower(value)]; ok {
		return e.code2, true
	}
	tag, err := language.Parse(value)
	if err != nil {
		return "", false
	}
	return tag.String(), true
}
