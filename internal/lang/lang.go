// Package lang defines the canonical language and engine vocabulary used
// everywhere past the request boundary.
package lang

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedLanguage is returned when a raw language value has no canonical mapping.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// Language is a canonical target language. The zero value is not a valid language.
type Language uint8

const (
	LanguageUnknown Language = iota
	Marathi
	Gujarati
	English
	Hindi
	Tamil
	Telugu
	Kannada
	Bengali
	Punjabi
	Odia
	Malayalam
)

type languageInfo struct {
	code   string
	name   string
	flores string
	indic  bool
}

var languages = [...]languageInfo{
	LanguageUnknown: {},
	Marathi:         {code: "mr", name: "marathi", flores: "mar_Deva", indic: true},
	Gujarati:        {code: "gu", name: "gujarati", flores: "guj_Gujr", indic: true},
	English:         {code: "en", name: "english", flores: "eng_Latn"},
	Hindi:           {code: "hi", name: "hindi", flores: "hin_Deva", indic: true},
	Tamil:           {code: "ta", name: "tamil", flores: "tam_Taml", indic: true},
	Telugu:          {code: "te", name: "telugu", flores: "tel_Telu", indic: true},
	Kannada:         {code: "kn", name: "kannada", flores: "kan_Knda", indic: true},
	Bengali:         {code: "bn", name: "bengali", flores: "ben_Beng", indic: true},
	Punjabi:         {code: "pa", name: "punjabi", flores: "pan_Guru", indic: true},
	Odia:            {code: "or", name: "odia", flores: "ory_Orya", indic: true},
	Malayalam:       {code: "ml", name: "malayalam", flores: "mal_Mlym", indic: true},
}

// aliases maps lower-cased user input to a canonical language. Codes and
// names are added from the table above in init.
var aliases = map[string]Language{
	"bangla":  Bengali,
	"oriya":   Odia,
	"panjabi": Punjabi,
}

func init() {
	for i := range languages {
		l := Language(i)
		if !l.Valid() {
			continue
		}
		aliases[languages[i].code] = l
		aliases[languages[i].name] = l
	}
}

// ParseLanguage maps a language name or code, in any case, to its canonical value.
func ParseLanguage(raw string) (Language, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if l, ok := aliases[key]; ok {
		return l, nil
	}
	return LanguageUnknown, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, raw)
}

// Supported lists every canonical language in declaration order.
func Supported() []Language {
	out := make([]Language, 0, len(languages)-1)
	for i := range languages {
		if l := Language(i); l.Valid() {
			out = append(out, l)
		}
	}
	return out
}

func (l Language) Valid() bool {
	return l > LanguageUnknown && int(l) < len(languages)
}

// Code returns the ISO 639-1 code, or "" for an invalid language.
func (l Language) Code() string {
	if !l.Valid() {
		return ""
	}
	return languages[l].code
}

// Name returns the lower-case English name.
func (l Language) Name() string {
	if !l.Valid() {
		return ""
	}
	return languages[l].name
}

func (l Language) String() string {
	if !l.Valid() {
		return "unknown"
	}
	return languages[l].code
}

// Indic reports whether the primary synthesis backend covers the language.
func (l Language) Indic() bool {
	return l.Valid() && languages[l].indic
}

// FloresCode returns the FLORES-200 tag translation models expect.
func (l Language) FloresCode() (string, bool) {
	if !l.Valid() {
		return "", false
	}
	return languages[l].flores, true
}

// Engine selects a synthesis backend family. The zero value is EngineAuto.
type Engine uint8

const (
	EngineAuto Engine = iota
	EngineIndic
	EngineXTTS
)

// ParseEngine never fails: unknown or empty values select EngineAuto so an
// optional parameter cannot reject a whole request.
func ParseEngine(raw string) Engine {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "indic":
		return EngineIndic
	case "xtts":
		return EngineXTTS
	default:
		return EngineAuto
	}
}

func (e Engine) String() string {
	switch e {
	case EngineIndic:
		return "indic"
	case EngineXTTS:
		return "xtts"
	default:
		return "auto"
	}
}

// Engines lists every engine value.
func Engines() []Engine {
	return []Engine{EngineAuto, EngineIndic, EngineXTTS}
}

var noSpeech = map[Language]string{
	Marathi:  "काहीही आवाज आढळला नाही. कृपया पुन्हा प्रयत्न करा.",
	Gujarati: "કોઈ અવાજ મળ્યો નથી. કૃપા કરીને ફરી પ્રયાસ કરો.",
	Hindi:    "कोई आवाज़ नहीं मिली. कृपया फिर से प्रयास करें.",
	English:  "No speech was detected. Please try again.",
}

// NoSpeechMessage is the fixed text used in place of a translation when the
// recording contains no intelligible speech.
func NoSpeechMessage(l Language) string {
	if msg, ok := noSpeech[l]; ok {
		return msg
	}
	return noSpeech[English]
}
