package ccindex

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	ts14Pattern    = regexp.MustCompile(`^\d{14}$`)
	ts8Pattern     = regexp.MustCompile(`^\d{8}$`)
	isoDatePattern = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
)

// NormalizeTimestamp converts the accepted date forms to the index's
// 14-digit format. YYYY-MM-DD and YYYYMMDD are padded to start of day, or to
// end of day when end is true.
func NormalizeTimestamp(ts string, end bool) (string, error) {
	ts = strings.TrimSpace(ts)
	if ts == "" {
		return "", nil
	}

	pad := "000000"
	if end {
		pad = "235959"
	}

	switch {
	case ts14Pattern.MatchString(ts):
		return ts, nil
	case ts8Pattern.MatchString(ts):
		return ts + pad, nil
	case isoDatePattern.MatchString(ts):
		m := isoDatePattern.FindStringSubmatch(ts)
		return m[1] + m[2] + m[3] + pad, nil
	}
	return "", fmt.Errorf("unrecognized timestamp %q (want YYYYMMDDHHMMSS, YYYYMMDD, or YYYY-MM-DD)", ts)
}

// NormalizeMIME expands the shorthand forms operators actually type.
func NormalizeMIME(m string) string {
	switch strings.ToLower(strings.TrimSpace(m)) {
	case "":
		return ""
	case "pdf":
		return "application/pdf"
	case "html", "htm":
		return "text/html"
	case "json":
		return "application/json"
	case "xml":
		return "application/xml"
	case "txt", "text":
		return "text/plain"
	default:
		return strings.ToLower(strings.TrimSpace(m))
	}
}

// iso639_1to3 maps 2-letter language codes to the 3-letter codes the index
// stores.
var iso639_1to3 = map[string]string{
	"en": "eng", "de": "deu", "fr": "fra", "es": "spa", "it": "ita",
	"pt": "por", "nl": "nld", "ru": "rus", "zh": "zho", "ja": "jpn",
	"ar": "ara", "ko": "kor", "pl": "pol", "sv": "swe", "no": "nor",
	"da": "dan", "fi": "fin", "tr": "tur", "cs": "ces", "el": "ell",
	"he": "heb", "hi": "hin", "uk": "ukr", "ro": "ron", "hu": "hun",
}

// NormalizeLanguage maps a 2-letter code to its 3-letter form. Codes already
// three letters long pass through lowercased.
func NormalizeLanguage(l string) string {
	l = strings.ToLower(strings.TrimSpace(l))
	if len(l) == 2 {
		if three, ok := iso639_1to3[l]; ok {
			return three
		}
	}
	return l
}

// NormalizeLanguages maps each entry, dropping empties.
func NormalizeLanguages(langs []string) []string {
	out := make([]string, 0, len(langs))
	for _, l := range langs {
		if n := NormalizeLanguage(l); n != "" {
			out = append(out, n)
		}
	}
	return out
}
