package detector

import (
	"strings"

	"golang.org/x/text/language"
)

// Normalize canonicalises a language code: "zh-Hant" and "zh_tw" become
// "zh-TW", "zh-Hans" becomes "zh-CN", other tags keep their base and region.
// Unparseable input is returned lower-cased.
func Normalize(code string) string {
	code = strings.TrimSpace(strings.ReplaceAll(code, "_", "-"))
	if code == "" || strings.EqualFold(code, "auto") {
		return strings.ToLower(code)
	}
	tag, err := language.Parse(code)
	if err != nil {
		return strings.ToLower(code)
	}
	base, _ := tag.Base()
	if base.String() == "zh" {
		script, sconf := tag.Script()
		region, rconf := tag.Region()
		switch {
		case rconf == language.Exact && (region.String() == "TW" || region.String() == "HK" || region.String() == "MO"):
			return "zh-TW"
		case rconf == language.Exact && (region.String() == "CN" || region.String() == "SG"):
			return "zh-CN"
		case sconf == language.Exact && script.String() == "Hant":
			return "zh-TW"
		case sconf == language.Exact && script.String() == "Hans":
			return "zh-CN"
		}
		return "zh"
	}
	if region, conf := tag.Region(); conf == language.Exact {
		return base.String() + "-" + region.String()
	}
	return base.String()
}

// Base returns the primary subtag of a code ("zh-TW" → "zh").
func Base(code string) string {
	code = Normalize(code)
	if i := strings.IndexByte(code, '-'); i >= 0 {
		return code[:i]
	}
	return code
}

// Matches reports whether a detected code satisfies the requested target.
// Chinese variants must match exactly; a bare "zh" detection matches any
// Chinese target. Other languages compare by base subtag.
func Matches(detected, target string) bool {
	d, t := Normalize(detected), Normalize(target)
	if d == "" || t == "" {
		return true
	}
	if Base(d) == "zh" && Base(t) == "zh" {
		return d == "zh" || t == "zh" || d == t
	}
	return Base(d) == Base(t)
}
