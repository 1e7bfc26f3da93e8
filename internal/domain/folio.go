package domain

import (
	"regexp"
	"strings"
)

// FolioDigits is the length of a canonical Miami-Dade folio number.
const FolioDigits = 13

var (
	nonDigitRe  = regexp.MustCompile(`\D`)
	bulkSplitRe = regexp.MustCompile(`[\r\n,;\t]+`)
)

// Folio holds both canonical forms of a parcel identifier. When the
// input does not reduce to 13 digits, Hyphenated carries the trimmed
// raw text and Digits whatever digits were found, possibly none.
type Folio struct {
	Hyphenated string `json:"hyphenated"`
	Digits     string `json:"digits"`
}

// Canonical reports whether the folio carries a full 13-digit code.
func (f Folio) Canonical() bool {
	return len(f.Digits) == FolioDigits
}

// Key returns the dedup key: digits when any were found, otherwise the
// raw text form.
func (f Folio) Key() string {
	if f.Digits != "" {
		return f.Digits
	}
	return f.Hyphenated
}

// String returns the preferred display form.
func (f Folio) String() string {
	if f.Hyphenated != "" {
		return f.Hyphenated
	}
	return f.Digits
}

// NormalizeFolio parses free-text input into a Folio. It never fails:
// malformed input degrades to the trimmed raw text.
func NormalizeFolio(raw string) Folio {
	s := strings.TrimSpace(raw)
	digits := nonDigitRe.ReplaceAllString(s, "")
	if len(digits) == FolioDigits {
		return Folio{Hyphenated: hyphenate(digits), Digits: digits}
	}
	return Folio{Hyphenated: s, Digits: digits}
}

// hyphenate formats 13 digits as XX-XXXX-XXX-XXXX. Callers guarantee
// the length.
func hyphenate(d string) string {
	return d[0:2] + "-" + d[2:6] + "-" + d[6:9] + "-" + d[9:13]
}

// ParseBulk splits pasted or uploaded text on newlines, commas,
// semicolons, and tabs, normalizes each token, and returns the unique
// folios in first-seen order. Duplicates are keyed by digit value so
// "0131250460340" and "01-3125-046-0340" collapse to one entry.
func ParseBulk(text string) []Folio {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	seen := make(map[string]struct{})
	var out []Folio
	for _, tok := range bulkSplitRe.Split(text, -1) {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		f := NormalizeFolio(tok)
		key := f.Key()
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, f)
	}
	return out
}

const appraiserSearchURL = "https://www.miamidade.gov/Apps/PA/propertysearch/"

// AppraiserURL returns the Property Appraiser deep link for a folio, or
// the generic search page when no digits are available.
func AppraiserURL(folio string) string {
	digits := nonDigitRe.ReplaceAllString(folio, "")
	if digits == "" {
		return appraiserSearchURL
	}
	return appraiserSearchURL + "#/folio/" + digits
}
