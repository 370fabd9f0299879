// Package normalize canonicalizes raw phone input into the digit-only form
// every downstream derivation (fingerprint, signature, cipher) operates on.
package normalize

import (
	"unicode"

	dErrors "phonegate/pkg/domain-errors"
)

const (
	minDigits = 4
	maxDigits = 11
)

// Formatting characters commonly pasted along with phone numbers. They are
// stripped before digit extraction; anything alphabetic fails instead.
var formatting = map[rune]struct{}{
	' ':      {},
	'\t':     {},
	'+':      {},
	'(':      {},
	')':      {},
	'-':      {},
	'‐': {}, // hyphen
	'‑': {}, // non-breaking hyphen
	'‒': {}, // figure dash
	'–': {}, // en dash
	'—': {}, // em dash
	'−': {}, // minus sign
	'.':      {},
}

// Canonicalize reduces raw phone text to its canonical digit-only form.
//
// The function is pure: identical input always yields identical output.
// It fails with CodeInvalidInput when the text contains letters (Latin, CJK,
// anything unicode classifies as a letter) or when the extracted digit count
// falls outside [4, 11].
func Canonicalize(raw string) (string, error) {
	digits := make([]rune, 0, len(raw))
	for _, r := range raw {
		if _, ok := formatting[r]; ok {
			continue
		}
		switch {
		case r >= '0' && r <= '9':
			digits = append(digits, r)
		case unicode.IsLetter(r):
			return "", dErrors.New(dErrors.CodeInvalidInput, "phone must not contain letters")
		default:
			// Unknown punctuation and symbols are dropped, matching how
			// operators paste numbers copied from arbitrary sources.
		}
	}
	if len(digits) < minDigits || len(digits) > maxDigits {
		return "", dErrors.New(dErrors.CodeInvalidInput, "phone must contain 4 to 11 digits")
	}
	return string(digits), nil
}
