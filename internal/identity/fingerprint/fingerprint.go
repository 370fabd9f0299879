// Package fingerprint derives the privacy-preserving equality keys for
// canonical phone numbers.
//
// Two generations coexist to support migration: the current keyed fingerprint
// (HMAC-SHA256 under a process-wide pepper) and the legacy trailing-digit
// signature kept as a coarse fallback index for pre-migration rows. The
// signature is collision-prone and never the sole uniqueness key.
package fingerprint

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"phonegate/internal/identity/models"
	dErrors "phonegate/pkg/domain-errors"
)

const signatureDigits = 6

// Engine derives fingerprints and signatures. The pepper is injected once at
// construction and immutable for the process lifetime.
type Engine struct {
	pepper []byte
}

// New constructs an Engine. The pepper must be non-empty; an empty pepper
// would make fingerprints plain unsalted hashes of short digit strings.
func New(pepper []byte) (*Engine, error) {
	if len(pepper) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "fingerprint pepper must not be empty")
	}
	engine := &Engine{pepper: make([]byte, len(pepper))}
	copy(engine.pepper, pepper)
	return engine, nil
}

// Fingerprint returns the current-generation keyed digest of a canonical
// phone. Deterministic for a given pepper, non-reversible, never fails for a
// valid canonical string.
func (e *Engine) Fingerprint(canonical string) string {
	mac := hmac.New(sha256.New, e.pepper)
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}

// LegacySignature returns the trailing six digits of the canonical phone, or
// the whole string when shorter.
func (e *Engine) LegacySignature(canonical string) string {
	if len(canonical) <= signatureDigits {
		return canonical
	}
	return canonical[len(canonical)-signatureDigits:]
}

// Scheme reports the generation this engine produces.
func (e *Engine) Scheme() models.FingerprintScheme {
	return models.SchemeHMACv1
}
