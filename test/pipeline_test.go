package test

import (
	"bytes"
	"testing"

	"phonegate/internal/identity/cipher"
	"phonegate/internal/identity/fingerprint"
	"phonegate/internal/identity/normalize"
	"phonegate/pkg/testutil"
)

// Exercises the full derivation pipeline a submission goes through before it
// reaches storage: canonicalize, fingerprint, encrypt.
func TestIdentityDerivationPipeline(t *testing.T) {
	testutil.Given(t, "a fingerprint engine and a cipher", func(t *testing.T) {
		engine, err := fingerprint.New([]byte("pipeline-pepper"))
		if err != nil {
			t.Fatalf("build engine: %v", err)
		}
		ciph, err := cipher.New(bytes.Repeat([]byte("k"), 32))
		if err != nil {
			t.Fatalf("build cipher: %v", err)
		}

		testutil.When(t, "the same phone arrives in different formats", func(t *testing.T) {
			plain, err := normalize.Canonicalize("13800138000")
			if err != nil {
				t.Fatalf("canonicalize plain: %v", err)
			}
			formatted, err := normalize.Canonicalize("138-0013-8000")
			if err != nil {
				t.Fatalf("canonicalize formatted: %v", err)
			}

			testutil.Then(t, "both derive the same fingerprint", func(t *testing.T) {
				if engine.Fingerprint(plain) != engine.Fingerprint(formatted) {
					t.Fatal("formatting variants must collapse to one fingerprint")
				}
			})
		})

		testutil.When(t, "a canonical phone is encrypted at rest", func(t *testing.T) {
			sealed, err := ciph.Encrypt("13800138000")
			if err != nil {
				t.Fatalf("encrypt: %v", err)
			}

			testutil.Then(t, "it decrypts back to the canonical form", func(t *testing.T) {
				opened, err := ciph.Decrypt(sealed)
				if err != nil {
					t.Fatalf("decrypt: %v", err)
				}
				if opened != "13800138000" {
					t.Fatalf("expected canonical phone, got %q", opened)
				}
			})
		})
	})
}
