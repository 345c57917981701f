// SLA (Secure Lock Authentication) challenge signing: BROM expects a
// byte-pair-swapped PKCS#1v1.5 signature; the DA stage uses RSA-OAEP
// SHA-256/MGF1 with a PKCS#1v1.5 fallback (spec.md §4.3).
package mtk

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"

	"mft/internal/mftio"
)

// SwapBytePairs reverses every adjacent byte pair, the transformation BROM
// applies to its challenge before the host may sign it.
func SwapBytePairs(data []byte) []byte {
	out := make([]byte, len(data))
	copy(out, data)
	for i := 0; i+1 < len(out); i += 2 {
		out[i], out[i+1] = out[i+1], out[i]
	}
	return out
}

// SignBROMChallenge implements the BROM SLA path: byte-pair-swap the first
// 16 bytes of the challenge, sign that raw 16-byte message directly with
// PKCS#1v1.5 (no digest, no DigestInfo prefix), then byte-pair-swap the
// signature before returning it.
func SignBROMChallenge(key *rsa.PrivateKey, challenge []byte) ([]byte, error) {
	const op = "mtk.SignBROMChallenge"
	swapped := SwapBytePairs(challenge[:16])
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.Hash(0), swapped)
	if err != nil {
		return nil, mftio.Wrap(mftio.KindAuthFailed, op, err)
	}
	return SwapBytePairs(sig), nil
}

// SignDAChallenge implements the DA SLA path over the 16 bytes at offset 32
// of the challenge: RSA-OAEP(SHA-256/MGF1) encryption, falling back to
// PKCS#1v1.5 signing when the DA stage's loader advertises the legacy
// scheme (older XFlash DAs).
func SignDAChallenge(key *rsa.PrivateKey, challenge []byte, useOAEP bool) ([]byte, error) {
	const op = "mtk.SignDAChallenge"
	msg := challenge[32:48]
	if useOAEP {
		out, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, &key.PublicKey, msg, nil)
		if err != nil {
			return nil, mftio.Wrap(mftio.KindAuthFailed, op, err)
		}
		return out, nil
	}
	digest := sha256.Sum256(msg)
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, mftio.Wrap(mftio.KindAuthFailed, op, err)
	}
	return sig, nil
}

// SLAKeySource supplies the RSA private key used to answer SLA challenges;
// vendors ship per-chip keys that can't be bundled, so this is a plug-point
// (DESIGN.md Open Question decision) rather than a bundled default.
type SLAKeySource interface {
	Key(hwCode uint16) (*rsa.PrivateKey, error)
}

// ErrKeyUnavailable is returned by the default key source: no key is
// bundled, so SLA-locked devices require a supplied SLAKeySource.
var ErrKeyUnavailable = mftio.New(mftio.KindAuthFailed, "mtk.SLAKeySource", "no SLA key registered for this chip")

type noKeySource struct{}

func (noKeySource) Key(uint16) (*rsa.PrivateKey, error) { return nil, ErrKeyUnavailable }

// DefaultSLAKeySource always reports ErrKeyUnavailable; callers that have
// key material hand the engine a different source instead, either one
// built by RegisterSLAKey or their own SLAKeySource.
var DefaultSLAKeySource SLAKeySource = noKeySource{}

// staticKeySource answers every chip with the same key, for test harnesses
// and single-device workflows where the operator supplies one PEM key.
type staticKeySource struct{ key *rsa.PrivateKey }

// RegisterSLAKey returns an SLAKeySource that always answers with key,
// regardless of hwCode.
func RegisterSLAKey(key *rsa.PrivateKey) SLAKeySource {
	return staticKeySource{key: key}
}

func (s staticKeySource) Key(uint16) (*rsa.PrivateKey, error) {
	if s.key == nil {
		return nil, ErrKeyUnavailable
	}
	return s.key, nil
}
