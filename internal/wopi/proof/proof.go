// Package proof verifies that a WOPI request was signed by the editor backend
// published in the discovery feed.
package proof

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"math/big"
	"strconv"
	"strings"

	"wopihost/internal/wopi/discovery"
)

// KeySource supplies the current and previous proof keys.
type KeySource interface {
	ProofKeys(ctx context.Context) (discovery.ProofKeys, error)
}

// Input is what a request contributes to proof verification.
type Input struct {
	AccessToken string
	URL         string
	Timestamp   string
	Proof       string
	ProofOld    string
}

type Verifier struct {
	keys KeySource
}

func NewVerifier(keys KeySource) *Verifier {
	return &Verifier{keys: keys}
}

// Verify reports whether in carries a valid proof. The request proof is tried
// against the current and previous keys, and the previous request proof
// against the current key. Malformed input is a failed verification; only a
// failure to obtain the keys is returned as an error.
func (v *Verifier) Verify(ctx context.Context, in Input) (bool, error) {
	if in.Proof == "" || in.Timestamp == "" {
		return false, nil
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(in.Timestamp), 10, 64)
	if err != nil {
		return false, nil
	}

	keys, err := v.keys.ProofKeys(ctx)
	if err != nil {
		return false, err
	}

	digest := sha256.Sum256(BuildPayload(in.AccessToken, in.URL, ts))
	current := publicKey(keys.Modulus, keys.Exponent)
	old := publicKey(keys.OldModulus, keys.OldExponent)

	return verify(current, digest[:], in.Proof) ||
		verify(old, digest[:], in.Proof) ||
		(in.ProofOld != "" && verify(current, digest[:], in.ProofOld)), nil
}

// BuildPayload returns the bytes the editor signs: the access token, the
// upper-cased request URL and the timestamp, each preceded by its 4-byte
// big-endian length.
func BuildPayload(accessToken, url string, timestamp int64) []byte {
	tokenBytes := []byte(accessToken)
	urlBytes := []byte(strings.ToUpper(NormalizeURL(url)))

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(timestamp))

	out := make([]byte, 0, 12+len(tokenBytes)+len(urlBytes)+len(ts))
	out = binary.BigEndian.AppendUint32(out, uint32(len(tokenBytes)))
	out = append(out, tokenBytes...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(urlBytes)))
	out = append(out, urlBytes...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(ts)))
	out = append(out, ts[:]...)
	return out
}

// NormalizeURL strips the default HTTPS ports the editor leaves out when it
// signs. Only these two ports are removed, matching the signer.
func NormalizeURL(url string) string {
	url = strings.ReplaceAll(url, ":44300", "")
	return strings.ReplaceAll(url, ":443", "")
}

func publicKey(modulus, exponent string) *rsa.PublicKey {
	n, err := base64.StdEncoding.DecodeString(modulus)
	if err != nil || len(n) == 0 {
		return nil
	}
	e, err := base64.StdEncoding.DecodeString(exponent)
	if err != nil || len(e) == 0 || len(e) > 4 {
		return nil
	}
	exp := new(big.Int).SetBytes(e)
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}
}

func verify(key *rsa.PublicKey, digest []byte, signature string) bool {
	if key == nil || signature == "" {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	return rsa.VerifyPKCS1v15(key, crypto.SHA256, digest, sig) == nil
}
