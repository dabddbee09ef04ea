package signature

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// CanonicalJSON renders a payload deterministically: encoding/json writes
// map keys in sorted order, so equal payloads always produce equal bytes.
func CanonicalJSON(p Payload) ([]byte, error) {
	return json.Marshal(p)
}

// HashPayload produces the EIP-191 prefixed keccak256 digest of the
// payload's canonical JSON.
func HashPayload(p Payload) ([]byte, error) {
	canonical, err := CanonicalJSON(p)
	if err != nil {
		return nil, fmt.Errorf("signature: canonicalize payload: %w", err)
	}
	return HashMessage(string(canonical)), nil
}

// HashMessage creates an Ethereum signed message hash.
// This prefixes the message with "\x19Ethereum Signed Message:\n{len}" as per EIP-191.
func HashMessage(message string) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(message))
	return crypto.Keccak256([]byte(prefix + message))
}

// RecoverAddress recovers the signer's address from a message hash and a
// hex-encoded 65-byte signature (r[32] + s[32] + v[1]).
func RecoverAddress(messageHash []byte, signatureHex string) (string, error) {
	sig, err := decodeSignatureHex(signatureHex)
	if err != nil {
		return "", err
	}

	// Ethereum signatures have v = 27 or 28, but Ecrecover expects 0 or 1.
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pubKeyBytes, err := crypto.Ecrecover(messageHash, sig)
	if err != nil {
		return "", &Error{Reason: "recover public key: " + err.Error()}
	}

	pubKey, err := crypto.UnmarshalPubkey(pubKeyBytes)
	if err != nil {
		return "", &Error{Reason: "unmarshal public key: " + err.Error()}
	}

	return strings.ToLower(crypto.PubkeyToAddress(*pubKey).Hex()), nil
}

// DecodeSignature splits a hex-encoded signature into its r, s, v components
// (32 bytes, 32 bytes, 1 byte).
func DecodeSignature(signatureHex string) (r, s string, v byte, err error) {
	sig, err := decodeSignatureHex(signatureHex)
	if err != nil {
		return "", "", 0, err
	}
	return "0x" + hex.EncodeToString(sig[:32]), "0x" + hex.EncodeToString(sig[32:64]), sig[64], nil
}

func decodeSignatureHex(signatureHex string) ([]byte, error) {
	sigHex := strings.TrimPrefix(signatureHex, "0x")
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return nil, &Error{Reason: "invalid signature hex"}
	}
	if len(sig) != 65 {
		return nil, &Error{Reason: fmt.Sprintf("signature must be 65 bytes, got %d", len(sig))}
	}
	return sig, nil
}
