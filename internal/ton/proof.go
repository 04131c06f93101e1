package ton

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"
)

const (
	// https://docs.ton.org/develop/dapps/ton-connect/sign#checking-ton_proof-on-server-side
	TonProofPrefix   = "ton-proof-item-v2/"
	TonConnectPrefix = "ton-connect"

	// MaxProofAge bounds replay of a captured proof.
	MaxProofAge = 5 * time.Minute

	maxClockSkew = time.Minute
)

// Proof is the ton_proof item returned by TON Connect wallets.
type Proof struct {
	Timestamp int64       `json:"timestamp"`
	Domain    ProofDomain `json:"domain"`
	Payload   string      `json:"payload"`
	Signature string      `json:"signature"` // base64 or hex
}

type ProofDomain struct {
	LengthBytes int    `json:"lengthBytes"`
	Value       string `json:"value"`
}

// SignedHash returns the 32-byte digest a wallet signs for proof p:
//
//	msg  = prefix ++ wc(4 BE) ++ hash(32) ++ len(domain)(4 LE) ++ domain ++ ts(8 LE) ++ payload
//	hash = sha256(0xffff ++ "ton-connect" ++ sha256(msg))
func SignedHash(workchain int32, addrHash []byte, p Proof) [32]byte {
	msg := []byte(TonProofPrefix)
	msg = binary.BigEndian.AppendUint32(msg, uint32(workchain))
	msg = append(msg, addrHash...)
	msg = binary.LittleEndian.AppendUint32(msg, uint32(p.Domain.LengthBytes))
	msg = append(msg, p.Domain.Value...)
	msg = binary.LittleEndian.AppendUint64(msg, uint64(p.Timestamp))
	msg = append(msg, p.Payload...)

	msgHash := sha256.Sum256(msg)

	full := []byte{0xff, 0xff}
	full = append(full, TonConnectPrefix...)
	full = append(full, msgHash[:]...)
	return sha256.Sum256(full)
}

// VerifyProof checks freshness, domain and the ed25519 signature of a proof
// issued for the address (workchain, addrHash). pubKey must come from the
// wallet's own state (see WalletPublicKey).
func VerifyProof(pubKey ed25519.PublicKey, addrHash []byte, workchain int32, proof Proof, allowedDomains []string) error {
	proofTime := time.Unix(proof.Timestamp, 0)
	if age := time.Since(proofTime); age > MaxProofAge {
		return fmt.Errorf("proof expired: %s old", age.Round(time.Second))
	}
	if proofTime.After(time.Now().Add(maxClockSkew)) {
		return fmt.Errorf("proof timestamp is in the future")
	}

	if !isDomainAllowed(proof.Domain.Value, allowedDomains) {
		return fmt.Errorf("domain %q not in allowed list", proof.Domain.Value)
	}
	if proof.Domain.LengthBytes != len(proof.Domain.Value) {
		return fmt.Errorf("domain length mismatch")
	}

	if len(pubKey) != ed25519.PublicKeySize {
		return fmt.Errorf("invalid public key size: %d", len(pubKey))
	}

	sig, err := decodeSignature(proof.Signature)
	if err != nil {
		return err
	}

	hash := SignedHash(workchain, addrHash, proof)
	if !ed25519.Verify(pubKey, hash[:], sig) {
		return fmt.Errorf("invalid signature")
	}
	return nil
}

// Wallets send base64; hex is accepted for tooling.
func decodeSignature(s string) ([]byte, error) {
	var (
		sig []byte
		err error
	)
	if len(s) == 2*ed25519.SignatureSize {
		sig, err = hex.DecodeString(s)
	} else {
		sig, err = base64.StdEncoding.DecodeString(s)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid signature encoding: %w", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return nil, fmt.Errorf("invalid signature size: %d", len(sig))
	}
	return sig, nil
}

// An empty allow-list accepts any domain (dev mode).
func isDomainAllowed(domain string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, d := range allowed {
		if d == domain {
			return true
		}
	}
	return false
}
