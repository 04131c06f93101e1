package ton

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/freelance-escrow/backend/internal/models"
	"github.com/xssnick/tonutils-go/address"
)

// NormalizeIdentity turns a raw ("0:abcd...") or user-friendly ("EQ...",
// "UQ...") TON address into the lowercase raw form used as escrow identity.
// Both encodings of one wallet therefore compare equal.
func NormalizeIdentity(s string) (models.Identity, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("address is required")
	}

	if strings.Contains(s, ":") {
		wc, hash, err := ParseRawAddress(s)
		if err != nil {
			return "", err
		}
		return rawIdentity(wc, hash), nil
	}

	addr, err := address.ParseAddr(s)
	if err != nil {
		return "", fmt.Errorf("invalid TON address %q: %w", s, err)
	}
	return rawIdentity(addr.Workchain(), addr.Data()), nil
}

func rawIdentity(workchain int32, hash []byte) models.Identity {
	return models.Identity(fmt.Sprintf("%d:%s", workchain, hex.EncodeToString(hash)))
}

// ParseRawAddress parses "workchain:hex" into its workchain and 32-byte hash.
func ParseRawAddress(raw string) (workchain int32, addrHash []byte, err error) {
	wcPart, hashHex, ok := strings.Cut(raw, ":")
	if !ok || wcPart == "" || hashHex == "" {
		return 0, nil, fmt.Errorf("invalid raw address format: %s", raw)
	}

	var wc int32
	if _, err := fmt.Sscanf(wcPart, "%d", &wc); err != nil {
		return 0, nil, fmt.Errorf("invalid workchain in %s", raw)
	}
	if wc != 0 && wc != -1 {
		return 0, nil, fmt.Errorf("unsupported workchain %d", wc)
	}

	addrHash, err = hex.DecodeString(hashHex)
	if err != nil {
		return 0, nil, fmt.Errorf("invalid address hash hex: %w", err)
	}
	if len(addrHash) != 32 {
		return 0, nil, fmt.Errorf("address hash must be 32 bytes, got %d", len(addrHash))
	}
	return wc, addrHash, nil
}
