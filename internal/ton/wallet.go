package ton

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton/wallet"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

var (
	ErrStateInitRequired = errors.New("state_init is required")
	ErrStateInitMismatch = errors.New("state_init does not match address")
	ErrUnknownWallet     = errors.New("unsupported wallet contract")
)

// Wallet contracts whose data layout we can read the owner key from, keyed
// by code cell hash.
var walletCodes = map[string]wallet.Version{}

func init() {
	configs := map[wallet.Version]wallet.VersionConfig{
		wallet.V3R1:      wallet.V3R1,
		wallet.V3R2:      wallet.V3R2,
		wallet.V4R1:      wallet.V4R1,
		wallet.V4R2:      wallet.V4R2,
		wallet.V5R1Final: wallet.ConfigV5R1Final{NetworkGlobalID: wallet.MainnetGlobalID},
	}
	zeroKey := make(ed25519.PublicKey, ed25519.PublicKeySize)
	for ver, cfg := range configs {
		si, err := wallet.GetStateInit(zeroKey, cfg, wallet.DefaultSubwallet)
		if err != nil {
			panic(fmt.Sprintf("wallet %s state init: %v", ver, err))
		}
		walletCodes[string(si.Code.Hash())] = ver
	}
}

// WalletPublicKey returns the owner key stored in a wallet's StateInit
// (base64 BOC, as sent by TON Connect). The StateInit must hash to addrHash,
// so the key belongs to the address and not to whoever built the request.
func WalletPublicKey(stateInit string, addrHash []byte) (ed25519.PublicKey, error) {
	if stateInit == "" {
		return nil, ErrStateInitRequired
	}
	boc, err := base64.StdEncoding.DecodeString(stateInit)
	if err != nil {
		return nil, fmt.Errorf("invalid state_init encoding: %w", err)
	}
	root, err := cell.FromBOC(boc)
	if err != nil {
		return nil, fmt.Errorf("invalid state_init boc: %w", err)
	}
	if !bytes.Equal(root.Hash(), addrHash) {
		return nil, ErrStateInitMismatch
	}

	var si tlb.StateInit
	if err := tlb.LoadFromCell(&si, root.BeginParse()); err != nil {
		return nil, fmt.Errorf("parse state_init: %w", err)
	}
	if si.Code == nil || si.Data == nil {
		return nil, fmt.Errorf("%w: state_init has no code or data", ErrUnknownWallet)
	}

	ver, ok := walletCodes[string(si.Code.Hash())]
	if !ok {
		return nil, ErrUnknownWallet
	}
	key, err := wallet.ParsePubKeyFromData(ver, si.Data)
	if err != nil {
		return nil, fmt.Errorf("read %s public key: %w", ver, err)
	}
	return key, nil
}
