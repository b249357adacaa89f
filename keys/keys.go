// Package keys generates secp256k1 key pairs and derives chain addresses.
package keys

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/mpc-custody/interfaces"
)

// EthereumDerivationPath is reported for Ethereum wallets.
const EthereumDerivationPath = "m/44'/60'/0'/0/0"

// GenerateKeyPair returns a fresh secp256k1 key from crypto/rand.
func GenerateKeyPair() (*ecdsa.PrivateKey, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("%w: key generation: %v", interfaces.ErrCrypto, err)
	}
	return key, nil
}

// PrivateKeyFromScalar rebuilds a private key from its scalar. The scalar must
// lie in [1, N).
func PrivateKeyFromScalar(d *big.Int) (*ecdsa.PrivateKey, error) {
	if d == nil || d.Sign() <= 0 || d.Cmp(crypto.S256().Params().N) >= 0 {
		return nil, interfaces.Cryptof("scalar outside the curve order")
	}
	buf := make([]byte, 32)
	d.FillBytes(buf)
	defer wipe(buf)

	key, err := crypto.ToECDSA(buf)
	if err != nil {
		return nil, interfaces.Cryptof("invalid private key: %v", err)
	}
	return key, nil
}

// Scalar returns a copy of the private scalar.
func Scalar(key *ecdsa.PrivateKey) *big.Int {
	return new(big.Int).Set(key.D)
}

// Wipe zeroes the private scalar in place.
func Wipe(key *ecdsa.PrivateKey) {
	if key != nil && key.D != nil {
		key.D.SetInt64(0)
	}
}

// UncompressedHex is the 0x04-prefixed public point in hex.
func UncompressedHex(pub *ecdsa.PublicKey) string {
	return hex.EncodeToString(crypto.FromECDSAPub(pub))
}

// CompressedHex is the 33-byte compressed public point in hex.
func CompressedHex(pub *ecdsa.PublicKey) string {
	return hex.EncodeToString(crypto.CompressPubkey(pub))
}

// ToBTCEC converts a private key to its btcec form.
func ToBTCEC(key *ecdsa.PrivateKey) *btcec.PrivateKey {
	buf := crypto.FromECDSA(key)
	defer wipe(buf)
	priv, _ := btcec.PrivKeyFromBytes(buf)
	return priv
}

// Deriver maps public keys to addresses.
type Deriver struct {
	// BitcoinNet selects the Bitcoin address encoding.
	BitcoinNet *chaincfg.Params
}

// NewDeriver returns a deriver for the given Bitcoin network; nil means testnet3.
func NewDeriver(bitcoinNet *chaincfg.Params) *Deriver {
	if bitcoinNet == nil {
		bitcoinNet = &chaincfg.TestNet3Params
	}
	return &Deriver{BitcoinNet: bitcoinNet}
}

// DeriveAddress returns the single-key address of pub on chain: an EIP-55
// address for Ethereum, a P2PKH address of the compressed key for Bitcoin.
func (d *Deriver) DeriveAddress(pub *ecdsa.PublicKey, chain interfaces.Chain) (string, error) {
	if pub == nil {
		return "", interfaces.Validationf("nil public key")
	}
	switch chain {
	case interfaces.ChainEthereum:
		return crypto.PubkeyToAddress(*pub).Hex(), nil
	case interfaces.ChainBitcoin:
		addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(crypto.CompressPubkey(pub)), d.BitcoinNet)
		if err != nil {
			return "", interfaces.Cryptof("p2pkh address: %v", err)
		}
		return addr.EncodeAddress(), nil
	default:
		return "", interfaces.Validationf("unsupported chain %q", chain)
	}
}

// MultisigScript builds the threshold-of-len(pubs) redeem script, keys in the
// given order.
func (d *Deriver) MultisigScript(pubs []*ecdsa.PublicKey, threshold int) ([]byte, error) {
	if threshold < 1 || threshold > len(pubs) {
		return nil, interfaces.Validationf("invalid multisig threshold %d of %d", threshold, len(pubs))
	}
	if len(pubs) > txscript.MaxPubKeysPerMultiSig {
		return nil, interfaces.Validationf("too many multisig keys: %d", len(pubs))
	}
	addrs := make([]*btcutil.AddressPubKey, len(pubs))
	for i, pub := range pubs {
		a, err := btcutil.NewAddressPubKey(crypto.CompressPubkey(pub), d.BitcoinNet)
		if err != nil {
			return nil, interfaces.Cryptof("multisig key %d: %v", i, err)
		}
		addrs[i] = a
	}
	script, err := txscript.MultiSigScript(addrs, threshold)
	if err != nil {
		return nil, interfaces.Cryptof("multisig script: %v", err)
	}
	return script, nil
}

// MultisigAddress is the P2SH address of a redeem script.
func (d *Deriver) MultisigAddress(redeemScript []byte) (string, error) {
	addr, err := btcutil.NewAddressScriptHash(redeemScript, d.BitcoinNet)
	if err != nil {
		return "", interfaces.Cryptof("p2sh address: %v", err)
	}
	return addr.EncodeAddress(), nil
}

// ValidateAddress checks that addr is well formed for chain.
func (d *Deriver) ValidateAddress(addr string, chain interfaces.Chain) error {
	switch chain {
	case interfaces.ChainEthereum:
		if !common.IsHexAddress(addr) {
			return interfaces.Validationf("invalid ethereum address %q", addr)
		}
		return nil
	case interfaces.ChainBitcoin:
		decoded, err := btcutil.DecodeAddress(addr, d.BitcoinNet)
		if err != nil {
			return interfaces.Validationf("invalid bitcoin address %q: %v", addr, err)
		}
		if !decoded.IsForNet(d.BitcoinNet) {
			return interfaces.Validationf("address %q is not for %s", addr, d.BitcoinNet.Name)
		}
		return nil
	default:
		return interfaces.Validationf("unsupported chain %q", chain)
	}
}

// SameAddress compares two addresses of chain, ignoring hex case on Ethereum.
func SameAddress(chain interfaces.Chain, a, b string) bool {
	if chain == interfaces.ChainEthereum {
		return common.IsHexAddress(a) && common.IsHexAddress(b) && common.HexToAddress(a) == common.HexToAddress(b)
	}
	return a == b
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
