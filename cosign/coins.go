package cosign

import (
	"sort"

	"github.com/btcsuite/btcd/wire"
	"github.com/ruteri/mpc-custody/interfaces"
)

const (
	// sigSize bounds a DER signature plus sighash byte and its push opcode.
	sigSize = 1 + 73
	// outputSize bounds a P2PKH or P2SH output.
	outputSize = 8 + 1 + 25
)

// estimateSize bounds the serialized size of a legacy transaction spending
// inputs P2SH multisig outputs into outputs standard outputs.
func estimateSize(inputs, outputs, threshold, redeemLen int) int64 {
	push := 1
	switch {
	case redeemLen > 255:
		push = 3
	case redeemLen >= 76:
		push = 2
	}
	scriptSig := 1 + threshold*sigSize + push + redeemLen
	input := 32 + 4 + wire.VarIntSerializeSize(uint64(scriptSig)) + scriptSig + 4
	size := 4 + wire.VarIntSerializeSize(uint64(inputs)) + inputs*input +
		wire.VarIntSerializeSize(uint64(outputs)) + outputs*outputSize + 4
	return int64(size)
}

// selectCoins picks the largest outputs first until amount plus fee is
// covered. Change below the dust limit is left to the fee.
func selectCoins(utxos []interfaces.UTXO, amount, feeRate int64, threshold, redeemLen int) (selected []interfaces.UTXO, fee, change int64, err error) {
	candidates := append([]interfaces.UTXO(nil), utxos...)
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Amount != candidates[j].Amount {
			return candidates[i].Amount > candidates[j].Amount
		}
		if candidates[i].TxID != candidates[j].TxID {
			return candidates[i].TxID < candidates[j].TxID
		}
		return candidates[i].Vout < candidates[j].Vout
	})

	var total int64
	for _, u := range candidates {
		if u.Amount <= 0 {
			continue
		}
		selected = append(selected, u)
		total += u.Amount

		n := len(selected)
		withChange := estimateSize(n, 2, threshold, redeemLen) * feeRate
		if total-amount-withChange >= DustLimit {
			return selected, withChange, total - amount - withChange, nil
		}
		if total-amount >= estimateSize(n, 1, threshold, redeemLen)*feeRate {
			return selected, total - amount, 0, nil
		}
	}
	return nil, 0, 0, interfaces.Validationf("insufficient funds: have %d, need %d plus fee", total, amount)
}
