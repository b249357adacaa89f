package cosign

import (
	"errors"
	"testing"

	"github.com/ruteri/mpc-custody/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2-of-3 redeem script length.
const testRedeemLen = 105

func TestEstimateSize(t *testing.T) {
	// One input: 1 + 2*74 + 2 + 105 = 256 byte scriptSig behind a 3 byte varint.
	assert.Equal(t, int64(4+1+299+1+34+4), estimateSize(1, 1, 2, testRedeemLen))
	assert.Equal(t, estimateSize(1, 1, 2, testRedeemLen)+outputSize, estimateSize(1, 2, 2, testRedeemLen))
	assert.Less(t, estimateSize(1, 1, 2, 71), estimateSize(1, 1, 2, 76))
	assert.Less(t, estimateSize(1, 1, 2, testRedeemLen), estimateSize(2, 1, 2, testRedeemLen))
}

func TestSelectCoins(t *testing.T) {
	utxo := func(txid string, amount int64) interfaces.UTXO {
		return interfaces.UTXO{TxID: txid, Amount: amount}
	}
	oneIn := estimateSize(1, 1, 2, testRedeemLen) * 10
	oneInChange := estimateSize(1, 2, 2, testRedeemLen) * 10

	tests := []struct {
		name       string
		utxos      []interfaces.UTXO
		amount     int64
		wantTxIDs  []string
		wantFee    int64
		wantChange int64
		wantErr    error
	}{
		{
			name:       "largest first with change",
			utxos:      []interfaces.UTXO{utxo("a", 10_000), utxo("b", 200_000), utxo("c", 50_000)},
			amount:     100_000,
			wantTxIDs:  []string{"b"},
			wantFee:    oneInChange,
			wantChange: 200_000 - 100_000 - oneInChange,
		},
		{
			name:      "dust change goes to fee",
			utxos:     []interfaces.UTXO{utxo("a", 100_000)},
			amount:    100_000 - oneIn - 200,
			wantTxIDs: []string{"a"},
			wantFee:   oneIn + 200,
		},
		{
			name:       "equal amounts ordered by txid",
			utxos:      []interfaces.UTXO{utxo("b", 60_000), utxo("a", 60_000)},
			amount:     70_000,
			wantTxIDs:  []string{"a", "b"},
			wantFee:    estimateSize(2, 2, 2, testRedeemLen) * 10,
			wantChange: 120_000 - 70_000 - estimateSize(2, 2, 2, testRedeemLen)*10,
		},
		{
			name:    "insufficient",
			utxos:   []interfaces.UTXO{utxo("a", 1_000), utxo("b", 2_000)},
			amount:  2_500,
			wantErr: interfaces.ErrValidation,
		},
		{
			name:    "fee not covered",
			utxos:   []interfaces.UTXO{utxo("a", 10_000)},
			amount:  10_000,
			wantErr: interfaces.ErrValidation,
		},
		{
			name:    "empty",
			amount:  1_000,
			wantErr: interfaces.ErrValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			selected, fee, change, err := selectCoins(tt.utxos, tt.amount, 10, 2, testRedeemLen)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr))
				return
			}
			require.NoError(t, err)
			var ids []string
			var total int64
			for _, u := range selected {
				ids = append(ids, u.TxID)
				total += u.Amount
			}
			assert.Equal(t, tt.wantTxIDs, ids)
			assert.Equal(t, tt.wantFee, fee)
			assert.Equal(t, tt.wantChange, change)
			assert.Equal(t, total, tt.amount+fee+change)
		})
	}
}
