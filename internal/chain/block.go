package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// RawTx is the slice of a mined transaction the detector needs.
type RawTx struct {
	From     common.Address
	To       *common.Address
	Input    []byte
	Hash     common.Hash
	GasPrice *big.Int
}

// Block is an ordered batch of transactions from one height.
type Block struct {
	Number uint64
	Hash   common.Hash
	Txs    []RawTx
}

// ToRawTx flattens a transaction. The sender stays zero when it cannot be
// recovered, which the detector treats as "no sender". GasPrice is the price
// actually paid when the block base fee is known.
func ToRawTx(tx *types.Transaction, signer types.Signer, baseFee *big.Int) RawTx {
	raw := RawTx{
		To:       tx.To(),
		Input:    tx.Data(),
		Hash:     tx.Hash(),
		GasPrice: effectiveGasPrice(tx, baseFee),
	}
	if from, err := types.Sender(signer, tx); err == nil {
		raw.From = from
	}
	return raw
}

// FromTypesBlock converts a full block preserving transaction order.
func FromTypesBlock(block *types.Block, signer types.Signer) Block {
	txs := block.Transactions()
	out := Block{
		Number: block.NumberU64(),
		Hash:   block.Hash(),
		Txs:    make([]RawTx, 0, len(txs)),
	}
	for _, tx := range txs {
		out.Txs = append(out.Txs, ToRawTx(tx, signer, block.BaseFee()))
	}
	return out
}

func effectiveGasPrice(tx *types.Transaction, baseFee *big.Int) *big.Int {
	if baseFee == nil || tx.Type() == types.LegacyTxType {
		return new(big.Int).Set(tx.GasPrice())
	}
	tip, err := tx.EffectiveGasTip(baseFee)
	if err != nil {
		return new(big.Int).Set(tx.GasPrice())
	}
	return tip.Add(tip, baseFee)
}
