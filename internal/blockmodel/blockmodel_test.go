package blockmodel

import "testing"

func TestTransactionIDDeterministic(t *testing.T) {
	tx := &Transaction{
		Version: 1,
		Inputs: []TxInput{{
			PreviousOutPoint: OutPoint{Index: 0},
			Sequence:         0xFFFFFFFF,
		}},
		Outputs: []TxOutput{{Amount: 100, RecipientAddress: "addr1"}},
	}
	id1 := tx.ID()
	id2 := tx.ID()
	if id1 != id2 {
		t.Fatal("Transaction.ID is not deterministic")
	}
}

func TestTransactionIDChangesWithOutputs(t *testing.T) {
	base := &Transaction{
		Version: 1,
		Outputs: []TxOutput{{Amount: 100, RecipientAddress: "addr1"}},
	}
	changed := &Transaction{
		Version: 1,
		Outputs: []TxOutput{{Amount: 200, RecipientAddress: "addr1"}},
	}
	if base.ID() == changed.ID() {
		t.Fatal("different output amounts must produce different transaction ids")
	}
}

func TestIsCoinbase(t *testing.T) {
	coinbase := &Transaction{
		Inputs: []TxInput{{PreviousOutPoint: OutPoint{Index: ^uint32(0)}}},
	}
	if !coinbase.IsCoinbase() {
		t.Error("expected zero-outpoint single input to be recognized as coinbase")
	}

	normal := &Transaction{
		Inputs: []TxInput{{PreviousOutPoint: OutPoint{Index: 0}}},
	}
	if normal.IsCoinbase() {
		t.Error("expected an ordinary input to not be recognized as coinbase")
	}
}

func TestVoteCost(t *testing.T) {
	v := &VotePayload{VoteWeight: 4}
	if got, want := v.VoteCost(), int64(16); got != want {
		t.Errorf("VoteCost() = %d, want %d (quadratic cost)", got, want)
	}

	negative := &VotePayload{VoteWeight: -3}
	if got, want := negative.VoteCost(), int64(9); got != want {
		t.Errorf("VoteCost() for negative weight = %d, want %d", got, want)
	}

	var nilPayload *VotePayload
	if got := nilPayload.VoteCost(); got != 0 {
		t.Errorf("expected nil VotePayload cost to be 0, got %d", got)
	}
}

func TestSerializeSizeGrowsWithSignature(t *testing.T) {
	tx := &Transaction{Outputs: []TxOutput{{Amount: 1, RecipientAddress: "a"}}}
	before := tx.SerializeSize()
	tx.Signature = make([]byte, 64)
	after := tx.SerializeSize()
	if after <= before {
		t.Errorf("expected SerializeSize to grow once a signature is attached: before=%d after=%d", before, after)
	}
}

func TestBlockHash(t *testing.T) {
	b := &Block{Header: BlockHeader{Version: 1, Nonce: 7}}
	h1 := b.Hash()
	b.Header.Nonce = 8
	h2 := b.Hash()
	if h1 == h2 {
		t.Error("expected block hash to change when header nonce changes")
	}
}
