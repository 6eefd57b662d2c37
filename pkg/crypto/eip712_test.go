package crypto

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

func depositMessage(owner common.Address) apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"owner":    owner.Hex(),
		"token":    "0x00000000000000000000000000000000000000aa",
		"amount":   "1000000000000000000",
		"nonce":    "1",
		"deadline": "1700000000",
	}
}

func TestSignAndRecoverAction(t *testing.T) {
	signer, _ := GenerateKey()
	e := NewEIP712Signer(DefaultDomain())
	msg := depositMessage(signer.Address())

	sig, err := e.Sign(signer, TypeDeposit, msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	got, err := e.Recover(TypeDeposit, msg, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if got != signer.Address() {
		t.Errorf("recovered %s, want %s", got.Hex(), signer.Address().Hex())
	}

	// same fields under another primary type hash differently
	other, err := e.Recover(TypeWithdraw, msg, sig)
	if err == nil && other == signer.Address() {
		t.Error("deposit signature must not verify as a withdraw")
	}

	// tampering with the amount changes the signer
	msg["amount"] = "2000000000000000000"
	got, err = e.Recover(TypeDeposit, msg, sig)
	if err == nil && got == signer.Address() {
		t.Error("tampered message recovered the original signer")
	}
}

func TestHashDependsOnDomain(t *testing.T) {
	owner := common.HexToAddress("0x1111111111111111111111111111111111111111")
	msg := depositMessage(owner)

	d1 := DefaultDomain()
	d2 := DefaultDomain()
	d2.VerifyingContract = common.HexToAddress("0xE000000000000000000000000000000000000003")

	h1, err := NewEIP712Signer(d1).Hash(TypeDeposit, msg)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, err := NewEIP712Signer(d2).Hash(TypeDeposit, msg)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if string(h1) == string(h2) {
		t.Error("hash must change with the verifying contract")
	}
	if len(h1) != 32 {
		t.Errorf("hash length = %d, want 32", len(h1))
	}
}

func TestUnknownActionType(t *testing.T) {
	e := NewEIP712Signer(DefaultDomain())
	if _, err := e.Hash("Mint", apitypes.TypedDataMessage{}); err == nil {
		t.Error("expected error for unknown action type")
	}
	if _, ok := Fields("Mint"); ok {
		t.Error("Fields reported an unknown type")
	}
}

func TestToJSON(t *testing.T) {
	e := NewEIP712Signer(DefaultDomain())
	out, err := e.ToJSON(TypeFillOrder, apitypes.TypedDataMessage{
		"owner":    "0x1111111111111111111111111111111111111111",
		"orderId":  "1",
		"nonce":    "7",
		"deadline": "1700000000",
	})
	if err != nil {
		t.Fatalf("to json: %v", err)
	}
	for _, want := range []string{`"primaryType": "FillOrder"`, `"orderId"`, `"Custodex"`} {
		if !strings.Contains(out, want) {
			t.Errorf("typed data JSON missing %s:\n%s", want, out)
		}
	}
}
