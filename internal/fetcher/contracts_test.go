package fetcher

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"whale-mirror/internal/registry"
)

type fakeCaller struct {
	outputs map[string][]byte
	err     error
	last    ethereum.CallMsg
}

func (f *fakeCaller) CallContract(ctx context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.last = msg
	if f.err != nil {
		return nil, f.err
	}
	return f.outputs[string(msg.Data[:4])], nil
}

func methodID(t *testing.T, name string, erc20 bool) string {
	t.Helper()
	contract := registry.RouterABI()
	if erc20 {
		contract = registry.ERC20ABI()
	}
	return string(contract.Methods[name].ID)
}

func TestContractsAmountsOut(t *testing.T) {
	router := common.HexToAddress("0xaa")
	path := []common.Address{common.HexToAddress("0x01"), common.HexToAddress("0x02")}

	out, err := registry.RouterABI().Methods["getAmountsOut"].Outputs.Pack([]*big.Int{big.NewInt(10), big.NewInt(250)})
	if err != nil {
		t.Fatalf("pack outputs: %v", err)
	}
	caller := &fakeCaller{outputs: map[string][]byte{methodID(t, "getAmountsOut", false): out}}

	c := NewContracts(caller, 0, noopLogger())
	amounts, err := c.AmountsOut(context.Background(), router, big.NewInt(10), path)
	if err != nil {
		t.Fatalf("AmountsOut: %v", err)
	}
	if amounts[1].Int64() != 250 {
		t.Fatalf("期望 250, 实际 %s", amounts[1])
	}
	if *caller.last.To != router {
		t.Fatalf("call sent to %s", caller.last.To.Hex())
	}
}

func TestContractsTokenReads(t *testing.T) {
	balance, _ := registry.ERC20ABI().Methods["balanceOf"].Outputs.Pack(big.NewInt(77))
	allowance, _ := registry.ERC20ABI().Methods["allowance"].Outputs.Pack(big.NewInt(0))
	caller := &fakeCaller{outputs: map[string][]byte{
		methodID(t, "balanceOf", true): balance,
		methodID(t, "allowance", true): allowance,
	}}
	c := NewContracts(caller, 0, noopLogger())
	token := common.HexToAddress("0xbb")
	owner := common.HexToAddress("0xcc")

	got, err := c.BalanceOf(context.Background(), token, owner)
	if err != nil || got.Int64() != 77 {
		t.Fatalf("BalanceOf = %v, %v", got, err)
	}
	got, err = c.Allowance(context.Background(), token, owner, common.HexToAddress("0xdd"))
	if err != nil || got.Sign() != 0 {
		t.Fatalf("Allowance = %v, %v", got, err)
	}
}

func TestContractsCallError(t *testing.T) {
	c := NewContracts(&fakeCaller{err: errors.New("execution reverted")}, 0, noopLogger())
	if _, err := c.BalanceOf(context.Background(), common.HexToAddress("0x1"), common.HexToAddress("0x2")); err == nil {
		t.Fatal("revert 应返回错误")
	}
}
