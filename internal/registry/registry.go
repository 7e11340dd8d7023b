package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Action is the direction of a swap relative to the native asset.
type Action string

const (
	// ActionBuy spends the native asset to acquire a token.
	ActionBuy Action = "BUY"
	// ActionSell spends a token to acquire the native asset.
	ActionSell Action = "SELL"
)

// ParseAction converts user input into an Action.
func ParseAction(v string) (Action, error) {
	switch Action(strings.ToUpper(strings.TrimSpace(v))) {
	case ActionBuy:
		return ActionBuy, nil
	case ActionSell:
		return ActionSell, nil
	default:
		return "", fmt.Errorf("unknown action %q", v)
	}
}

// CallShape is one supported router entry point and its calldata schema.
type CallShape struct {
	Name      string
	Selector  [4]byte
	Action    Action
	Inputs    abi.Arguments
	PathIndex int
}

// RouterEntry binds a router address to the call shapes it accepts.
type RouterEntry struct {
	Address common.Address
	shapes  map[[4]byte]CallShape
}

// Shape returns the call shape registered for a selector.
func (e *RouterEntry) Shape(selector [4]byte) (CallShape, bool) {
	shape, ok := e.shapes[selector]
	return shape, ok
}

// Shapes lists the call shapes sorted by name.
func (e *RouterEntry) Shapes() []CallShape {
	out := make([]CallShape, 0, len(e.shapes))
	for _, shape := range e.shapes {
		out = append(out, shape)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Registry is the static set of recognised routers.
type Registry struct {
	routers map[common.Address]*RouterEntry
	order   []common.Address
}

var swapMethods = []struct {
	name   string
	action Action
}{
	{"swapExactETHForTokens", ActionBuy},
	{"swapETHForExactTokens", ActionBuy},
	{"swapExactETHForTokensSupportingFeeOnTransferTokens", ActionBuy},
	{"swapExactTokensForETH", ActionSell},
	{"swapTokensForExactETH", ActionSell},
	{"swapExactTokensForETHSupportingFeeOnTransferTokens", ActionSell},
}

// New builds a registry where every router speaks the V2 swap ABI.
func New(routers []common.Address) (*Registry, error) {
	if len(routers) == 0 {
		return nil, errors.New("at least one router address required")
	}

	shapes, err := v2Shapes()
	if err != nil {
		return nil, err
	}

	reg := &Registry{routers: make(map[common.Address]*RouterEntry, len(routers))}
	for _, addr := range routers {
		if addr == (common.Address{}) {
			return nil, errors.New("router address cannot be zero")
		}
		if _, dup := reg.routers[addr]; dup {
			continue
		}
		reg.routers[addr] = &RouterEntry{Address: addr, shapes: shapes}
		reg.order = append(reg.order, addr)
	}
	return reg, nil
}

// Lookup returns the entry for a router address.
func (r *Registry) Lookup(addr common.Address) (*RouterEntry, bool) {
	entry, ok := r.routers[addr]
	return entry, ok
}

// Routers lists registered router addresses in configuration order.
func (r *Registry) Routers() []common.Address {
	out := make([]common.Address, len(r.order))
	copy(out, r.order)
	return out
}

// Primary is the router used for operator-initiated trades.
func (r *Registry) Primary() common.Address {
	return r.order[0]
}

func v2Shapes() (map[[4]byte]CallShape, error) {
	shapes := make(map[[4]byte]CallShape, len(swapMethods))
	for _, m := range swapMethods {
		method, ok := routerABI.Methods[m.name]
		if !ok {
			return nil, fmt.Errorf("router ABI missing %s", m.name)
		}
		pathIdx := -1
		for i, input := range method.Inputs {
			if input.Name == "path" {
				pathIdx = i
				break
			}
		}
		if pathIdx < 0 {
			return nil, fmt.Errorf("%s has no path argument", m.name)
		}

		var selector [4]byte
		copy(selector[:], method.ID)
		shapes[selector] = CallShape{
			Name:      m.name,
			Selector:  selector,
			Action:    m.action,
			Inputs:    method.Inputs,
			PathIndex: pathIdx,
		}
	}
	return shapes, nil
}
