package liteserver

import (
	"context"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton"

	"github.com/tonpool/tonpool/lib/pool"
)

const (
	methodGetMasterchainInfo  = "getMasterchainInfo"
	methodGetTime             = "getTime"
	methodLookupBlock         = "lookupBlock"
	methodGetBlockData        = "getBlockData"
	methodGetAccount          = "getAccount"
	methodRunGetMethod        = "runGetMethod"
	methodSendExternalMessage = "sendExternalMessage"
)

// Query is a call that Conn can run.
type Query interface {
	pool.IdempotentCall
	Do(ctx context.Context, api ton.APIClientWrapped) (any, error)
}

type query struct {
	method     string
	idempotent bool
	do         func(ctx context.Context, api ton.APIClientWrapped) (any, error)
}

func (q query) Method() string   { return q.method }
func (q query) Idempotent() bool { return q.idempotent }

func (q query) Do(ctx context.Context, api ton.APIClientWrapped) (any, error) {
	return q.do(ctx, api)
}

// Func wraps an arbitrary read-only request. The pool may re-issue it on
// overload failures.
func Func(method string, fn func(ctx context.Context, api ton.APIClientWrapped) (any, error)) Query {
	return query{method: method, idempotent: true, do: fn}
}

// Mutation wraps a request with side effects. It is never retried.
func Mutation(method string, fn func(ctx context.Context, api ton.APIClientWrapped) (any, error)) Query {
	return query{method: method, idempotent: false, do: fn}
}

// GetMasterchainInfo returns the node's last masterchain block as
// *ton.BlockIDExt.
func GetMasterchainInfo() Query {
	return Func(methodGetMasterchainInfo, func(ctx context.Context, api ton.APIClientWrapped) (any, error) {
		return api.GetMasterchainInfo(ctx)
	})
}

// GetTime returns the node's unix time as uint32.
func GetTime() Query {
	return Func(methodGetTime, func(ctx context.Context, api ton.APIClientWrapped) (any, error) {
		return api.GetTime(ctx)
	})
}

// LookupBlock resolves a block id as *ton.BlockIDExt.
func LookupBlock(workchain int32, shard int64, seqno uint32) Query {
	return Func(methodLookupBlock, func(ctx context.Context, api ton.APIClientWrapped) (any, error) {
		return api.LookupBlock(ctx, workchain, shard, seqno)
	})
}

// GetBlockData downloads a block as *tlb.Block.
func GetBlockData(block *ton.BlockIDExt) Query {
	return Func(methodGetBlockData, func(ctx context.Context, api ton.APIClientWrapped) (any, error) {
		return api.GetBlockData(ctx, block)
	})
}

// GetAccount loads an account state at block as *tlb.Account.
func GetAccount(block *ton.BlockIDExt, addr *address.Address) Query {
	return Func(methodGetAccount, func(ctx context.Context, api ton.APIClientWrapped) (any, error) {
		return api.GetAccount(ctx, block, addr)
	})
}

// RunGetMethod executes a contract get-method at block and returns
// *ton.ExecutionResult.
func RunGetMethod(block *ton.BlockIDExt, addr *address.Address, method string, params ...any) Query {
	return Func(methodRunGetMethod, func(ctx context.Context, api ton.APIClientWrapped) (any, error) {
		return api.RunGetMethod(ctx, block, addr, method, params...)
	})
}

// SendExternalMessage broadcasts msg. The result is always nil.
func SendExternalMessage(msg *tlb.ExternalMessage) Query {
	return Mutation(methodSendExternalMessage, func(ctx context.Context, api ton.APIClientWrapped) (any, error) {
		return nil, api.SendExternalMessage(ctx, msg)
	})
}
