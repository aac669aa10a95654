package chain

import (
	"fmt"

	"jpyc-onchain-lab/internal/domain"
)

// FailureKind tells which layer of a call failed.
type FailureKind string

const (
	KindNetwork FailureKind = "network"
	KindStatus  FailureKind = "status"
	KindDecode  FailureKind = "decode"
	KindRPC     FailureKind = "rpc"
)

// CallError is the single error type for failed eth_calls. It names the
// chain and the cause.
type CallError struct {
	Chain      domain.Chain
	Kind       FailureKind
	StatusCode int
	Err        error
}

func (e *CallError) Error() string {
	switch e.Kind {
	case KindNetwork:
		return fmt.Sprintf("%s RPC network error: %v", e.Chain, e.Err)
	case KindStatus:
		return fmt.Sprintf("%s RPC error: %d %v", e.Chain, e.StatusCode, e.Err)
	case KindRPC:
		return fmt.Sprintf("%s RPC call failed: %v", e.Chain, e.Err)
	default:
		return fmt.Sprintf("%s RPC %s error: %v", e.Chain, e.Kind, e.Err)
	}
}

func (e *CallError) Unwrap() error { return e.Err }

// HTTPStatus returns the upstream status code, or 0 when none was received.
func (e *CallError) HTTPStatus() int { return e.StatusCode }

// RPCError represents a JSON-RPC 2.0 error payload.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}
