package solana

import "encoding/json"

// Well-known program and mint addresses.
const (
	SystemProgramID = "11111111111111111111111111111111"
	RaydiumAMMv4    = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
	OrcaSwapV1      = "DjVE6JNiYqPL2QXyCUUh8rNjHrbz9hXHNYt99MQ59qw1"
	NativeSOLMint   = "So11111111111111111111111111111111111111112"

	LamportsPerSOL = 1_000_000_000
)

// rpcRequest is the JSON-RPC 2.0 request envelope used on both transports.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// rpcResponse is the JSON-RPC 2.0 response envelope. Notifications carry
// Method and Params instead of ID and Result.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return e.Message
}

// logsNotificationParams is the params body of a logsNotification.
type logsNotificationParams struct {
	Subscription uint64 `json:"subscription"`
	Result       struct {
		Context struct {
			Slot uint64 `json:"slot"`
		} `json:"context"`
		Value struct {
			Signature string          `json:"signature"`
			Err       json.RawMessage `json:"err"`
			Logs      []string        `json:"logs"`
		} `json:"value"`
	} `json:"result"`
}

// LogsNotification is a transaction that mentioned a subscribed address.
type LogsNotification struct {
	Address   string
	Signature string
	Slot      uint64
	Failed    bool
}

// Transaction is the jsonParsed form of getTransaction, reduced to the fields
// needed to derive balance changes.
type Transaction struct {
	Slot      uint64          `json:"slot"`
	BlockTime *int64          `json:"blockTime"`
	Meta      TransactionMeta `json:"meta"`
	Body      TransactionBody `json:"transaction"`
}

// TransactionBody is the signed part of a transaction.
type TransactionBody struct {
	Signatures []string `json:"signatures"`
	Message    Message  `json:"message"`
}

// Message lists the accounts and top-level instructions of a transaction.
type Message struct {
	AccountKeys  []AccountKey  `json:"accountKeys"`
	Instructions []Instruction `json:"instructions"`
}

// TransactionMeta holds balances before and after execution.
type TransactionMeta struct {
	Err               json.RawMessage `json:"err"`
	Fee               uint64          `json:"fee"`
	PreBalances       []uint64        `json:"preBalances"`
	PostBalances      []uint64        `json:"postBalances"`
	PreTokenBalances  []TokenBalance  `json:"preTokenBalances"`
	PostTokenBalances []TokenBalance  `json:"postTokenBalances"`
	InnerInstructions []InnerInstructions `json:"innerInstructions"`
}

// InnerInstructions are the CPI calls made by one top-level instruction.
type InnerInstructions struct {
	Index        int           `json:"index"`
	Instructions []Instruction `json:"instructions"`
}

// Failed reports whether the transaction errored on chain.
func (m TransactionMeta) Failed() bool {
	return len(m.Err) > 0 && string(m.Err) != "null"
}

// AccountKey is one entry of a parsed message's account list.
type AccountKey struct {
	Pubkey   string `json:"pubkey"`
	Signer   bool   `json:"signer"`
	Writable bool   `json:"writable"`
}

// Instruction is a parsed or partially decoded instruction.
type Instruction struct {
	ProgramID string `json:"programId"`
	Program   string `json:"program,omitempty"`
}

// TokenBalance is an SPL token balance for one account.
type TokenBalance struct {
	AccountIndex  int    `json:"accountIndex"`
	Mint          string `json:"mint"`
	Owner         string `json:"owner"`
	UITokenAmount UITokenAmount `json:"uiTokenAmount"`
}

// UITokenAmount is a raw token amount with its decimals.
type UITokenAmount struct {
	Amount         string `json:"amount"`
	Decimals       int32  `json:"decimals"`
	UIAmountString string `json:"uiAmountString"`
}
