package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/scribechain/scribed/chainmodel"
	"github.com/scribechain/scribed/merkle"
	"github.com/scribechain/scribed/scriberr"
)

// The JSON shapes below are the view layer of the API only. They are
// re-marshalled by encoding/json and are never hashed, signed, or compared
// byte-for-byte; the canonical encodings live in chainmodel.

type headerJSON struct {
	Hash         string `json:"hash"`
	Version      uint8  `json:"version"`
	Height       uint64 `json:"height"`
	PrevHash     string `json:"prevHash"`
	Timestamp    uint64 `json:"timestamp"`
	Miner        string `json:"miner"`
	Difficulty   uint64 `json:"difficulty"`
	Nonce        uint64 `json:"nonce"`
	TxMerkleRoot string `json:"txMerkleRoot"`
	StateRoot    string `json:"stateRoot"`
	TxCount      uint16 `json:"txCount"`
}

type txJSON struct {
	Hash      string `json:"hash"`
	Kind      string `json:"kind"`
	Author    string `json:"author,omitempty"`
	Nonce     uint64 `json:"nonce,omitempty"`
	Timestamp uint64 `json:"timestamp,omitempty"`
	Body      string `json:"body,omitempty"`
	ReplyTo   string `json:"replyTo,omitempty"`
	Target    string `json:"target,omitempty"`
	Message   string `json:"message,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Amount    uint64 `json:"amount,omitempty"`
	GasFee    uint64 `json:"gasFee,omitempty"`
	Height    uint64 `json:"height,omitempty"`
	Signature string `json:"signature,omitempty"`
}

type blockJSON struct {
	Header       headerJSON `json:"header"`
	Transactions []txJSON   `json:"transactions"`
}

type accountJSON struct {
	Balance uint64 `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

type mempoolJSON struct {
	Hashes []string `json:"hashes"`
}

type proofStepJSON struct {
	Sibling   string `json:"sibling"`
	LeftFirst bool   `json:"leftFirst"`
}

type proofJSON struct {
	Leaf     string          `json:"leaf"`
	Siblings []proofStepJSON `json:"siblings"`
}

type confirmedTxJSON struct {
	Tx          txJSON    `json:"tx"`
	BlockHash   string    `json:"blockHash"`
	BlockHeight uint64    `json:"blockHeight"`
	Proof       proofJSON `json:"proof"`
}

type merkleProofJSON struct {
	BlockHash string    `json:"blockHash"`
	Proof     proofJSON `json:"proof"`
}

type stateProofJSON struct {
	Account   accountJSON `json:"account"`
	StateRoot string      `json:"stateRoot"`
	Proof     proofJSON   `json:"proof"`
}

type errorJSON struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

type errorResponseJSON struct {
	Error errorJSON `json:"error"`
}

func headerToJSON(h chainmodel.Header) headerJSON {
	return headerJSON{
		Hash:         h.Hash().String(),
		Version:      h.Version,
		Height:       h.Height,
		PrevHash:     h.PrevHash.String(),
		Timestamp:    h.Timestamp,
		Miner:        h.Miner.String(),
		Difficulty:   h.Difficulty,
		Nonce:        h.Nonce,
		TxMerkleRoot: h.TxMerkleRoot.String(),
		StateRoot:    h.StateRoot.String(),
		TxCount:      h.TxCount,
	}
}

func txToJSON(tx chainmodel.Transaction) txJSON {
	out := txJSON{Hash: tx.Hash().String(), Kind: tx.Kind.String()}
	switch tx.Kind {
	case chainmodel.KindPost:
		p := tx.Post
		out.Author = p.Author.String()
		out.Nonce = p.Nonce
		out.Timestamp = p.Timestamp
		out.Body = p.Body
		if p.ReplyTo != nil {
			out.ReplyTo = p.ReplyTo.String()
		}
		out.GasFee = p.GasFee
		out.Signature = hex.EncodeToString(p.Signature[:])
	case chainmodel.KindEndorse:
		e := tx.Endorse
		out.Author = e.Author.String()
		out.Nonce = e.Nonce
		out.Target = e.Target.String()
		out.Amount = e.Amount
		out.Message = e.Message
		out.GasFee = e.GasFee
		out.Signature = hex.EncodeToString(e.Signature[:])
	case chainmodel.KindTransfer:
		t := tx.Transfer
		out.Author = t.Sender.String()
		out.Recipient = t.Recipient.String()
		out.Amount = t.Amount
		out.Nonce = t.Nonce
		out.GasFee = t.GasFee
		out.Signature = hex.EncodeToString(t.Signature[:])
	case chainmodel.KindCoinbase:
		c := tx.Coinbase
		out.Recipient = c.Recipient.String()
		out.Amount = c.Amount
		out.Height = c.Height
	}
	return out
}

func blockToJSON(b chainmodel.Block) blockJSON {
	txs := make([]txJSON, len(b.Transactions))
	for i, tx := range b.Transactions {
		txs[i] = txToJSON(tx)
	}
	return blockJSON{Header: headerToJSON(b.Header), Transactions: txs}
}

func proofToJSON(p merkle.Proof) proofJSON {
	steps := make([]proofStepJSON, len(p.Siblings))
	for i, s := range p.Siblings {
		steps[i] = proofStepJSON{Sibling: hex.EncodeToString(s.Sibling[:]), LeftFirst: s.LeftFirst}
	}
	return proofJSON{Leaf: hex.EncodeToString(p.Leaf[:]), Siblings: steps}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debugf("writing response: %v", err)
	}
}

// errorKind maps a rule-error code to the categorical kind string the API
// surfaces. The two nonce codes collapse into a sub-classified
// NonceMismatch; everything else strips the Go-side Err prefix.
func errorKind(code scriberr.ErrorCode) string {
	switch code {
	case scriberr.ErrNonceStale:
		return "NonceMismatch/Stale"
	case scriberr.ErrNonceFutureGap:
		return "NonceMismatch/FutureGap"
	default:
		return strings.TrimPrefix(code.String(), "Err")
	}
}

// statusFor picks the HTTP status for a rule error: syntactic problems are
// 400, semantically valid but unacceptable submissions are 422.
func statusFor(code scriberr.ErrorCode) int {
	switch code {
	case scriberr.ErrMalformedEncoding, scriberr.ErrPeerProtocol:
		return http.StatusBadRequest
	default:
		return http.StatusUnprocessableEntity
	}
}

func writeRPCError(w http.ResponseWriter, err error) {
	if rerr, ok := err.(scriberr.RuleError); ok {
		writeJSON(w, statusFor(rerr.ErrorCode), errorResponseJSON{
			Error: errorJSON{Kind: errorKind(rerr.ErrorCode), Detail: rerr.Description},
		})
		return
	}
	writeJSON(w, http.StatusInternalServerError, errorResponseJSON{
		Error: errorJSON{Kind: "Internal", Detail: err.Error()},
	})
}

func writeNotFound(w http.ResponseWriter, format string, args ...interface{}) {
	writeJSON(w, http.StatusNotFound, errorResponseJSON{
		Error: errorJSON{Kind: "NotFound", Detail: fmt.Sprintf(format, args...)},
	})
}
