// Package rpc is the HTTP front-end consumed by external indexers and
// clients: transaction submission, block/transaction/account lookups,
// Merkle inclusion and state proofs, and a websocket push channel for tip
// changes. It is a consumer of the core's public interfaces only; nothing
// here is consensus-critical.
package rpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/scribechain/scribed/chainmodel"
	"github.com/scribechain/scribed/chainstore"
	"github.com/scribechain/scribed/logs"
	"github.com/scribechain/scribed/mempool"
	"github.com/scribechain/scribed/scriberr"
	"github.com/scribechain/scribed/statestore"
)

var log = logs.Get("RPCS")

// TxRelay is the outbound-gossip hook the server notifies after admitting a
// submitted transaction to the mempool.
type TxRelay interface {
	BroadcastTx(hash chainmodel.Hash)
}

// Server routes the HTTP API. Construct with New and run with Serve.
type Server struct {
	chain *chainstore.Store
	state *statestore.Store
	pool  *mempool.Pool
	relay TxRelay

	httpServer *http.Server
}

// New wires a server to the three stores and the gossip relay. relay may be
// nil for a node with networking disabled.
func New(chain *chainstore.Store, state *statestore.Store, pool *mempool.Pool, relay TxRelay) *Server {
	return &Server{chain: chain, state: state, pool: pool, relay: relay}
}

// Router builds the route table. Exposed separately from Serve so tests can
// drive the handlers through net/http/httptest without a listener.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/tx", s.handleSubmitTx).Methods("POST")
	r.HandleFunc("/tx/{hash}", s.handleGetTransaction).Methods("GET")
	r.HandleFunc("/block/{id}", s.handleGetBlock).Methods("GET")
	r.HandleFunc("/account/{pubkey}", s.handleGetAccount).Methods("GET")
	r.HandleFunc("/tip", s.handleGetTip).Methods("GET")
	r.HandleFunc("/mempool", s.handleGetMempool).Methods("GET")
	r.HandleFunc("/proof/tx/{hash}", s.handleGetMerkleProof).Methods("GET")
	r.HandleFunc("/proof/state/{pubkey}", s.handleGetStateProof).Methods("GET")
	r.HandleFunc("/ws", s.handleWebsocket)
	return r
}

// Serve listens on addr until stop is closed.
func (s *Server) Serve(addr string, stop <-chan struct{}) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.Router()}
	go func() {
		<-stop
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(ctx)
	}()
	log.Infof("RPC server listening on %s", addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

type submitTxRequest struct {
	RawTx string `json:"rawTx"`
}

type submitTxResponse struct {
	TxHash string `json:"txHash"`
}

func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	var req submitTxRequest
	body := http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeRPCError(w, scriberr.New(scriberr.ErrMalformedEncoding, "request body is not valid JSON"))
		return
	}
	raw, err := hex.DecodeString(req.RawTx)
	if err != nil {
		writeRPCError(w, scriberr.New(scriberr.ErrMalformedEncoding, "rawTx is not valid hex"))
		return
	}
	tx, err := chainmodel.DecodeTransaction(raw)
	if err != nil {
		writeRPCError(w, scriberr.New(scriberr.ErrMalformedEncoding, "rawTx does not decode as a canonical transaction"))
		return
	}
	if tx.Kind == chainmodel.KindCoinbase {
		writeRPCError(w, scriberr.New(scriberr.ErrMalformedEncoding, "coinbase transactions cannot be submitted"))
		return
	}
	if err := s.pool.Admit(tx, s.state, s.chain); err != nil {
		writeRPCError(w, err)
		return
	}
	hash := tx.Hash()
	if s.relay != nil {
		s.relay.BroadcastTx(hash)
	}
	writeJSON(w, http.StatusOK, submitTxResponse{TxHash: hash.String()})
}

func (s *Server) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var block chainmodel.Block
	var ok bool
	if h, isHash := parseHash(id); isHash {
		block, ok = s.chain.BlockByHash(h)
	} else if height, err := strconv.ParseUint(id, 10, 64); err == nil {
		block, ok = s.chain.BlockByHeight(height)
	} else {
		writeRPCError(w, scriberr.New(scriberr.ErrMalformedEncoding, "%q is neither a block hash nor a height", id))
		return
	}
	if !ok {
		writeNotFound(w, "block %s not found", id)
		return
	}
	writeJSON(w, http.StatusOK, blockToJSON(block))
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	hash, ok := parseHash(mux.Vars(r)["hash"])
	if !ok {
		writeRPCError(w, scriberr.New(scriberr.ErrMalformedEncoding, "malformed transaction hash"))
		return
	}
	tx, blockHash, height, ok := s.chain.ConfirmedTx(hash)
	if !ok {
		writeNotFound(w, "transaction %s not confirmed", hash)
		return
	}
	proof, _, _ := s.chain.TxMerkleProof(hash)
	writeJSON(w, http.StatusOK, confirmedTxJSON{
		Tx:          txToJSON(tx),
		BlockHash:   blockHash.String(),
		BlockHeight: height,
		Proof:       proofToJSON(proof),
	})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	pk, ok := parsePubKey(mux.Vars(r)["pubkey"])
	if !ok {
		writeRPCError(w, scriberr.New(scriberr.ErrMalformedEncoding, "malformed public key"))
		return
	}
	acct := s.state.Get(pk)
	writeJSON(w, http.StatusOK, accountJSON{Balance: acct.Balance, Nonce: acct.Nonce})
}

func (s *Server) handleGetTip(w http.ResponseWriter, r *http.Request) {
	tip := s.chain.Tip()
	writeJSON(w, http.StatusOK, headerToJSON(tip))
}

func (s *Server) handleGetMempool(w http.ResponseWriter, r *http.Request) {
	hashes := s.pool.Hashes()
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = h.String()
	}
	writeJSON(w, http.StatusOK, mempoolJSON{Hashes: out})
}

func (s *Server) handleGetMerkleProof(w http.ResponseWriter, r *http.Request) {
	hash, ok := parseHash(mux.Vars(r)["hash"])
	if !ok {
		writeRPCError(w, scriberr.New(scriberr.ErrMalformedEncoding, "malformed transaction hash"))
		return
	}
	proof, blockHash, ok := s.chain.TxMerkleProof(hash)
	if !ok {
		writeNotFound(w, "transaction %s not confirmed", hash)
		return
	}
	writeJSON(w, http.StatusOK, merkleProofJSON{BlockHash: blockHash.String(), Proof: proofToJSON(proof)})
}

func (s *Server) handleGetStateProof(w http.ResponseWriter, r *http.Request) {
	pk, ok := parsePubKey(mux.Vars(r)["pubkey"])
	if !ok {
		writeRPCError(w, scriberr.New(scriberr.ErrMalformedEncoding, "malformed public key"))
		return
	}
	acct, proof, root, ok := s.chain.StateProof(pk)
	if !ok {
		writeNotFound(w, "account %s has no materialized state", pk)
		return
	}
	writeJSON(w, http.StatusOK, stateProofJSON{
		Account:   accountJSON{Balance: acct.Balance, Nonce: acct.Nonce},
		StateRoot: root.String(),
		Proof:     proofToJSON(proof),
	})
}

func parseHash(s string) (chainmodel.Hash, bool) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return chainmodel.Hash{}, false
	}
	var h chainmodel.Hash
	copy(h[:], raw)
	return h, true
}

func parsePubKey(s string) (chainmodel.PubKey, bool) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return chainmodel.PubKey{}, false
	}
	var pk chainmodel.PubKey
	copy(pk[:], raw)
	return pk, true
}
