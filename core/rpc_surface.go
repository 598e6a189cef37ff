// Component K: RPC surface.
//
// A single request envelope carries one of the variants named in spec
// §4.K; each maps to an identically-named controller method and returns a
// response variant or an error carrying {code, message}; the error's logs
// field is never filled in. Exposed over HTTP via gorilla/mux.
package core

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RequestMethod names the supported RPC variants (spec §4.K).
type RequestMethod string

const (
	MethodSubmitBlock       RequestMethod = "submit_block"
	MethodProposeBlock      RequestMethod = "propose_block"
	MethodSubmitTransaction RequestMethod = "submit_transaction"
	MethodGetHeadInfo       RequestMethod = "get_head_info"
	MethodGetChainID        RequestMethod = "get_chain_id"
	MethodGetForkHeads      RequestMethod = "get_fork_heads"
	MethodReadContract      RequestMethod = "read_contract"
	MethodGetAccountNonce   RequestMethod = "get_account_nonce"
	MethodGetAccountRC      RequestMethod = "get_account_rc"
	MethodGetResourceLimits RequestMethod = "get_resource_limits"
	MethodInvokeSystemCall  RequestMethod = "invoke_system_call"
)

// Envelope carries one request variant.
type Envelope struct {
	Method RequestMethod   `json:"method"`
	Params json.RawMessage `json:"params"`
}

// RPCError is the error response shape (spec §4.K, §7). writeError sets
// Code and Message only; Logs is always empty.
type RPCError struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Logs    []string `json:"logs,omitempty"`
}

// Surface maps request envelopes to controller methods and serves them over
// HTTP (spec §4.K). Blocks pushed on koinos.block.accept are not served:
// MessageBus.Subscribe exists, but nothing feeds its deliveries into
// Dispatch.
type Surface struct {
	controller *Controller
	limiter    *rate.Limiter
	log        logrus.FieldLogger
}

// NewSurface builds a Surface rate-limited to ratePerSecond requests/second
// with the given burst, via golang.org/x/time/rate.
func NewSurface(controller *Controller, ratePerSecond float64, burst int, log logrus.FieldLogger) *Surface {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Surface{controller: controller, limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst), log: log}
}

// Router builds the gorilla/mux router serving the single RPC endpoint.
func (s *Surface) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/rpc", s.handle).Methods(http.MethodPost)
	return r
}

func (s *Surface) handle(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}
	var env Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, ErrMalformedID("request envelope"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp, err := s.Dispatch(ctx, env)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func writeError(w http.ResponseWriter, err error) {
	ce, ok := err.(*CoreError)
	rpcErr := RPCError{Code: "internal_error", Message: err.Error()}
	if ok {
		rpcErr = RPCError{Code: ce.Code, Message: ce.Message}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK) // errors are carried in the envelope, not the transport status
	_ = json.NewEncoder(w).Encode(struct {
		Error RPCError `json:"error"`
	}{Error: rpcErr})
}

// Dispatch maps env to the matching controller method (spec §4.K).
func (s *Surface) Dispatch(ctx context.Context, env Envelope) (any, error) {
	switch env.Method {
	case MethodGetHeadInfo:
		return s.controller.GetHeadInfo()
	case MethodGetChainID:
		id, err := s.controller.GetChainID()
		return id, err
	case MethodGetForkHeads:
		return s.controller.GetForkHeads()
	case MethodSubmitBlock:
		var p struct {
			Block *Block `json:"block"`
		}
		if err := json.Unmarshal(env.Params, &p); err != nil {
			return nil, ErrMalformedID("submit_block params")
		}
		return s.controller.SubmitBlock(ctx, p.Block, time.Now(), IntentBlockApplication)
	case MethodProposeBlock:
		var p struct {
			Block *Block `json:"block"`
		}
		if err := json.Unmarshal(env.Params, &p); err != nil {
			return nil, ErrMalformedID("propose_block params")
		}
		return s.controller.SubmitBlock(ctx, p.Block, time.Now(), IntentBlockProposal)
	case MethodSubmitTransaction:
		var p struct {
			Transaction *Transaction `json:"transaction"`
		}
		if err := json.Unmarshal(env.Params, &p); err != nil {
			return nil, ErrMalformedID("submit_transaction params")
		}
		return s.controller.SubmitTransaction(ctx, p.Transaction)
	case MethodReadContract:
		var p struct {
			Contract   Address `json:"contract"`
			EntryPoint string  `json:"entry_point"`
			Args       []byte  `json:"args"`
		}
		if err := json.Unmarshal(env.Params, &p); err != nil {
			return nil, ErrMalformedID("read_contract params")
		}
		out, logs, err := s.controller.ReadContract(ctx, p.Contract, p.EntryPoint, p.Args)
		if err != nil {
			return nil, err
		}
		return struct {
			Result []byte   `json:"result"`
			Logs   []string `json:"logs"`
		}{out, logs}, nil
	case MethodGetAccountNonce:
		var p struct {
			Account Address `json:"account"`
		}
		if err := json.Unmarshal(env.Params, &p); err != nil {
			return nil, ErrMalformedID("get_account_nonce params")
		}
		out, err := s.controller.ReadOnlyThunk(ctx, CallGetAccountNonce, p.Account.Bytes())
		if err != nil {
			return nil, err
		}
		return struct {
			Nonce []byte `json:"nonce"`
		}{out}, nil
	case MethodGetAccountRC:
		var p struct {
			Account Address `json:"account"`
		}
		if err := json.Unmarshal(env.Params, &p); err != nil {
			return nil, ErrMalformedID("get_account_rc params")
		}
		out, err := s.controller.ReadOnlyThunk(ctx, CallGetAccountRC, p.Account.Bytes())
		if err != nil {
			return nil, err
		}
		return struct {
			RC []byte `json:"rc"`
		}{out}, nil
	case MethodGetResourceLimits:
		disk, network, compute := s.controller.ResourceLimits()
		return struct {
			Disk    uint64 `json:"disk"`
			Network uint64 `json:"network"`
			Compute uint64 `json:"compute"`
		}{disk, network, compute}, nil
	case MethodInvokeSystemCall:
		var p struct {
			ID   uint32 `json:"id"`
			Args []byte `json:"args"`
		}
		if err := json.Unmarshal(env.Params, &p); err != nil {
			return nil, ErrMalformedID("invoke_system_call params")
		}
		out, err := s.controller.ReadOnlyThunk(ctx, CallID(p.ID), p.Args)
		if err != nil {
			return nil, err
		}
		return struct {
			Result []byte `json:"result"`
		}{out}, nil
	default:
		return nil, ErrMissingField("method")
	}
}
