package walletv1

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const maxBodyBytes = 1 << 20

// RegisterWalletServiceHandlerServer maps the HTTP routes onto server
// in-process. Business outcomes travel in the body's meta with status 200;
// transport failures use the status matching their gRPC code.
func RegisterWalletServiceHandlerServer(_ context.Context, mux *runtime.ServeMux, server WalletServiceServer) error {
	routes := []struct {
		method, pattern string
		handler         runtime.HandlerFunc
	}{
		{http.MethodPost, "/v1/wallet/withdrawals:reserve", post(server.ReserveWithdrawal)},
		{http.MethodPost, "/v1/wallet/withdrawals:finalize", post(server.FinalizeWithdrawal)},
		{http.MethodPost, "/v1/wallet/withdrawals:release", post(server.ReleaseWithdrawal)},
		{http.MethodPost, "/v1/wallet/deposits:settle", post(server.ApplyDepositSettlement)},
		{http.MethodPost, "/v1/wallet/bets", post(server.PlaceBet)},
		{http.MethodPost, "/v1/wallet/wins", post(server.SettleWin)},
		{http.MethodPost, "/v1/wallet/rollbacks", post(server.Rollback)},
		{http.MethodGet, "/v1/wallet/players/{player_id}/balances", get(func(p map[string]string) *GetBalanceRequest {
			return &GetBalanceRequest{PlayerId: p["player_id"]}
		}, server.GetBalance)},
		{http.MethodPost, "/v1/payments/withdrawals", post(server.RequestWithdrawal)},
		{http.MethodGet, "/v1/payments/withdrawals/{request_id}", get(func(p map[string]string) *GetWithdrawalRequest {
			return &GetWithdrawalRequest{RequestId: p["request_id"]}
		}, server.GetWithdrawal)},
		{http.MethodPost, "/v1/payments/deposit-sessions", post(server.OpenDepositSession)},
		{http.MethodPost, "/v1/payments/deposits", post(server.RegisterDeposit)},
		{http.MethodGet, "/v1/system/status", get(func(map[string]string) *GetSystemStatusRequest {
			return &GetSystemStatusRequest{}
		}, server.GetSystemStatus)},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, rt.handler); err != nil {
			return err
		}
	}
	return nil
}

func post[Req, Resp any](call func(context.Context, *Req) (*Resp, error)) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		in := new(Req)
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err := dec.Decode(in); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, status.Errorf(codes.InvalidArgument, "decode request body: %v", err))
			return
		}
		respond(w, r, call, in)
	}
}

func get[Req, Resp any](build func(map[string]string) *Req, call func(context.Context, *Req) (*Resp, error)) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		respond(w, r, call, build(params))
	}
}

func respond[Req, Resp any](w http.ResponseWriter, r *http.Request, call func(context.Context, *Req) (*Resp, error), in *Req) {
	out, err := call(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	st := status.Convert(err)
	writeJSON(w, runtime.HTTPStatusFromCode(st.Code()), errorBody{Code: int(st.Code()), Message: st.Message()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
