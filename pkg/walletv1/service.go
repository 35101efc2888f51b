package walletv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const ServiceName = "wallet.v1.WalletService"

const (
	WalletService_ReserveWithdrawal_FullMethodName      = "/wallet.v1.WalletService/ReserveWithdrawal"
	WalletService_FinalizeWithdrawal_FullMethodName     = "/wallet.v1.WalletService/FinalizeWithdrawal"
	WalletService_ReleaseWithdrawal_FullMethodName      = "/wallet.v1.WalletService/ReleaseWithdrawal"
	WalletService_ApplyDepositSettlement_FullMethodName = "/wallet.v1.WalletService/ApplyDepositSettlement"
	WalletService_PlaceBet_FullMethodName               = "/wallet.v1.WalletService/PlaceBet"
	WalletService_SettleWin_FullMethodName              = "/wallet.v1.WalletService/SettleWin"
	WalletService_Rollback_FullMethodName               = "/wallet.v1.WalletService/Rollback"
	WalletService_GetBalance_FullMethodName             = "/wallet.v1.WalletService/GetBalance"
	WalletService_RequestWithdrawal_FullMethodName      = "/wallet.v1.WalletService/RequestWithdrawal"
	WalletService_GetWithdrawal_FullMethodName          = "/wallet.v1.WalletService/GetWithdrawal"
	WalletService_OpenDepositSession_FullMethodName     = "/wallet.v1.WalletService/OpenDepositSession"
	WalletService_RegisterDeposit_FullMethodName        = "/wallet.v1.WalletService/RegisterDeposit"
	WalletService_GetSystemStatus_FullMethodName        = "/wallet.v1.WalletService/GetSystemStatus"
)

type WalletServiceServer interface {
	ReserveWithdrawal(context.Context, *ReserveWithdrawalRequest) (*CommandResponse, error)
	FinalizeWithdrawal(context.Context, *FinalizeWithdrawalRequest) (*CommandResponse, error)
	ReleaseWithdrawal(context.Context, *ReleaseWithdrawalRequest) (*CommandResponse, error)
	ApplyDepositSettlement(context.Context, *ApplyDepositSettlementRequest) (*CommandResponse, error)
	PlaceBet(context.Context, *PlaceBetRequest) (*CommandResponse, error)
	SettleWin(context.Context, *SettleWinRequest) (*CommandResponse, error)
	Rollback(context.Context, *RollbackRequest) (*CommandResponse, error)
	GetBalance(context.Context, *GetBalanceRequest) (*GetBalanceResponse, error)
	RequestWithdrawal(context.Context, *RequestWithdrawalRequest) (*WithdrawalResponse, error)
	GetWithdrawal(context.Context, *GetWithdrawalRequest) (*WithdrawalResponse, error)
	OpenDepositSession(context.Context, *OpenDepositSessionRequest) (*DepositSessionResponse, error)
	RegisterDeposit(context.Context, *RegisterDepositRequest) (*DepositResponse, error)
	GetSystemStatus(context.Context, *GetSystemStatusRequest) (*GetSystemStatusResponse, error)
}

// UnimplementedWalletServiceServer can be embedded for forward compatibility.
type UnimplementedWalletServiceServer struct{}

func unimplemented(method string) error {
	return status.Errorf(codes.Unimplemented, "method %s not implemented", method)
}

func (UnimplementedWalletServiceServer) ReserveWithdrawal(context.Context, *ReserveWithdrawalRequest) (*CommandResponse, error) {
	return nil, unimplemented("ReserveWithdrawal")
}
func (UnimplementedWalletServiceServer) FinalizeWithdrawal(context.Context, *FinalizeWithdrawalRequest) (*CommandResponse, error) {
	return nil, unimplemented("FinalizeWithdrawal")
}
func (UnimplementedWalletServiceServer) ReleaseWithdrawal(context.Context, *ReleaseWithdrawalRequest) (*CommandResponse, error) {
	return nil, unimplemented("ReleaseWithdrawal")
}
func (UnimplementedWalletServiceServer) ApplyDepositSettlement(context.Context, *ApplyDepositSettlementRequest) (*CommandResponse, error) {
	return nil, unimplemented("ApplyDepositSettlement")
}
func (UnimplementedWalletServiceServer) PlaceBet(context.Context, *PlaceBetRequest) (*CommandResponse, error) {
	return nil, unimplemented("PlaceBet")
}
func (UnimplementedWalletServiceServer) SettleWin(context.Context, *SettleWinRequest) (*CommandResponse, error) {
	return nil, unimplemented("SettleWin")
}
func (UnimplementedWalletServiceServer) Rollback(context.Context, *RollbackRequest) (*CommandResponse, error) {
	return nil, unimplemented("Rollback")
}
func (UnimplementedWalletServiceServer) GetBalance(context.Context, *GetBalanceRequest) (*GetBalanceResponse, error) {
	return nil, unimplemented("GetBalance")
}
func (UnimplementedWalletServiceServer) RequestWithdrawal(context.Context, *RequestWithdrawalRequest) (*WithdrawalResponse, error) {
	return nil, unimplemented("RequestWithdrawal")
}
func (UnimplementedWalletServiceServer) GetWithdrawal(context.Context, *GetWithdrawalRequest) (*WithdrawalResponse, error) {
	return nil, unimplemented("GetWithdrawal")
}
func (UnimplementedWalletServiceServer) OpenDepositSession(context.Context, *OpenDepositSessionRequest) (*DepositSessionResponse, error) {
	return nil, unimplemented("OpenDepositSession")
}
func (UnimplementedWalletServiceServer) RegisterDeposit(context.Context, *RegisterDepositRequest) (*DepositResponse, error) {
	return nil, unimplemented("RegisterDeposit")
}
func (UnimplementedWalletServiceServer) GetSystemStatus(context.Context, *GetSystemStatusRequest) (*GetSystemStatusResponse, error) {
	return nil, unimplemented("GetSystemStatus")
}

func unary[Req, Resp any](name string, call func(WalletServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(WalletServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(WalletServiceServer), ctx, req.(*Req))
			})
		},
	}
}

var WalletService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*WalletServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("ReserveWithdrawal", WalletServiceServer.ReserveWithdrawal),
		unary("FinalizeWithdrawal", WalletServiceServer.FinalizeWithdrawal),
		unary("ReleaseWithdrawal", WalletServiceServer.ReleaseWithdrawal),
		unary("ApplyDepositSettlement", WalletServiceServer.ApplyDepositSettlement),
		unary("PlaceBet", WalletServiceServer.PlaceBet),
		unary("SettleWin", WalletServiceServer.SettleWin),
		unary("Rollback", WalletServiceServer.Rollback),
		unary("GetBalance", WalletServiceServer.GetBalance),
		unary("RequestWithdrawal", WalletServiceServer.RequestWithdrawal),
		unary("GetWithdrawal", WalletServiceServer.GetWithdrawal),
		unary("OpenDepositSession", WalletServiceServer.OpenDepositSession),
		unary("RegisterDeposit", WalletServiceServer.RegisterDeposit),
		unary("GetSystemStatus", WalletServiceServer.GetSystemStatus),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "wallet/v1/wallet.proto",
}

func RegisterWalletServiceServer(s grpc.ServiceRegistrar, srv WalletServiceServer) {
	s.RegisterService(&WalletService_ServiceDesc, srv)
}

type WalletServiceClient interface {
	ReserveWithdrawal(ctx context.Context, in *ReserveWithdrawalRequest, opts ...grpc.CallOption) (*CommandResponse, error)
	FinalizeWithdrawal(ctx context.Context, in *FinalizeWithdrawalRequest, opts ...grpc.CallOption) (*CommandResponse, error)
	ReleaseWithdrawal(ctx context.Context, in *ReleaseWithdrawalRequest, opts ...grpc.CallOption) (*CommandResponse, error)
	ApplyDepositSettlement(ctx context.Context, in *ApplyDepositSettlementRequest, opts ...grpc.CallOption) (*CommandResponse, error)
	PlaceBet(ctx context.Context, in *PlaceBetRequest, opts ...grpc.CallOption) (*CommandResponse, error)
	SettleWin(ctx context.Context, in *SettleWinRequest, opts ...grpc.CallOption) (*CommandResponse, error)
	Rollback(ctx context.Context, in *RollbackRequest, opts ...grpc.CallOption) (*CommandResponse, error)
	GetBalance(ctx context.Context, in *GetBalanceRequest, opts ...grpc.CallOption) (*GetBalanceResponse, error)
	RequestWithdrawal(ctx context.Context, in *RequestWithdrawalRequest, opts ...grpc.CallOption) (*WithdrawalResponse, error)
	GetWithdrawal(ctx context.Context, in *GetWithdrawalRequest, opts ...grpc.CallOption) (*WithdrawalResponse, error)
	OpenDepositSession(ctx context.Context, in *OpenDepositSessionRequest, opts ...grpc.CallOption) (*DepositSessionResponse, error)
	RegisterDeposit(ctx context.Context, in *RegisterDepositRequest, opts ...grpc.CallOption) (*DepositResponse, error)
	GetSystemStatus(ctx context.Context, in *GetSystemStatusRequest, opts ...grpc.CallOption) (*GetSystemStatusResponse, error)
}

type walletServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewWalletServiceClient(cc grpc.ClientConnInterface) WalletServiceClient {
	return &walletServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *walletServiceClient) ReserveWithdrawal(ctx context.Context, in *ReserveWithdrawalRequest, opts ...grpc.CallOption) (*CommandResponse, error) {
	return invoke[CommandResponse](ctx, c.cc, WalletService_ReserveWithdrawal_FullMethodName, in, opts)
}

func (c *walletServiceClient) FinalizeWithdrawal(ctx context.Context, in *FinalizeWithdrawalRequest, opts ...grpc.CallOption) (*CommandResponse, error) {
	return invoke[CommandResponse](ctx, c.cc, WalletService_FinalizeWithdrawal_FullMethodName, in, opts)
}

func (c *walletServiceClient) ReleaseWithdrawal(ctx context.Context, in *ReleaseWithdrawalRequest, opts ...grpc.CallOption) (*CommandResponse, error) {
	return invoke[CommandResponse](ctx, c.cc, WalletService_ReleaseWithdrawal_FullMethodName, in, opts)
}

func (c *walletServiceClient) ApplyDepositSettlement(ctx context.Context, in *ApplyDepositSettlementRequest, opts ...grpc.CallOption) (*CommandResponse, error) {
	return invoke[CommandResponse](ctx, c.cc, WalletService_ApplyDepositSettlement_FullMethodName, in, opts)
}

func (c *walletServiceClient) PlaceBet(ctx context.Context, in *PlaceBetRequest, opts ...grpc.CallOption) (*CommandResponse, error) {
	return invoke[CommandResponse](ctx, c.cc, WalletService_PlaceBet_FullMethodName, in, opts)
}

func (c *walletServiceClient) SettleWin(ctx context.Context, in *SettleWinRequest, opts ...grpc.CallOption) (*CommandResponse, error) {
	return invoke[CommandResponse](ctx, c.cc, WalletService_SettleWin_FullMethodName, in, opts)
}

func (c *walletServiceClient) Rollback(ctx context.Context, in *RollbackRequest, opts ...grpc.CallOption) (*CommandResponse, error) {
	return invoke[CommandResponse](ctx, c.cc, WalletService_Rollback_FullMethodName, in, opts)
}

func (c *walletServiceClient) GetBalance(ctx context.Context, in *GetBalanceRequest, opts ...grpc.CallOption) (*GetBalanceResponse, error) {
	return invoke[GetBalanceResponse](ctx, c.cc, WalletService_GetBalance_FullMethodName, in, opts)
}

func (c *walletServiceClient) RequestWithdrawal(ctx context.Context, in *RequestWithdrawalRequest, opts ...grpc.CallOption) (*WithdrawalResponse, error) {
	return invoke[WithdrawalResponse](ctx, c.cc, WalletService_RequestWithdrawal_FullMethodName, in, opts)
}

func (c *walletServiceClient) GetWithdrawal(ctx context.Context, in *GetWithdrawalRequest, opts ...grpc.CallOption) (*WithdrawalResponse, error) {
	return invoke[WithdrawalResponse](ctx, c.cc, WalletService_GetWithdrawal_FullMethodName, in, opts)
}

func (c *walletServiceClient) OpenDepositSession(ctx context.Context, in *OpenDepositSessionRequest, opts ...grpc.CallOption) (*DepositSessionResponse, error) {
	return invoke[DepositSessionResponse](ctx, c.cc, WalletService_OpenDepositSession_FullMethodName, in, opts)
}

func (c *walletServiceClient) RegisterDeposit(ctx context.Context, in *RegisterDepositRequest, opts ...grpc.CallOption) (*DepositResponse, error) {
	return invoke[DepositResponse](ctx, c.cc, WalletService_RegisterDeposit_FullMethodName, in, opts)
}

func (c *walletServiceClient) GetSystemStatus(ctx context.Context, in *GetSystemStatusRequest, opts ...grpc.CallOption) (*GetSystemStatusResponse, error) {
	return invoke[GetSystemStatusResponse](ctx, c.cc, WalletService_GetSystemStatus_FullMethodName, in, opts)
}
