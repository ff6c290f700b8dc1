package grpc

import (
	context "context"
	"time"

	"github.com/cockroachdb/errors"
	models "github.com/glkeru/loyalty/fuel/internal/models"
	services "github.com/glkeru/loyalty/fuel/internal/services"
	"go.uber.org/zap"
	grpc "google.golang.org/grpc"
	codes "google.golang.org/grpc/codes"
	status "google.golang.org/grpc/status"
)

type BalanceRequest struct {
	Mobile        string `json:"mobile"`
	VehicleNumber string `json:"vehicle_number"`
}

type BalanceResponse struct {
	CustomerID    string `json:"customer_id"`
	VehicleID     string `json:"vehicle_id"`
	VehicleNumber string `json:"vehicle_number"`
	Points        int64  `json:"points"`
}

type TnxRequest struct {
	Mobile        string `json:"mobile"`
	VehicleNumber string `json:"vehicle_number"`
	Datefrom      string `json:"date_from"` // YYYY-MM-DD
	Dateto        string `json:"date_to"`   // YYYY-MM-DD
}

type TnxMessage struct {
	UUID            string `json:"uuid"`
	Date            string `json:"date"`
	FuelType        string `json:"fuel_type"`
	Liters          string `json:"liters"`
	AmountPaid      string `json:"amount_paid"`
	DiscountApplied string `json:"discount_applied"`
	PointsEarned    int64  `json:"points_earned"`
	PointsRedeemed  int64  `json:"points_redeemed"`
}

type TnxResponse struct {
	Tnx []*TnxMessage `json:"tnx"`
}

type BalanceServer interface {
	GetBalance(context.Context, *BalanceRequest) (*BalanceResponse, error)
	GetTnx(context.Context, *TnxRequest) (*TnxResponse, error)
}

const serviceName = "fuel.Balance"

func getBalanceHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(BalanceRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BalanceServer).GetBalance(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/GetBalance"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BalanceServer).GetBalance(ctx, req.(*BalanceRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getTnxHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(TnxRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BalanceServer).GetTnx(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/GetTnx"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BalanceServer).GetTnx(ctx, req.(*TnxRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var BalanceServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*BalanceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetBalance", Handler: getBalanceHandler},
		{MethodName: "GetTnx", Handler: getTnxHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fuel/balance",
}

func RegisterBalanceServer(s grpc.ServiceRegistrar, srv BalanceServer) {
	s.RegisterService(&BalanceServiceDesc, srv)
}

// Клиент для терминалов и тестов
type BalanceClient struct {
	cc grpc.ClientConnInterface
}

func NewBalanceClient(cc grpc.ClientConnInterface) *BalanceClient {
	return &BalanceClient{cc}
}

func (c *BalanceClient) GetBalance(ctx context.Context, in *BalanceRequest, opts ...grpc.CallOption) (*BalanceResponse, error) {
	out := new(BalanceResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	err := c.cc.Invoke(ctx, "/"+serviceName+"/GetBalance", in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BalanceClient) GetTnx(ctx context.Context, in *TnxRequest, opts ...grpc.CallOption) (*TnxResponse, error) {
	out := new(TnxResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	err := c.cc.Invoke(ctx, "/"+serviceName+"/GetTnx", in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// BalanceService - баланс и история счета
type BalanceService struct {
	accounts     *services.AccountService
	transactions *services.TransactionService
	logger       *zap.Logger
}

func NewBalanceService(accounts *services.AccountService, transactions *services.TransactionService, logger *zap.Logger) *BalanceService {
	return &BalanceService{accounts, transactions, logger}
}

func (b *BalanceService) statusOf(err error, service string) error {
	switch {
	case errors.IsAny(err, models.ErrAccountNotFound, models.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case models.IsUserError(err):
		return status.Error(codes.InvalidArgument, err.Error())
	}
	b.logger.Error("Balance",
		zap.String("service", service),
		zap.Error(err),
	)
	return status.Error(codes.Internal, "internal error")
}

// Баланс
func (b *BalanceService) GetBalance(ctx context.Context, in *BalanceRequest) (*BalanceResponse, error) {
	account, err := b.accounts.Locate(ctx, in.Mobile, in.VehicleNumber)
	if err != nil {
		return nil, b.statusOf(err, "GetBalance")
	}
	return &BalanceResponse{
		CustomerID:    account.CustomerID.String(),
		VehicleID:     account.VehicleID.String(),
		VehicleNumber: account.VehicleNumber,
		Points:        account.AvailablePoints,
	}, nil
}

// История транзакций
func (b *BalanceService) GetTnx(ctx context.Context, in *TnxRequest) (*TnxResponse, error) {
	from, err := time.Parse(time.DateTime, in.Datefrom+" 00:00:00")
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "date from %q", in.Datefrom)
	}
	to, err := time.Parse(time.DateTime, in.Dateto+" 23:59:59")
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "date to %q", in.Dateto)
	}
	// получить транзакции
	tnxs, err := b.transactions.History(ctx, in.Mobile, in.VehicleNumber, from, to)
	if err != nil {
		return nil, b.statusOf(err, "GetTnx")
	}
	// сформировать ответ
	resp := make([]*TnxMessage, len(tnxs))
	for i, v := range tnxs {
		resp[i] = &TnxMessage{
			UUID:            v.ID.String(),
			Date:            v.CreatedAt.UTC().Format(time.RFC3339),
			FuelType:        string(v.FuelType),
			Liters:          v.Liters.String(),
			AmountPaid:      v.AmountPaid.String(),
			DiscountApplied: v.DiscountApplied.String(),
			PointsEarned:    v.PointsEarned,
			PointsRedeemed:  v.PointsRedeemed,
		}
	}
	return &TnxResponse{Tnx: resp}, nil
}
