package handler

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
)

const (
	ServiceName     = "storefront.v1.Storefront"
	SessionMetadata = "x-session-id"
	jsonCodecName   = "json"
)

// jsonCodec lets the service run without generated protobuf types.
// Clients select it with grpc.CallContentSubtype("json").
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type StartRequest struct{}

type QueryRequest struct {
	Category string `json:"category"`
	Search   string `json:"search"`
	Sort     string `json:"sort"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
}

// ReserveRequest holds Quantity units; an unset Quantity reserves one.
type ReserveRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// ReleaseRequest releases Quantity units, or the whole entry when Quantity is 0.
type ReleaseRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type ReleaseAllRequest struct{}

type PayRequest struct{}

type ConfirmRequest struct {
	Status string `json:"status"`
	Order  string `json:"order"`
	Token  string `json:"token"`
}

type CartReply = cartResponse

type QueryReply = catalogResponse

type ReserveReply = reserveResponse

type PayReply struct {
	Token       string `json:"token"`
	RedirectURL string `json:"redirect_url"`
	Field       string `json:"field"`
}

type ConfirmReply struct {
	Kind    string   `json:"kind"`
	Heading string   `json:"heading"`
	Message string   `json:"message"`
	Details []string `json:"details"`
}

// StorefrontServer is the service implemented by GRPCHandler.
type StorefrontServer interface {
	Start(context.Context, *StartRequest) (*CartReply, error)
	Query(context.Context, *QueryRequest) (*QueryReply, error)
	Reserve(context.Context, *ReserveRequest) (*ReserveReply, error)
	Release(context.Context, *ReleaseRequest) (*CartReply, error)
	ReleaseAll(context.Context, *ReleaseAllRequest) (*CartReply, error)
	Pay(context.Context, *PayRequest) (*PayReply, error)
	Confirm(context.Context, *ConfirmRequest) (*ConfirmReply, error)
}

type GRPCHandler struct {
	sessions *service.Sessions
	pageSize int
	log      logrus.FieldLogger
}

var _ StorefrontServer = (*GRPCHandler)(nil)

func NewGRPCHandler(sessions *service.Sessions, pageSize int, log logrus.FieldLogger) *GRPCHandler {
	if pageSize <= 0 {
		pageSize = service.DefaultPageSize
	}
	return &GRPCHandler{sessions: sessions, pageSize: pageSize, log: log}
}

func RegisterStorefrontServer(s grpc.ServiceRegistrar, srv StorefrontServer) {
	s.RegisterService(&storefrontServiceDesc, srv)
}

func (h *GRPCHandler) Start(ctx context.Context, _ *StartRequest) (*CartReply, error) {
	sess, err := h.session(ctx)
	if err != nil {
		return nil, err
	}
	sess.Checkout.Reset()
	if err := sess.Cart.Start(ctx); err != nil {
		return nil, toStatus(err)
	}
	reply := toCartResponse(sess.Cart.View())
	return &reply, nil
}

func (h *GRPCHandler) Query(ctx context.Context, req *QueryRequest) (*QueryReply, error) {
	sess, err := h.session(ctx)
	if err != nil {
		return nil, err
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = h.pageSize
	}
	page := sess.Catalog.Query(service.CatalogQuery{
		Category: req.Category,
		Search:   req.Search,
		Sort:     domain.SortOrder(req.Sort),
		Page:     req.Page,
		PageSize: pageSize,
	})

	reply := &QueryReply{
		Items:      toProductResponses(page.Items),
		Categories: sess.Catalog.Categories(),
		Total:      page.Total,
		Page:       page.Page,
		TotalPages: page.TotalPages,
		From:       page.From,
		To:         page.To,
	}
	if err := sess.Catalog.Stale(); err != nil {
		reply.Stale = messageFor(err)
	}
	return reply, nil
}

func (h *GRPCHandler) Reserve(ctx context.Context, req *ReserveRequest) (*ReserveReply, error) {
	if req.ProductID == "" {
		return nil, status.Error(codes.InvalidArgument, "missing product_id")
	}
	sess, err := h.session(ctx)
	if err != nil {
		return nil, err
	}

	quantity := req.Quantity
	if quantity == 0 {
		quantity = 1
	}
	stock, err := sess.Cart.Reserve(ctx, req.ProductID, quantity)
	if err != nil {
		return nil, toStatus(err)
	}
	if stock < 0 {
		if p, ok := sess.Catalog.Product(req.ProductID); ok {
			stock = p.Stock
		}
	}
	return &ReserveReply{Stock: stock, Cart: toCartResponse(sess.Cart.View())}, nil
}

func (h *GRPCHandler) Release(ctx context.Context, req *ReleaseRequest) (*CartReply, error) {
	if req.ProductID == "" {
		return nil, status.Error(codes.InvalidArgument, "missing product_id")
	}
	sess, err := h.session(ctx)
	if err != nil {
		return nil, err
	}

	if req.Quantity == 0 {
		err = sess.Cart.Remove(ctx, req.ProductID)
	} else {
		err = sess.Cart.Release(ctx, req.ProductID, req.Quantity)
	}
	if err != nil {
		return nil, toStatus(err)
	}
	reply := toCartResponse(sess.Cart.View())
	return &reply, nil
}

func (h *GRPCHandler) ReleaseAll(ctx context.Context, _ *ReleaseAllRequest) (*CartReply, error) {
	sess, err := h.session(ctx)
	if err != nil {
		return nil, err
	}
	if err := sess.Cart.ReleaseAll(ctx); err != nil {
		return nil, toStatus(err)
	}
	reply := toCartResponse(sess.Cart.View())
	return &reply, nil
}

func (h *GRPCHandler) Pay(ctx context.Context, _ *PayRequest) (*PayReply, error) {
	sess, err := h.session(ctx)
	if err != nil {
		return nil, err
	}

	intent, err := sess.Checkout.Pay(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	h.sessions.BindToken(intent.Token, sess.ID)
	return &PayReply{Token: intent.Token, RedirectURL: intent.RedirectURL, Field: domain.TokenField}, nil
}

func (h *GRPCHandler) Confirm(ctx context.Context, req *ConfirmRequest) (*ConfirmReply, error) {
	id, _ := sessionFromMetadata(ctx)
	sess := h.sessions.ForToken(req.Token, id)
	if sess == nil {
		return nil, status.Error(codes.InvalidArgument, "missing "+SessionMetadata)
	}
	outcome := sess.Checkout.Confirm(ctx, domain.ReturnParams{Status: req.Status, Order: req.Order, Token: req.Token})
	h.log.WithFields(logrus.Fields{"session": sess.ID, "outcome": outcome.Kind}).Info("checkout confirmed over grpc")

	return &ConfirmReply{
		Kind:    string(outcome.Kind),
		Heading: outcome.Heading(),
		Message: outcome.Message(),
		Details: outcome.Details(),
	}, nil
}

func (h *GRPCHandler) session(ctx context.Context) (*service.Session, error) {
	id, ok := sessionFromMetadata(ctx)
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "missing "+SessionMetadata)
	}
	return h.sessions.Get(id), nil
}

func sessionFromMetadata(ctx context.Context) (string, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", false
	}
	values := md.Get(SessionMetadata)
	if len(values) == 0 || values[0] == "" {
		return "", false
	}
	return values[0], true
}

func toStatus(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, domain.ErrInvalidQuantity):
		code = codes.InvalidArgument
	case errors.Is(err, domain.ErrNotInCart), errors.Is(err, domain.ErrUnknownProduct):
		code = codes.NotFound
	case errors.Is(err, domain.ErrInsufficientStock):
		code = codes.ResourceExhausted
	case errors.Is(err, domain.ErrEmptyCart), errors.Is(err, domain.ErrReservationRejected):
		code = codes.FailedPrecondition
	case errors.Is(err, domain.ErrCheckoutInProgress):
		code = codes.Aborted
	case errors.Is(err, domain.ErrTransactionCreationFailed),
		errors.Is(err, domain.ErrCatalogUnavailable),
		errors.Is(err, domain.ErrGatewayUnavailable):
		code = codes.Unavailable
	}

	msg := messageFor(err)
	var gerr *domain.GatewayError
	if errors.As(err, &gerr) && gerr.Reason != "" {
		msg += ": " + gerr.Reason
	}
	return status.Error(code, msg)
}

func unaryMethod[Req any, Reply any](name string, call func(StorefrontServer, context.Context, *Req) (*Reply, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(StorefrontServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(StorefrontServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var storefrontServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StorefrontServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("Start", StorefrontServer.Start),
		unaryMethod("Query", StorefrontServer.Query),
		unaryMethod("Reserve", StorefrontServer.Reserve),
		unaryMethod("Release", StorefrontServer.Release),
		unaryMethod("ReleaseAll", StorefrontServer.ReleaseAll),
		unaryMethod("Pay", StorefrontServer.Pay),
		unaryMethod("Confirm", StorefrontServer.Confirm),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "storefront/v1/storefront.proto",
}

// StorefrontClient calls the Storefront service with the JSON codec.
type StorefrontClient struct {
	cc grpc.ClientConnInterface
}

func NewStorefrontClient(cc grpc.ClientConnInterface) *StorefrontClient {
	return &StorefrontClient{cc: cc}
}

// WithSession attaches the session id to outgoing calls made with ctx.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, SessionMetadata, sessionID)
}

func (c *StorefrontClient) Start(ctx context.Context, in *StartRequest, opts ...grpc.CallOption) (*CartReply, error) {
	return invoke[CartReply](ctx, c.cc, "Start", in, opts)
}

func (c *StorefrontClient) Query(ctx context.Context, in *QueryRequest, opts ...grpc.CallOption) (*QueryReply, error) {
	return invoke[QueryReply](ctx, c.cc, "Query", in, opts)
}

func (c *StorefrontClient) Reserve(ctx context.Context, in *ReserveRequest, opts ...grpc.CallOption) (*ReserveReply, error) {
	return invoke[ReserveReply](ctx, c.cc, "Reserve", in, opts)
}

func (c *StorefrontClient) Release(ctx context.Context, in *ReleaseRequest, opts ...grpc.CallOption) (*CartReply, error) {
	return invoke[CartReply](ctx, c.cc, "Release", in, opts)
}

func (c *StorefrontClient) ReleaseAll(ctx context.Context, in *ReleaseAllRequest, opts ...grpc.CallOption) (*CartReply, error) {
	return invoke[CartReply](ctx, c.cc, "ReleaseAll", in, opts)
}

func (c *StorefrontClient) Pay(ctx context.Context, in *PayRequest, opts ...grpc.CallOption) (*PayReply, error) {
	return invoke[PayReply](ctx, c.cc, "Pay", in, opts)
}

func (c *StorefrontClient) Confirm(ctx context.Context, in *ConfirmRequest, opts ...grpc.CallOption) (*ConfirmReply, error) {
	return invoke[ConfirmReply](ctx, c.cc, "Confirm", in, opts)
}

func invoke[Reply any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Reply, error) {
	out := new(Reply)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(jsonCodecName)}, opts...)
	if err := cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
