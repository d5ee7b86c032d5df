// Package grpcapi exposes the booking engine over gRPC. Messages are the
// engine's own request and result structs carried by the JSON codec, so the
// service is described by hand rather than generated from protos.
package grpcapi

import (
	"context"

	"google.golang.org/grpc"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

const ServiceName = "apptbook.booking.v1.BookingService"

const (
	methodGetAvailableSlots = "/" + ServiceName + "/GetAvailableSlots"
	methodCreateAppointment = "/" + ServiceName + "/CreateAppointment"
	methodCancelAppointment = "/" + ServiceName + "/CancelAppointment"
)

// Engine is the subset of the booking service reachable over gRPC.
type Engine interface {
	GetAvailableSlots(ctx context.Context, q booking.SlotsQuery) (booking.SlotsResult, error)
	CreateAppointment(ctx context.Context, req booking.CreateRequest) (model.Appointment, error)
	CancelAppointment(ctx context.Context, req booking.CancelRequest) (model.Appointment, error)
}

type server struct {
	engine Engine
}

func (s *server) getAvailableSlots(ctx context.Context, in *booking.SlotsQuery) (*booking.SlotsResult, error) {
	res, err := s.engine.GetAvailableSlots(ctx, *in)
	if err != nil {
		return nil, toStatus(err)
	}
	return &res, nil
}

func (s *server) createAppointment(ctx context.Context, in *booking.CreateRequest) (*model.Appointment, error) {
	appt, err := s.engine.CreateAppointment(ctx, *in)
	if err != nil {
		return nil, toStatus(err)
	}
	return &appt, nil
}

func (s *server) cancelAppointment(ctx context.Context, in *booking.CancelRequest) (*model.Appointment, error) {
	appt, err := s.engine.CancelAppointment(ctx, *in)
	if err != nil {
		return nil, toStatus(err)
	}
	return &appt, nil
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetAvailableSlots", methodGetAvailableSlots, (*server).getAvailableSlots),
		unary("CreateAppointment", methodCreateAppointment, (*server).createAppointment),
		unary("CancelAppointment", methodCancelAppointment, (*server).cancelAppointment),
	},
	Metadata: "booking.json",
}

// Register mounts the booking service on s.
func Register(s *grpc.Server, engine Engine) {
	s.RegisterService(&serviceDesc, &server{engine: engine})
}

func unary[Req, Resp any](name, fullMethod string, call func(*server, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(*server), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(*server), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}
