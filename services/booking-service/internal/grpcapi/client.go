package grpcapi

import (
	"context"

	"google.golang.org/grpc"

	"github.com/md-rashed-zaman/apptbook/libs/grpcx"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

// Client calls a remote booking service. Errors come back as the same
// apperr types the engine returns in process.
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// CallOptions selects the JSON codec for connections not made by grpcx.Dial.
func CallOptions() grpc.DialOption {
	return grpc.WithDefaultCallOptions(grpc.CallContentSubtype(grpcx.JSONCodecName))
}

func (c *Client) GetAvailableSlots(ctx context.Context, q booking.SlotsQuery) (booking.SlotsResult, error) {
	var out booking.SlotsResult
	err := c.conn.Invoke(ctx, methodGetAvailableSlots, &q, &out, grpc.CallContentSubtype(grpcx.JSONCodecName))
	return out, fromStatus(err)
}

func (c *Client) CreateAppointment(ctx context.Context, req booking.CreateRequest) (model.Appointment, error) {
	var out model.Appointment
	err := c.conn.Invoke(ctx, methodCreateAppointment, &req, &out, grpc.CallContentSubtype(grpcx.JSONCodecName))
	return out, fromStatus(err)
}

func (c *Client) CancelAppointment(ctx context.Context, req booking.CancelRequest) (model.Appointment, error) {
	var out model.Appointment
	err := c.conn.Invoke(ctx, methodCancelAppointment, &req, &out, grpc.CallContentSubtype(grpcx.JSONCodecName))
	return out, fromStatus(err)
}
