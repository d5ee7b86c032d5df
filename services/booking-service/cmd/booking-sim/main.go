// Command booking-sim races many customers for the same slot over gRPC and
// reports how many bookings won. A healthy engine admits exactly one.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/md-rashed-zaman/apptbook/libs/config"
	"github.com/md-rashed-zaman/apptbook/libs/grpcx"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/grpcapi"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

func main() {
	var (
		addr     = flag.String("addr", config.String("BOOKING_GRPC_ADDR", "localhost:9093"), "booking service gRPC address")
		tenant   = flag.String("tenant", config.String("TENANT_ID", ""), "tenant id")
		service  = flag.String("service", config.String("SERVICE_ID", ""), "service id")
		date     = flag.String("date", "", "tenant-local date YYYY-MM-DD")
		start    = flag.String("start", "", "start time HH:MM")
		workers  = flag.Int("workers", 20, "concurrent customers")
		actor    = flag.String("actor", string(model.ActorCustomer), "BUSINESS or CUSTOMER")
		seed     = flag.Uint64("seed", uint64(time.Now().UnixNano()), "fake data seed")
		deadline = flag.Duration("timeout", 30*time.Second, "overall timeout")
	)
	flag.Parse()

	cfg := simConfig{
		TenantID:  *tenant,
		ServiceID: *service,
		Date:      *date,
		StartTime: *start,
		Workers:   *workers,
		Actor:     model.Actor(*actor),
		Seed:      *seed,
	}
	if err := cfg.validate(); err != nil {
		fatal(err.Error())
	}

	ctx, cancel := context.WithTimeout(context.Background(), *deadline)
	defer cancel()

	conn, err := grpcx.Dial(ctx, *addr, grpcx.DialOptions{Timeout: 5 * time.Second, JSON: true})
	if err != nil {
		fatal("dial: " + err.Error())
	}
	defer conn.Close()

	if err := grpcx.ReadyCheck(conn, grpcapi.ServiceName)(ctx); err != nil {
		fatal("booking service not ready: " + err.Error())
	}

	rep := simulate(ctx, grpcapi.NewClient(conn), cfg)
	fmt.Println(rep)
	if rep.Booked != 1 {
		os.Exit(1)
	}
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
