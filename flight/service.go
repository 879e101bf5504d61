// Package flight serves dashboard views as Arrow record streams.
package flight

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/TFMV/bistro/dashboard"
	"github.com/TFMV/bistro/query"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ViewTransactions streams the raw rows of the selected restaurant.
const ViewTransactions = "transactions"

// Ticket is the JSON body of a DoGet ticket.
type Ticket struct {
	View       string `json:"view"`
	Restaurant string `json:"restaurant,omitempty"`
	K          int    `json:"k,omitempty"`
}

type Service struct {
	flight.BaseFlightServer
	session *dashboard.Session
	logger  *zap.Logger
	mem     memory.Allocator
}

func NewService(session *dashboard.Session, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{session: session, logger: logger, mem: memory.NewGoAllocator()}
}

func (s *Service) DoGet(ticket *flight.Ticket, stream flight.FlightService_DoGetServer) error {
	var t Ticket
	if err := json.Unmarshal(ticket.GetTicket(), &t); err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid ticket: %v", err)
	}

	rec, err := s.record(stream.Context(), t)
	if err != nil {
		switch {
		case errors.Is(err, dashboard.ErrUnknownView):
			return status.Error(codes.InvalidArgument, err.Error())
		case errors.Is(err, dashboard.ErrUnknownRestaurant):
			return status.Error(codes.NotFound, err.Error())
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return status.FromContextError(err).Err()
		}
		s.logger.Error("View failed", zap.String("view", t.View), zap.Error(err))
		return status.Errorf(codes.Internal, "query failed: %v", err)
	}
	defer rec.Release()

	writer := flight.NewRecordWriter(stream, ipc.WithSchema(rec.Schema()))
	defer writer.Close()

	if err := writer.Write(rec); err != nil {
		return status.Errorf(codes.Internal, "failed to write record: %v", err)
	}
	s.logger.Debug("Served view",
		zap.String("view", t.View),
		zap.String("restaurant", t.Restaurant),
		zap.Int64("rows", rec.NumRows()))
	return nil
}

func (s *Service) record(ctx context.Context, t Ticket) (arrow.Record, error) {
	if t.View == dashboard.ViewQuestions {
		return nil, errors.Join(dashboard.ErrUnknownView, errors.New("questions is only served as JSON"))
	}
	if t.View == ViewTransactions {
		if err := s.session.CheckRestaurant(t.Restaurant); err != nil {
			return nil, err
		}
		return transactions(s.mem, s.session.Engine().Snapshot(), t.Restaurant)
	}
	value, err := s.session.View(ctx, t.View, query.Filter{Restaurant: t.Restaurant}, t.K)
	if err != nil {
		return nil, err
	}
	return toRecord(s.mem, value)
}

// Server is a bound Flight endpoint serving one Service.
type Server struct {
	server flight.Server
	logger *zap.Logger
}

// Listen binds addr and registers svc. Serve starts accepting calls.
func Listen(addr string, svc *Service) (*Server, error) {
	server := flight.NewServerWithMiddleware(nil)
	if err := server.Init(addr); err != nil {
		return nil, err
	}
	server.RegisterFlightService(svc)
	return &Server{server: server, logger: svc.logger}, nil
}

// Addr is the bound address, useful when listening on port 0.
func (s *Server) Addr() string {
	return s.server.Addr().String()
}

// Serve blocks until ctx is cancelled or the server fails.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Flight service listening", zap.String("addr", s.Addr()))
		errCh <- s.server.Serve()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("Flight service shutting down")
		s.server.Shutdown()
		if err := <-errCh; err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	}
}
