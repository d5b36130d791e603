package grpc

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"hamsterball/coordinator/internal/command"
	"hamsterball/coordinator/internal/logging"
	"hamsterball/coordinator/internal/match"
)

const (
	// ServiceName is the fully qualified gRPC service.
	ServiceName = "coordinator.v1.Session"
	// PlayMethod is the full method path of the bidirectional session stream.
	PlayMethod = "/" + ServiceName + "/Play"

	defaultQueueDepth = 8
)

// SessionHost is the authoritative side the service feeds.
type SessionHost interface {
	Join(connID string, version float64, sink command.SyncSink) (match.Seat, error)
	Leave(connID string) error
	Inbox() *command.Inbox
	ProtocolVersion() float64
}

// Option customises the behaviour of the gRPC session service.
type Option func(*Service)

// WithCompressor overrides the default payload compressor.
func WithCompressor(compressor Compressor) Option {
	return func(s *Service) {
		if compressor != nil {
			s.compressor = compressor
		}
	}
}

// WithQueueDepth bounds how many batches wait for a slow stream.
func WithQueueDepth(depth int) Option {
	return func(s *Service) {
		if depth > 0 {
			s.queueDepth = depth
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Service streams sync batches to remote clients and queues their commands.
type Service struct {
	host       SessionHost
	compressor Compressor
	queueDepth int
	logger     *logging.Logger
}

// NewService wires the session stream to host.
func NewService(host SessionHost, opts ...Option) *Service {
	service := &Service{
		host:       host,
		compressor: NewSnappyCompressor(),
		queueDepth: defaultQueueDepth,
		logger:     logging.L(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(service)
		}
	}
	return service
}

// Register attaches the service to a gRPC server.
func (s *Service) Register(registrar grpc.ServiceRegistrar) {
	registrar.RegisterService(&serviceDesc, s)
}

type playServer interface {
	Play(stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*playServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    "Play",
		Handler:       playHandler,
		ServerStreams: true,
		ClientStreams: true,
	}},
	Metadata: "coordinator/v1/session.proto",
}

func playHandler(srv any, stream grpc.ServerStream) error {
	return srv.(playServer).Play(stream)
}

// Play runs one client session: hello, welcome, then commands in and batches out
// until either side hangs up.
func (s *Service) Play(stream grpc.ServerStream) error {
	if s == nil || s.host == nil {
		return status.Error(codes.FailedPrecondition, "session unavailable")
	}
	ctx := stream.Context()

	//1.- The first frame negotiates the protocol version.
	var hello ClientFrame
	if err := stream.RecvMsg(&hello); err != nil {
		return err
	}
	if !hello.Hello {
		return status.Error(codes.InvalidArgument, "first frame must be a hello")
	}
	connID := "grpc-" + uuid.NewString()
	mailbox := command.NewMailbox(s.queueDepth)
	seat, err := s.host.Join(connID, hello.ProtocolVersion, mailbox)
	if err != nil {
		return joinStatus(err)
	}
	logger := s.logger.With(logging.String("conn_id", connID), logging.String("player_id", seat.PlayerID))
	defer func() {
		if err := s.host.Leave(connID); err != nil {
			logger.Warn("leave after stream end failed", logging.Error(err))
		}
	}()
	if err := stream.SendMsg(&ServerFrame{PlayerID: seat.PlayerID, Slot: int64(seat.Slot), ProtocolVersion: s.host.ProtocolVersion()}); err != nil {
		return err
	}
	logger.Info("grpc session opened")

	//2.- Commands are read on their own goroutine and queued for the next tick.
	recvErr := make(chan error, 1)
	go func() {
		for {
			var frame ClientFrame
			if err := stream.RecvMsg(&frame); err != nil {
				recvErr <- err
				return
			}
			if !s.host.Inbox().Push(command.Inbound{ConnID: connID, Command: frame.Command()}) {
				logger.Debug("inbox full, command dropped", logging.Uint64("sequence", frame.Sequence))
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return status.Error(codes.Canceled, "stream cancelled")
			}
			return status.Error(codes.DeadlineExceeded, "stream deadline exceeded")
		case err := <-recvErr:
			if errors.Is(err, io.EOF) {
				logger.Info("grpc session closed by client")
				return nil
			}
			return err
		case batch := <-mailbox.C():
			//3.- Each batch is msgpack encoded then compressed.
			frame, err := EncodeBatch(s.compressor, batch)
			if err != nil {
				return status.Errorf(codes.Internal, "encode batch: %v", err)
			}
			if err := stream.SendMsg(frame); err != nil {
				return err
			}
		}
	}
}

// EncodeBatch packs batch into a server frame.
func EncodeBatch(compressor Compressor, batch command.SyncBatch) (*ServerFrame, error) {
	raw, err := msgpack.Marshal(&batch)
	if err != nil {
		return nil, fmt.Errorf("msgpack: %w", err)
	}
	payload, err := compressor.Compress(raw)
	if err != nil {
		return nil, err
	}
	return &ServerFrame{Tick: batch.Tick, Encoding: compressor.Name(), Payload: payload}, nil
}

// DecodeBatch reverses EncodeBatch using the encoding named in the frame.
func DecodeBatch(frame *ServerFrame) (command.SyncBatch, error) {
	var batch command.SyncBatch
	compressor, err := NewCompressor(frame.Encoding)
	if err != nil {
		return batch, err
	}
	raw, err := compressor.Decompress(frame.Payload)
	if err != nil {
		return batch, err
	}
	if err := msgpack.Unmarshal(raw, &batch); err != nil {
		return batch, fmt.Errorf("msgpack: %w", err)
	}
	return batch, nil
}

func joinStatus(err error) error {
	switch {
	case errors.Is(err, match.ErrMatchFull):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, match.ErrNotListening):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.InvalidArgument, err.Error())
	}
}
