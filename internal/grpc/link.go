package grpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"hamsterball/coordinator/internal/command"
	"hamsterball/coordinator/internal/logging"
)

// Welcome is the seat the server assigned to this link.
type Welcome struct {
	PlayerID        string
	Slot            int
	ProtocolVersion float64
}

// Link is the remote client side of the session stream.
type Link struct {
	stream  grpc.ClientStream
	cancel  context.CancelFunc
	conn    *grpc.ClientConn
	welcome Welcome
	logger  *logging.Logger

	sendMu sync.Mutex

	mu    sync.Mutex
	syncs []command.SyncBatch
	open  bool
}

// Dial connects to target and opens a session stream.
func Dial(ctx context.Context, target, secret string, version float64, logger *logging.Logger) (*Link, error) {
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	link, err := Open(WithSharedSecret(ctx, secret), conn, version, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	link.conn = conn
	return link, nil
}

// Open starts a session over an existing connection and waits for the welcome frame.
func Open(ctx context.Context, conn grpc.ClientConnInterface, version float64, logger *logging.Logger) (*Link, error) {
	if logger == nil {
		logger = logging.L()
	}
	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := conn.NewStream(streamCtx, &serviceDesc.Streams[0], PlayMethod, grpc.ForceCodec(Codec{}))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open session stream: %w", err)
	}
	//1.- io.EOF on send means the server already ended the stream; RecvMsg reports why.
	if err := stream.SendMsg(&ClientFrame{Hello: true, ProtocolVersion: version}); err != nil && !errors.Is(err, io.EOF) {
		cancel()
		return nil, fmt.Errorf("send hello: %w", err)
	}
	var welcome ServerFrame
	if err := stream.RecvMsg(&welcome); err != nil {
		cancel()
		return nil, fmt.Errorf("await welcome: %w", err)
	}
	if welcome.PlayerID == "" {
		cancel()
		return nil, errors.New("welcome frame carried no player")
	}
	link := &Link{
		stream:  stream,
		cancel:  cancel,
		welcome: Welcome{PlayerID: welcome.PlayerID, Slot: int(welcome.Slot), ProtocolVersion: welcome.ProtocolVersion},
		logger:  logger.With(logging.String("player_id", welcome.PlayerID)),
		open:    true,
	}
	go link.readLoop()
	return link, nil
}

// Welcome returns the assigned seat.
func (l *Link) Welcome() Welcome { return l.welcome }

// PeerProtocolVersion is the version the server announced in its welcome.
func (l *Link) PeerProtocolVersion() float64 { return l.welcome.ProtocolVersion }

func (l *Link) readLoop() {
	defer l.markClosed()
	for {
		var frame ServerFrame
		if err := l.stream.RecvMsg(&frame); err != nil {
			l.logger.Info("session stream ended", logging.Error(err))
			return
		}
		batch, err := DecodeBatch(&frame)
		if err != nil {
			l.logger.Warn("discarding undecodable batch", logging.Error(err), logging.Uint64("tick", frame.Tick))
			continue
		}
		l.mu.Lock()
		if l.open {
			l.syncs = append(l.syncs, batch)
		}
		l.mu.Unlock()
	}
}

// Send implements command.Sender.
func (l *Link) Send(cmd command.Command) error {
	if !l.Connected() {
		return command.ErrClosed
	}
	l.sendMu.Lock()
	defer l.sendMu.Unlock()
	if err := l.stream.SendMsg(FrameFromCommand(cmd)); err != nil {
		return fmt.Errorf("send command: %w", err)
	}
	return nil
}

// DrainSyncs implements command.SyncSource.
func (l *Link) DrainSyncs() []command.SyncBatch {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.syncs
	l.syncs = nil
	return out
}

// Connected reports whether the stream is still open.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open
}

// PeerCount is one while the server is reachable.
func (l *Link) PeerCount() int {
	if l.Connected() {
		return 1
	}
	return 0
}

// Close ends the stream and releases the connection when Dial created it.
func (l *Link) Close() {
	l.sendMu.Lock()
	_ = l.stream.CloseSend()
	l.sendMu.Unlock()
	l.cancel()
	l.markClosed()
	if l.conn != nil {
		_ = l.conn.Close()
	}
}

func (l *Link) markClosed() {
	l.mu.Lock()
	l.open = false
	l.syncs = nil
	l.mu.Unlock()
}
