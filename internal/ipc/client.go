package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"sync"
	"time"
)

// DefaultDialTimeout bounds connecting to the primary's socket.
const DefaultDialTimeout = 2 * time.Second

// Client provides RPC access to the primary.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	return DialTimeout(path, DefaultDialTimeout)
}

// DialTimeout connects with an explicit timeout.
func DialTimeout(path string, timeout time.Duration) (*Client, error) {
	return DialContext(context.Background(), path, timeout)
}

// DialContext connects within timeout or before ctx is done, whichever comes
// first.
func DialContext(ctx context.Context, path string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
	}
	return nil
}

// Deliver sends one payload and waits until the primary has processed it or
// ctx is done.
func (c *Client) Deliver(ctx context.Context, payload string) (*DeliverResponse, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(deadline)
	}
	var resp DeliverResponse
	call := c.client.Go(ServiceName+".Deliver", DeliverRequest{Payload: payload}, &resp, make(chan *rpc.Call, 1))
	select {
	case <-call.Done:
		if call.Error != nil {
			return nil, call.Error
		}
		return &resp, nil
	case <-ctx.Done():
		_ = c.Close()
		return nil, ctx.Err()
	}
}

// Sender delivers commands to a primary endpoint. Each Sender owns the pool
// of transient payload buffers it borrows from.
type Sender struct {
	MaxCommandLength int
	DialTimeout      time.Duration

	buffers sync.Pool
}

// NewSender returns a Sender with the given limits; zero values select defaults.
func NewSender(maxCommandLength int, dialTimeout time.Duration) *Sender {
	s := &Sender{MaxCommandLength: maxCommandLength, DialTimeout: dialTimeout}
	s.buffers.New = func() any {
		buf := make([]byte, 0, 128)
		return &buf
	}
	return s
}

func (s *Sender) borrow() *[]byte {
	if v := s.buffers.Get(); v != nil {
		return v.(*[]byte)
	}
	buf := make([]byte, 0, 128)
	return &buf
}

func (s *Sender) release(buf *[]byte) {
	*buf = (*buf)[:0]
	s.buffers.Put(buf)
}

// Send validates command, connects to the socket at endpoint and performs a
// single synchronous delivery. A nil error means the primary received the
// payload; whether it was understood is reported by processed.
func (s *Sender) Send(ctx context.Context, endpoint, command string) (processed bool, err error) {
	if err := ValidatePayload(command, s.MaxCommandLength); err != nil {
		return false, err
	}
	buf := s.borrow()
	defer s.release(buf)
	*buf = append(*buf, command...)

	client, err := DialContext(ctx, endpoint, s.DialTimeout)
	if err != nil {
		return false, fmt.Errorf("connect to primary: %w", err)
	}
	defer client.Close()

	resp, err := client.Deliver(ctx, string(*buf))
	if err != nil {
		return false, fmt.Errorf("deliver command: %w", err)
	}
	return resp.Processed, nil
}
