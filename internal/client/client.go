// Package client talks to a running anvil server and starts one when needed.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"anvil/internal/protocol"
)

const dialTimeout = 2 * time.Second

// Client is one connection to a server. Requests on it are sequential.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
}

// Dial connects to the server socket at path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, dialTimeout)
	if err != nil {
		return nil, err
	}
	if unixConn, ok := conn.(*net.UnixConn); ok {
		_ = unixConn.SetReadBuffer(protocol.BufferSize)
		_ = unixConn.SetWriteBuffer(protocol.BufferSize)
	}
	return &Client{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, protocol.BufferSize),
		writer: bufio.NewWriterSize(conn, protocol.BufferSize),
	}, nil
}

// Close closes the connection. Closing while a request is outstanding tells
// the server the client went away.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Do sends req and waits for its response. A missing ID is filled in.
func (c *Client) Do(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(deadline)
		defer c.conn.SetDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := protocol.Encode(c.writer, req); err != nil {
		return protocol.Response{}, c.wrap(ctx, err)
	}
	if err := c.writer.Flush(); err != nil {
		return protocol.Response{}, c.wrap(ctx, fmt.Errorf("flush request: %w", err))
	}
	resp, err := protocol.DecodeResponse(c.reader)
	if err != nil {
		return protocol.Response{}, c.wrap(ctx, fmt.Errorf("read response: %w", err))
	}
	if resp.ID != req.ID {
		return resp, fmt.Errorf("response id %q does not match request %q", resp.ID, req.ID)
	}
	return resp, nil
}

func (c *Client) wrap(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	return err
}

// Ping checks the server answers.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.Do(ctx, protocol.Request{Kind: protocol.KindPing})
	if err != nil {
		return err
	}
	return responseError(resp)
}

// Shutdown asks the server to stop once its sessions finish.
func (c *Client) Shutdown(ctx context.Context) error {
	resp, err := c.Do(ctx, protocol.Request{Kind: protocol.KindShutdown})
	if err != nil {
		return err
	}
	return responseError(resp)
}

// CompileRequest describes one compiler invocation.
type CompileRequest struct {
	WorkDir string
	Args    []string
	Env     []string
	// KeepAlive, when positive or zero, asks the server to stay up that long once idle.
	KeepAlive *time.Duration
}

// Compile runs the server's compiler and returns its exit code and output.
func (c *Client) Compile(ctx context.Context, in CompileRequest) (int, string, error) {
	req := protocol.Request{
		Kind:    protocol.KindCompile,
		WorkDir: in.WorkDir,
		Args:    in.Args,
		Env:     in.Env,
	}
	if in.KeepAlive != nil {
		seconds := int(in.KeepAlive.Round(time.Second) / time.Second)
		req.KeepAliveSeconds = &seconds
	}
	resp, err := c.Do(ctx, req)
	if err != nil {
		return -1, "", err
	}
	if err := responseError(resp); err != nil {
		return -1, resp.Output, err
	}
	return resp.ExitCode, resp.Output, nil
}

// ErrServer wraps errors the server reported for a request.
var ErrServer = errors.New("server error")

func responseError(resp protocol.Response) error {
	if resp.Status == protocol.StatusError {
		return fmt.Errorf("%w: %s", ErrServer, resp.Error)
	}
	return nil
}
