package rpc

import (
	"bufio"
	"net"
	"sync"
)

// Client is a single dialed connection to a Server, sending one Request
// and reading back its Response at a time. It satisfies pkg/dbpool.Conn so
// the AI proxy can pool Clients as its upstream DB connections.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer

	mu     sync.Mutex
	closed bool

	messageSize uint64
}

// Dial opens a new Client connection to addr.
func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Client{
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
	}, nil
}

// Call sends req and blocks for its Response. Pipeline requests are
// supported like any other Kind.
func (c *Client) Call(req Request) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	payload, err := EncodeRequest(req)
	if err != nil {
		return Response{}, err
	}
	if err := WriteFrame(c.writer, payload); err != nil {
		return Response{}, err
	}
	out, err := ReadFrame(c.reader, c.messageSize)
	if err != nil {
		return Response{}, err
	}
	return DecodeResponse(out)
}

// Closed reports whether the connection has already been torn down.
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close tears down the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
