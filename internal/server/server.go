package server

import (
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyoslab/tinyfs/internal/crypto"
	"github.com/tinyoslab/tinyfs/internal/filesys"
	"github.com/tinyoslab/tinyfs/internal/logger"
	"github.com/tinyoslab/tinyfs/internal/protocol"
)

// Server exposes the filesystem over a framed TCP protocol. Every client
// connection owns a filesys process, so each connection has its own
// working directory and descriptor table; a disconnect releases both.
type Server struct {
	listener     net.Listener
	fs           *filesys.FS
	cipher       *crypto.Cipher
	authToken    string
	clients      map[uint64]*Client
	clientsMu    sync.Mutex
	nextClientID uint64
	quit         chan struct{}
	wg           sync.WaitGroup
}

type Client struct {
	id            uint64
	conn          net.Conn
	server        *Server
	proc          *filesys.Process
	authenticated bool
	mu            sync.Mutex
	quit          chan struct{}
	closeOnce     sync.Once
}

func New(fs *filesys.FS, cryptoKey []byte, authToken string) (*Server, error) {
	c, err := crypto.New(cryptoKey)
	if err != nil {
		return nil, err
	}
	return &Server{
		fs:        fs,
		cipher:    c,
		authToken: authToken,
		clients:   make(map[uint64]*Client),
		quit:      make(chan struct{}),
	}, nil
}

func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln
	logger.Info("server listening on %s", addr)

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr reports the bound listen address.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				logger.Warn("accept error: %v", err)
				continue
			}
		}

		proc, err := s.fs.NewProcess()
		if err != nil {
			logger.Error("cannot create process state: %v", err)
			conn.Close()
			continue
		}

		clientID := atomic.AddUint64(&s.nextClientID, 1)
		logger.Info("client %d connected from %s", clientID, conn.RemoteAddr())

		client := &Client{
			id:     clientID,
			conn:   conn,
			server: s,
			proc:   proc,
			quit:   make(chan struct{}),
		}

		s.clientsMu.Lock()
		s.clients[clientID] = client
		s.clientsMu.Unlock()

		s.wg.Add(1)
		go client.readLoop()
	}
}

// Stop disconnects every client and shuts the filesystem down, flushing
// all cached state to the device.
func (s *Server) Stop() {
	close(s.quit)
	if s.listener != nil {
		s.listener.Close()
	}

	s.clientsMu.Lock()
	for _, client := range s.clients {
		client.Close()
	}
	s.clientsMu.Unlock()

	s.wg.Wait()
	if err := s.fs.Close(); err != nil {
		logger.Error("filesystem shutdown: %v", err)
	}
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.quit)
		c.conn.Close()
	})
}

func (c *Client) cleanup() {
	c.Close()
	c.proc.Release()
	c.server.clientsMu.Lock()
	delete(c.server.clients, c.id)
	c.server.clientsMu.Unlock()
	logger.Info("client %d disconnected", c.id)
}

func (c *Client) readLoop() {
	defer func() {
		c.server.wg.Done()
		c.cleanup()
	}()

	headerBuf := make([]byte, protocol.HeaderSize)

	for {
		select {
		case <-c.quit:
			return
		default:
		}

		c.conn.SetReadDeadline(time.Now().Add(300 * time.Second))

		if _, err := io.ReadFull(c.conn, headerBuf); err != nil {
			if err != io.EOF {
				logger.Debug("client %d read header: %v", c.id, err)
			}
			return
		}

		var hdr protocol.Header
		if err := hdr.Decode(headerBuf); err != nil {
			logger.Warn("client %d bad header: %v", c.id, err)
			return
		}
		if hdr.Length > protocol.MaxMsgSize || hdr.Length < protocol.HeaderSize {
			logger.Warn("client %d bad message length %d", c.id, hdr.Length)
			return
		}

		payload := make([]byte, hdr.Length-protocol.HeaderSize)
		if len(payload) > 0 {
			if _, err := io.ReadFull(c.conn, payload); err != nil {
				logger.Debug("client %d read payload: %v", c.id, err)
				return
			}
		}

		if hdr.Flags&protocol.FlagEncrypted != 0 {
			decrypted, err := c.server.cipher.Decrypt(payload)
			if err != nil {
				logger.Warn("client %d decrypt: %v", c.id, err)
				c.sendStatus(&hdr, protocol.StatusProto)
				continue
			}
			payload = decrypted
		}

		c.handleMessage(&hdr, payload)
	}
}

// send frames and writes a response, encrypting it when the request came
// in encrypted.
func (c *Client) send(req *protocol.Header, body []byte) {
	flags := protocol.FlagResponse
	if req.Flags&protocol.FlagEncrypted != 0 {
		sealed, err := c.server.cipher.Encrypt(body)
		if err != nil {
			logger.Error("client %d encrypt: %v", c.id, err)
			return
		}
		body = sealed
		flags |= protocol.FlagEncrypted
	}

	hdr := protocol.Header{
		Length: uint32(protocol.HeaderSize + len(body)),
		Opcode: req.Opcode,
		Flags:  flags,
		TxnID:  req.TxnID,
	}
	buf := make([]byte, hdr.Length)
	hdr.Encode(buf)
	copy(buf[protocol.HeaderSize:], body)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
	if _, err := c.conn.Write(buf); err != nil {
		logger.Debug("client %d write: %v", c.id, err)
	}
}

func (c *Client) sendStatus(req *protocol.Header, status int32) {
	resp := protocol.StatusResponse{Status: status}
	buf := make([]byte, 4)
	n := resp.Encode(buf)
	c.send(req, buf[:n])
}
