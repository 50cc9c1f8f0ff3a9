package server

import (
	"github.com/tinyoslab/tinyfs/internal/logger"
	"github.com/tinyoslab/tinyfs/internal/protocol"
)

func (c *Client) handleMessage(hdr *protocol.Header, payload []byte) {
	if hdr.Opcode != protocol.OpInit && !c.authenticated {
		c.sendStatus(hdr, protocol.StatusAuth)
		return
	}

	switch hdr.Opcode {
	case protocol.OpInit:
		c.handleInit(hdr, payload)
	case protocol.OpCreate:
		c.handleCreate(hdr, payload)
	case protocol.OpRemove:
		c.handleRemove(hdr, payload)
	case protocol.OpOpen:
		c.handleOpen(hdr, payload)
	case protocol.OpFilesize:
		c.handleFilesize(hdr, payload)
	case protocol.OpRead:
		c.handleRead(hdr, payload)
	case protocol.OpWrite:
		c.handleWrite(hdr, payload)
	case protocol.OpSeek:
		c.handleSeek(hdr, payload)
	case protocol.OpTell:
		c.handleTell(hdr, payload)
	case protocol.OpClose:
		c.handleClose(hdr, payload)
	case protocol.OpChdir:
		c.handleChdir(hdr, payload)
	case protocol.OpMkdir:
		c.handleMkdir(hdr, payload)
	case protocol.OpReaddir:
		c.handleReaddir(hdr, payload)
	case protocol.OpIsdir:
		c.handleIsdir(hdr, payload)
	case protocol.OpInumber:
		c.handleInumber(hdr, payload)
	default:
		logger.Warn("client %d unknown opcode 0x%02x", c.id, hdr.Opcode)
		c.sendStatus(hdr, protocol.StatusProto)
	}
}

func (c *Client) handleInit(hdr *protocol.Header, payload []byte) {
	var req protocol.InitRequest
	if err := req.Decode(payload); err != nil {
		c.sendStatus(hdr, protocol.StatusProto)
		return
	}
	if req.Version != protocol.ProtoVersion {
		c.sendStatus(hdr, protocol.StatusProto)
		return
	}
	if req.Token != c.server.authToken {
		logger.Warn("client %d failed authentication", c.id)
		c.sendStatus(hdr, protocol.StatusAuth)
		return
	}
	c.authenticated = true
	c.sendStatus(hdr, protocol.StatusOK)
}

func (c *Client) handleCreate(hdr *protocol.Header, payload []byte) {
	var req protocol.CreateRequest
	if err := req.Decode(payload); err != nil {
		c.sendStatus(hdr, protocol.StatusProto)
		return
	}
	err := c.server.fs.Create(c.proc, req.Path, req.InitialSize)
	c.sendStatus(hdr, protocol.StatusOf(err))
}

func (c *Client) handleRemove(hdr *protocol.Header, payload []byte) {
	var req protocol.PathRequest
	if err := req.Decode(payload); err != nil {
		c.sendStatus(hdr, protocol.StatusProto)
		return
	}
	err := c.server.fs.Remove(c.proc, req.Path)
	c.sendStatus(hdr, protocol.StatusOf(err))
}

func (c *Client) handleOpen(hdr *protocol.Header, payload []byte) {
	var req protocol.PathRequest
	if err := req.Decode(payload); err != nil {
		c.sendStatus(hdr, protocol.StatusProto)
		return
	}
	fd, err := c.server.fs.Open(c.proc, req.Path)
	resp := protocol.ValueResponse{Status: protocol.StatusOf(err), Value: uint32(fd)}
	buf := make([]byte, 8)
	c.send(hdr, buf[:resp.Encode(buf)])
}

func (c *Client) handleFilesize(hdr *protocol.Header, payload []byte) {
	var req protocol.FDRequest
	if err := req.Decode(payload); err != nil {
		c.sendStatus(hdr, protocol.StatusProto)
		return
	}
	size, err := c.server.fs.Filesize(c.proc, int(req.FD))
	resp := protocol.ValueResponse{Status: protocol.StatusOf(err), Value: size}
	buf := make([]byte, 8)
	c.send(hdr, buf[:resp.Encode(buf)])
}

func (c *Client) handleRead(hdr *protocol.Header, payload []byte) {
	var req protocol.ReadRequest
	if err := req.Decode(payload); err != nil {
		c.sendStatus(hdr, protocol.StatusProto)
		return
	}
	if req.Count > protocol.MaxMsgSize/2 {
		c.sendStatus(hdr, protocol.StatusProto)
		return
	}
	data, err := c.server.fs.Read(c.proc, int(req.FD), int(req.Count))
	resp := protocol.DataResponse{Status: protocol.StatusOf(err), Data: data}
	buf := make([]byte, 8+len(data))
	c.send(hdr, buf[:resp.Encode(buf)])
}

func (c *Client) handleWrite(hdr *protocol.Header, payload []byte) {
	var req protocol.WriteRequest
	if err := req.Decode(payload); err != nil {
		c.sendStatus(hdr, protocol.StatusProto)
		return
	}
	n, err := c.server.fs.Write(c.proc, int(req.FD), req.Data)
	resp := protocol.ValueResponse{Status: protocol.StatusOf(err), Value: uint32(n)}
	buf := make([]byte, 8)
	c.send(hdr, buf[:resp.Encode(buf)])
}

func (c *Client) handleSeek(hdr *protocol.Header, payload []byte) {
	var req protocol.SeekRequest
	if err := req.Decode(payload); err != nil {
		c.sendStatus(hdr, protocol.StatusProto)
		return
	}
	err := c.server.fs.Seek(c.proc, int(req.FD), req.Pos)
	c.sendStatus(hdr, protocol.StatusOf(err))
}

func (c *Client) handleTell(hdr *protocol.Header, payload []byte) {
	var req protocol.FDRequest
	if err := req.Decode(payload); err != nil {
		c.sendStatus(hdr, protocol.StatusProto)
		return
	}
	pos, err := c.server.fs.Tell(c.proc, int(req.FD))
	resp := protocol.ValueResponse{Status: protocol.StatusOf(err), Value: pos}
	buf := make([]byte, 8)
	c.send(hdr, buf[:resp.Encode(buf)])
}

func (c *Client) handleClose(hdr *protocol.Header, payload []byte) {
	var req protocol.FDRequest
	if err := req.Decode(payload); err != nil {
		c.sendStatus(hdr, protocol.StatusProto)
		return
	}
	err := c.server.fs.CloseFD(c.proc, int(req.FD))
	c.sendStatus(hdr, protocol.StatusOf(err))
}

func (c *Client) handleChdir(hdr *protocol.Header, payload []byte) {
	var req protocol.PathRequest
	if err := req.Decode(payload); err != nil {
		c.sendStatus(hdr, protocol.StatusProto)
		return
	}
	err := c.server.fs.Chdir(c.proc, req.Path)
	c.sendStatus(hdr, protocol.StatusOf(err))
}

func (c *Client) handleMkdir(hdr *protocol.Header, payload []byte) {
	var req protocol.PathRequest
	if err := req.Decode(payload); err != nil {
		c.sendStatus(hdr, protocol.StatusProto)
		return
	}
	err := c.server.fs.Mkdir(c.proc, req.Path)
	c.sendStatus(hdr, protocol.StatusOf(err))
}

func (c *Client) handleReaddir(hdr *protocol.Header, payload []byte) {
	var req protocol.FDRequest
	if err := req.Decode(payload); err != nil {
		c.sendStatus(hdr, protocol.StatusProto)
		return
	}
	name, ok, err := c.server.fs.ReadDir(c.proc, int(req.FD))
	resp := protocol.ReaddirResponse{Status: protocol.StatusOf(err), OK: ok, Name: name}
	buf := make([]byte, 7+len(name))
	c.send(hdr, buf[:resp.Encode(buf)])
}

func (c *Client) handleIsdir(hdr *protocol.Header, payload []byte) {
	var req protocol.FDRequest
	if err := req.Decode(payload); err != nil {
		c.sendStatus(hdr, protocol.StatusProto)
		return
	}
	isDir, err := c.server.fs.IsDir(c.proc, int(req.FD))
	v := uint32(0)
	if isDir {
		v = 1
	}
	resp := protocol.ValueResponse{Status: protocol.StatusOf(err), Value: v}
	buf := make([]byte, 8)
	c.send(hdr, buf[:resp.Encode(buf)])
}

func (c *Client) handleInumber(hdr *protocol.Header, payload []byte) {
	var req protocol.FDRequest
	if err := req.Decode(payload); err != nil {
		c.sendStatus(hdr, protocol.StatusProto)
		return
	}
	inum, err := c.server.fs.Inumber(c.proc, int(req.FD))
	resp := protocol.ValueResponse{Status: protocol.StatusOf(err), Value: uint32(inum)}
	buf := make([]byte, 8)
	c.send(hdr, buf[:resp.Encode(buf)])
}
