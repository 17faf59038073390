package messaging

import (
	"crypto/tls"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/vortexdb/vortex/common"
	"github.com/vortexdb/vortex/compress"
	"github.com/vortexdb/vortex/errors"
	"github.com/vortexdb/vortex/errwrap"
	log "github.com/vortexdb/vortex/logger"
)

// ClientInfo describes one inbound connection. The broadcast address, source
// core id and max result size auxiliaries are attached by the CLIENT_ID
// handshake the peer sends when it opens the connection; they are zero until
// that arrives.
type ClientInfo struct {
	RemoteAddr    string
	BroadcastAddr Address
	SourceCoreID  int
	MaxResultSize uint64
}

// GetSource identifies the peer behind an inbound connection from the
// auxiliaries attached by its CLIENT_ID handshake.
func GetSource(info *ClientInfo) PeerID {
	return PeerID{Addr: info.BroadcastAddr, CoreID: info.SourceCoreID}
}

// listener accepts inbound connections on one bound address, plain or TLS,
// and feeds received frames through the verb registry.
type listener struct {
	ms                  *MessagingService
	address             string
	tlsConf             *tls.Config
	lock                sync.RWMutex
	started             bool
	netListener         net.Listener
	acceptLoopExitGroup sync.WaitGroup
	connections         sync.Map
}

func newListener(ms *MessagingService, address string, tlsConf *tls.Config) *listener {
	return &listener{
		ms:      ms,
		address: address,
		tlsConf: tlsConf,
	}
}

func (s *listener) start() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.started {
		return nil
	}
	list, err := common.Listen("tcp", s.address)
	if err != nil {
		return errwrap.WithStack(err)
	}
	if s.tlsConf != nil {
		list = tls.NewListener(list, s.tlsConf)
	}
	s.netListener = list
	s.started = true
	s.acceptLoopExitGroup.Add(1)
	common.Go(s.acceptLoop)
	return nil
}

func (s *listener) stop() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if !s.started {
		return nil
	}
	if err := s.netListener.Close(); err != nil {
		// Ignore
	}
	// Wait for the accept loop to exit before closing connections
	s.acceptLoopExitGroup.Wait()
	s.connections.Range(func(conn, _ interface{}) bool {
		conn.(*serverConn).stop()
		return true
	})
	s.started = false
	return nil
}

func (s *listener) acceptLoop() {
	defer s.acceptLoopExitGroup.Done()
	for {
		conn, err := s.netListener.Accept()
		if err != nil {
			// Ok - listener was closed
			break
		}
		c := &serverConn{
			l:    s,
			conn: conn,
			info: ClientInfo{RemoteAddr: conn.RemoteAddr().String()},
		}
		s.connections.Store(c, struct{}{})
		c.start()
	}
}

func (s *listener) removeConnection(conn *serverConn) {
	s.connections.Delete(conn)
}

func (s *listener) foreachConnection(f func(clientInfo *ClientInfo, stats ConnectionStats)) {
	s.connections.Range(func(conn, _ interface{}) bool {
		c := conn.(*serverConn)
		info, stats := c.snapshot()
		f(&info, stats)
		return true
	})
}

type serverConn struct {
	l          *listener
	conn       net.Conn
	lock       sync.Mutex
	info       ClientInfo
	closed     bool
	closeGroup sync.WaitGroup
	writeLock  sync.Mutex

	sent       uint64
	received   uint64
	exceptions uint64
}

func (c *serverConn) start() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.closeGroup.Add(1)
	common.Go(c.readLoop)
}

func (c *serverConn) readLoop() {
	defer c.readPanicHandler()
	defer c.closeGroup.Done()
	if err := readFrames(c.conn, c.handleFrame); err != nil {
		// Closed connection errors are normal on shutdown - ignore them
		ignoreErr := err == io.EOF
		if ne, ok := err.(net.Error); !ignoreErr && ok {
			ignoreErr = strings.Contains(ne.Error(), "use of closed network connection")
		}
		if !ignoreErr {
			log.Errorf("error reading from inbound connection: %v", err)
		}
		if err := c.conn.Close(); err != nil {
			// Ignore
		}
	}
	c.cleanUp()
}

func (c *serverConn) readPanicHandler() {
	// A malformed request with insufficient bytes in the buffer must not crash
	// the server with an index out of range panic
	if r := recover(); r != nil {
		log.Errorf("failure in inbound connection readLoop: %v", r)
		if err := c.conn.Close(); err != nil {
			// Ignore
		}
		c.cleanUp()
	}
}

func (c *serverConn) cleanUp() {
	c.l.removeConnection(c)
	c.lock.Lock()
	defer c.lock.Unlock()
	c.closed = true
}

func (c *serverConn) handleFrame(compression compress.CompressionType, msgType messageType, body []byte) error {
	if msgType != requestMessageType {
		return errwrap.Errorf("unexpected message type %d on inbound connection", msgType)
	}
	req := &request{}
	if err := req.deserialize(body); err != nil {
		return err
	}
	atomic.AddUint64(&c.received, 1)
	ms := c.l.ms
	cost := uint64(ms.cfg.BasicRequestSize) + uint64(len(body))*uint64(ms.cfg.BloatFactor)
	ms.memLimiter.acquire(cost)
	defer ms.memLimiter.release(cost)
	if req.verb == VerbClientID {
		return c.handleClientID(req.payload)
	}
	entry, exists := ms.registry.get(req.verb)
	if !exists {
		log.Warnf("no handler registered for verb %s", req.verb)
		if !req.requiresResponse {
			return nil
		}
		return c.writeErrorResponse(compression, req.sequence, errors.Newf(errors.NoSuchHandler,
			"no handler registered for verb %s", req.verb))
	}
	var payload interface{}
	if entry.reqCodec != nil {
		var err error
		payload, err = entry.reqCodec.Decode(req.payload)
		if err != nil {
			log.Warnf("failed to decode request for verb %s: %v", req.verb, err)
			if !req.requiresResponse {
				return nil
			}
			return c.writeErrorResponse(compression, req.sequence, err)
		}
	}
	resp, err := entry.handler(&c.info, payload)
	if !req.requiresResponse {
		if err != nil {
			log.Warnf("handler for oneway verb %s failed: %v", req.verb, err)
		}
		return nil
	}
	if err != nil {
		return c.writeErrorResponse(compression, req.sequence, err)
	}
	var respBytes []byte
	if entry.respCodec != nil && resp != nil {
		respBytes, err = entry.respCodec.Encode(resp, nil)
		if err != nil {
			return c.writeErrorResponse(compression, req.sequence, err)
		}
	}
	return c.writeResponse(compression, &response{
		sequence: req.sequence,
		ok:       true,
		payload:  respBytes,
	})
}

// handleClientID processes the handshake the peer sends when it opens a
// connection, attaching its identity as auxiliaries on the ClientInfo.
func (c *serverConn) handleClientID(payload []byte) error {
	cid, err := deserializeClientID(payload)
	if err != nil {
		return err
	}
	c.lock.Lock()
	c.info.BroadcastAddr = cid.BroadcastAddr
	c.info.SourceCoreID = int(cid.CoreID)
	c.info.MaxResultSize = cid.MaxResultSize
	c.lock.Unlock()
	return nil
}

func (c *serverConn) writeErrorResponse(compression compress.CompressionType, sequence int64, err error) error {
	atomic.AddUint64(&c.exceptions, 1)
	code := errors.InternalError
	var verr errors.VortexError
	if errwrap.As(err, &verr) {
		code = verr.Code
	}
	return c.writeResponse(compression, &response{
		sequence: sequence,
		ok:       false,
		errCode:  uint16(code),
		errMsg:   err.Error(),
	})
}

// writeResponse replies with the same compression algorithm the request
// arrived with.
func (c *serverConn) writeResponse(compression compress.CompressionType, resp *response) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	if err := writeFrame(c.conn, compression, responseMessageType, resp.serialize(nil)); err != nil {
		return err
	}
	atomic.AddUint64(&c.sent, 1)
	return nil
}

func (c *serverConn) snapshot() (ClientInfo, ConnectionStats) {
	c.lock.Lock()
	info := c.info
	c.lock.Unlock()
	return info, ConnectionStats{
		Sent:       atomic.LoadUint64(&c.sent),
		Received:   atomic.LoadUint64(&c.received),
		Exceptions: atomic.LoadUint64(&c.exceptions),
	}
}

func (c *serverConn) stop() {
	c.lock.Lock()
	c.closed = true
	if err := c.conn.Close(); err != nil {
		// Do nothing - connection might already have been closed from the client side
	}
	c.lock.Unlock()
	c.closeGroup.Wait()
}
