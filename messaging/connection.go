package messaging

import (
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vortexdb/vortex/common"
	"github.com/vortexdb/vortex/compress"
	"github.com/vortexdb/vortex/errors"
	"github.com/vortexdb/vortex/errwrap"
	log "github.com/vortexdb/vortex/logger"
)

const (
	maxBlockTime        = 5 * time.Second
	writeChannelMaxSize = 1000
	dialTimeout         = 5 * time.Second
)

// KeepaliveParams is the idle-probe schedule applied to every outbound
// connection: probe after Idle of silence, every Interval, and drop the
// connection after ProbeCount failed probes. The Go runtime only exposes the
// probe period portably, so Idle doubles as the period; the remaining knobs
// are kept for runtimes that surface them.
type KeepaliveParams struct {
	Idle       time.Duration
	Interval   time.Duration
	ProbeCount int
}

var defaultKeepalive = KeepaliveParams{
	Idle:       60 * time.Second,
	Interval:   60 * time.Second,
	ProbeCount: 10,
}

// ConnectionStats counts traffic on one connection. Pending is the number of
// requests awaiting a response.
type ConnectionStats struct {
	Sent       uint64
	Received   uint64
	Exceptions uint64
	Pending    uint64
}

type respHolder struct {
	payload []byte
	err     error
}

type queuedWrite struct {
	msg    []byte
	seq    int64
	hasSeq bool
}

// clientConn owns one outbound connection to a peer: the socket, a write
// queue drained by a write loop, and a read loop correlating responses to
// waiting senders by sequence. The error flag is sticky: once a fatal I/O
// error has been observed the connection never reports healthy again and the
// owning cache replaces it.
type clientConn struct {
	lock          sync.RWMutex
	netConn       net.Conn
	remoteAddress string
	closeGroup    sync.WaitGroup
	respHandlers  sync.Map
	reqSequence   int64
	closed        bool
	errored       atomic.Bool
	compression   compress.CompressionType
	writeChan     chan queuedWrite

	sent       uint64
	received   uint64
	exceptions uint64
	pending    int64
}

func createClientConn(dialAddress string, tlsConf *tls.Config, keepalive KeepaliveParams,
	compression compress.CompressionType) (*clientConn, error) {
	netConn, err := createNetConnection(dialAddress, tlsConf, keepalive)
	if err != nil {
		return nil, err
	}
	cc := &clientConn{
		netConn:       netConn,
		remoteAddress: dialAddress,
		compression:   compression,
		writeChan:     make(chan queuedWrite, writeChannelMaxSize),
	}
	cc.start()
	return cc, nil
}

func createNetConnection(dialAddress string, tlsConf *tls.Config, keepalive KeepaliveParams) (net.Conn, error) {
	var netConn net.Conn
	var tcpConn *net.TCPConn
	if tlsConf != nil {
		d := net.Dialer{Timeout: dialTimeout}
		conn, err := tls.DialWithDialer(&d, "tcp", dialAddress, tlsConf)
		if err != nil {
			return nil, convertNetworkError(dialAddress, err)
		}
		netConn = conn
		tcpConn = conn.NetConn().(*net.TCPConn)
	} else {
		d := net.Dialer{Timeout: dialTimeout}
		conn, err := d.Dial("tcp", dialAddress)
		if err != nil {
			return nil, convertNetworkError(dialAddress, err)
		}
		tcpConn = conn.(*net.TCPConn)
		netConn = tcpConn
	}
	if err := tcpConn.SetNoDelay(true); err != nil {
		return nil, errwrap.WithStack(err)
	}
	if err := tcpConn.SetKeepAlive(true); err != nil {
		return nil, errwrap.WithStack(err)
	}
	if err := tcpConn.SetKeepAlivePeriod(keepalive.Idle); err != nil {
		return nil, errwrap.WithStack(err)
	}
	return netConn, nil
}

func convertNetworkError(address string, err error) error {
	// Network errors are unavailable errors - the peer may come back, and
	// retry policies treat them as retryable
	return errors.Newf(errors.Unavailable, "transport error for connection to %s: %v", address, err)
}

func (c *clientConn) start() {
	c.closeGroup.Add(2)
	common.Go(c.writeLoop)
	common.Go(c.readLoop)
}

// queueRequest hands an encoded payload to the write queue. For requests that
// require a response it registers a response channel keyed by a fresh
// sequence and returns it together with the sequence, so the caller can wait
// or cancel.
func (c *clientConn) queueRequest(verb Verb, payload []byte, requiresResponse bool) (chan respHolder, int64, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	if c.closed {
		return nil, 0, errors.Newf(errors.Unavailable, "connection to %s is closed", c.remoteAddress)
	}
	var seq int64
	var ch chan respHolder
	if requiresResponse {
		seq = atomic.AddInt64(&c.reqSequence, 1)
		ch = make(chan respHolder, 1)
		c.respHandlers.Store(seq, ch)
		atomic.AddInt64(&c.pending, 1)
	}
	req := &request{
		requiresResponse: requiresResponse,
		sequence:         seq,
		verb:             verb,
		payload:          payload,
	}
	if err := c.queueWrite(req.serialize(nil), seq, requiresResponse); err != nil {
		if requiresResponse {
			c.cancelRequest(seq)
		}
		return nil, 0, err
	}
	return ch, seq, nil
}

func (c *clientConn) queueWrite(msg []byte, seq int64, hasSeq bool) error {
	select {
	case c.writeChan <- queuedWrite{msg: msg, seq: seq, hasSeq: hasSeq}:
		return nil
	case <-time.After(maxBlockTime):
		log.Warn("timed out waiting to write on connection")
		return errors.Newf(errors.Unavailable, "timed out waiting to write to %s", c.remoteAddress)
	}
}

func (c *clientConn) writeLoop() {
	defer common.PanicHandler()
	defer c.closeGroup.Done()
	for write := range c.writeChan {
		err := writeFrame(c.netConn, c.compression, requestMessageType, write.msg)
		if err != nil {
			c.errored.Store(true)
			if write.hasSeq {
				// The read loop will likely also fail this handler - route the
				// write error through it so the sender sees at most one error
				c.failHandler(write.seq, convertNetworkError(c.remoteAddress, err))
			} else {
				log.Warnf("failed to write message to %s: %v", c.remoteAddress, err)
			}
			// Might already be closed - closing the underlying connection also
			// stops the read loop
			if err := c.netConn.Close(); err != nil {
				// Do nothing
			}
			break
		}
		atomic.AddUint64(&c.sent, 1)
	}
}

func (c *clientConn) readLoop() {
	defer common.PanicHandler()
	defer c.closeGroup.Done()
	err := readFrames(c.netConn, c.handleFrame)
	// The read loop has exited - the connection is finished. We close from
	// this side too, to avoid leaking connections in CLOSE_WAIT state.
	c.lock.Lock()
	c.closed = true
	c.lock.Unlock()
	// An outbound connection whose read loop has exited is unusable whether
	// the peer hung up cleanly or not - flag it so the cache replaces it
	c.errored.Store(true)
	if err2 := c.netConn.Close(); err2 != nil {
		// Do nothing - might have been closed from the other side
	}
	// Fail any senders still waiting for responses
	connErr := errors.Newf(errors.Unavailable, "connection to %s closed", c.remoteAddress)
	if err != nil {
		connErr = errors.Newf(errors.Unavailable, "connection to %s closed: %v", c.remoteAddress, err)
	}
	c.respHandlers.Range(func(seq, v interface{}) bool {
		c.respHandlers.Delete(seq)
		atomic.AddInt64(&c.pending, -1)
		v.(chan respHolder) <- respHolder{err: connErr}
		return true
	})
	close(c.writeChan)
}

func (c *clientConn) handleFrame(_ compress.CompressionType, msgType messageType, body []byte) error {
	if msgType != responseMessageType {
		return errwrap.Errorf("unexpected message type %d on client connection", msgType)
	}
	resp := &response{}
	if err := resp.deserialize(body); err != nil {
		return err
	}
	v, ok := c.respHandlers.LoadAndDelete(resp.sequence)
	if !ok {
		// The request most likely timed out and was cancelled
		log.Debugf("no response handler for sequence %d on connection to %s", resp.sequence, c.remoteAddress)
		return nil
	}
	atomic.AddInt64(&c.pending, -1)
	atomic.AddUint64(&c.received, 1)
	ch := v.(chan respHolder)
	if !resp.ok {
		atomic.AddUint64(&c.exceptions, 1)
		ch <- respHolder{err: errors.New(errors.ErrorCode(resp.errCode), resp.errMsg)}
	} else {
		ch <- respHolder{payload: resp.payload}
	}
	return nil
}

func (c *clientConn) failHandler(seq int64, err error) {
	v, ok := c.respHandlers.LoadAndDelete(seq)
	if !ok {
		return
	}
	atomic.AddInt64(&c.pending, -1)
	atomic.AddUint64(&c.exceptions, 1)
	v.(chan respHolder) <- respHolder{err: err}
}

// cancelRequest abandons a pending request, e.g. after its deadline elapsed.
// A response arriving later is dropped by the read loop.
func (c *clientConn) cancelRequest(seq int64) {
	if _, ok := c.respHandlers.LoadAndDelete(seq); ok {
		atomic.AddInt64(&c.pending, -1)
	}
}

// Error reports whether a fatal I/O error has been observed. Once true it
// stays true.
func (c *clientConn) Error() bool {
	return c.errored.Load()
}

// Stop initiates an orderly close and returns once the socket is released and
// both loops have exited.
func (c *clientConn) Stop() {
	c.lock.Lock()
	c.closed = true
	c.lock.Unlock() // Must unlock before closing the connection to avoid deadlock
	if err := c.netConn.Close(); err != nil {
		// Do nothing - connection might already have been closed from the other side
	}
	c.closeGroup.Wait()
}

func (c *clientConn) RemoteAddress() string {
	return c.remoteAddress
}

func (c *clientConn) Stats() ConnectionStats {
	pending := atomic.LoadInt64(&c.pending)
	if pending < 0 {
		pending = 0
	}
	return ConnectionStats{
		Sent:       atomic.LoadUint64(&c.sent),
		Received:   atomic.LoadUint64(&c.received),
		Exceptions: atomic.LoadUint64(&c.exceptions),
		Pending:    uint64(pending),
	}
}
