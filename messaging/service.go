package messaging

import (
	"crypto/tls"
	"sync"
	"sync/atomic"

	"github.com/vortexdb/vortex/common"
	"github.com/vortexdb/vortex/compress"
	"github.com/vortexdb/vortex/conf"
	"github.com/vortexdb/vortex/encoding"
	"github.com/vortexdb/vortex/errors"
	"github.com/vortexdb/vortex/errwrap"
	log "github.com/vortexdb/vortex/logger"
)

// EncryptWhat selects which outbound connections are encrypted, evaluated as
// a pure function of (local broadcast address, peer address, snitch).
type EncryptWhat string

const (
	EncryptNone EncryptWhat = "none"
	EncryptAll  EncryptWhat = "all"
	EncryptDC   EncryptWhat = "dc"
	EncryptRack EncryptWhat = "rack"
)

// CompressWhat selects which outbound connections are compressed.
type CompressWhat string

const (
	CompressNone CompressWhat = "none"
	CompressDC   CompressWhat = "dc"
	CompressAll  CompressWhat = "all"
)

// Snitch classifies peer addresses into datacenters and racks.
type Snitch interface {
	DatacenterOf(addr Address) string
	RackOf(addr Address) string
}

// Gossip is the membership view consulted by retry loops so they abandon
// peers that were removed from the cluster.
type Gossip interface {
	IsKnownEndpoint(addr Address) bool
}

const DefaultMaxResultSize = 1 << 20

type Config struct {
	ListenAddress     Address              `help:"Address the messaging service listens on for inter-node traffic" default:"localhost"`
	BroadcastAddress  Address              `help:"Address this node advertises to peers. Defaults to the listen address"`
	Port              int                  `help:"Port for plain inter-node traffic" default:"7000"`
	SSLPort           int                  `help:"Port for encrypted inter-node traffic" default:"7001"`
	Encrypt           EncryptWhat          `help:"Which inter-node connections to encrypt" enum:"none,all,dc,rack" default:"none"`
	Compress          CompressWhat         `help:"Which inter-node connections to compress" enum:"none,dc,all" default:"none"`
	TLS               conf.TLSConfig       `help:"Inter-node server TLS configuration" embed:"" prefix:"tls-"`
	ClientTLS         conf.ClientTLSConfig `help:"Inter-node client TLS configuration" embed:"" prefix:"client-tls-"`
	ListenToBroadcast bool                 `help:"Also listen on the broadcast address when it differs from the listen address"`
	ListenNow         bool                 `help:"Create the listeners during construction rather than waiting for StartListen" default:"true"`
	CoreID            int                  `kong:"-"`
	MaxResultSize     uint64               `kong:"-"`
	Keepalive         KeepaliveParams      `kong:"-"`
	BloatFactor       int                  `kong:"-"`
	BasicRequestSize  int                  `kong:"-"`
	MaxMemory         uint64               `kong:"-"`
}

func (c *Config) ApplyDefaults() {
	if c.ListenAddress == "" {
		c.ListenAddress = "localhost"
	}
	if c.BroadcastAddress == "" {
		c.BroadcastAddress = c.ListenAddress
	}
	if c.Port == 0 {
		c.Port = 7000
	}
	if c.SSLPort == 0 {
		c.SSLPort = 7001
	}
	if c.Encrypt == "" {
		c.Encrypt = EncryptNone
	}
	if c.Compress == "" {
		c.Compress = CompressNone
	}
	if c.Keepalive == (KeepaliveParams{}) {
		c.Keepalive = defaultKeepalive
	}
	if c.MaxResultSize == 0 {
		c.MaxResultSize = DefaultMaxResultSize
	}
	if c.BloatFactor == 0 {
		c.BloatFactor = 3
	}
	if c.BasicRequestSize == 0 {
		c.BasicRequestSize = 1000
	}
	if c.MaxMemory == 0 {
		c.MaxMemory = common.TotalMemory() * 8 / 100
		if c.MaxMemory < 1000000 {
			c.MaxMemory = 1000000
		}
	}
}

func (c *Config) Validate() error {
	switch c.Encrypt {
	case EncryptNone, EncryptAll, EncryptDC, EncryptRack:
	default:
		return errors.NewInvalidConfigurationError("encrypt must be one of none, all, dc, rack")
	}
	switch c.Compress {
	case CompressNone, CompressDC, CompressAll:
	default:
		return errors.NewInvalidConfigurationError("compress must be one of none, dc, all")
	}
	if c.Port == c.SSLPort {
		return errors.NewInvalidConfigurationError("port and ssl-port must differ")
	}
	return nil
}

type clientEntry struct {
	peer PeerID
	conn *clientConn
}

// MessagingService is one node's (one core's) inter-node RPC endpoint: a
// server accepting connections from peers and a client opening connections to
// peers on demand. Instances are shared-nothing - each core runs its own with
// its own caches and counters.
type MessagingService struct {
	cfg      Config
	snitch   Snitch
	gossip   Gossip
	registry *verbRegistry

	lock        sync.Mutex
	stopping    bool
	stopChan    chan struct{}
	clients     [numConnIndexes]map[Address]*clientEntry
	servers     [2]*listener
	serversTLS  [2]*listener
	preferredIP map[Address]Address

	serverTLSConf *tls.Config
	clientTLSConf *tls.Config

	dropped [VerbCount]uint64

	// Holds the service "alive" while per-connection stops scheduled by
	// evictions are in flight; Stop waits for it
	connStops sync.WaitGroup

	memLimiter *memoryLimiter
}

// NewMessagingService builds a messaging service from cfg. The snitch and
// gossip collaborators may be nil, degrading dc/rack policies and retry
// membership checks respectively. With cfg.ListenNow the listeners are
// created before returning.
func NewMessagingService(cfg Config, snitch Snitch, gossip Gossip) (*MessagingService, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	serverTLSConf, err := conf.CreateServerTLSConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}
	var clientTLSConf *tls.Config
	if cfg.TLS.Enabled && cfg.Encrypt != EncryptNone {
		clientTLSConf, err = cfg.ClientTLS.ToGoTlsConfig()
		if err != nil {
			return nil, err
		}
	}
	ms := &MessagingService{
		cfg:           cfg,
		snitch:        snitch,
		gossip:        gossip,
		registry:      newVerbRegistry(),
		stopChan:      make(chan struct{}),
		preferredIP:   map[Address]Address{},
		serverTLSConf: serverTLSConf,
		clientTLSConf: clientTLSConf,
		memLimiter:    newMemoryLimiter(cfg.MaxMemory),
	}
	for i := 0; i < numConnIndexes; i++ {
		ms.clients[i] = map[Address]*clientEntry{}
	}
	if cfg.ListenNow {
		if err := ms.StartListen(); err != nil {
			return nil, err
		}
	}
	return ms, nil
}

func (m *MessagingService) Config() Config {
	return m.cfg
}

// RawVersion returns the messaging version to speak to endpoint.
// TODO per-endpoint version tracking once rolling upgrades need it
func (m *MessagingService) RawVersion(_ Address) int {
	return CurrentVersion
}

func (m *MessagingService) KnowsVersion(_ Address) bool {
	return true
}

// StartListen creates any missing listeners and starts them. It is
// idempotent. Plain slots: 0 = listen address, 1 = broadcast address when
// configured and different. TLS slots are indexed the same way and exist only
// with credentials and an encrypt policy other than none.
func (m *MessagingService) StartListen() error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.stopping {
		return errors.New(errors.Stopping, "messaging service is stopping")
	}
	listenToBC := m.cfg.ListenToBroadcast && m.cfg.BroadcastAddress != m.cfg.ListenAddress
	if m.servers[0] == nil {
		m.servers[0] = newListener(m, netAddr(m.cfg.ListenAddress, m.cfg.Port), nil)
		if listenToBC {
			m.servers[1] = newListener(m, netAddr(m.cfg.BroadcastAddress, m.cfg.Port), nil)
		}
	}
	if m.serversTLS[0] == nil && m.serverTLSConf != nil && m.cfg.Encrypt != EncryptNone {
		m.serversTLS[0] = newListener(m, netAddr(m.cfg.ListenAddress, m.cfg.SSLPort), m.serverTLSConf)
		if listenToBC {
			m.serversTLS[1] = newListener(m, netAddr(m.cfg.BroadcastAddress, m.cfg.SSLPort), m.serverTLSConf)
		}
	}
	for _, s := range m.servers {
		if s != nil {
			if err := s.start(); err != nil {
				return err
			}
		}
	}
	for _, s := range m.serversTLS {
		if s != nil {
			if err := s.start(); err != nil {
				return err
			}
		}
	}
	// Log on core 0 only, to avoid duplicate logs
	if m.cfg.CoreID == 0 {
		if m.serversTLS[0] != nil {
			log.Infof("starting encrypted messaging service on ssl port %d", m.cfg.SSLPort)
		}
		log.Infof("starting messaging service on port %d", m.cfg.Port)
	}
	return nil
}

func (m *MessagingService) isStopping() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.stopping
}

// Stop quiesces the service: no new connections are created and no sends
// dispatched once it begins. It stops the non-TLS listeners, the TLS
// listeners and all cached client connections in parallel, and returns only
// when all three groups have finished and every per-connection stop scheduled
// by evictions has completed.
func (m *MessagingService) Stop() error {
	m.lock.Lock()
	if m.stopping {
		m.lock.Unlock()
		m.connStops.Wait()
		return nil
	}
	m.stopping = true
	close(m.stopChan)
	var servers, serversTLS []*listener
	for _, s := range m.servers {
		if s != nil {
			servers = append(servers, s)
		}
	}
	for _, s := range m.serversTLS {
		if s != nil {
			serversTLS = append(serversTLS, s)
		}
	}
	var conns []*clientConn
	for i := 0; i < numConnIndexes; i++ {
		for _, entry := range m.clients[i] {
			conns = append(conns, entry.conn)
		}
		m.clients[i] = map[Address]*clientEntry{}
	}
	m.lock.Unlock()

	var err error
	numStops := len(servers) + len(serversTLS) + len(conns)
	if numStops > 0 {
		done := make(chan error, 1)
		stopFut := common.NewCountDownFuture(numStops, func(err error) {
			done <- err
		})
		for _, s := range servers {
			s := s
			common.Go(func() {
				stopFut.CountDown(s.stop())
			})
		}
		for _, s := range serversTLS {
			s := s
			common.Go(func() {
				stopFut.CountDown(s.stop())
			})
		}
		for _, conn := range conns {
			conn := conn
			common.Go(func() {
				conn.Stop()
				stopFut.CountDown(nil)
			})
		}
		err = <-done
	}
	m.connStops.Wait()
	return err
}

// getClient returns the cached connection to id for verb's class, creating
// one if there is none or the cached one has failed. At most one live
// connection exists per (verb class, peer).
func (m *MessagingService) getClient(verb Verb, id PeerID) (*clientConn, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.stopping {
		return nil, errors.New(errors.Stopping, "messaging service is stopping")
	}
	idx := connIndexForVerb(verb)
	if entry, exists := m.clients[idx][id.Addr]; exists {
		if !entry.conn.Error() {
			return entry.conn, nil
		}
		m.removeClientLocked(idx, id.Addr, true)
	}
	mustEncrypt := m.mustEncrypt(id.Addr)
	mustCompress := m.mustCompress(id.Addr)
	host := m.preferredIPLocked(id.Addr)
	port := m.cfg.Port
	var tlsConf *tls.Config
	if mustEncrypt {
		port = m.cfg.SSLPort
		tlsConf = m.clientTLSConf
	}
	compression := compress.CompressionTypeNone
	if mustCompress {
		compression = compress.CompressionTypeLz4
	}
	conn, err := createClientConn(netAddr(host, port), tlsConf, m.cfg.Keepalive, compression)
	if err != nil {
		return nil, err
	}
	m.clients[idx][id.Addr] = &clientEntry{peer: id, conn: conn}
	m.sendClientID(conn)
	return conn, nil
}

// sendClientID introduces this node on a freshly opened connection.
func (m *MessagingService) sendClientID(conn *clientConn) {
	payload := serializeClientID(nil, clientID{
		BroadcastAddr: m.cfg.BroadcastAddress,
		CoreID:        uint32(m.cfg.CoreID),
		MaxResultSize: m.cfg.MaxResultSize,
	})
	if _, _, err := conn.queueRequest(VerbClientID, payload, false); err != nil {
		log.Debugf("failed to send client id on connection to %s: %v", conn.RemoteAddress(), err)
	}
}

func (m *MessagingService) mustEncrypt(addr Address) bool {
	if m.clientTLSConf == nil {
		// No credentials - run without TLS regardless of the encrypt policy
		return false
	}
	switch m.cfg.Encrypt {
	case EncryptAll:
		return true
	case EncryptDC:
		return m.snitch != nil &&
			m.snitch.DatacenterOf(addr) != m.snitch.DatacenterOf(m.cfg.BroadcastAddress)
	case EncryptRack:
		return m.snitch != nil &&
			m.snitch.RackOf(addr) != m.snitch.RackOf(m.cfg.BroadcastAddress)
	}
	return false
}

func (m *MessagingService) mustCompress(addr Address) bool {
	switch m.cfg.Compress {
	case CompressAll:
		return true
	case CompressDC:
		return m.snitch != nil &&
			m.snitch.DatacenterOf(addr) != m.snitch.DatacenterOf(m.cfg.BroadcastAddress)
	}
	return false
}

// preferredIPLocked resolves the address to dial for ep: the cached preferred
// (local) address if one exists and ep is in the local datacenter, else ep.
func (m *MessagingService) preferredIPLocked(ep Address) Address {
	ip, exists := m.preferredIP[ep]
	if !exists || m.snitch == nil {
		return ep
	}
	if m.snitch.DatacenterOf(ep) == m.snitch.DatacenterOf(m.cfg.BroadcastAddress) {
		return ip
	}
	return ep
}

// CachePreferredIP records an alternate (local) address to dial for peer.
func (m *MessagingService) CachePreferredIP(ep Address, ip Address) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.preferredIP[ep] = ip
}

// InitPreferredIPCache installs the preferred-IP mapping loaded from
// persisted cluster state and resets the connections to affected peers so
// they reopen with the preferred addresses.
func (m *MessagingService) InitPreferredIPCache(cache map[Address]Address) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.preferredIP = map[Address]Address{}
	for ep, ip := range cache {
		m.preferredIP[ep] = ip
		for i := 0; i < numConnIndexes; i++ {
			m.removeClientLocked(i, ep, false)
		}
	}
}

// removeErrorClient removes the cached connection to id for verb's class, but
// only if it is in error state.
func (m *MessagingService) removeErrorClient(verb Verb, id PeerID) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.stopping {
		// Shutdown is already stopping every connection - don't interfere
		return
	}
	m.removeClientLocked(connIndexForVerb(verb), id.Addr, true)
}

// RemoveClient removes the cached connections to id in every verb class.
func (m *MessagingService) RemoveClient(id PeerID) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.stopping {
		return
	}
	for i := 0; i < numConnIndexes; i++ {
		m.removeClientLocked(i, id.Addr, false)
	}
}

func (m *MessagingService) removeClientLocked(idx int, addr Address, deadOnly bool) {
	entry, exists := m.clients[idx][addr]
	if !exists || (deadOnly && !entry.conn.Error()) {
		return
	}
	delete(m.clients[idx], addr)
	conn := entry.conn
	// The stop is observed through connStops, which Stop waits on, so the
	// service-level stop cannot finish while this is still in flight
	m.connStops.Add(1)
	common.Go(func() {
		defer m.connStops.Done()
		conn.Stop()
		log.Debugf("dropped connection to %s", addr)
	})
}

// ForEachClient yields every cached outbound connection with its stats.
func (m *MessagingService) ForEachClient(f func(id PeerID, stats ConnectionStats)) {
	m.lock.Lock()
	var entries []*clientEntry
	for i := 0; i < numConnIndexes; i++ {
		for _, entry := range m.clients[i] {
			entries = append(entries, entry)
		}
	}
	m.lock.Unlock()
	for _, entry := range entries {
		f(entry.peer, entry.conn.Stats())
	}
}

// ForEachServerConnection yields every active inbound connection on every
// listener with its stats.
func (m *MessagingService) ForEachServerConnection(f func(clientInfo *ClientInfo, stats ConnectionStats)) {
	m.lock.Lock()
	var listeners []*listener
	for _, s := range m.servers {
		if s != nil {
			listeners = append(listeners, s)
		}
	}
	for _, s := range m.serversTLS {
		if s != nil {
			listeners = append(listeners, s)
		}
	}
	m.lock.Unlock()
	for _, s := range listeners {
		s.foreachConnection(f)
	}
}

// IncrementDropped bumps the dropped-message counter for verb. It is called
// exactly once per failed outbound request.
func (m *MessagingService) IncrementDropped(verb Verb) {
	atomic.AddUint64(&m.dropped[verb], 1)
}

func (m *MessagingService) DroppedFor(verb Verb) uint64 {
	return atomic.LoadUint64(&m.dropped[verb])
}

// DroppedMessages returns a snapshot of the dropped counters indexed by verb,
// for exporters.
func (m *MessagingService) DroppedMessages() []uint64 {
	snapshot := make([]uint64, VerbCount)
	for i := range snapshot {
		snapshot[i] = atomic.LoadUint64(&m.dropped[i])
	}
	return snapshot
}

type clientID struct {
	BroadcastAddr Address
	CoreID        uint32
	MaxResultSize uint64
}

func serializeClientID(buff []byte, cid clientID) []byte {
	buff = encoding.AppendStringToBufferLE(buff, string(cid.BroadcastAddr))
	buff = encoding.AppendUint32ToBufferLE(buff, cid.CoreID)
	return encoding.AppendUint64ToBufferLE(buff, cid.MaxResultSize)
}

func deserializeClientID(buff []byte) (clientID, error) {
	if len(buff) < 16 {
		return clientID{}, errwrap.Errorf("client id truncated: %d bytes", len(buff))
	}
	addr, offset := encoding.ReadStringFromBufferLE(buff, 0)
	coreID, offset := encoding.ReadUint32FromBufferLE(buff, offset)
	maxResultSize, _ := encoding.ReadUint64FromBufferLE(buff, offset)
	return clientID{
		BroadcastAddr: Address(addr),
		CoreID:        coreID,
		MaxResultSize: maxResultSize,
	}, nil
}
