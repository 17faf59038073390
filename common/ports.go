// Copyright 2026 The Vortex Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/vortexdb/vortex/errwrap"
)

// Test-ports support. In tests we need to listen on ephemeral ports, but the
// address must be known before the component under test starts. AddressWithPort
// grabs a free port by listening on it and keeps the listener; a later Listen
// on the same address is handed the already-open listener instead of binding
// again, so there is no close-and-rebind race.

func AddressWithPort(host string) (string, error) {
	return tp.AddressWithPort(host)
}

func Listen(network, address string) (net.Listener, error) {
	if network != "tcp" {
		panic("network must be tcp")
	}
	return tp.listen(address)
}

var tp = newTestPorts()

type testPorts struct {
	enabled   atomic.Bool
	lock      sync.Mutex
	listeners map[string]net.Listener
}

func newTestPorts() *testPorts {
	return &testPorts{listeners: map[string]net.Listener{}}
}

func (t *testPorts) enable() {
	t.enabled.Store(true)
}

func (t *testPorts) listen(address string) (net.Listener, error) {
	if !t.enabled.Load() {
		return net.Listen("tcp", address)
	}
	t.lock.Lock()
	defer t.lock.Unlock()
	listener, ok := t.listeners[address]
	if !ok {
		return nil, errwrap.Errorf("test ports is enabled and there is no registered listener for address %s", address)
	}
	return listener, nil
}

func (t *testPorts) AddressWithPort(host string) (string, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("%s:0", host))
	if err != nil {
		return "", err
	}
	address := listener.Addr().String()
	t.registerListener(address, listener)
	return address, nil
}

// RegisterTestPort binds address immediately and registers the listener so a
// later Listen on exactly that address is handed it. Lets tests restart a
// server on a fixed address, or listen on a second host with a port reserved
// by AddressWithPort.
func RegisterTestPort(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	tp.registerListener(address, listener)
	return nil
}

func (t *testPorts) registerListener(address string, listener net.Listener) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.listeners[address] = &listenerWrapper{tp: t, address: address, listener: listener}
}

func (t *testPorts) removeListener(address string) {
	t.lock.Lock()
	defer t.lock.Unlock()
	delete(t.listeners, address)
}

func EnableTestPorts() {
	tp.enable()
}

type listenerWrapper struct {
	tp       *testPorts
	address  string
	listener net.Listener
}

func (l *listenerWrapper) Accept() (net.Conn, error) {
	return l.listener.Accept()
}

func (l *listenerWrapper) Close() error {
	l.tp.removeListener(l.address)
	return l.listener.Close()
}

func (l *listenerWrapper) Addr() net.Addr {
	return l.listener.Addr()
}
