package messaging

import (
	"sync"

	"github.com/vortexdb/vortex/errwrap"
)

// HandlerFunc is the untyped form a registered handler takes: it receives the
// inbound connection's ClientInfo and the decoded request payload, and
// returns the response payload (nil for no-wait verbs).
type HandlerFunc func(clientInfo *ClientInfo, payload interface{}) (interface{}, error)

type handlerEntry struct {
	handler   HandlerFunc
	reqCodec  Codec
	respCodec Codec
}

// verbRegistry maps verbs to handlers. It is written during service
// construction and handler (un)registration, and read on every dispatch.
type verbRegistry struct {
	lock     sync.RWMutex
	handlers map[Verb]*handlerEntry
}

func newVerbRegistry() *verbRegistry {
	return &verbRegistry{handlers: map[Verb]*handlerEntry{}}
}

func (r *verbRegistry) register(verb Verb, entry *handlerEntry) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, exists := r.handlers[verb]; exists {
		return errwrap.Errorf("handler already registered for verb %s", verb)
	}
	r.handlers[verb] = entry
	return nil
}

func (r *verbRegistry) unregister(verb Verb) {
	r.lock.Lock()
	defer r.lock.Unlock()
	delete(r.handlers, verb)
}

func (r *verbRegistry) get(verb Verb) (*handlerEntry, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	entry, exists := r.handlers[verb]
	return entry, exists
}

// RegisterHandler installs a handler for verb with the codecs used to decode
// requests and encode responses. It fails if a handler is already installed.
func (m *MessagingService) RegisterHandler(verb Verb, reqCodec Codec, respCodec Codec, handler HandlerFunc) error {
	return m.registry.register(verb, &handlerEntry{
		handler:   handler,
		reqCodec:  reqCodec,
		respCodec: respCodec,
	})
}

// UnregisterHandler removes the handler for verb. It is idempotent.
func (m *MessagingService) UnregisterHandler(verb Verb) {
	m.registry.unregister(verb)
}
