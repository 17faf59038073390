package messaging

// Verb identifies a typed RPC operation between nodes. The set is closed and
// known at build time; each verb has a fixed request and response type
// (response may be "no-wait" for fire-and-forget verbs).
type Verb int16

const (
	VerbClientID Verb = iota
	VerbMutation
	VerbMutationDone
	VerbReadData
	VerbReadDigest
	VerbGossipEcho
	VerbGossipDigestSyn
	VerbGossipDigestAck
	VerbGossipDigestAck2
	VerbGossipShutdown
	VerbDefinitionsUpdate
	VerbTruncate
	VerbReplicationFinished
	VerbStreamMutation
	VerbStreamMutationDone
	VerbCompleteMessage
	verbCount
)

// VerbCount bounds the dense per-verb counter arrays.
const VerbCount = int(verbCount)

// CurrentVersion is the messaging protocol version carried on every frame.
const CurrentVersion = 1

// Verbs are partitioned onto separate connections per peer by latency class.
const numConnIndexes = 2

// connIndexForVerb returns the connection index (verb class) for a verb.
// Chatty, latency-sensitive gossip verbs get their own connection so they
// cannot be blocked behind large reads/writes on the shared one.
func connIndexForVerb(verb Verb) int {
	switch verb {
	case VerbGossipDigestSyn, VerbGossipDigestAck2, VerbGossipShutdown, VerbGossipEcho:
		return 1
	}
	return 0
}

var verbNames = [VerbCount]string{
	"CLIENT_ID",
	"MUTATION",
	"MUTATION_DONE",
	"READ_DATA",
	"READ_DIGEST",
	"GOSSIP_ECHO",
	"GOSSIP_DIGEST_SYN",
	"GOSSIP_DIGEST_ACK",
	"GOSSIP_DIGEST_ACK2",
	"GOSSIP_SHUTDOWN",
	"DEFINITIONS_UPDATE",
	"TRUNCATE",
	"REPLICATION_FINISHED",
	"STREAM_MUTATION",
	"STREAM_MUTATION_DONE",
	"COMPLETE_MESSAGE",
}

func (v Verb) String() string {
	if v < 0 || int(v) >= VerbCount {
		return "UNKNOWN"
	}
	return verbNames[v]
}
