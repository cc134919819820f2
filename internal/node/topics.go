package node

// Gossip topic names (§6). Each is a short literal id rather than the
// 32-byte padded form some substrates require; go-libp2p-pubsub topics are
// plain strings.
const (
	TopicData              = "data"
	TopicDiscovery         = "discovery"
	TopicSync              = "sync"
	TopicPeerList          = "peer-list"
	TopicImprovedDiscoveryV2 = "improved-discovery-v2"
)

// AllTopics lists every topic a node subscribes to at startup.
var AllTopics = []string{TopicData, TopicDiscovery, TopicSync, TopicPeerList, TopicImprovedDiscoveryV2}

// DefaultBootstrapPeer is the hard-coded seed address always prepended to
// host-supplied bootstrap peers, in "{node_id_hex}@{ip}:{port}" form.
const DefaultBootstrapPeer = "0000000000000000000000000000000000000000000000000000000000000000@127.0.0.1:4001"

// ResolveBootstrapPeers prepends DefaultBootstrapPeer to hostPeers,
// de-duplicating exact repeats.
func ResolveBootstrapPeers(hostPeers []string) []string {
	out := make([]string, 0, len(hostPeers)+1)
	seen := map[string]bool{}
	add := func(p string) {
		if p == "" || seen[p] {
			return
		}
		seen[p] = true
		out = append(out, p)
	}
	add(DefaultBootstrapPeer)
	for _, p := range hostPeers {
		add(p)
	}
	return out
}
