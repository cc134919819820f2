package discovery

import "testing"

func TestDiscoveryNodeRoundTrip(t *testing.T) {
	n := NewDiscoveryNode("mesh", "node-1", "eu-west", 3, Capabilities{
		MQTT: true, Geo: true,
	})
	enc, err := EncodeDiscoveryNode(n)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	dec, err := DecodeDiscoveryNode(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dec.Name != "mesh" || dec.NodeID != "node-1" || dec.Count != 3 || dec.Region != "eu-west" {
		t.Fatalf("unexpected roundtrip result: %+v", dec)
	}
	caps := dec.AsCapabilities()
	if !caps.MQTT || !caps.Geo || caps.Streams {
		t.Fatalf("unexpected capabilities: %+v", caps)
	}
}

func TestSignedDiscoveryMessageRoundTrip(t *testing.T) {
	n := NewDiscoveryNode("mesh", "node-1", "", 1, Capabilities{Blobs: true})
	data, err := EncodeDiscoveryNode(n)
	if err != nil {
		t.Fatalf("encode node: %v", err)
	}

	msg := &SignedDiscoveryMessage{
		From:      []byte{0xAB, 0x01, 0x02},
		Data:      data,
		Signature: []byte{0xCD, 0x03, 0x04, 0x05},
	}

	enc, err := EncodeSignedDiscoveryMessage(msg)
	if err != nil {
		t.Fatalf("encode envelope: %v", err)
	}
	dec, err := DecodeSignedDiscoveryMessage(enc)
	if err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if len(dec.From) != 3 || dec.From[0] != 0xAB || len(dec.Signature) != 4 || dec.Signature[0] != 0xCD {
		t.Fatalf("unexpected envelope fields: %+v", dec)
	}

	node, err := DecodeDiscoveryNode(dec.Data)
	if err != nil {
		t.Fatalf("decode embedded node: %v", err)
	}
	if node.NodeID != "node-1" || !node.AsCapabilities().Blobs {
		t.Fatalf("unexpected embedded node: %+v", node)
	}
}
