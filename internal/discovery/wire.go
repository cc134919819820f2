package discovery

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// DiscoveryNode is the compact-binary payload carried inside a
// SignedDiscoveryMessage on the improved-discovery-v2 topic. Its field
// order and wire encoding reproduce the reference node's postcard-encoded
// DiscoveryNodeV2 exactly: sequential fields, no type header, strings and
// byte slices as a varint length prefix followed by raw bytes, booleans as
// a single byte.
type DiscoveryNode struct {
	Name       string
	NodeID     string
	Count      uint32
	Region     string
	MQTT       bool
	Streams    bool
	Timeseries bool
	Geo        bool
	Blobs      bool
}

// SignedDiscoveryMessage is the outer v2 envelope. From and Signature are
// length-prefixed byte sequences, not fixed-size arrays, matching the
// reference encoder's Vec<u8> fields.
type SignedDiscoveryMessage struct {
	From      []byte
	Data      []byte
	Signature []byte
}

func putVarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func putBytes(buf *bytes.Buffer, b []byte) {
	putVarint(buf, uint64(len(b)))
	buf.Write(b)
}

func putString(buf *bytes.Buffer, s string) {
	putBytes(buf, []byte(s))
}

func putBool(buf *bytes.Buffer, b bool) {
	if b {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("read length prefix: %w", err)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("read %d bytes: %w", n, err)
	}
	return b, nil
}

func readString(r *bytes.Reader) (string, error) {
	b, err := readBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, fmt.Errorf("read bool: %w", err)
	}
	return b != 0, nil
}

// EncodeDiscoveryNode postcard-encodes a DiscoveryNode for embedding as the
// Data field of a SignedDiscoveryMessage.
func EncodeDiscoveryNode(n *DiscoveryNode) ([]byte, error) {
	var buf bytes.Buffer
	putString(&buf, n.Name)
	putString(&buf, n.NodeID)
	putVarint(&buf, uint64(n.Count))
	putString(&buf, n.Region)
	putBool(&buf, n.MQTT)
	putBool(&buf, n.Streams)
	putBool(&buf, n.Timeseries)
	putBool(&buf, n.Geo)
	putBool(&buf, n.Blobs)
	return buf.Bytes(), nil
}

// DecodeDiscoveryNode reverses EncodeDiscoveryNode.
func DecodeDiscoveryNode(data []byte) (*DiscoveryNode, error) {
	r := bytes.NewReader(data)
	var n DiscoveryNode
	var err error

	if n.Name, err = readString(r); err != nil {
		return nil, fmt.Errorf("discovery: decode node name: %w", err)
	}
	if n.NodeID, err = readString(r); err != nil {
		return nil, fmt.Errorf("discovery: decode node id: %w", err)
	}
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("discovery: decode node count: %w", err)
	}
	n.Count = uint32(count)
	if n.Region, err = readString(r); err != nil {
		return nil, fmt.Errorf("discovery: decode node region: %w", err)
	}
	if n.MQTT, err = readBool(r); err != nil {
		return nil, fmt.Errorf("discovery: decode node mqtt flag: %w", err)
	}
	if n.Streams, err = readBool(r); err != nil {
		return nil, fmt.Errorf("discovery: decode node streams flag: %w", err)
	}
	if n.Timeseries, err = readBool(r); err != nil {
		return nil, fmt.Errorf("discovery: decode node timeseries flag: %w", err)
	}
	if n.Geo, err = readBool(r); err != nil {
		return nil, fmt.Errorf("discovery: decode node geo flag: %w", err)
	}
	if n.Blobs, err = readBool(r); err != nil {
		return nil, fmt.Errorf("discovery: decode node blobs flag: %w", err)
	}
	return &n, nil
}

// EncodeSignedDiscoveryMessage postcard-encodes the full v2 envelope.
func EncodeSignedDiscoveryMessage(m *SignedDiscoveryMessage) ([]byte, error) {
	var buf bytes.Buffer
	putBytes(&buf, m.From)
	putBytes(&buf, m.Data)
	putBytes(&buf, m.Signature)
	return buf.Bytes(), nil
}

// DecodeSignedDiscoveryMessage reverses EncodeSignedDiscoveryMessage.
func DecodeSignedDiscoveryMessage(data []byte) (*SignedDiscoveryMessage, error) {
	r := bytes.NewReader(data)
	var m SignedDiscoveryMessage
	var err error

	if m.From, err = readBytes(r); err != nil {
		return nil, fmt.Errorf("discovery: decode envelope from: %w", err)
	}
	if m.Data, err = readBytes(r); err != nil {
		return nil, fmt.Errorf("discovery: decode envelope data: %w", err)
	}
	if m.Signature, err = readBytes(r); err != nil {
		return nil, fmt.Errorf("discovery: decode envelope signature: %w", err)
	}
	return &m, nil
}

// NewDiscoveryNode builds a node payload from a registry-style capability
// set, matching the field layout the reference encoder expects.
func NewDiscoveryNode(name, nodeID, region string, count uint32, caps Capabilities) *DiscoveryNode {
	return &DiscoveryNode{
		Name:       name,
		NodeID:     nodeID,
		Count:      count,
		Region:     region,
		MQTT:       caps.MQTT,
		Streams:    caps.Streams,
		Timeseries: caps.Timeseries,
		Geo:        caps.Geo,
		Blobs:      caps.Blobs,
	}
}

// AsCapabilities reconstructs the Capabilities struct carried in a
// DiscoveryNode (mobile is never set over this wire format, matching the
// reference encoder which has no such field).
func (n *DiscoveryNode) AsCapabilities() Capabilities {
	return Capabilities{
		MQTT:       n.MQTT,
		Streams:    n.Streams,
		Timeseries: n.Timeseries,
		Geo:        n.Geo,
		Blobs:      n.Blobs,
	}
}
