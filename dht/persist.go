package dht

import (
	"encoding/hex"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Snapshot is the on-disk representation of a routing table: its entries at
// the time it was saved, plus an opaque identifier distinguishing one
// snapshot file from another (useful for logging which generation a loaded
// table came from, not for any correctness purpose).
type Snapshot struct {
	ID      string     `json:"id"`
	SavedAt time.Time  `json:"saved_at"`
	Nodes   []NodeInfo `json:"nodes"`
}

// nodeInfoJSON is the wire shape NodeInfo marshals to: the id as hex and the
// address as a dotted IPv4 string plus port, instead of encoding/json's
// default of arrays of byte values.
type nodeInfoJSON struct {
	ID   string `json:"id"`
	IP   string `json:"ip"`
	Port uint16 `json:"port"`
}

func (n NodeInfo) MarshalJSON() ([]byte, error) {
	return json.Marshal(nodeInfoJSON{
		ID:   n.ID.String(),
		IP:   n.Addr.UDPAddr().IP.String(),
		Port: n.Addr.Port,
	})
}

func (n *NodeInfo) UnmarshalJSON(data []byte) error {
	var raw nodeInfoJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	idBytes, err := hex.DecodeString(raw.ID)
	if err != nil {
		return errors.Wrap(err, "decode snapshot node id")
	}
	id, err := NodeIDFromBytes(idBytes)
	if err != nil {
		return err
	}
	ip := net.ParseIP(raw.IP).To4()
	if ip == nil {
		return errors.Errorf("dht: snapshot node has non-IPv4 address %q", raw.IP)
	}
	n.ID = id
	copy(n.Addr.IP[:], ip)
	n.Addr.Port = raw.Port
	return nil
}

// SaveSnapshot writes every entry of rt to path as JSON, creating parent
// directories as needed. A fresh UUID tags each snapshot.
func SaveSnapshot(rt *RoutingTable, path string) error {
	snap := Snapshot{ID: uuid.NewString(), SavedAt: time.Now(), Nodes: rt.AllNodes()}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal routing table snapshot")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create snapshot directory")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, "write snapshot file")
	}
	return nil
}

// LoadSnapshot reads a snapshot previously written by SaveSnapshot and
// inserts its nodes into rt. A missing file is not an error: it just means
// this is a cold start.
func LoadSnapshot(rt *RoutingTable, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "read snapshot file")
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return errors.Wrap(err, "unmarshal routing table snapshot")
	}

	for _, n := range snap.Nodes {
		rt.Insert(n)
	}
	return nil
}
