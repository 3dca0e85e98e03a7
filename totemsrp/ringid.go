package totemsrp

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/virtualsync/totemsrp/totemip"
	"github.com/virtualsync/totemsrp/totemwire"
)

// DefaultRingIDDir is where ring_id state persists when the caller doesn't
// override it, matching the "/tmp/ringid_<addr>" convention spec.md §6
// names for stable-storage ring_id persistence.
const DefaultRingIDDir = "/tmp"

func ringIDPath(dir string, self totemip.Address) string {
	return filepath.Join(dir, fmt.Sprintf("ringid_%s_%d", self.IP.String(), self.Port))
}

// loadRingID reads a previously persisted ring_id, or returns ok=false if
// none exists yet (a fresh processor with no prior history).
func loadRingID(dir string, self totemip.Address) (totemwire.RingID, bool, error) {
	data, err := os.ReadFile(ringIDPath(dir, self))
	if os.IsNotExist(err) {
		return totemwire.RingID{}, false, nil
	}
	if err != nil {
		return totemwire.RingID{}, false, err
	}
	if len(data) != 8 {
		return totemwire.RingID{}, false, fmt.Errorf("totemsrp: corrupt ring_id file %s", ringIDPath(dir, self))
	}
	return totemwire.RingID{Rep: self, Seq: binary.BigEndian.Uint64(data)}, true, nil
}

// saveRingID persists ring.Seq synchronously (spec.md §5: "stable-storage
// writes for ring_id persistence are synchronous and assumed fast") with
// 0600 permissions since the file names this processor's network address.
func saveRingID(dir string, self totemip.Address, ring totemwire.RingID) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, ring.Seq)
	path := ringIDPath(dir, self)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o600); err != nil {
		return fmt.Errorf("totemsrp: persist ring_id: %w", err)
	}
	return os.Rename(tmp, path)
}
