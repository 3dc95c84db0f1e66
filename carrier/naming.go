package carrier

import (
	"fmt"
	"strconv"
	"strings"
)

// Reference filesystem naming schema (spec §6):
//   data blob:         "{sender},{recipient},{sid},{seq}.bin"
//   temp (in-flight):  ".{name}.tmp"
//   capability record: "{rid}.capa"
const (
	blobSuffix = ".bin"
	capaSuffix = ".capa"
)

func encodeBlobName(f Fields) string {
	return fmt.Sprintf("%s,%s,%d,%d%s", f.Sender, f.Recipient, f.Sid, f.Seq, blobSuffix)
}

func decodeBlobName(name string) (Fields, bool) {
	base := strings.TrimSuffix(name, blobSuffix)
	if base == name {
		return Fields{}, false // no .bin suffix
	}
	parts := strings.Split(base, ",")
	if len(parts) != 4 {
		return Fields{}, false
	}
	sid, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return Fields{}, false
	}
	seq, err := strconv.ParseUint(parts[3], 10, 64)
	if err != nil {
		return Fields{}, false
	}
	return Fields{Sender: parts[0], Recipient: parts[1], Sid: sid, Seq: seq}, true
}

func tempName(name string) string { return "." + name + ".tmp" }

func capaName(rid string) string { return rid + capaSuffix }

func ridFromCapaName(name string) (string, bool) {
	if !strings.HasSuffix(name, capaSuffix) {
		return "", false
	}
	return strings.TrimSuffix(name, capaSuffix), true
}
