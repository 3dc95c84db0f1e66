package cos

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/OneOfOne/xxhash"
	"github.com/teris-io/shortid"
)

// identifiers are short ASCII [A-Za-z0-9._-], per spec §3 Identifiers.
var idRe = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

func ValidID(id string) bool { return id != "" && idRe.MatchString(id) }

var sidGen *shortid.Shortid

func init() {
	sidGen = shortid.MustNew(1, shortid.DEFAULT_ABC, 1)
}

// GenUID returns a short random opaque token (cmd/anywire-socks uses it to
// derive a default client id), the way aistore/cmn/cos.GenUUID mints a
// shortid-based id for objects.
func GenUID() string {
	u, err := sidGen.Generate()
	if err != nil {
		// shortid's entropy source practically never errs; fall back to a
		// hash of the error text (no retry is made).
		return fmt.Sprintf("uid%d", xxhash.ChecksumString64(err.Error()))
	}
	return u
}

// Fingerprint returns a stable 64-bit digest of a blob's identity fields
// plus payload, used by session.Session (dropSpuriousDuplicates) to recognize
// spurious duplicate listings of the same blob (spec §4.1 "Failure
// semantics": delete must be idempotent, duplicates must be tolerated).
func Fingerprint(sender, recipient string, sid, seq uint64, payload []byte) uint64 {
	h := xxhash.New64()
	fmt.Fprintf(h, "%s,%s,%d,%d,", sender, recipient, sid, seq)
	h.Write(payload)
	return h.Sum64()
}

func FormatSid(sid uint64) string { return strconv.FormatUint(sid, 10) }

func ParseSid(s string) (uint64, error) { return strconv.ParseUint(s, 10, 64) }
