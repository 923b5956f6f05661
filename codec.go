package citadel

import (
	"encoding/binary"

	"southwinds.dev/citadel/internal/memcell"
)

// Serialized state layout. All integers are fixed-width little-endian; all
// variable fields are length-prefixed; vaults are sorted by path bytes,
// record chains by id bytes and store entries by id bytes, so encoding the
// same logical state always yields the same bytes.
//
//	u32 vault count
//	per vault:
//	    u16 path len | path
//	    u16 key len  | vault key
//	    u64 revision counter
//	    u32 chain count
//	    per chain:
//	        24B record id
//	        u32 entry count
//	        per entry (revision ascending):
//	            u8  state
//	            u64 revision
//	            u16 key-salt len | key salt (zero when revoked)
//	            u16 nonce len    | nonce
//	            u32 ciphertext len | ciphertext+tag
//	u16 store key len | store key
//	u32 store entry count
//	per entry:
//	    u16 id len | id
//	    u16 key-salt len | key salt
//	    u16 nonce len    | nonce
//	    u32 ciphertext len | ciphertext+tag
//
// Trailing bytes after the last store entry are a format error; decode never
// guesses.

// snapState is the fully materialized plaintext state of a snapshot: every
// vault's key and records plus the store. Instances hold raw key bytes and
// must be wiped with (*snapState).wipe as soon as they are sealed or loaded
// into live vaults.
type snapState struct {
	vaults   []vaultSnap
	storeKey []byte
	entries  []entrySnap
}

type vaultSnap struct {
	path     string
	key      []byte
	revision uint64
	chains   []chainSnap
}

type chainSnap struct {
	id      RecordID
	entries []recordSnap
}

type recordSnap struct {
	state      RecordState
	revision   uint64
	keySalt    []byte
	nonce      []byte
	ciphertext []byte
}

type entrySnap struct {
	id         string
	keySalt    []byte
	nonce      []byte
	ciphertext []byte
}

// wipe zeroes every sensitive byte slice the state references. Ciphertext
// and salts are wiped too; once a state has been consumed nothing should
// remain readable through it.
func (s *snapState) wipe() {
	for i := range s.vaults {
		v := &s.vaults[i]
		memcell.Wipe(v.key)
		for j := range v.chains {
			for k := range v.chains[j].entries {
				e := &v.chains[j].entries[k]
				memcell.Wipe(e.keySalt)
				memcell.Wipe(e.ciphertext)
			}
		}
	}
	memcell.Wipe(s.storeKey)
	for i := range s.entries {
		memcell.Wipe(s.entries[i].keySalt)
		memcell.Wipe(s.entries[i].ciphertext)
	}
}

// encodeState serializes state into the documented layout. The output
// contains key material and must be treated as plaintext secret data.
func encodeState(state *snapState) []byte {
	var out []byte

	out = appendU32(out, uint32(len(state.vaults)))
	for _, v := range state.vaults {
		out = appendBytes16(out, []byte(v.path))
		out = appendBytes16(out, v.key)
		out = appendU64(out, v.revision)
		out = appendU32(out, uint32(len(v.chains)))
		for _, c := range v.chains {
			out = append(out, c.id[:]...)
			out = appendU32(out, uint32(len(c.entries)))
			for _, e := range c.entries {
				out = append(out, byte(e.state))
				out = appendU64(out, e.revision)
				out = appendBytes16(out, e.keySalt)
				out = appendBytes16(out, e.nonce)
				out = appendBytes32(out, e.ciphertext)
			}
		}
	}

	out = appendBytes16(out, state.storeKey)
	out = appendU32(out, uint32(len(state.entries)))
	for _, e := range state.entries {
		out = appendBytes16(out, []byte(e.id))
		out = appendBytes16(out, e.keySalt)
		out = appendBytes16(out, e.nonce)
		out = appendBytes32(out, e.ciphertext)
	}

	return out
}

// decodeState parses the documented layout, failing on truncation, bad
// length prefixes, duplicate identifiers and trailing garbage.
func decodeState(buf []byte) (*snapState, error) {
	r := &stateReader{buf: buf}
	state := &snapState{}

	// On any decode error, whatever was already copied out gets wiped before
	// the error surfaces.
	done := false
	defer func() {
		if !done {
			state.wipe()
		}
	}()

	vaultCount, err := r.u32()
	if err != nil {
		return nil, err
	}
	if err = r.checkCount(vaultCount, minVaultSize, "vault"); err != nil {
		return nil, err
	}
	seenVaults := make(map[string]struct{}, vaultCount)
	for i := uint32(0); i < vaultCount; i++ {
		var v vaultSnap
		path, err := r.bytes16()
		if err != nil {
			return nil, err
		}
		v.path = string(path)
		if _, dup := seenVaults[v.path]; dup {
			return nil, formatErrorf("duplicate vault path %q", v.path)
		}
		seenVaults[v.path] = struct{}{}

		if v.key, err = r.bytes16(); err != nil {
			return nil, err
		}
		if v.revision, err = r.u64(); err != nil {
			return nil, err
		}
		chainCount, err := r.u32()
		if err != nil {
			return nil, err
		}
		if err = r.checkCount(chainCount, minChainSize, "record chain"); err != nil {
			return nil, err
		}
		seenIDs := make(map[RecordID]struct{}, chainCount)
		for j := uint32(0); j < chainCount; j++ {
			var c chainSnap
			idRaw, err := r.take(RecordIDSize)
			if err != nil {
				return nil, err
			}
			copy(c.id[:], idRaw)
			if _, dup := seenIDs[c.id]; dup {
				return nil, formatErrorf("duplicate record id %s in vault %q", c.id, v.path)
			}
			seenIDs[c.id] = struct{}{}

			entryCount, err := r.u32()
			if err != nil {
				return nil, err
			}
			if entryCount == 0 {
				return nil, formatErrorf("empty record chain %s", c.id)
			}
			if err = r.checkCount(entryCount, minRecordSize, "record revision"); err != nil {
				return nil, err
			}
			for k := uint32(0); k < entryCount; k++ {
				var e recordSnap
				st, err := r.u8()
				if err != nil {
					return nil, err
				}
				if st > uint8(StateRevoked) {
					return nil, formatErrorf("unknown record state %d", st)
				}
				e.state = RecordState(st)
				if e.revision, err = r.u64(); err != nil {
					return nil, err
				}
				if e.keySalt, err = r.bytes16(); err != nil {
					return nil, err
				}
				if e.nonce, err = r.bytes16(); err != nil {
					return nil, err
				}
				if e.ciphertext, err = r.bytes32(); err != nil {
					return nil, err
				}
				c.entries = append(c.entries, e)
			}
			v.chains = append(v.chains, c)
		}
		state.vaults = append(state.vaults, v)
	}

	if state.storeKey, err = r.bytes16(); err != nil {
		return nil, err
	}
	entryCount, err := r.u32()
	if err != nil {
		return nil, err
	}
	if err = r.checkCount(entryCount, minStoreEntrySize, "store entry"); err != nil {
		return nil, err
	}
	seenEntries := make(map[string]struct{}, entryCount)
	for i := uint32(0); i < entryCount; i++ {
		var e entrySnap
		id, err := r.bytes16()
		if err != nil {
			return nil, err
		}
		e.id = string(id)
		if _, dup := seenEntries[e.id]; dup {
			return nil, formatErrorf("duplicate store entry %q", e.id)
		}
		seenEntries[e.id] = struct{}{}
		if e.keySalt, err = r.bytes16(); err != nil {
			return nil, err
		}
		if e.nonce, err = r.bytes16(); err != nil {
			return nil, err
		}
		if e.ciphertext, err = r.bytes32(); err != nil {
			return nil, err
		}
		state.entries = append(state.entries, e)
	}

	if r.off != len(r.buf) {
		return nil, formatErrorf("%d trailing bytes", len(r.buf)-r.off)
	}
	done = true
	return state, nil
}

// appendU32 and friends keep the encoder readable; binary.LittleEndian is
// the only byte order in the format.
func appendU32(out []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(out, v)
}

func appendU64(out []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(out, v)
}

func appendBytes16(out, b []byte) []byte {
	out = binary.LittleEndian.AppendUint16(out, uint16(len(b)))
	return append(out, b...)
}

func appendBytes32(out, b []byte) []byte {
	out = appendU32(out, uint32(len(b)))
	return append(out, b...)
}

// Minimum encoded sizes, used to sanity-check count prefixes before anything
// is allocated for them. A count that cannot fit in the remaining bytes even
// at minimum size is malformed input, however plausible the number looks.
const (
	minVaultSize      = 2 + 2 + 8 + 4     // path len, key len, revision, chain count
	minChainSize      = RecordIDSize + 4  // id, entry count
	minRecordSize     = 1 + 8 + 2 + 2 + 4 // state, revision, three length prefixes
	minStoreEntrySize = 2 + 2 + 2 + 4     // four length prefixes
)

// stateReader is a bounds-checked cursor over the serialized bytes. Every
// read either succeeds completely or reports a FormatError; it never reads
// past the slice.
type stateReader struct {
	buf []byte
	off int
}

// checkCount rejects a count prefix that promises more elements than the
// remaining bytes could possibly hold.
func (r *stateReader) checkCount(count uint32, minSize int, what string) error {
	remaining := len(r.buf) - r.off
	if int64(count)*int64(minSize) > int64(remaining) {
		return formatErrorf("%s count %d exceeds remaining %d bytes", what, count, remaining)
	}
	return nil
}

func (r *stateReader) take(n int) ([]byte, error) {
	if n < 0 || r.off+n > len(r.buf) {
		return nil, formatErrorf("truncated at offset %d (need %d bytes)", r.off, n)
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *stateReader) u8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *stateReader) u16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *stateReader) u32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *stateReader) u64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// bytes16 and bytes32 return copies, never views into the input: the caller
// wipes the input buffer as soon as decoding finishes, and the decoded state
// must survive it.
func (r *stateReader) bytes16() ([]byte, error) {
	n, err := r.u16()
	if err != nil {
		return nil, err
	}
	b, err := r.take(int(n))
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

func (r *stateReader) bytes32() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	b, err := r.take(int(n))
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}
