package memcell

import "github.com/awnumar/memguard"

// Wipe overwrites buf with zeros using a primitive the optimizer cannot
// prove dead, so the write survives even when buf is about to go out of
// scope or be unmapped.
func Wipe(buf []byte) {
	memguard.WipeBytes(buf)
}
