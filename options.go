package citadel

import (
	"fmt"
	"os"
)

// Options configures a Manager and the vaults it creates.
type Options struct {
	// UniqueRecordIDs makes vault writes to an existing active record fail
	// with ErrRecordExists instead of superseding the old revision.
	UniqueRecordIDs bool `json:"unique_record_ids"`

	// EnableMemoryLock requests locking of the whole process address space
	// so no secret can reach swap. Partial coverage is reported, not fatal.
	EnableMemoryLock bool `json:"enable_memory_lock"`

	// EnvPassphraseVar names an environment variable holding the snapshot
	// passphrase. When set, snapshot operations that receive an empty
	// passphrase read it from the environment instead.
	EnvPassphraseVar string `json:"env_passphrase_var,omitempty"`

	// UserID tags audit events with the acting identity.
	UserID string `json:"-"`
}

// Validate checks the options for internal consistency.
func (o *Options) Validate() error {
	if o.EnvPassphraseVar != "" {
		if _, ok := os.LookupEnv(o.EnvPassphraseVar); !ok {
			return fmt.Errorf("environment variable %s is not set", o.EnvPassphraseVar)
		}
	}
	return nil
}
