package ledger

import "errors"

// Sentinel kinds for ledger errors.
var (
	ErrNotFound      = errors.New("ledger: not found")
	ErrExists        = errors.New("ledger: already exists")
	ErrSlotTaken     = errors.New("ledger: response slot already filled")
	ErrBankConflict  = errors.New("ledger: bank version already stored with different content")
	ErrUnknownDriver = errors.New("ledger: unknown driver")
	ErrCorruptRecord = errors.New("ledger: corrupt record")
)
