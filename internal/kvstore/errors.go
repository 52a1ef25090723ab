package kvstore

import "errors"

// ErrWALCorruption marks a checksum mismatch or malformed record
// encountered while replaying the write-ahead log.
var ErrWALCorruption = errors.New("kvstore: WAL corruption detected")
