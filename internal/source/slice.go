package source

import "github.com/ratchetdb/ratchet/api"

// Slice serves migrations registered in code. Embedding applications use it
// to ship Go-defined migrations alongside or instead of SQL files.
type Slice struct {
	migrations []api.Migration
}

func NewSlice(migrations ...api.Migration) *Slice {
	return &Slice{migrations: migrations}
}

func (s *Slice) Load() ([]api.Migration, error) {
	out := make([]api.Migration, len(s.migrations))
	copy(out, s.migrations)
	return out, nil
}
