package restyutil

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// InstrumentOutput is a sink for large diagnostic payloads (full http
// messages, markup that could not be understood). Implementations must be
// safe for concurrent use.
type InstrumentOutput interface {
	Write(id string, contents string)
}

type FilesystemOutput struct {
	directory string
}

func NewFilesystemOutput(dir string) (FilesystemOutput, error) {
	err := os.MkdirAll(dir, 0777)
	if err != nil {
		return FilesystemOutput{}, err
	}
	return FilesystemOutput{directory: dir}, nil
}

func (o FilesystemOutput) Write(id string, contents string) {
	err := os.WriteFile(filepath.Join(o.directory, id), []byte(contents), 0600)
	if err != nil {
		slog.Warn("failed to write message info file", "id", id, "err", err)
	}
}

// MemoryOutput keeps everything written to it, for tests.
type MemoryOutput struct {
	mutex   sync.Mutex
	entries map[string]string
}

func (o *MemoryOutput) Write(id string, contents string) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	if o.entries == nil {
		o.entries = map[string]string{}
	}
	o.entries[id] = contents
}

func (o *MemoryOutput) Entries() map[string]string {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	out := make(map[string]string, len(o.entries))
	for k, v := range o.entries {
		out[k] = v
	}
	return out
}
