package workflow

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// FileLog appends JSON lines to a file and fsyncs every entry. Entries are
// indexed in memory when the file is opened.
type FileLog struct {
	mem *MemoryLog
	f   *os.File
}

func OpenFileLog(path string) (*FileLog, error) {
	log := &FileLog{mem: NewMemoryLog()}
	if err := log.recover(path); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	log.f = f
	return log, nil
}

// Append writes the entry to disk before it becomes visible to Load.
func (l *FileLog) Append(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	l.mem.mu.Lock()
	defer l.mem.mu.Unlock()

	n, err := l.f.Write(append(data, '\n'))
	if err != nil {
		return err
	}
	if n != len(data)+1 {
		return fmt.Errorf("partial write: wrote %d of %d bytes", n, len(data)+1)
	}
	if err := l.f.Sync(); err != nil {
		return err
	}
	l.mem.index(entry)
	return nil
}

func (l *FileLog) Load(ctx context.Context, workflowID string) ([]Entry, error) {
	return l.mem.Load(ctx, workflowID)
}

func (l *FileLog) Incomplete(ctx context.Context) ([]string, error) {
	return l.mem.Incomplete(ctx)
}

func (l *FileLog) Close() error {
	l.mem.mu.Lock()
	defer l.mem.mu.Unlock()
	return l.f.Close()
}

func (l *FileLog) recover(path string) (err error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var offset int64
	line := 0
	for scanner.Scan() {
		line++
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			// A torn final line is what a crash mid-append leaves behind.
			if !scanner.Scan() {
				return os.Truncate(path, offset)
			}
			return fmt.Errorf("workflow log line %d: %w", line, err)
		}
		offset += int64(len(scanner.Bytes())) + 1
		l.mem.index(entry)
	}
	return scanner.Err()
}
