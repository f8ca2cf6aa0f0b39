package resume

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"os"
	"sync"

	"github.com/klauspost/compress/flate"
)

// FileStore persists resume positions to a flate-compressed journal
// file, so a restarted server can still honor RESUME for tokens it
// saved before restarting.
//
// Every Save rewrites the whole snapshot rather than appending; this
// trades write amplification for a trivially correct recovery path,
// appropriate for a resume-token table that is small relative to
// connection traffic.
type FileStore struct {
	path string

	mu    sync.Mutex
	state map[string]uint64
}

// NewFileStore loads any existing snapshot at path; a missing file is
// not an error, and the file is created on the first Save or Delete.
func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{path: path, state: make(map[string]uint64)}
	if err := fs.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return fs, nil
}

func (fs *FileStore) load() error {
	f, err := os.Open(fs.path)
	if err != nil {
		return err
	}
	defer f.Close()

	zr := flate.NewReader(f)
	defer zr.Close()

	br := bufio.NewReader(zr)
	for {
		var tokLen uint16
		if err := binary.Read(br, binary.BigEndian, &tokLen); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		tok := make([]byte, tokLen)
		if _, err := io.ReadFull(br, tok); err != nil {
			return err
		}

		var pos uint64
		if err := binary.Read(br, binary.BigEndian, &pos); err != nil {
			return err
		}

		fs.state[string(tok)] = pos
	}
}

// flush rewrites the whole snapshot; caller must hold fs.mu.
func (fs *FileStore) flush() error {
	f, err := os.Create(fs.path)
	if err != nil {
		return err
	}
	defer f.Close()

	zw, err := flate.NewWriter(f, flate.DefaultCompression)
	if err != nil {
		return err
	}

	for tok, pos := range fs.state {
		if err := binary.Write(zw, binary.BigEndian, uint16(len(tok))); err != nil {
			return err
		}
		if _, err := zw.Write([]byte(tok)); err != nil {
			return err
		}
		if err := binary.Write(zw, binary.BigEndian, pos); err != nil {
			return err
		}
	}

	return zw.Close()
}

func (fs *FileStore) Save(_ context.Context, token []byte, position uint64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.state[string(token)] = position
	return fs.flush()
}

func (fs *FileStore) Load(_ context.Context, token []byte) (uint64, bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	pos, ok := fs.state[string(token)]
	return pos, ok, nil
}

func (fs *FileStore) Delete(_ context.Context, token []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.state, string(token))
	return fs.flush()
}
