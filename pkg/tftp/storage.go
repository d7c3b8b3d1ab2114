package tftp

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Storage is the file backend of the Daemon. At most one file is open at
// a time. Blocks are read and written sequentially; the block number is
// informational.
type Storage interface {
	// Open opens an existing file for reading.
	Open(name string, mode Mode) error
	// Create creates a file for writing.
	Create(name string, mode Mode) error
	// Close closes the current file. For writes this commits the content.
	Close() error
	// ReadBlock reads the next block into buf. Fewer than len(buf) bytes
	// mean end of file.
	ReadBlock(buf []byte, block BlockNum) (int, error)
	// WriteBlock appends a received block.
	WriteBlock(buf []byte, block BlockNum) (int, error)
	// Exit is called when the daemon shuts down.
	Exit()
}

// Aborter is implemented by Storage that can discard a partial write.
// The Daemon calls Abort instead of Close when a transfer fails.
type Aborter interface {
	Abort() error
}

// MemStorage keeps files in memory.
type MemStorage struct {
	// Overwrite allows WRQ to replace an existing file.
	Overwrite bool
	// MaxFileSize limits written files, 0 means unlimited.
	MaxFileSize int64

	lock   sync.Mutex
	files  map[string][]byte
	name   string
	reader *bytes.Reader
	writer *bytes.Buffer
	exited bool
}

// NewMemStorage creates an empty MemStorage which allows overwrites.
func NewMemStorage() *MemStorage {
	return &MemStorage{Overwrite: true, files: make(map[string][]byte)}
}

// Put stores a file.
func (s *MemStorage) Put(name string, data []byte) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.files[name] = append([]byte(nil), data...)
}

// Get returns a stored file.
func (s *MemStorage) Get(name string) ([]byte, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	data, ok := s.files[name]
	return data, ok
}

// Names lists stored files in order.
func (s *MemStorage) Names() []string {
	s.lock.Lock()
	defer s.lock.Unlock()
	names := make([]string, 0, len(s.files))
	for name := range s.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Exited reports whether Exit was called.
func (s *MemStorage) Exited() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.exited
}

// Open implements Storage.
func (s *MemStorage) Open(name string, mode Mode) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	data, ok := s.files[name]
	if !ok {
		return &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	s.name, s.reader, s.writer = name, bytes.NewReader(data), nil
	return nil
}

// Create implements Storage.
func (s *MemStorage) Create(name string, mode Mode) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.files[name]; ok && !s.Overwrite {
		return &fs.PathError{Op: "create", Path: name, Err: fs.ErrExist}
	}
	s.name, s.reader, s.writer = name, nil, &bytes.Buffer{}
	return nil
}

// ReadBlock implements Storage.
func (s *MemStorage) ReadBlock(buf []byte, block BlockNum) (int, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.reader == nil {
		return 0, fs.ErrClosed
	}
	n, err := io.ReadFull(s.reader, buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		err = nil
	}
	return n, err
}

// WriteBlock implements Storage.
func (s *MemStorage) WriteBlock(buf []byte, block BlockNum) (int, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.writer == nil {
		return 0, fs.ErrClosed
	}
	if s.MaxFileSize > 0 && int64(s.writer.Len()+len(buf)) > s.MaxFileSize {
		return 0, ErrFileTooLarge
	}
	return s.writer.Write(buf)
}

// Close implements Storage.
func (s *MemStorage) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.writer != nil {
		s.files[s.name] = s.writer.Bytes()
	}
	s.name, s.reader, s.writer = "", nil, nil
	return nil
}

// Abort implements Aborter.
func (s *MemStorage) Abort() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.name, s.reader, s.writer = "", nil, nil
	return nil
}

// Exit implements Storage.
func (s *MemStorage) Exit() {
	s.lock.Lock()
	s.exited = true
	s.lock.Unlock()
}

// DirStorage serves files under a root directory. Uploads go to a
// temporary file which is renamed into place on Close, so an aborted
// transfer never leaves a partial file behind. Both transfer modes are
// stored byte for byte.
type DirStorage struct {
	Root string
	// AllowOverwrite allows WRQ to replace an existing file.
	AllowOverwrite bool
	// MaxFileSize limits uploads, 0 means unlimited.
	MaxFileSize int64

	file    *os.File
	target  string
	written int64
}

// NewDirStorage creates a DirStorage rooted at root.
func NewDirStorage(root string) *DirStorage {
	return &DirStorage{Root: root}
}

func (s *DirStorage) resolve(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	for _, elem := range strings.Split(name, "/") {
		if elem == ".." {
			return "", &Error{Code: ErrCodeAccessViolation, Message: "path outside root"}
		}
	}
	clean := path.Clean("/" + name)
	if clean == "/" {
		return "", &Error{Code: ErrCodeAccessViolation, Message: "invalid file name"}
	}
	return filepath.Join(s.Root, filepath.FromSlash(clean)), nil
}

// Open implements Storage.
func (s *DirStorage) Open(name string, mode Mode) error {
	fn, err := s.resolve(name)
	if err != nil {
		return err
	}
	f, err := os.Open(fn)
	if err != nil {
		return err
	}
	if info, err := f.Stat(); err != nil {
		f.Close()
		return err
	} else if info.IsDir() {
		f.Close()
		return &Error{Code: ErrCodeAccessViolation, Message: "is a directory"}
	}
	s.file, s.target = f, ""
	return nil
}

// Create implements Storage.
func (s *DirStorage) Create(name string, mode Mode) error {
	fn, err := s.resolve(name)
	if err != nil {
		return err
	}
	if !s.AllowOverwrite {
		if _, err := os.Stat(fn); err == nil {
			return &fs.PathError{Op: "create", Path: name, Err: fs.ErrExist}
		}
	}
	f, err := os.CreateTemp(filepath.Dir(fn), ".tftp-*")
	if err != nil {
		return err
	}
	s.file, s.target, s.written = f, fn, 0
	return nil
}

// ReadBlock implements Storage.
func (s *DirStorage) ReadBlock(buf []byte, block BlockNum) (int, error) {
	if s.file == nil {
		return 0, fs.ErrClosed
	}
	n, err := io.ReadFull(s.file, buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		err = nil
	}
	return n, err
}

// WriteBlock implements Storage.
func (s *DirStorage) WriteBlock(buf []byte, block BlockNum) (int, error) {
	if s.file == nil || s.target == "" {
		return 0, fs.ErrClosed
	}
	if s.MaxFileSize > 0 && s.written+int64(len(buf)) > s.MaxFileSize {
		return 0, ErrFileTooLarge
	}
	n, err := s.file.Write(buf)
	s.written += int64(n)
	return n, err
}

// Close implements Storage.
func (s *DirStorage) Close() error {
	if s.file == nil {
		return nil
	}
	f, target := s.file, s.target
	s.file, s.target = nil, ""
	err := f.Close()
	if target == "" {
		return err
	}
	if err == nil {
		err = os.Rename(f.Name(), target)
	}
	if err != nil {
		os.Remove(f.Name())
	}
	return err
}

// Abort implements Aborter.
func (s *DirStorage) Abort() error {
	if s.file == nil {
		return nil
	}
	f, target := s.file, s.target
	s.file, s.target = nil, ""
	err := f.Close()
	if target != "" {
		if rerr := os.Remove(f.Name()); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) && err == nil {
			err = rerr
		}
	}
	return err
}

// Exit implements Storage.
func (s *DirStorage) Exit() {
	s.Abort()
}
