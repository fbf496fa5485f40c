// Package blob implements the append-only chunked file store holding
// serialized solutions.
//
// Payloads are concatenated into numbered chunk files (data00001.bin,
// data00002.bin, ...). Exactly one chunk is current and open for append;
// once rolled, a chunk is immutable and may be gzip-compressed to
// dataNNNNN.bin.gz, which is read transparently when the plain file is gone.
package blob

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/xtxerr/caldata/config"
	"github.com/xtxerr/caldata/internal/errors"
	"github.com/xtxerr/caldata/internal/logging"
	"github.com/xtxerr/caldata/internal/storage/types"
)

// Store manages the chunk files of one directory.
//
// Writes, rollbacks and reads of the current chunk are serialized by mu.
// Reads of rolled chunks do not take the lock.
type Store struct {
	mu sync.RWMutex

	dir  string
	opts Options
	log  *slog.Logger

	current     *os.File
	currentNum  int32
	currentSize int64
	closed      bool

	// Statistics
	stats counters
}

// Options configures the blob store.
type Options struct {
	// MaxFileSize bounds a chunk file. A write that would grow a non-empty
	// chunk beyond it goes to a fresh chunk instead.
	// Default: 2GiB
	MaxFileSize int64

	// SyncMode controls durability of writes.
	// "async" - leave flushing to the OS
	// "fsync" - fsync after each write and rollback
	SyncMode string

	// Clean deletes all existing chunk files on open.
	Clean bool
}

// DefaultOptions returns default blob store options.
func DefaultOptions() Options {
	return Options{
		MaxFileSize: config.DefaultMaxFileSize,
		SyncMode:    config.DefaultSyncMode,
	}
}

// Stats holds blob store counters.
type Stats struct {
	Writes       int64 `yaml:"writes"`
	BytesWritten int64 `yaml:"bytes_written"`
	Rollovers    int64 `yaml:"rollovers"`
	Rollbacks    int64 `yaml:"rollbacks"`
	Reads        int64 `yaml:"reads"`
	BytesRead    int64 `yaml:"bytes_read"`
	ReaderOpens  int64 `yaml:"reader_opens"`
	Errors       int64 `yaml:"errors"`
}

type counters struct {
	writes       atomic.Int64
	bytesWritten atomic.Int64
	rollovers    atomic.Int64
	rollbacks    atomic.Int64
	reads        atomic.Int64
	bytesRead    atomic.Int64
	readerOpens  atomic.Int64
	errors       atomic.Int64
}

// FileInfo describes one chunk file on disk.
type FileInfo struct {
	Number     int32
	Path       string
	Compressed bool
	Size       int64
	Current    bool
}

// Open opens the store in dir, creating the directory if needed, and
// positions the current chunk at the end of the highest numbered file.
func Open(dir string, opts Options) (*Store, error) {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultOptions().MaxFileSize
	}
	if opts.SyncMode == "" {
		opts.SyncMode = DefaultOptions().SyncMode
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.NewStorageFault("create blob dir", err)
	}

	s := &Store{
		dir:  dir,
		opts: opts,
		log:  logging.Component("blobstore"),
	}

	files, err := listFiles(dir)
	if err != nil {
		return nil, errors.NewStorageFault("list chunks", err)
	}

	if opts.Clean {
		for _, f := range files {
			if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
				return nil, errors.NewStorageFault("clean chunks", err)
			}
		}
		if len(files) > 0 {
			s.log.Info("removed chunk files", "dir", dir, "count", len(files))
		}
		files = nil
	}

	num := int32(config.FirstChunkNumber)
	if len(files) > 0 {
		last := files[len(files)-1]
		num = last.Number
		// A compressed highest chunk is closed; never append behind it.
		if !hasPlain(files, num) {
			num++
		}
	}

	if err := s.openCurrent(num, false); err != nil {
		return nil, err
	}

	s.log.Debug("opened blob store", "dir", dir, "file", s.currentNum, "size", s.currentSize)
	return s, nil
}

// openCurrent opens chunk num for read/write and makes it current.
func (s *Store) openCurrent(num int32, exclusive bool) error {
	flags := os.O_CREATE | os.O_RDWR
	if exclusive {
		flags |= os.O_EXCL
	}

	path := s.chunkPath(num)
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return errors.NewStorageFault("open chunk", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return errors.NewStorageFault("stat chunk", err)
	}

	s.current = f
	s.currentNum = num
	s.currentSize = info.Size()
	return nil
}

// Write appends data to the current chunk, rolling over first if the chunk
// is non-empty and data would push it past MaxFileSize. It returns the
// location actually used.
func (s *Store) Write(data []byte) (types.Location, error) {
	if int64(len(data)) > math.MaxInt32 {
		return types.Location{}, errors.NewInvalidArgument("payload length", len(data), "exceeds 2GiB")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return types.Location{}, errors.ErrClosed
	}

	size := int64(len(data))
	if s.currentSize > 0 && s.currentSize+size > s.opts.MaxFileSize {
		if err := s.rolloverUnlocked(); err != nil {
			s.stats.errors.Add(1)
			return types.Location{}, err
		}
	}

	loc := types.Location{
		File:   s.currentNum,
		Offset: s.currentSize,
		Length: int32(len(data)),
	}

	if _, err := s.current.WriteAt(data, loc.Offset); err != nil {
		s.stats.errors.Add(1)
		// Drop whatever part of the payload made it to disk.
		if terr := s.current.Truncate(loc.Offset); terr != nil {
			s.log.Error("truncate after failed write", "file", loc.File, "offset", loc.Offset, "error", terr)
		}
		return types.Location{}, errors.NewStorageFault("write chunk", err)
	}
	if err := s.syncUnlocked(); err != nil {
		s.stats.errors.Add(1)
		if terr := s.current.Truncate(loc.Offset); terr != nil {
			s.log.Error("truncate after failed sync", "file", loc.File, "offset", loc.Offset, "error", terr)
		}
		return types.Location{}, errors.NewStorageFault("sync chunk", err)
	}
	s.currentSize += size

	s.stats.writes.Add(1)
	s.stats.bytesWritten.Add(size)
	return loc, nil
}

func (s *Store) rolloverUnlocked() error {
	if err := s.current.Sync(); err != nil {
		return errors.NewStorageFault("sync chunk", err)
	}
	if err := s.current.Close(); err != nil {
		return errors.NewStorageFault("close chunk", err)
	}

	prev, prevSize := s.currentNum, s.currentSize
	if err := s.openCurrent(prev+1, true); err != nil {
		// Keep appending to the old chunk rather than losing the handle.
		if rerr := s.openCurrent(prev, false); rerr != nil {
			s.closed = true
			s.log.Error("reopen chunk after failed rollover", "file", prev, "error", rerr)
		}
		return err
	}

	s.stats.rollovers.Add(1)
	s.log.Info("rolled over chunk", "from", prev, "to", s.currentNum, "size", prevSize)
	return nil
}

func (s *Store) syncUnlocked() error {
	if s.opts.SyncMode != "fsync" {
		return nil
	}
	return s.current.Sync()
}

// Rollback truncates the current chunk to offset, discarding a write whose
// index entry could not be stored. offset must lie within the chunk.
func (s *Store) Rollback(offset int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.ErrClosed
	}
	if offset < 0 || offset > s.currentSize {
		return errors.NewInvalidArgument("rollback offset", offset,
			fmt.Sprintf("outside current chunk of %d bytes", s.currentSize))
	}

	if err := s.current.Truncate(offset); err != nil {
		s.stats.errors.Add(1)
		return errors.NewStorageFault("truncate chunk", err)
	}
	if err := s.syncUnlocked(); err != nil {
		s.stats.errors.Add(1)
		return errors.NewStorageFault("sync chunk", err)
	}

	s.log.Warn("rolled back chunk", "file", s.currentNum, "from", s.currentSize, "to", offset)
	s.currentSize = offset
	s.stats.rollbacks.Add(1)
	return nil
}

// Read returns the bytes at loc.
func (s *Store) Read(loc types.Location) ([]byte, error) {
	if data, ok, err := s.readCurrent(loc); ok {
		return data, err
	}

	r, err := s.openReader(loc.File)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return s.readFrom(r, loc)
}

// ReadBatch returns the bytes of every location in caller order.
//
// One reader over a rolled chunk is kept open and reused while consecutive
// locations stay in that chunk at non-decreasing offsets. Compressed chunks
// only stream forward, so any other transition reopens. Sorting locs by
// (file, offset) reads each chunk once.
func (s *Store) ReadBatch(locs []types.Location) ([][]byte, error) {
	out := make([][]byte, len(locs))

	var r *chunkReader
	defer func() {
		if r != nil {
			r.Close()
		}
	}()

	for i, loc := range locs {
		if data, ok, err := s.readCurrent(loc); ok {
			if err != nil {
				return nil, err
			}
			out[i] = data
			continue
		}

		if r == nil || !r.canServe(loc) {
			if r != nil {
				r.Close()
				r = nil
			}
			var err error
			if r, err = s.openReader(loc.File); err != nil {
				return nil, err
			}
		}

		data, err := s.readFrom(r, loc)
		if err != nil {
			return nil, err
		}
		out[i] = data
	}

	return out, nil
}

// readCurrent serves loc from the live handle when it addresses the
// current chunk. ok is false when loc belongs to a rolled chunk.
func (s *Store) readCurrent(loc types.Location) (data []byte, ok bool, err error) {
	if err := checkLocation(loc); err != nil {
		return nil, true, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, true, errors.ErrClosed
	}
	if loc.File != s.currentNum {
		if loc.File > s.currentNum {
			return nil, true, errors.NewStorageFault("read chunk",
				fmt.Errorf("chunk %d does not exist yet", loc.File))
		}
		return nil, false, nil
	}

	if loc.End() > s.currentSize {
		s.stats.errors.Add(1)
		return nil, true, errors.NewStorageFault("read chunk",
			fmt.Errorf("short read: %s beyond end of chunk at %d", loc, s.currentSize))
	}

	buf := make([]byte, loc.Length)
	if _, err := s.current.ReadAt(buf, loc.Offset); err != nil {
		s.stats.errors.Add(1)
		return nil, true, errors.NewStorageFault("read chunk", err)
	}

	s.stats.reads.Add(1)
	s.stats.bytesRead.Add(int64(loc.Length))
	return buf, true, nil
}

func (s *Store) openReader(num int32) (*chunkReader, error) {
	r, err := openChunk(s.dir, num)
	if err != nil {
		s.stats.errors.Add(1)
		return nil, errors.NewStorageFault(fmt.Sprintf("open chunk %d", num), err)
	}

	s.stats.readerOpens.Add(1)
	return r, nil
}

func (s *Store) readFrom(r *chunkReader, loc types.Location) ([]byte, error) {
	data, err := r.read(loc.Offset, loc.Length)
	if err != nil {
		s.stats.errors.Add(1)
		return nil, errors.NewStorageFault(fmt.Sprintf("read %s", loc), err)
	}

	s.stats.reads.Add(1)
	s.stats.bytesRead.Add(int64(loc.Length))
	return data, nil
}

func checkLocation(loc types.Location) error {
	if loc.Offset < 0 || loc.Length < 0 {
		return errors.NewStorageFault("read chunk", fmt.Errorf("negative seek: %s", loc))
	}
	if loc.File < config.FirstChunkNumber {
		return errors.NewStorageFault("read chunk", fmt.Errorf("invalid chunk number %d", loc.File))
	}
	return nil
}

// Current returns the number of the chunk open for append.
func (s *Store) Current() int32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentNum
}

// Size returns the length of the current chunk.
func (s *Store) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentSize
}

// Stats returns blob store counters.
func (s *Store) Stats() Stats {
	return Stats{
		Writes:       s.stats.writes.Load(),
		BytesWritten: s.stats.bytesWritten.Load(),
		Rollovers:    s.stats.rollovers.Load(),
		Rollbacks:    s.stats.rollbacks.Load(),
		Reads:        s.stats.reads.Load(),
		BytesRead:    s.stats.bytesRead.Load(),
		ReaderOpens:  s.stats.readerOpens.Load(),
		Errors:       s.stats.errors.Load(),
	}
}

// Dir returns the chunk directory.
func (s *Store) Dir() string {
	return s.dir
}

// Files lists the chunk files on disk ordered by number, plain before
// compressed.
func (s *Store) Files() ([]FileInfo, error) {
	files, err := listFiles(s.dir)
	if err != nil {
		return nil, errors.NewStorageFault("list chunks", err)
	}

	current := s.Current()
	for i := range files {
		files[i].Current = files[i].Number == current && !files[i].Compressed
	}
	return files, nil
}

// Close syncs and closes the current chunk. Further calls fail with
// ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.current.Sync(); err != nil {
		s.current.Close()
		return errors.NewStorageFault("sync chunk", err)
	}
	if err := s.current.Close(); err != nil {
		return errors.NewStorageFault("close chunk", err)
	}
	return nil
}

func (s *Store) chunkPath(num int32) string {
	return filepath.Join(s.dir, ChunkName(num))
}

// ChunkName returns the plain file name of chunk num.
func ChunkName(num int32) string {
	return fmt.Sprintf(config.ChunkFileFormat, num)
}

// parseChunkName returns the chunk number and whether name is a compressed
// archive. ok is false for names outside the chunk pattern.
func parseChunkName(name string) (num int32, compressed, ok bool) {
	if strings.HasSuffix(name, config.ArchiveSuffix) {
		compressed = true
		name = strings.TrimSuffix(name, config.ArchiveSuffix)
	}
	if !strings.HasPrefix(name, config.ChunkFilePrefix) || !strings.HasSuffix(name, config.ChunkFileSuffix) {
		return 0, false, false
	}

	digits := strings.TrimSuffix(strings.TrimPrefix(name, config.ChunkFilePrefix), config.ChunkFileSuffix)
	if len(digits) < 5 {
		return 0, false, false
	}
	n, err := strconv.ParseInt(digits, 10, 32)
	if err != nil || n < config.FirstChunkNumber {
		return 0, false, false
	}
	return int32(n), compressed, true
}

// listFiles returns all chunk files in dir in order.
func listFiles(dir string) ([]FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var files []FileInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		num, compressed, ok := parseChunkName(entry.Name())
		if !ok {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		files = append(files, FileInfo{
			Number:     num,
			Path:       filepath.Join(dir, entry.Name()),
			Compressed: compressed,
			Size:       info.Size(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].Number != files[j].Number {
			return files[i].Number < files[j].Number
		}
		return !files[i].Compressed && files[j].Compressed
	})

	return files, nil
}

func hasPlain(files []FileInfo, num int32) bool {
	for _, f := range files {
		if f.Number == num && !f.Compressed {
			return true
		}
	}
	return false
}
