package blob

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"

	"github.com/xtxerr/caldata/config"
	"github.com/xtxerr/caldata/internal/storage/types"
)

// chunkReader reads byte ranges from one rolled chunk, plain or compressed.
// Compressed chunks are a forward-only stream: reads must come at
// non-decreasing offsets.
type chunkReader struct {
	num  int32
	file *os.File
	gz   *gzip.Reader

	// pos is the stream position of gz.
	pos int64
}

// openChunk opens chunk num in dir, preferring the plain file and falling
// back to its gzip archive.
func openChunk(dir string, num int32) (*chunkReader, error) {
	path := filepath.Join(dir, ChunkName(num))

	f, err := os.Open(path)
	if err == nil {
		return &chunkReader{num: num, file: f}, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	f, err = os.Open(path + config.ArchiveSuffix)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("chunk %d: neither %s nor its archive exists", num, ChunkName(num))
		}
		return nil, err
	}

	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open archive of chunk %d: %w", num, err)
	}

	return &chunkReader{num: num, file: f, gz: gz}, nil
}

// compressed reports whether the reader streams a gzip archive.
func (r *chunkReader) compressed() bool {
	return r.gz != nil
}

// canServe reports whether loc can be read without reopening.
func (r *chunkReader) canServe(loc types.Location) bool {
	if loc.File != r.num {
		return false
	}
	return !r.compressed() || loc.Offset >= r.pos
}

// read returns length bytes at offset. Fewer available bytes is an error.
func (r *chunkReader) read(offset int64, length int32) ([]byte, error) {
	buf := make([]byte, length)

	if !r.compressed() {
		n, err := r.file.ReadAt(buf, offset)
		if n == len(buf) {
			return buf, nil
		}
		if err == nil || err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("short read: got %d of %d bytes: %w", n, length, err)
	}

	if offset < r.pos {
		return nil, fmt.Errorf("cannot seek backwards in archive from %d to %d", r.pos, offset)
	}

	if skip := offset - r.pos; skip > 0 {
		n, err := io.CopyN(io.Discard, r.gz, skip)
		r.pos += n
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("skip to offset %d: %w", offset, err)
		}
	}

	n, err := io.ReadFull(r.gz, buf)
	r.pos += int64(n)
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("short read: got %d of %d bytes: %w", n, length, err)
	}

	return buf, nil
}

// Close releases the underlying file.
func (r *chunkReader) Close() error {
	if r.gz != nil {
		r.gz.Close()
	}
	return r.file.Close()
}
