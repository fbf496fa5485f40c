package blob

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"

	"github.com/xtxerr/caldata/config"
	"github.com/xtxerr/caldata/internal/errors"
)

// Archive gzip-compresses rolled chunk num to dataNNNNN.bin.gz and removes
// the plain file. Reads keep working throughout: the archive is complete
// before the plain file goes away. Archiving a chunk that only exists
// compressed is a no-op. The current chunk cannot be archived.
func (s *Store) Archive(num int32) error {
	current := s.Current()
	if num == current {
		return errors.NewInvalidArgument("chunk", num, "current chunk cannot be archived")
	}
	if num < config.FirstChunkNumber || num > current {
		return errors.NewInvalidArgument("chunk", num, "no such chunk")
	}

	path := s.chunkPath(num)
	archive := path + config.ArchiveSuffix

	src, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			if _, serr := os.Stat(archive); serr == nil {
				return nil
			}
			return errors.NewStorageFault(fmt.Sprintf("archive chunk %d", num),
				fmt.Errorf("neither %s nor its archive exists", ChunkName(num)))
		}
		return errors.NewStorageFault("open chunk", err)
	}
	defer src.Close()

	tmp := archive + ".tmp"
	if err := compressTo(tmp, src); err != nil {
		os.Remove(tmp)
		return errors.NewStorageFault(fmt.Sprintf("archive chunk %d", num), err)
	}

	if err := os.Rename(tmp, archive); err != nil {
		os.Remove(tmp)
		return errors.NewStorageFault(fmt.Sprintf("archive chunk %d", num), err)
	}

	if err := os.Remove(path); err != nil {
		return errors.NewStorageFault(fmt.Sprintf("remove chunk %d", num), err)
	}

	s.log.Info("archived chunk", "file", num, "path", archive)
	return nil
}

func compressTo(path string, src io.Reader) error {
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	zw, err := gzip.NewWriterLevel(dst, gzip.BestCompression)
	if err != nil {
		dst.Close()
		return err
	}

	if _, err := io.Copy(zw, src); err != nil {
		zw.Close()
		dst.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}
