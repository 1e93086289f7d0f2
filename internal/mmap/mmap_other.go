//go:build !unix

package mmap

import (
	"io"
	"os"
)

// Fallback for platforms without unix mmap: read the file into memory.
func mmap(f *os.File, size int) ([]byte, error) {
	data := make([]byte, size)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, err
	}
	return data, nil
}

func munmap(data []byte) error { return nil }
