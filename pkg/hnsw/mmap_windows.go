//go:build windows

// pkg/hnsw/mmap_windows.go
package hnsw

import (
	"errors"
	"os"
	"reflect"
	"unsafe"

	"golang.org/x/sys/windows"
)

// mmapFile is a read-only memory mapping of a sealed graph file,
// carried from the pager's Windows mmap support (CreateFileMapping +
// MapViewOfFile) narrowed to read-only access.
type mmapFile struct {
	file      *os.File
	mapHandle windows.Handle
	data      []byte
}

func openMmapFile(path string) (*mmapFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	size := stat.Size()
	if size == 0 {
		f.Close()
		return nil, errors.New("hnsw: cannot mmap an empty graph file")
	}

	mapHandle, err := windows.CreateFileMapping(
		windows.Handle(f.Fd()), nil, windows.PAGE_READONLY,
		uint32(size>>32), uint32(size&0xFFFFFFFF), nil,
	)
	if err != nil {
		f.Close()
		return nil, err
	}

	addr, err := windows.MapViewOfFile(mapHandle, windows.FILE_MAP_READ, 0, 0, uintptr(size))
	if err != nil {
		windows.CloseHandle(mapHandle)
		f.Close()
		return nil, err
	}

	var data []byte
	header := (*reflect.SliceHeader)(unsafe.Pointer(&data))
	header.Data = addr
	header.Len = int(size)
	header.Cap = int(size)

	return &mmapFile{file: f, mapHandle: mapHandle, data: data}, nil
}

func (m *mmapFile) Bytes() []byte { return m.data }

func (m *mmapFile) Close() error {
	var firstErr error
	if len(m.data) > 0 {
		if err := windows.UnmapViewOfFile(uintptr(unsafe.Pointer(&m.data[0]))); err != nil {
			firstErr = err
		}
		m.data = nil
	}
	if m.mapHandle != 0 {
		if err := windows.CloseHandle(m.mapHandle); err != nil && firstErr == nil {
			firstErr = err
		}
		m.mapHandle = 0
	}
	if m.file != nil {
		if err := m.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		m.file = nil
	}
	return firstErr
}
