package rsfs

import (
	"io"
	"strings"
)

// FileSystemType is an identifier for supported FileSystems
type FileSystemType int

// Identifiers for supported FileSystemTypes
const (
	Local FileSystemType = iota
	S3
)

// FileSystem provides the file backend for a rank step.
// Transition and rank inputs are read from a file system. Shuffle bins
// and output parts are written to a file system.
// This is abstracted to allow remote filesystems like S3 to be supported.
type FileSystem interface {
	ListFiles(pathGlob string) ([]FileInfo, error)
	Stat(filePath string) (FileInfo, error)
	OpenReader(filePath string, startAt int64) (io.ReadCloser, error)
	OpenWriter(filePath string) (io.WriteCloser, error)
	Delete(filePath string) error
	Join(elem ...string) string
	Init() error
}

// FileInfo provides information about a file
type FileInfo struct {
	Name string // file path
	Size int64  // file size in bytes
}

// InitFilesystem intializes a filesystem of the given type
func InitFilesystem(fsType FileSystemType) (FileSystem, error) {
	var fs FileSystem
	switch fsType {
	case S3:
		fs = &S3FileSystem{}
	default:
		fs = &LocalFileSystem{}
	}

	if err := fs.Init(); err != nil {
		return nil, err
	}
	return fs, nil
}

// InferFilesystemType returns the type of filesystem that location lives on
func InferFilesystemType(location string) FileSystemType {
	if strings.HasPrefix(location, "s3://") {
		return S3
	}
	return Local
}

// InferFilesystem initializes a filesystem by inferring its type from
// a file address.
// For example, locations starting with "s3://" will resolve to an S3
// filesystem.
func InferFilesystem(location string) (FileSystem, error) {
	return InitFilesystem(InferFilesystemType(location))
}
