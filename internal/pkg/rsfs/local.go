package rsfs

import (
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// LocalFileSystem wraps the local disk.
type LocalFileSystem struct{}

func walkDir(dir string) []FileInfo {
	files := make([]FileInfo, 0)
	filepath.Walk(dir, func(path string, f os.FileInfo, err error) error {
		if err != nil {
			log.Error(err)
			return err
		}
		if f.IsDir() {
			return nil
		}
		files = append(files, FileInfo{
			Name: path,
			Size: f.Size(),
		})
		return nil
	})

	return files
}

// ListFiles lists the files matching pathGlob. Matched directories are
// walked recursively.
func (l *LocalFileSystem) ListFiles(pathGlob string) ([]FileInfo, error) {
	globbedFiles, err := filepath.Glob(pathGlob)
	if err != nil {
		return nil, err
	}

	files := make([]FileInfo, 0)
	for _, fileName := range globbedFiles {
		fInfo, err := os.Stat(fileName)
		if err != nil {
			log.Error(err)
			continue
		}
		if !fInfo.IsDir() {
			files = append(files, FileInfo{
				Name: fileName,
				Size: fInfo.Size(),
			})
		} else {
			files = append(files, walkDir(fileName)...)
		}
	}

	return files, nil
}

// OpenReader opens filePath for reading, starting startAt bytes into the file.
func (l *LocalFileSystem) OpenReader(filePath string, startAt int64) (io.ReadCloser, error) {
	file, err := os.OpenFile(filePath, os.O_RDONLY, 0600)
	if err != nil {
		return nil, err
	}
	if _, err = file.Seek(startAt, io.SeekStart); err != nil {
		file.Close()
		return nil, err
	}
	return file, nil
}

// OpenWriter truncates or creates filePath, creating any missing parent directories.
func (l *LocalFileSystem) OpenWriter(filePath string) (io.WriteCloser, error) {
	dir := filepath.Dir(filePath)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0777); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
}

func (l *LocalFileSystem) Stat(filePath string) (FileInfo, error) {
	fInfo, err := os.Stat(filePath)
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{
		Name: filePath,
		Size: fInfo.Size(),
	}, nil
}

func (l *LocalFileSystem) Init() error {
	return nil
}

func (l *LocalFileSystem) Join(elem ...string) string {
	return filepath.Join(elem...)
}

func (l *LocalFileSystem) Delete(filePath string) error {
	return os.Remove(filePath)
}
