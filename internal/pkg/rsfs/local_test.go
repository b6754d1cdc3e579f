package rsfs

import (
	"io/ioutil"
	"os"
	"path"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLocalImplementsFileSystem(t *testing.T) {
	var fileSystem FileSystem = &LocalFileSystem{}
	assert.NotNil(t, fileSystem)
}

func TestLocalListFiles(t *testing.T) {
	tmpdir, err := ioutil.TempDir("", "test")
	defer os.RemoveAll(tmpdir)
	assert.Nil(t, err)

	tmpFilePath := path.Join(tmpdir, "tmpfile")
	ioutil.WriteFile(tmpFilePath, []byte("foo"), 0777)

	fs := LocalFileSystem{}

	files, err := fs.ListFiles(tmpdir)
	assert.Nil(t, err)

	assert.Len(t, files, 1)
	assert.Equal(t, tmpFilePath, files[0].Name)
}

func TestLocalListGlob(t *testing.T) {
	tmpdir, err := ioutil.TempDir("", "test")
	defer os.RemoveAll(tmpdir)
	assert.Nil(t, err)

	for _, name := range []string{"map-bin0-0.out", "map-bin0-1.out", "map-bin1-0.out"} {
		ioutil.WriteFile(path.Join(tmpdir, name), []byte("foo"), 0777)
	}

	fs := LocalFileSystem{}

	files, err := fs.ListFiles(filepath.Join(tmpdir, "map-bin0-*.out"))
	assert.Nil(t, err)
	assert.Len(t, files, 2)

	for _, f := range files {
		assert.Equal(t, int64(3), f.Size)
		assert.Contains(t, f.Name, "map-bin0-")
	}
}

func TestLocalListNoMatches(t *testing.T) {
	tmpdir, err := ioutil.TempDir("", "test")
	defer os.RemoveAll(tmpdir)
	assert.Nil(t, err)

	fs := LocalFileSystem{}
	files, err := fs.ListFiles(filepath.Join(tmpdir, "missing*"))
	assert.Nil(t, err)
	assert.Empty(t, files)
}

func TestLocalOpenReader(t *testing.T) {
	tmpdir, err := ioutil.TempDir("", "test")
	defer os.RemoveAll(tmpdir)
	assert.Nil(t, err)

	path := filepath.Join(tmpdir, "tmpfile")
	ioutil.WriteFile(path, []byte("A\tB,C\nB\tC"), 0777)

	fs := LocalFileSystem{}

	// Reader that begins at the start of the file
	reader, err := fs.OpenReader(path, 0)
	assert.Nil(t, err)

	contents, err := ioutil.ReadAll(reader)
	assert.Nil(t, err)
	assert.Equal(t, "A\tB,C\nB\tC", string(contents))
	assert.Nil(t, reader.Close())

	// Reader that begins at the second line
	reader, err = fs.OpenReader(path, 6)
	assert.Nil(t, err)

	contents, err = ioutil.ReadAll(reader)
	assert.Nil(t, err)
	assert.Equal(t, "B\tC", string(contents))
	assert.Nil(t, reader.Close())
}

func TestLocalOpenReaderMissingFile(t *testing.T) {
	fs := LocalFileSystem{}
	_, err := fs.OpenReader("/does/not/exist", 0)
	assert.NotNil(t, err)
}

func TestLocalOpenWriter(t *testing.T) {
	tmpdir, err := ioutil.TempDir("", "test")
	defer os.RemoveAll(tmpdir)
	assert.Nil(t, err)

	fs := LocalFileSystem{}

	path := filepath.Join(tmpdir, "tmpfile")

	writer, err := fs.OpenWriter(path)
	assert.Nil(t, err)

	n, err := writer.Write([]byte("B\t0.4\n"))
	assert.Equal(t, 6, n)
	assert.Nil(t, err)
	assert.Nil(t, writer.Close())

	contents, err := ioutil.ReadFile(path)
	assert.Nil(t, err)
	assert.Equal(t, "B\t0.4\n", string(contents))
}

func TestLocalCreateIntermediateDirectory(t *testing.T) {
	tmpdir, err := ioutil.TempDir("", "test")
	defer os.RemoveAll(tmpdir)
	assert.Nil(t, err)

	path := path.Join(tmpdir, ".rankstep-run", "map-bin0-0.out")

	fs := LocalFileSystem{}

	writer, err := fs.OpenWriter(path)
	assert.Nil(t, err)

	_, err = writer.Write([]byte("foo"))
	assert.Nil(t, err)
	assert.Nil(t, writer.Close())

	stat, err := os.Stat(filepath.Join(tmpdir, ".rankstep-run"))
	assert.Nil(t, err)
	assert.True(t, stat.IsDir())
}

func TestLocalStat(t *testing.T) {
	tmpdir, err := ioutil.TempDir("", "test")
	defer os.RemoveAll(tmpdir)
	assert.Nil(t, err)

	path := path.Join(tmpdir, "tmpfile")
	ioutil.WriteFile(path, []byte("foo"), 0777)

	fs := LocalFileSystem{}

	fInfo, err := fs.Stat(path)
	assert.Nil(t, err)

	assert.Equal(t, path, fInfo.Name)
	assert.Equal(t, int64(3), fInfo.Size)
}

func TestLocalDelete(t *testing.T) {
	tmpdir, err := ioutil.TempDir("", "test")
	defer os.RemoveAll(tmpdir)
	assert.Nil(t, err)

	path := path.Join(tmpdir, "tmpfile")
	ioutil.WriteFile(path, []byte("foo"), 0777)

	fs := LocalFileSystem{}
	assert.Nil(t, fs.Delete(path))

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
