package rsfs

import (
	"fmt"
	"io"
	"io/ioutil"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	lru "github.com/hashicorp/golang-lru"
	"github.com/mattetti/filebuffer"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// Objects are read in ranged chunks of this many bytes
const defaultS3ChunkSize = 64 * 1024 * 1024

// Number of object sizes remembered between ListFiles and Stat calls
const objectCacheSize = 4096

// S3FileSystem abstracts AWS S3 as a filesystem. Paths take the form
// "s3://bucket/key".
type S3FileSystem struct {
	s3Client    s3iface.S3API
	objectCache *lru.Cache
}

func parseS3URI(uri string) (*url.URL, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}

	if parsed.Scheme != "s3" {
		return nil, xerrors.Errorf("invalid s3 scheme %q in %s", parsed.Scheme, uri)
	}
	parsed.Path = strings.TrimPrefix(parsed.Path, "/")

	return parsed, nil
}

func hasGlobMeta(p string) bool {
	return strings.ContainsAny(p, "*?[")
}

// globPrefix returns the longest prefix of the glob without wildcard characters
func globPrefix(glob string) string {
	if i := strings.IndexAny(glob, "*?["); i >= 0 {
		return glob[:i]
	}
	return glob
}

// ListFiles lists the objects matching pathGlob. A pathGlob without
// wildcards lists the object itself and everything nested below it.
func (s *S3FileSystem) ListFiles(pathGlob string) ([]FileInfo, error) {
	s3Files := make([]FileInfo, 0)

	parsed, err := parseS3URI(pathGlob)
	if err != nil {
		return nil, err
	}
	bucket, keyGlob := parsed.Host, parsed.Path

	matches := func(key string) bool {
		if hasGlobMeta(keyGlob) {
			ok, _ := path.Match(keyGlob, key)
			return ok
		}
		dir := strings.TrimSuffix(keyGlob, "/")
		return keyGlob == "" || key == keyGlob || strings.HasPrefix(key, dir+"/")
	}

	params := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(globPrefix(keyGlob)),
	}
	err = s.s3Client.ListObjectsV2Pages(params,
		func(page *s3.ListObjectsV2Output, _ bool) bool {
			for _, object := range page.Contents {
				if !matches(*object.Key) {
					continue
				}
				info := FileInfo{
					Name: fmt.Sprintf("s3://%s/%s", bucket, *object.Key),
					Size: *object.Size,
				}
				s.objectCache.Add(info.Name, info)
				s3Files = append(s3Files, info)
			}
			return true
		})

	return s3Files, err
}

// OpenReader opens a reader to the object at filePath, starting startAt bytes
// into the object.
func (s *S3FileSystem) OpenReader(filePath string, startAt int64) (io.ReadCloser, error) {
	parsed, err := parseS3URI(filePath)
	if err != nil {
		return nil, err
	}

	objStat, err := s.Stat(filePath)
	if err != nil {
		return nil, err
	}

	reader := &s3Reader{
		client:    s.s3Client,
		bucket:    parsed.Host,
		key:       parsed.Path,
		offset:    startAt,
		chunkSize: defaultS3ChunkSize,
		totalSize: objStat.Size,
	}
	if startAt >= objStat.Size {
		reader.chunk = ioutil.NopCloser(strings.NewReader(""))
		return reader, nil
	}
	return reader, reader.loadNextChunk()
}

// OpenWriter opens a writer to the object at filePath. The object is
// uploaded when the writer is closed.
func (s *S3FileSystem) OpenWriter(filePath string) (io.WriteCloser, error) {
	parsed, err := parseS3URI(filePath)
	if err != nil {
		return nil, err
	}
	s.objectCache.Remove(filePath)

	return &s3Writer{
		client: s.s3Client,
		bucket: parsed.Host,
		key:    parsed.Path,
		buf:    filebuffer.New(nil),
	}, nil
}

// Stat returns information about the object at filePath
func (s *S3FileSystem) Stat(filePath string) (FileInfo, error) {
	if cached, ok := s.objectCache.Get(filePath); ok {
		return cached.(FileInfo), nil
	}

	parsed, err := parseS3URI(filePath)
	if err != nil {
		return FileInfo{}, err
	}

	head, err := s.s3Client.HeadObject(&s3.HeadObjectInput{
		Bucket: aws.String(parsed.Host),
		Key:    aws.String(parsed.Path),
	})
	if err != nil {
		return FileInfo{}, xerrors.Errorf("stat %s: %w", filePath, err)
	}

	info := FileInfo{
		Name: filePath,
		Size: aws.Int64Value(head.ContentLength),
	}
	s.objectCache.Add(filePath, info)
	return info, nil
}

// Init initializes the filesystem.
func (s *S3FileSystem) Init() error {
	sess := session.Must(session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	}))
	s.s3Client = s3.New(sess)

	cache, err := lru.New(objectCacheSize)
	if err != nil {
		return err
	}
	s.objectCache = cache
	return nil
}

// Join joins file path elements
func (s *S3FileSystem) Join(elem ...string) string {
	stripped := make([]string, len(elem))
	for i, e := range elem {
		stripped[i] = strings.TrimPrefix(e, "s3://")
	}
	joined := path.Join(stripped...)
	if len(elem) > 0 && strings.HasSuffix(elem[len(elem)-1], "/") {
		joined += "/"
	}
	return "s3://" + joined
}

// Delete deletes the object at filePath.
func (s *S3FileSystem) Delete(filePath string) error {
	parsed, err := parseS3URI(filePath)
	if err != nil {
		return err
	}

	log.Debugf("Deleting %s", filePath)
	_, err = s.s3Client.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(parsed.Host),
		Key:    aws.String(parsed.Path),
	})
	s.objectCache.Remove(filePath)
	return err
}
