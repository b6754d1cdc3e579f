package rsfs

import (
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/mattetti/filebuffer"
)

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// s3Writer buffers an object in memory and uploads it on Close
type s3Writer struct {
	client s3iface.S3API
	bucket string
	key    string
	buf    *filebuffer.Buffer
}

func (s *s3Writer) Write(p []byte) (n int, err error) {
	return s.buf.Write(p)
}

func (s *s3Writer) Close() error {
	if _, err := s.buf.Seek(0, io.SeekStart); err != nil {
		return err
	}
	input := &s3.PutObjectInput{
		Body:   s.buf,
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	}
	_, err := s.client.PutObject(input)
	return err
}

// s3Reader reads an object through a sequence of ranged GETs of chunkSize bytes
type s3Reader struct {
	client    s3iface.S3API
	bucket    string
	key       string
	offset    int64
	chunkSize int64
	chunk     io.ReadCloser
	totalSize int64
}

func (s *s3Reader) loadNextChunk() error {
	if s.chunk != nil {
		s.chunk.Close()
	}

	size := min64(s.chunkSize, s.totalSize-s.offset)
	params := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", s.offset, s.offset+size-1)),
	}
	output, err := s.client.GetObject(params)
	if err != nil {
		return err
	}
	s.offset += size
	s.chunk = output.Body
	return nil
}

func (s *s3Reader) Read(b []byte) (n int, err error) {
	n, err = s.chunk.Read(b)
	if err == io.EOF && s.offset < s.totalSize {
		err = s.loadNextChunk()
	}
	return n, err
}

func (s *s3Reader) Close() error {
	return s.chunk.Close()
}
