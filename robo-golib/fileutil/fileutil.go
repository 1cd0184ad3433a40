package fileutil

import (
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/robomosaic/robomosaic/robo-golib/awsutil"
	"github.com/robomosaic/robomosaic/robo-golib/errors"
)

func newReader(path string, s3ReaderMaker func(uri string) (io.ReadCloser, error)) (io.ReadCloser, error) {
	if strings.HasPrefix(path, "s3://") {
		return s3ReaderMaker(path)
	}

	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		resp, err := http.Get(path)
		if err != nil {
			return nil, fmt.Errorf("error getting %s: %s", path, err)
		}
		if resp.StatusCode != http.StatusOK {
			defer resp.Body.Close()
			io.Copy(ioutil.Discard, resp.Body)
			return nil, errors.Errorf("error getting %s: status code %d", path, resp.StatusCode)
		}
		return resp.Body, nil
	}

	return os.Open(path)
}

// NewReader opens a local or remote path for reading. If the path looks like
// "s3://bucket/path/to/object" then this will read an object from S3. Otherwise, this
// will read a path from the local filesystem.
func NewReader(path string) (io.ReadCloser, error) {
	return newReader(path, awsutil.NewS3Reader)
}

// NewCachedReader opens a local or remote path for reading. If the path looks like
// "s3://bucket/path/to/object" then this will read an object from S3. Otherwise, this
// will read a path from the local filesystem. Caching only applies to S3 paths.
func NewCachedReader(path string) (io.ReadCloser, error) {
	return newReader(path, awsutil.NewCachedS3Reader)
}

// NamedWriteCloser is a file-like object extending io.WriteCloser with a string Name()
// similar to os.File.Name()
type NamedWriteCloser interface {
	io.WriteCloser
	Name() string
}

// NewBufferedWriter opens a local or remote path for writing. If the path starts with
// "s3://", then this will write to a local buffer, copying to s3 on close. Otherwise,
// this will write to the local FS.
func NewBufferedWriter(path string) (NamedWriteCloser, error) {
	if awsutil.IsS3URI(path) {
		return awsutil.NewBufferedS3Writer(path)
	}
	err := os.MkdirAll(filepath.Dir(path), 0755)
	if err != nil {
		return nil, err
	}
	return os.Create(path)
}

// ReadFile reads the contents of a local or remote path.
func ReadFile(path string) ([]byte, error) {
	r, err := NewCachedReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// CopyFile copies src to dst; either side may be local or on S3.
func CopyFile(dst, src string) error {
	r, err := NewReader(src)
	if err != nil {
		return err
	}
	defer r.Close()

	w, err := NewBufferedWriter(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return errors.Wrapf(err, "error copying %s to %s", src, dst)
	}
	return w.Close()
}

// ListDir returns the fully qualified names for the members of the provided directory.
// If the directory is local these will simply be the paths, if the directory is on s3
// then these will be the keys to the entries. The results of this function are intended
// to be used in conjunction with NewCachedReader.
func ListDir(path string) ([]string, error) {
	if awsutil.IsS3URI(path) {
		trimmed := strings.TrimPrefix(path, "s3://")

		parts := strings.Split(trimmed, "/")
		bucket := parts[0]
		prefix := strings.Join(parts[1:], "/")

		keys, err := awsutil.S3ListObjects("us-west-1", bucket, prefix)
		if err != nil {
			return nil, fmt.Errorf("error reading from s3 path %s: %v", path, err)
		}

		var paths []string
		for _, key := range keys {
			path := Join("s3://", bucket, key)
			paths = append(paths, path)
		}
		return paths, nil
	}

	entries, err := ioutil.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("error reading dir %s: %v", path, err)
	}

	var paths []string
	for _, entry := range entries {
		paths = append(paths, Join(path, entry.Name()))
	}

	return paths, nil
}
