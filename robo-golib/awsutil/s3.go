package awsutil

import (
	"fmt"
	"io"
	"io/ioutil"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/robomosaic/robomosaic/robo-golib/envutil"
	"github.com/robomosaic/robomosaic/robo-golib/errors"
)

var (
	localRegion = envutil.GetenvDefault("AWS_REGION", "us-west-1")
	// Path to the local S3 cache used for dataset and checkpoint reads.
	cacheroot = envutil.GetenvDefault("ROBO_S3CACHE", "/var/robomosaic/s3cache")
)

// IsS3URI returns true if the path is an s3 uri.
func IsS3URI(path string) bool {
	return strings.HasPrefix(path, "s3://")
}

// SetCacheRoot allows for direct configuration of the cacheroot
func SetCacheRoot(path string) {
	cacheroot = path
}

// ValidateURI parses the provided uri and ensures it is a well-formed s3 uri.
func ValidateURI(uri string) (*url.URL, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid s3 uri %s", uri)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return nil, errors.Errorf("uri %s is not of the form s3://bucket/path/to/object", uri)
	}
	return u, nil
}

// NewS3 creates an s3 client.
func NewS3(region string) (*s3.S3, error) {
	sess, err := session.NewSession()
	if err != nil {
		return nil, err
	}
	return s3.New(sess, aws.NewConfig().WithRegion(region)), nil
}

// NewS3Reader returns an io.ReadCloser that will read the contents of the object
// pointed to by the uri. The uri is of the form s3://bucket-name/path/to/object.
func NewS3Reader(uri string) (io.ReadCloser, error) {
	u, err := ValidateURI(uri)
	if err != nil {
		return nil, err
	}

	client, err := NewS3(localRegion)
	if err != nil {
		return nil, err
	}

	resp, err := client.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(u.Host),
		Key:    aws.String(strings.TrimPrefix(u.Path, "/")),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "error getting s3 object %s", uri)
	}

	return resp.Body, nil
}

// CachePath returns the path on the local filesystem at which the
// object for the provided uri is cached.
func CachePath(u *url.URL) string {
	return filepath.Join(cacheroot, u.Host, u.Path)
}

// NewCachedS3Reader reads the object at uri via the local S3 cache: if the object
// has not been downloaded yet it is fetched and stored under the cache root first.
func NewCachedS3Reader(uri string) (io.ReadCloser, error) {
	u, err := ValidateURI(uri)
	if err != nil {
		return nil, err
	}

	local := CachePath(u)
	if _, err := os.Stat(local); err == nil {
		return os.Open(local)
	}

	r, err := NewS3Reader(uri)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	if err := os.MkdirAll(filepath.Dir(local), os.ModePerm); err != nil {
		return nil, err
	}

	tmp, err := ioutil.TempFile(filepath.Dir(local), ".s3cache")
	if err != nil {
		return nil, err
	}

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, errors.Wrapf(err, "error caching s3 object %s", uri)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, err
	}
	if err := os.Rename(tmp.Name(), local); err != nil {
		os.Remove(tmp.Name())
		return nil, err
	}

	return os.Open(local)
}

// S3PutObject uploads the contents of r to the provided uri.
func S3PutObject(r io.ReadSeeker, uri string) error {
	u, err := ValidateURI(uri)
	if err != nil {
		return err
	}

	client, err := NewS3(localRegion)
	if err != nil {
		return err
	}

	_, err = client.PutObject(&s3.PutObjectInput{
		Bucket: aws.String(u.Host),
		Key:    aws.String(strings.TrimPrefix(u.Path, "/")),
		Body:   r,
	})
	return errors.WrapfOrNil(err, "error putting s3 object %s", uri)
}

// S3ListObjects lists the keys under the provided bucket and prefix.
func S3ListObjects(region, bucket, prefix string) ([]string, error) {
	client, err := NewS3(region)
	if err != nil {
		return nil, err
	}

	var keys []string
	var marker string
	for {
		resp, err := client.ListObjects(&s3.ListObjectsInput{
			Bucket: aws.String(bucket),
			Prefix: aws.String(prefix),
			Marker: aws.String(marker),
		})
		if err != nil {
			return nil, errors.Wrapf(err, "error listing s3://%s/%s", bucket, prefix)
		}

		for _, obj := range resp.Contents {
			keys = append(keys, *obj.Key)
		}

		if resp.IsTruncated == nil || !*resp.IsTruncated || len(resp.Contents) == 0 {
			break
		}
		marker = keys[len(keys)-1]
	}

	return keys, nil
}

// NamedWriteCloser is a file-like object extending io.WriteCloser with a string Name()
// similar to os.File.Name()
type NamedWriteCloser interface {
	io.WriteCloser
	Name() string
}

type bufferedS3Writer struct {
	uri string
	tmp *os.File
}

func (w bufferedS3Writer) Write(p []byte) (int, error) {
	return w.tmp.Write(p)
}

func (w bufferedS3Writer) Name() string {
	return w.uri
}

func (w bufferedS3Writer) Close() error {
	defer os.Remove(w.tmp.Name())

	if _, err := w.tmp.Seek(0, io.SeekStart); err != nil {
		w.tmp.Close()
		return err
	}
	if err := S3PutObject(w.tmp, w.uri); err != nil {
		w.tmp.Close()
		return err
	}
	return w.tmp.Close()
}

// NewBufferedS3Writer returns a writer that buffers writes in a local temp file
// and uploads the contents to uri on Close.
func NewBufferedS3Writer(uri string) (NamedWriteCloser, error) {
	if _, err := ValidateURI(uri); err != nil {
		return nil, err
	}

	tmp, err := ioutil.TempFile("", "s3writer")
	if err != nil {
		return nil, fmt.Errorf("error creating buffer file for %s: %v", uri, err)
	}

	return bufferedS3Writer{uri: uri, tmp: tmp}, nil
}
