package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/teranos/corpipe/am"
	"github.com/teranos/corpipe/errors"
	"github.com/teranos/corpipe/logger"
	"github.com/teranos/corpipe/pipeline"
)

const objectSuffix = ".json"

// NewMinIOClient creates a client for the configured object store
func NewMinIOClient(cfg am.ObjectStoreConfig) (*minio.Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.NewConfigurationError("object_store.endpoint is required")
	}

	opts := &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	}
	client, err := minio.New(cfg.Endpoint, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create object store client for %s", cfg.Endpoint)
	}
	return client, nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// ObjectKey returns the object name of a document within its
// collection's bucket: <type>/<id>.json
func ObjectKey(h pipeline.Handle) string {
	return path.Join(h.Type, h.ID+objectSuffix)
}

// ObjectSource reads documents stored as JSON objects, one bucket per
// collection. Each object maps field names to text.
type ObjectSource struct {
	client *minio.Client
	region string
	logger *zap.SugaredLogger
}

// NewObjectSource creates a source on client. region is used when a
// bucket has to be created.
func NewObjectSource(client *minio.Client, region string, log *zap.SugaredLogger) *ObjectSource {
	if log == nil {
		log = logger.Logger
	}
	return &ObjectSource{client: client, region: region, logger: log.Named("docstore")}
}

// Fields implements Source
func (s *ObjectSource) Fields(ctx context.Context, h pipeline.Handle) (map[string]string, error) {
	obj, err := s.client.GetObject(ctx, h.Index, ObjectKey(h), minio.GetObjectOptions{})
	if err != nil {
		return nil, s.objectError(err, h)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.objectError(err, h)
	}
	return decodeFields(data, h)
}

// decodeFields accepts string values as-is and keeps any other JSON value
// in its encoded form.
func decodeFields(data []byte, h pipeline.Handle) (map[string]string, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrapf(err, "document %s is not a JSON object", h.Key())
	}

	fields := make(map[string]string, len(raw))
	for name, value := range raw {
		var text string
		if err := json.Unmarshal(value, &text); err != nil {
			text = string(value)
		}
		fields[name] = text
	}
	return fields, nil
}

// objectError maps a read failure: missing objects are not found, network
// errors and server-side responses are unavailable
func (s *ObjectSource) objectError(err error, h pipeline.Handle) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket":
		return errors.NewNotFoundError("no document %s", h.Key())
	}
	wrapped := errors.Wrapf(err, "failed to read object %s/%s", h.Index, ObjectKey(h))
	var netErr net.Error
	if resp.StatusCode >= http.StatusInternalServerError || errors.As(err, &netErr) {
		return errors.MarkUnavailable(wrapped)
	}
	return wrapped
}

// AddDocument implements Writer. The collection's bucket is created on
// first use.
func (s *ObjectSource) AddDocument(ctx context.Context, h pipeline.Handle, fields map[string]string) error {
	key := ObjectKey(h)
	if err := s.ensureBucket(ctx, h.Index); err != nil {
		return err
	}

	if _, err := s.client.StatObject(ctx, h.Index, key, minio.StatObjectOptions{}); err == nil {
		return errors.Mark(errors.Newf("document %s already exists", h.Key()), ErrDocumentExists)
	} else if code := minio.ToErrorResponse(err).Code; code != "NoSuchKey" {
		return errors.Wrapf(err, "failed to stat object %s/%s", h.Index, key)
	}

	data, err := json.Marshal(fields)
	if err != nil {
		return errors.Wrap(err, "failed to encode document fields")
	}
	_, err = s.client.PutObject(ctx, h.Index, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return errors.Wrapf(err, "failed to write object %s/%s", h.Index, key)
	}

	s.logger.Debugw("Added document", "document", h.Key(), "bucket", h.Index, "object", key)
	return nil
}

func (s *ObjectSource) ensureBucket(ctx context.Context, bucket string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return errors.Wrapf(err, "failed to check bucket %s", bucket)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return errors.Wrapf(err, "failed to create bucket %s", bucket)
	}
	return nil
}

// Handles lists the documents of one type as handles reading field.
// A limit of zero lists all of them.
func (s *ObjectSource) Handles(ctx context.Context, index, docType, field string, limit int) ([]pipeline.Handle, error) {
	var fields []string
	if field != "" {
		fields = []string{field}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var handles []pipeline.Handle
	objects := s.client.ListObjects(ctx, index, minio.ListObjectsOptions{Prefix: docType + "/", Recursive: true})
	for obj := range objects {
		if obj.Err != nil {
			return nil, errors.Wrapf(obj.Err, "failed to list objects in %s", index)
		}
		id, ok := strings.CutSuffix(strings.TrimPrefix(obj.Key, docType+"/"), objectSuffix)
		if !ok || id == "" {
			continue
		}
		handles = append(handles, pipeline.NewHandle(index, docType, id, fields...))
		if limit > 0 && len(handles) >= limit {
			break
		}
	}
	return handles, nil
}
