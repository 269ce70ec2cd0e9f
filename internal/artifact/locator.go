// Package artifact locates the data-plane files behind FILE ports and
// mints presigned URLs for them.
package artifact

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/flowbench-org/flowbench/internal/cmn/apperr"
	"github.com/flowbench-org/flowbench/internal/cmn/config"
	"github.com/flowbench-org/flowbench/internal/cmn/logger"
	"github.com/flowbench-org/flowbench/internal/cmn/logger/tag"
	"github.com/flowbench-org/flowbench/internal/model"
	"github.com/flowbench-org/flowbench/internal/settings"
)

// objectAPI is the slice of the minio client the locator uses.
type objectAPI interface {
	ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	PresignedGetObject(ctx context.Context, bucket, object string, expiry time.Duration, params url.Values) (*url.URL, error)
	PresignedPutObject(ctx context.Context, bucket, object string, expiry time.Duration) (*url.URL, error)
}

// connectFunc opens an object-store connection for one endpoint and
// credential pair.
type connectFunc func(endpoint, accessKey, secretKey string) (objectAPI, error)

// fileLocation is the storage 5-tuple extracted from a FILE port.
type fileLocation struct {
	endpoint  string
	accessKey string
	secretKey string
	bucket    string
	fileName  string
	filePath  string
}

// Locator resolves FILE port configs into presigned URLs. Ports whose
// config is incomplete are skipped, not failed: a half-configured
// workflow still renders.
type Locator struct {
	cfg      config.ObjectStore
	provider *settings.Provider
	connect  connectFunc
}

// NewLocator creates a Locator over the configured object store.
func NewLocator(cfg config.ObjectStore, provider *settings.Provider) *Locator {
	return &Locator{
		cfg:      cfg,
		provider: provider,
		connect: func(endpoint, accessKey, secretKey string) (objectAPI, error) {
			return minio.New(endpoint, &minio.Options{
				Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
				Secure: cfg.UseSSL,
			})
		},
	}
}

// location extracts the storage coordinates from a FILE port config.
// Returns false when any required key is missing or unset.
func (l *Locator) location(port *model.InputOutput) (fileLocation, bool) {
	values := settings.ExtractDefaults(port)

	host, okHost := settings.ExtractString(values, settings.KeyS3Host)
	s3Port, okPort := settings.ExtractInt(values, settings.KeyS3Port)
	accessKey, okAccess := settings.ExtractString(values, settings.KeyS3AccessKey)
	secretKey, okSecret := settings.ExtractString(values, settings.KeyS3SecretKey)
	bucket, okBucket := settings.ExtractString(values, settings.KeyBucketName)
	fileName, okName := settings.ExtractString(values, settings.KeyFileName)
	if !okHost || !okPort || !okAccess || !okSecret || !okBucket || !okName {
		return fileLocation{}, false
	}
	filePath, _ := settings.ExtractString(values, settings.KeyFilePath)

	return fileLocation{
		endpoint:  l.rewriteEndpoint(host, s3Port),
		accessKey: accessKey,
		secretKey: secretKey,
		bucket:    bucket,
		fileName:  fileName,
		filePath:  filePath,
	}, true
}

// rewriteEndpoint swaps the internal object-store address for the
// externally reachable one, so minted URLs work outside the cluster
// network. Ports pointing at other stores are left alone.
func (l *Locator) rewriteEndpoint(host string, port int) string {
	internalHost, internalPort := l.provider.InternalEndpoint()
	if l.cfg.ExternalEndpoint != "" && host == internalHost && port == internalPort {
		return l.cfg.ExternalEndpoint
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// findObject scans the bucket for the first key containing fileName.
// The name embeds a UUID, so a substring hit is unique.
func findObject(ctx context.Context, client objectAPI, bucket, fileName string) (string, bool) {
	for obj := range client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			return "", false
		}
		if strings.Contains(obj.Key, fileName) {
			return obj.Key, true
		}
	}
	return "", false
}

// DownloadURLs resolves a presigned GET URL per FILE port that has a
// complete config and an existing object. The result is keyed by port
// id; everything else is skipped with a debug log.
func (l *Locator) DownloadURLs(ctx context.Context, ports []*model.InputOutput) map[uuid.UUID]string {
	result := make(map[uuid.UUID]string)
	clients := make(map[string]objectAPI)

	for _, port := range ports {
		if port.DataType != model.DataTypeFile {
			continue
		}
		loc, ok := l.location(port)
		if !ok {
			logger.Debug(ctx, "Skipping file port with incomplete storage config",
				tag.Port(port.ID.String()))
			continue
		}

		client, err := l.clientFor(clients, loc)
		if err != nil {
			logger.Warn(ctx, "Failed to connect to object store",
				tag.Port(port.ID.String()), tag.Error(err))
			continue
		}

		key, found := findObject(ctx, client, loc.bucket, loc.fileName)
		if !found {
			logger.Debug(ctx, "No object found for file port",
				tag.Port(port.ID.String()))
			continue
		}

		signed, err := client.PresignedGetObject(ctx, loc.bucket, key, l.cfg.URLExpiry, nil)
		if err != nil {
			logger.Warn(ctx, "Failed to presign object URL",
				tag.Port(port.ID.String()), tag.Error(err))
			continue
		}
		result[port.ID] = signed.String()
	}
	return result
}

// UploadURL mints a presigned PUT URL for the port's storage location,
// so clients can push workflow inputs without data-plane credentials.
func (l *Locator) UploadURL(ctx context.Context, port *model.InputOutput) (string, error) {
	if port.DataType != model.DataTypeFile {
		return "", apperr.Newf(apperr.CodeUnprocessable,
			"port %q is not a file port", port.Name)
	}
	loc, ok := l.location(port)
	if !ok {
		return "", apperr.Newf(apperr.CodeMissingConfig,
			"port %q is missing storage configuration", port.Name)
	}

	client, err := l.connect(loc.endpoint, loc.accessKey, loc.secretKey)
	if err != nil {
		return "", apperr.Wrap(apperr.CodeUpstreamFailure,
			"failed to connect to object store", err)
	}

	key := loc.fileName
	if loc.filePath != "" {
		key = path.Join(loc.filePath, loc.fileName)
	}
	signed, err := client.PresignedPutObject(ctx, loc.bucket, key, l.cfg.URLExpiry)
	if err != nil {
		return "", apperr.Wrap(apperr.CodeUpstreamFailure,
			"failed to presign upload URL", err)
	}
	return signed.String(), nil
}

// clientFor reuses one connection per endpoint and credential pair
// within a resolution pass. The secret is part of the key: two ports
// sharing an endpoint and access key may still carry different secrets.
func (l *Locator) clientFor(cache map[string]objectAPI, loc fileLocation) (objectAPI, error) {
	cacheKey := loc.endpoint + "\x00" + loc.accessKey + "\x00" + loc.secretKey
	if client, ok := cache[cacheKey]; ok {
		return client, nil
	}
	client, err := l.connect(loc.endpoint, loc.accessKey, loc.secretKey)
	if err != nil {
		return nil, err
	}
	cache[cacheKey] = client
	return client, nil
}
