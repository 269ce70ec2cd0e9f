// Package settings implements the default-configuration provider for
// typed ports. Each storage kind carries a fixed descriptor of default
// keys; config keys of a port reference them by the substring rule, so a
// port-local key like INPUT1_S3_HOST still binds to S3_HOST.
package settings

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/flowbench-org/flowbench/internal/cmn/config"
	"github.com/flowbench-org/flowbench/internal/model"
)

// Default keys of the FILE descriptor.
const (
	KeyS3Host      = "S3_HOST"
	KeyS3Port      = "S3_PORT"
	KeyS3AccessKey = "S3_ACCESS_KEY"
	KeyS3SecretKey = "S3_SECRET_KEY"
	KeyBucketName  = "BUCKET_NAME"
	KeyFilePath    = "FILE_PATH"
	KeyFileName    = "FILE_NAME"
)

// Default keys of the PGTABLE descriptor.
const (
	KeyPGUser  = "PG_USER"
	KeyPGPass  = "PG_PASS"
	KeyPGHost  = "PG_HOST"
	KeyPGPort  = "PG_PORT"
	KeyDBTable = "DB_TABLE"
)

// Descriptor is the settings schema of one storage kind.
type Descriptor struct {
	DataType    model.DataType
	DefaultKeys []string
}

var descriptors = map[model.DataType]Descriptor{
	model.DataTypeFile: {
		DataType: model.DataTypeFile,
		DefaultKeys: []string{
			KeyS3Host, KeyS3Port, KeyS3AccessKey, KeyS3SecretKey,
			KeyBucketName, KeyFilePath, KeyFileName,
		},
	},
	model.DataTypePGTable: {
		DataType: model.DataTypePGTable,
		DefaultKeys: []string{
			KeyPGUser, KeyPGPass, KeyPGHost, KeyPGPort, KeyDBTable,
		},
	},
	model.DataTypeCustom: {
		DataType:    model.DataTypeCustom,
		DefaultKeys: nil,
	},
}

// DefaultKeys returns the default key set of a storage kind.
func DefaultKeys(dt model.DataType) []string {
	return descriptors[dt].DefaultKeys
}

// Provider produces default config maps from the process configuration.
type Provider struct {
	objectStore config.ObjectStore
	relational  config.Relational
}

// NewProvider creates a Provider. It asserts that within each
// descriptor no default key is a substring of another; the substring
// matching rule would be ambiguous otherwise.
func NewProvider(objectStore config.ObjectStore, relational config.Relational) (*Provider, error) {
	for _, desc := range descriptors {
		if err := validateDescriptor(desc); err != nil {
			return nil, err
		}
	}
	return &Provider{objectStore: objectStore, relational: relational}, nil
}

func validateDescriptor(desc Descriptor) error {
	for _, a := range desc.DefaultKeys {
		for _, b := range desc.DefaultKeys {
			if a != b && strings.Contains(b, a) {
				return fmt.Errorf("settings descriptor %s: default key %q is a substring of %q",
					desc.DataType, a, b)
			}
		}
	}
	return nil
}

// Defaults returns the default key/value map for a port of the given
// storage kind. The file or table name embeds a fresh UUID so every
// port gets a unique location.
func (p *Provider) Defaults(dt model.DataType, ioName string) model.ConfigMap {
	switch dt {
	case model.DataTypeFile:
		return model.ConfigMap{
			KeyS3Host:      model.StringValue(p.objectStore.Host),
			KeyS3Port:      model.IntValue(p.objectStore.Port),
			KeyS3AccessKey: model.StringValue(p.objectStore.AccessKey),
			KeyS3SecretKey: model.StringValue(p.objectStore.SecretKey),
			KeyBucketName:  model.StringValue(p.objectStore.Bucket),
			KeyFilePath:    model.StringValue(p.objectStore.FilePath),
			KeyFileName:    model.StringValue(fmt.Sprintf("file_%s_%s", ioName, uuid.NewString())),
		}
	case model.DataTypePGTable:
		return model.ConfigMap{
			KeyPGUser:  model.StringValue(p.relational.User),
			KeyPGPass:  model.StringValue(p.relational.Password),
			KeyPGHost:  model.StringValue(p.relational.Host),
			KeyPGPort:  model.IntValue(p.relational.Port),
			KeyDBTable: model.StringValue(fmt.Sprintf("table_%s_%s", ioName, uuid.NewString())),
		}
	default:
		return model.ConfigMap{}
	}
}

// InternalEndpoint returns the object-store endpoint that default FILE
// configs point at. The artifact locator uses it to decide whether a
// port still targets the internal store.
func (p *Provider) InternalEndpoint() (host string, port int) {
	return p.objectStore.Host, p.objectStore.Port
}

// ApplyValues overwrites every config key that matches a default key by
// the substring rule with the corresponding value. Keys are never
// added; config keys without a matching default stay untouched. The
// input map is not modified.
func ApplyValues(cfg model.ConfigMap, dt model.DataType, values model.ConfigMap) model.ConfigMap {
	out := cfg.Clone()
	if out == nil {
		out = model.ConfigMap{}
	}
	for _, dk := range DefaultKeys(dt) {
		val, ok := values[dk]
		if !ok {
			continue
		}
		for _, key := range out.Keys() {
			if strings.Contains(key, dk) {
				out[key] = val
			}
		}
	}
	return out
}

// ExtractDefaults scans a port's config and returns, for every default
// key with a matching config key, the config value keyed by the default
// key. Unset values are skipped so they never clobber a configured
// downstream key.
func ExtractDefaults(port *model.InputOutput) model.ConfigMap {
	out := model.ConfigMap{}
	for _, dk := range DefaultKeys(port.DataType) {
		for _, key := range port.Config.Keys() {
			if strings.Contains(key, dk) {
				if v := port.Config[key]; !v.IsUnset() {
					out[dk] = v
				}
				break
			}
		}
	}
	return out
}

// ExtractString returns the extracted value for key as a string, with
// numbers rendered in their literal form.
func ExtractString(values model.ConfigMap, key string) (string, bool) {
	v, ok := values[key]
	if !ok || v.IsUnset() {
		return "", false
	}
	return v.EnvString(), true
}

// ExtractInt returns the extracted value for key as an int.
func ExtractInt(values model.ConfigMap, key string) (int, bool) {
	v, ok := values[key]
	if !ok || v.IsUnset() {
		return 0, false
	}
	n, err := strconv.Atoi(v.EnvString())
	if err != nil {
		return 0, false
	}
	return n, true
}
