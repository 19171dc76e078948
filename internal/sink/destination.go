package sink

import (
	"fmt"

	"github.com/shuttersync/shuttersync/internal/relaysdk"
)

// Type identifies a destination backend. The set is closed.
type Type string

const (
	TypeLocal  Type = "local"
	TypeBackup Type = "backup"
	TypeRelay  Type = "relay"
	TypeS3     Type = "s3"
	TypeAzure  Type = "azure"
	TypeGCS    Type = "gcs"
)

// Destination is one configured upload target. Credentials are opaque to
// the engine; each sink constructor validates its own slice of this struct.
type Destination struct {
	Type    Type `json:"type"`
	Enabled bool `json:"enabled"`

	// Local / Backup
	Root string `json:"root,omitempty"`

	// S3
	Region       string `json:"region,omitempty"`
	Bucket       string `json:"bucket,omitempty"` // shared with GCS
	Prefix       string `json:"prefix,omitempty"`
	StorageClass string `json:"storage_class,omitempty"`
	AccessKey    string `json:"access_key,omitempty"`
	SecretKey    string `json:"secret_key,omitempty"`
	Endpoint     string `json:"endpoint,omitempty"`

	// Azure
	ConnectionString string `json:"connection_string,omitempty"`
	Container        string `json:"container,omitempty"`

	// GCS
	ProjectID  string `json:"project_id,omitempty"`
	ServiceKey []byte `json:"service_key,omitempty"`
}

// Deps carries the shared collaborators cloud-independent sinks need.
type Deps struct {
	Relay *relaysdk.Client
}

// Factory builds a sink from its destination config.
type Factory func(dst Destination, deps Deps) (Sink, error)

// registry is the closed map of destination type to constructor.
var registry = map[Type]Factory{
	TypeLocal:  newLocalSink,
	TypeBackup: newBackupSink,
	TypeRelay:  newRelaySink,
	TypeS3:     newS3Sink,
	TypeAzure:  newAzureSink,
	TypeGCS:    newGCSSink,
}

// Build constructs the sink for a destination.
func Build(dst Destination, deps Deps) (Sink, error) {
	factory, ok := registry[dst.Type]
	if !ok {
		return nil, Errf(KindConfigInvalid, "unknown destination type %q", dst.Type)
	}
	return factory(dst, deps)
}

// ParseType validates a service-type string from the CLI.
func ParseType(raw string) (Type, error) {
	switch Type(raw) {
	case TypeLocal, TypeBackup, TypeRelay, TypeS3, TypeAzure, TypeGCS:
		return Type(raw), nil
	default:
		return "", fmt.Errorf("unknown service type %q", raw)
	}
}
