package sink

import (
	"context"
	"encoding/json"
	"encoding/pem"
	"errors"
	"os"
	"regexp"
	"strings"

	"github.com/shuttersync/shuttersync/internal/utils"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	storage "google.golang.org/api/storage/v1"
)

var (
	gcsClientEmailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.iam\.gserviceaccount\.com$`)
	gcsProjectIDRe   = regexp.MustCompile(`^[a-z][a-z0-9-]*[a-z0-9]$`)
)

// serviceAccountKey is the subset of a Google service-account JSON key the
// engine validates up front.
type serviceAccountKey struct {
	Type        string `json:"type"`
	ProjectID   string `json:"project_id"`
	PrivateKey  string `json:"private_key"`
	ClientEmail string `json:"client_email"`
}

type gcsSink struct {
	service *storage.Service
	bucket  string
	project string
}

func newGCSSink(dst Destination, _ Deps) (Sink, error) {
	if dst.Bucket == "" {
		return nil, Errf(KindConfigInvalid, "gcs: bucket is empty")
	}
	if err := ValidateServiceKey(dst.ServiceKey, dst.ProjectID); err != nil {
		return nil, err
	}

	service, err := storage.NewService(context.Background(),
		option.WithCredentialsJSON(dst.ServiceKey),
		option.WithScopes(storage.DevstorageReadWriteScope),
	)
	if err != nil {
		return nil, Errf(KindConfigInvalid, "gcs: %v", err)
	}

	return &gcsSink{
		service: service,
		bucket:  dst.Bucket,
		project: dst.ProjectID,
	}, nil
}

// ValidateServiceKey checks the shape of a service-account JSON key before
// any network traffic: type, client email, PEM private key and project id.
func ValidateServiceKey(key []byte, projectID string) error {
	var sa serviceAccountKey
	if err := json.Unmarshal(key, &sa); err != nil {
		return Errf(KindConfigInvalid, "gcs: service key is not a JSON object: %v", err)
	}
	if sa.Type != "service_account" {
		return Errf(KindConfigInvalid, "gcs: key type %q is not service_account", sa.Type)
	}
	if !gcsClientEmailRe.MatchString(sa.ClientEmail) {
		return Errf(KindConfigInvalid, "gcs: client_email %q is not a service account address", sa.ClientEmail)
	}
	if block, _ := pem.Decode([]byte(sa.PrivateKey)); block == nil {
		return Errf(KindConfigInvalid, "gcs: private_key is not well-formed PEM")
	}
	keyProject := sa.ProjectID
	if projectID != "" {
		keyProject = projectID
	}
	if !gcsProjectIDRe.MatchString(keyProject) {
		return Errf(KindConfigInvalid, "gcs: project id %q is malformed", keyProject)
	}

	// cross-check with the oauth2 loader used at request time
	if _, err := google.JWTConfigFromJSON(key, storage.DevstorageReadWriteScope); err != nil {
		return Errf(KindConfigInvalid, "gcs: %v", err)
	}
	return nil
}

func (s *gcsSink) DisplayName() string { return "Cloud Storage (" + s.bucket + ")" }
func (s *gcsSink) Priority() int       { return PriorityObject }

func (s *gcsSink) TestConnection(ctx context.Context) error {
	_, err := s.service.Buckets.Get(s.bucket).Context(ctx).Do()
	if err != nil {
		return classifyGCSErr(err)
	}
	return nil
}

func (s *gcsSink) Put(ctx context.Context, localPath string, key string, progress ProgressFunc) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", wrapErr(KindIO, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", wrapErr(KindIO, err)
	}

	body := newProgressReader(ctx, file, info.Size(), progress)
	obj, err := s.service.Objects.
		Insert(s.bucket, &storage.Object{Name: key}).
		Media(body, googleapi.ContentType(utils.DetectContentType(key))).
		Context(ctx).
		Do()
	if err != nil {
		return "", classifyGCSErr(err)
	}

	if progress != nil {
		progress(info.Size(), info.Size())
	}
	return "gs://" + s.bucket + "/" + obj.Name, nil
}

func classifyGCSErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return wrapErr(KindCancelled, err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 401, 403:
			return wrapErr(KindUnauthenticated, err)
		default:
			return rejectedErr(apiErr.Code, err)
		}
	}

	if strings.Contains(err.Error(), "oauth2") {
		return wrapErr(KindUnauthenticated, err)
	}
	return wrapErr(KindUnreachable, err)
}

var _ Sink = (*gcsSink)(nil)
