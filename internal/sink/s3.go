package sink

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/shuttersync/shuttersync/internal/utils"
)

var s3StorageClasses = map[string]types.StorageClass{
	"STANDARD":            types.StorageClassStandard,
	"REDUCED_REDUNDANCY":  types.StorageClassReducedRedundancy,
	"STANDARD_IA":         types.StorageClassStandardIa,
	"ONEZONE_IA":          types.StorageClassOnezoneIa,
	"INTELLIGENT_TIERING": types.StorageClassIntelligentTiering,
	"GLACIER":             types.StorageClassGlacier,
	"DEEP_ARCHIVE":        types.StorageClassDeepArchive,
	"GLACIER_IR":          types.StorageClassGlacierIr,
}

type s3Sink struct {
	client       *s3.Client
	bucket       string
	prefix       string
	storageClass types.StorageClass
}

func newS3Sink(dst Destination, _ Deps) (Sink, error) {
	if dst.Region == "" {
		return nil, Errf(KindConfigInvalid, "s3: region is mandatory")
	}
	if dst.Bucket == "" {
		return nil, Errf(KindConfigInvalid, "s3: bucket is empty")
	}

	storageClass := types.StorageClassStandard
	if dst.StorageClass != "" {
		sc, ok := s3StorageClasses[dst.StorageClass]
		if !ok {
			return nil, Errf(KindConfigInvalid, "s3: unknown storage class %q", dst.StorageClass)
		}
		storageClass = sc
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   20,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(dst.AccessKey, dst.SecretKey, ""),
		),
		awsconfig.WithRegion(dst.Region),
		awsconfig.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, Errf(KindConfigInvalid, "s3: load config: %v", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if dst.Endpoint != "" {
			o.BaseEndpoint = aws.String(dst.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &s3Sink{
		client:       client,
		bucket:       dst.Bucket,
		prefix:       strings.Trim(dst.Prefix, "/"),
		storageClass: storageClass,
	}, nil
}

func (s *s3Sink) DisplayName() string { return "S3 (" + s.bucket + ")" }
func (s *s3Sink) Priority() int       { return PriorityObject }

func (s *s3Sink) TestConnection(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: &s.bucket,
	})
	if err != nil {
		return classifyS3Err(err)
	}
	return nil
}

func (s *s3Sink) Put(ctx context.Context, localPath string, key string, progress ProgressFunc) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", wrapErr(KindIO, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", wrapErr(KindIO, err)
	}

	objectKey := s.objectKey(key)
	body := newProgressReader(ctx, file, info.Size(), progress)

	resp, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &s.bucket,
		Key:           &objectKey,
		Body:          body,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(utils.DetectContentType(key)),
		StorageClass:  s.storageClass,
	})
	if err != nil {
		return "", classifyS3Err(err)
	}

	if progress != nil {
		progress(info.Size(), info.Size())
	}

	etag := strings.ReplaceAll(aws.ToString(resp.ETag), "\"", "")
	return "s3://" + s.bucket + "/" + objectKey + "#" + etag, nil
}

func (s *s3Sink) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

func classifyS3Err(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return wrapErr(KindCancelled, err)
	}

	status := 0
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
			return wrapErr(KindUnauthenticated, err)
		case "NoSuchBucket":
			return Errf(KindConfigInvalid, "s3: %v", err)
		default:
			return rejectedErr(status, err)
		}
	}

	return wrapErr(KindUnreachable, err)
}

var _ Sink = (*s3Sink)(nil)
