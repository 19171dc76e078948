package sink

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/shuttersync/shuttersync/internal/utils"
)

type azureSink struct {
	client    *azblob.Client
	container string
	account   string
}

func newAzureSink(dst Destination, _ Deps) (Sink, error) {
	if dst.ConnectionString == "" {
		return nil, Errf(KindConfigInvalid, "azure: connection string is empty")
	}
	if dst.Container == "" {
		return nil, Errf(KindConfigInvalid, "azure: container is empty")
	}

	client, err := azblob.NewClientFromConnectionString(dst.ConnectionString, nil)
	if err != nil {
		return nil, Errf(KindConfigInvalid, "azure: %v", err)
	}

	return &azureSink{
		client:    client,
		container: dst.Container,
		account:   accountFromConnectionString(dst.ConnectionString),
	}, nil
}

func (s *azureSink) DisplayName() string { return "Azure Blob (" + s.container + ")" }
func (s *azureSink) Priority() int       { return PriorityObject }

func (s *azureSink) TestConnection(ctx context.Context) error {
	_, err := s.client.ServiceClient().
		NewContainerClient(s.container).
		GetProperties(ctx, nil)
	if err != nil {
		return classifyAzureErr(err)
	}
	return nil
}

func (s *azureSink) Put(ctx context.Context, localPath string, key string, progress ProgressFunc) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", wrapErr(KindIO, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", wrapErr(KindIO, err)
	}
	total := info.Size()

	contentType := utils.DetectContentType(key)
	_, err = s.client.UploadFile(ctx, s.container, key, file, &azblob.UploadFileOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
		Progress: func(bytesTransferred int64) {
			if progress != nil {
				progress(bytesTransferred, total)
			}
		},
	})
	if err != nil {
		return "", classifyAzureErr(err)
	}

	if progress != nil {
		progress(total, total)
	}
	return "azblob://" + s.container + "/" + key, nil
}

func classifyAzureErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return wrapErr(KindCancelled, err)
	}

	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case 401, 403:
			return wrapErr(KindUnauthenticated, err)
		default:
			return rejectedErr(respErr.StatusCode, err)
		}
	}

	return wrapErr(KindUnreachable, err)
}

// accountFromConnectionString pulls AccountName out of an opaque connection
// string for display purposes only.
func accountFromConnectionString(conn string) string {
	for _, part := range strings.Split(conn, ";") {
		if v, ok := strings.CutPrefix(part, "AccountName="); ok {
			return v
		}
	}
	return ""
}

var _ Sink = (*azureSink)(nil)
