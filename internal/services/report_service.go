package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"marketbill/internal/models"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ReportService archives billing run summaries to object storage.
type ReportService interface {
	ArchiveRunSummary(ctx context.Context, summary *models.BillingRunSummary) error
	EnsureBucketExists(ctx context.Context) error
}

const reportBucket = "billing-reports"

type minioReportService struct {
	client *minio.Client
}

func NewMinioReportService(endpoint, accessKey, secretKey string, useSSL bool) (ReportService, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, err
	}
	return &minioReportService{client: client}, nil
}

// ArchiveRunSummary uploads the run summary as JSON. Callers treat failures
// as best-effort: a lost report never fails the run.
func (m *minioReportService) ArchiveRunSummary(ctx context.Context, summary *models.BillingRunSummary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}

	objectName := fmt.Sprintf("runs/%s/%s.json",
		summary.StartedAt.Format("2006-01-02"), summary.RunID)

	_, err = m.client.PutObject(ctx, reportBucket, objectName,
		bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
			ContentType: "application/json",
		})
	return err
}

func (m *minioReportService) EnsureBucketExists(ctx context.Context) error {
	found, err := m.client.BucketExists(ctx, reportBucket)
	if err != nil {
		return err
	}
	if !found {
		return m.client.MakeBucket(ctx, reportBucket, minio.MakeBucketOptions{})
	}
	return nil
}
