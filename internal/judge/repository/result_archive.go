package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"codejudge/internal/common/storage"
	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"

	"github.com/klauspost/compress/zstd"
)

const (
	resultKeyPrefix      = "results/"
	resultKeySuffix      = ".json.zst"
	resultContentType    = "application/zstd"
	maxArchivedResultLen = 64 << 20
)

// ResultArchive keeps the full judging result, including every test case
// record, compressed in object storage.
type ResultArchive struct {
	storage storage.ObjectStorage
	bucket  string
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func NewResultArchive(store storage.ObjectStorage, bucket string) (*ResultArchive, error) {
	if store == nil {
		return nil, fmt.Errorf("object storage is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder failed: %w", err)
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxArchivedResultLen))
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder failed: %w", err)
	}
	return &ResultArchive{storage: store, bucket: bucket, encoder: encoder, decoder: decoder}, nil
}

// ResultKey is the object key of a submission's archived result.
func ResultKey(submissionID string) string {
	return resultKeyPrefix + submissionID + resultKeySuffix
}

func (a *ResultArchive) Save(ctx context.Context, submissionID string, res model.JudgingResult) error {
	if submissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result failed: %w", err)
	}
	compressed := a.encoder.EncodeAll(raw, make([]byte, 0, len(raw)/4))
	if err := a.storage.PutObject(ctx, a.bucket, ResultKey(submissionID), bytes.NewReader(compressed), int64(len(compressed)), resultContentType); err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "archive result failed")
	}
	return nil
}

func (a *ResultArchive) Load(ctx context.Context, submissionID string) (model.JudgingResult, error) {
	if submissionID == "" {
		return model.JudgingResult{}, appErr.ValidationError("submission_id", "required")
	}
	reader, err := a.storage.GetObject(ctx, a.bucket, ResultKey(submissionID))
	if err != nil {
		return model.JudgingResult{}, appErr.Wrapf(err, appErr.StorageError, "load archived result failed")
	}
	defer reader.Close()

	compressed, err := io.ReadAll(io.LimitReader(reader, maxArchivedResultLen))
	if err != nil {
		return model.JudgingResult{}, appErr.Wrapf(err, appErr.StorageError, "read archived result failed")
	}
	raw, err := a.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return model.JudgingResult{}, appErr.Wrapf(err, appErr.StorageError, "decompress archived result failed")
	}
	var res model.JudgingResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return model.JudgingResult{}, appErr.Wrapf(err, appErr.StorageError, "decode archived result failed")
	}
	return res, nil
}

// Close releases the decoder.
func (a *ResultArchive) Close() {
	a.decoder.Close()
}
