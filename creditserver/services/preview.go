package services

import (
	"context"
	"encoding/base64"
	"fmt"
)

// PreviewStore persists a generated image and returns a URL the app can
// render. SpacesService is the production variant; InlinePreviewStore keeps
// development environments free of bucket credentials.
type PreviewStore interface {
	UploadPreview(ctx context.Context, accountID string, result *GenerationResult) (string, error)
}

type InlinePreviewStore struct{}

func NewInlinePreviewStore() *InlinePreviewStore {
	return &InlinePreviewStore{}
}

func (s *InlinePreviewStore) UploadPreview(_ context.Context, _ string, result *GenerationResult) (string, error) {
	return fmt.Sprintf("data:%s;base64,%s",
		result.ContentType,
		base64.StdEncoding.EncodeToString(result.Image),
	), nil
}
