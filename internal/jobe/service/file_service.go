package service

import (
	"context"
	"encoding/base64"
	"fmt"

	appErr "jobe/pkg/errors"
	"jobe/pkg/utils/logger"

	"go.uber.org/zap"
)

// FileStore is the file cache as seen by the HTTP layer.
type FileStore interface {
	Exists(ctx context.Context, id string) bool
	Write(ctx context.Context, id string, data []byte) error
}

// FileService uploads and checks cached files.
type FileService struct {
	store FileStore
}

func NewFileService(store FileStore) (*FileService, error) {
	if store == nil {
		return nil, fmt.Errorf("file store is required")
	}
	return &FileService{store: store}, nil
}

// Put decodes base-64 contents and stores them under id.
func (s *FileService) Put(ctx context.Context, id string, contents *string) error {
	if id == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("No file id in URL")
	}
	if contents == nil {
		return appErr.New(appErr.RequiredFieldEmpty).WithMessage("put: missing file_contents parameter")
	}
	data, err := base64.StdEncoding.DecodeString(*contents)
	if err != nil {
		return appErr.New(appErr.InvalidFileData).WithMessagef("put: contents of file %s are not valid base-64", id)
	}
	if err := s.store.Write(ctx, id, data); err != nil {
		return err
	}
	logger.Debug(ctx, "put file", zap.String("file_id", id), zap.Int("size", len(data)))
	return nil
}

func (s *FileService) Exists(ctx context.Context, id string) bool {
	ok := id != "" && s.store.Exists(ctx, id)
	logger.Debug(ctx, "head file", zap.String("file_id", id), zap.Bool("exists", ok))
	return ok
}
