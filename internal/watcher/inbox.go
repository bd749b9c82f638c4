package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/stritefax/heelixchat/internal/models"
	"github.com/stritefax/heelixchat/pkg/utils"
)

// InboxExt is the extension of captured text drops. A drop is named "<id>.txt".
const InboxExt = ".txt"

// DocumentIndexer stores and indexes one document.
type DocumentIndexer interface {
	Index(ctx context.Context, in *models.DocumentInput, credential string) (*models.Document, error)
}

// DocumentID returns the document id encoded in an inbox file name.
func DocumentID(path string) (int64, bool) {
	base := filepath.Base(path)
	if !strings.EqualFold(filepath.Ext(base), InboxExt) {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimSuffix(base, filepath.Ext(base)), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// IsInboxFile reports whether path names a drop the inbox accepts.
func IsInboxFile(path string) bool {
	_, ok := DocumentID(path)
	return ok
}

// Inbox indexes inbox drops. The file contents become the document content under the id
// in the file name; a later drop with the same id replaces the stored text.
type Inbox struct {
	ctx        context.Context
	indexer    DocumentIndexer
	credential string
	logger     *zap.Logger
}

// NewInbox returns an Inbox that indexes with credential. ctx bounds every index call.
func NewInbox(ctx context.Context, indexer DocumentIndexer, credential string, logger *zap.Logger) *Inbox {
	return &Inbox{ctx: ctx, indexer: indexer, credential: credential, logger: utils.OrNop(logger)}
}

// NewWatcher returns a Watcher that hands inbox drops under roots to the Inbox.
func (in *Inbox) NewWatcher(roots []string, opts ...Option) *Watcher {
	return NewWatcher(roots, IsInboxFile, func(path string) {
		if err := in.IndexFile(path); err != nil {
			in.logger.Warn("inbox file not indexed", zap.String("path", path), zap.Error(err))
		}
	}, append([]Option{WithLogger(in.logger)}, opts...)...)
}

// IndexFile reads one drop and indexes it. Empty files are skipped.
func (in *Inbox) IndexFile(path string) error {
	id, ok := DocumentID(path)
	if !ok {
		return fmt.Errorf("not an inbox file: %s", filepath.Base(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		in.logger.Debug("skipping empty inbox file", zap.String("path", path))
		return nil
	}
	_, err = in.indexer.Index(in.ctx, &models.DocumentInput{ID: id, Content: content}, in.credential)
	if err != nil {
		return err
	}
	in.logger.Info("indexed inbox file", zap.Int64("id", id), zap.String("path", path))
	return nil
}
