package recorder

import (
	"context"

	"VaultKeeper/internal/model"
)

// NoopRecorder is used when no database is configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) Record(_ context.Context, _ *model.Report) error { return nil }
func (n *NoopRecorder) Close() error                                    { return nil }
