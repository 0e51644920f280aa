package ai

import "github.com/kiranshivaraju/genqueue/internal/ai/transport"

var (
	ErrProviderUnavailable = transport.ErrProviderUnavailable
	ErrInferenceTimeout    = transport.ErrInferenceTimeout
	ErrInvalidResponse     = transport.ErrInvalidResponse
	ErrUnsupportedJobType  = transport.ErrUnsupportedJobType
	ErrInvalidInput        = transport.ErrInvalidInput
)
