package nvmehost

import "github.com/behrlich/nvmehost/internal/constants"

// Re-exported tunables for callers that don't want to import internal/constants.
const (
	AdminQueueSize      = constants.AdminQueueSize
	DefaultIOQueueSize  = constants.DefaultIOQueueSize
	DefaultIOQueueSGLs  = constants.DefaultIOQueueSGLs
	PageSize            = constants.PageSize
	MaxPRPTransferPages = constants.MaxPRPTransferPages
)
