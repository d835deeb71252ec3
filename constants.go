package kcore

import "github.com/behrlich/go-kcore/internal/constants"

// Re-export constants for public API
const (
	DefaultNumBuffers  = constants.DefaultNumBuffers
	MaxBuffers         = constants.MaxBuffers
	DefaultBlockSize   = constants.DefaultBlockSize
	DefaultHashtabSize = constants.DefaultHashtabSize
	DefaultNumProcs    = constants.DefaultNumProcs
	ProcQuantum        = constants.ProcQuantum
	PrioBuffer         = constants.PrioBuffer
	PrioUser           = constants.PrioUser
	NormalizationValue = constants.NormalizationValue
)
