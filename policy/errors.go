package policy

import "errors"

var (
	errBlocksPerBatch  = errors.New("policy: blocks_per_batch must be at least 2")
	errBatchesPerEpoch = errors.New("policy: batches_per_epoch must be at least 1")
	errMaxEpochs       = errors.New("policy: max_epochs_stored must be at least 1")
)
