package log

// Standard attribute keys for ML-specific structured logging.
//
// Using shared constants keeps field names consistent across packages so that
// log aggregation and filtering work without per-call-site conventions.
const (
	// OperationKey identifies the high-level operation ("fit", "evaluate", "predict").
	OperationKey = "operation"

	// ModelNameKey identifies the model emitting the log line.
	ModelNameKey = "model_name"

	// StepKey is the global optimization step counter.
	StepKey = "step"

	// EpochKey is the number of completed passes over the training data.
	EpochKey = "epoch"

	// ObjectiveKey names the objective term being optimized ("NELBO", "LOO_VARIATIONAL", "loss").
	ObjectiveKey = "objective"

	// LossKey is a scalar objective value.
	LossKey = "loss"

	// SamplesKey is the number of examples involved in the operation.
	SamplesKey = "samples"

	// BatchSizeKey is the mini-batch size in use.
	BatchSizeKey = "batch_size"

	// DurationMsKey is the elapsed wall time of the operation in milliseconds.
	DurationMsKey = "duration_ms"

	// CheckpointKey is a checkpoint file path.
	CheckpointKey = "checkpoint"
)
