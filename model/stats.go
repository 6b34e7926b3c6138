package model

// CollectionStats is continuously updated by the Sampler and broadcast
// to the UI every 500ms by the Pipeline.
type CollectionStats struct {
	SuccessfulReads      int64
	FailedReads          int64
	TotalBytesRead       int64
	AvgReadTimeUs        float64
	EffectiveSampleRateHz float64
	MinLatencyUs         float64
	MaxLatencyUs         float64
	JitterUs             float64
	BulkReadsPerformed   int64
	IndividualReadsSaved int64
	DroppedMessages      int64
	MemoryAccessMode     string
}
