package config

type WorkerKeyStruct struct {
	PersistCheckpointsQueue string
	PersistViolationsQueue  string
	ExamStatsQueue          string
}

var WorkerKey = &WorkerKeyStruct{
	PersistCheckpointsQueue: "persist_checkpoints_queue",
	PersistViolationsQueue:  "persist_violations_queue",
	ExamStatsQueue:          "exam_stats_queue",
}
