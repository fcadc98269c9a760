package domain

// Stage names, in pipeline order.
const (
	StageIngest    = "data_ingestion"
	StageValidate  = "data_validation"
	StageTransform = "data_transform"
	StageTrain     = "model_trainer"
	StageEvaluate  = "model_evaluation"
	StagePush      = "model_pusher"
)

// Stages lists the stage names in execution order.
var Stages = []string{StageIngest, StageValidate, StageTransform, StageTrain, StageEvaluate, StagePush}
