package config

type WorkerKeyStruct struct {
	CalculateResultsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	CalculateResultsQueue: "calculate_results_queue",
}
