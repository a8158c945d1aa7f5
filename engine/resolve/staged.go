package resolve

import "github.com/overdrivelabs/dtcpipe/engine/domain"

type stagedDTC struct {
	ID          string
	ChunkID     string
	Code        string
	Description string
	Category    string
	Severity    domain.Severity
	Trust       float64
	Relevance   float64
}

type stagedCause struct {
	ID          string
	ChunkID     string
	DTCCode     string
	Description string
	Likelihood  domain.Likelihood
	Trust       float64
	Relevance   float64
}

type stagedStep struct {
	ID             string
	ChunkID        string
	DTCCode        string
	StepOrder      int
	Description    string
	ToolsRequired  string
	ExpectedValues string
	Trust          float64
	Relevance      float64
}

type stagedSensor struct {
	ID              string
	ChunkID         string
	Name            string
	SensorType      string
	TypicalRange    string
	Unit            string
	RelatedDTCCodes []string
	Trust           float64
	Relevance       float64
}

type stagedTSB struct {
	ID              string
	ChunkID         string
	TSBNumber       string
	Title           string
	AffectedModels  string
	RelatedDTCCodes []string
	Summary         string
	Trust           float64
	Relevance       float64
}

type stagedVehicleMention struct {
	ID              string
	ChunkID         string
	Make            string
	Model           string
	YearStart       int
	YearEnd         int
	Engine          string
	Transmission    string
	RelatedDTCCodes []string
	Trust           float64
	Relevance       float64
}
