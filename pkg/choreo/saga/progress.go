package saga

import (
	"time"

	"github.com/randalmurphal/choreo/pkg/choreo/event"
)

// Stage is how far a saga has progressed.
type Stage string

const (
	StageUnknown            Stage = ""
	StageRequested          Stage = "requested"
	StageValidated          Stage = "validated"
	StageAnalyzed           Stage = "analyzed"
	StageStructureGenerated Stage = "structure_generated"
	StageRendered           Stage = "rendered"
	StageCompleted          Stage = "completed"
	StageFailed             Stage = "failed"
)

var stageOf = map[event.Type]Stage{
	event.CarouselGenerateRequested: StageRequested,
	event.ContentAnalysisRequested:  StageValidated,
	event.ContentAnalysisCompleted:  StageAnalyzed,
	event.CarouselSlidesGenerated:   StageStructureGenerated,
	event.CarouselImagesRendered:    StageRendered,
	event.CarouselGenerateCompleted: StageCompleted,
	event.CarouselGenerateFailed:    StageFailed,
}

var stageRank = map[Stage]int{
	StageUnknown:            0,
	StageRequested:          1,
	StageValidated:          2,
	StageAnalyzed:           3,
	StageStructureGenerated: 4,
	StageRendered:           5,
	StageCompleted:          6,
	StageFailed:             6,
}

// Step is one envelope of a saga.
type Step struct {
	ID        string     `json:"id"`
	Type      event.Type `json:"type"`
	CausedBy  string     `json:"caused_by,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// Progress is the state of one saga reconstructed from its envelopes.
type Progress struct {
	CorrelationID string                   `json:"correlation_id"`
	RequestID     string                   `json:"request_id,omitempty"`
	Stage         Stage                    `json:"stage"`
	Terminal      bool                     `json:"terminal"`
	Completed     *event.GenerateCompleted `json:"completed,omitempty"`
	Failure       *event.GenerateFailed    `json:"failure,omitempty"`
	Steps         []Step                   `json:"steps"`
}

// Trace reconstructs the saga identified by correlationID from envs, which
// must be in emission order. Envelopes of other chains are skipped.
func Trace(envs []*event.Envelope, correlationID string) Progress {
	p := Progress{CorrelationID: correlationID, Steps: []Step{}}

	for _, env := range envs {
		if env.ChainID() != correlationID {
			continue
		}
		p.Steps = append(p.Steps, Step{
			ID:        env.ID(),
			Type:      env.Type(),
			CausedBy:  env.CausationID(),
			Timestamp: env.Timestamp(),
		})

		if p.RequestID == "" {
			if ref, ok := event.RefOf(env.Payload()); ok {
				p.RequestID = ref.RequestID
			}
		}

		stage, ok := stageOf[env.Type()]
		if !ok || p.Terminal {
			continue
		}
		switch pl := env.Payload().(type) {
		case event.GenerateCompleted:
			p.Completed = &pl
		case event.GenerateFailed:
			p.Failure = &pl
		}
		if stageRank[stage] >= stageRank[p.Stage] {
			p.Stage = stage
		}
		p.Terminal = env.Type().Terminal()
	}
	return p
}
