package optimizations

import "context"

// StageContext carries everything a stage needs from the rounds before it.
// The researcher only reads the resume and target; the writer additionally
// reads the checklist and, on rework rounds, its prior draft plus the
// critic's objections; the designer reads the final accepted draft.
type StageContext struct {
	ResumeText string
	TargetRole string
	Location   string
	Round      int
	Checklist  []string
	Draft      string
	Critique   *Scorecard
}

// Research is the researcher stage output: the requirement checklist that
// anchors every later round.
type Research struct {
	Summary   string   `json:"summary"`
	Checklist []string `json:"checklist"`
}

// Draft is the writer stage output for one round.
type Draft struct {
	Summary   string   `json:"summary"`
	Content   string   `json:"content"`
	Changelog []string `json:"changelog"`
}

// Rendered is the designer stage output: the accepted draft in each of the
// three delivery formats.
type Rendered struct {
	Summary    string `json:"summary"`
	ATSText    string `json:"atsText"`
	StyledHTML string `json:"styledHtml"`
	Markdown   string `json:"markdown"`
}

// StageExecutor produces the typed output of each pipeline stage. The
// production executor calls the model gateway; tests script it.
type StageExecutor interface {
	Research(ctx context.Context, sc StageContext) (Research, error)
	Write(ctx context.Context, sc StageContext) (Draft, error)
	Review(ctx context.Context, sc StageContext) (Scorecard, error)
	Render(ctx context.Context, sc StageContext) (Rendered, error)
}
