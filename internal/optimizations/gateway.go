package optimizations

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"optimizer-backend/internal/llm"
)

// GatewayExecutor runs pipeline stages against the model gateway. Each call
// builds the stage prompt from the round context, decodes the JSON reply
// into the stage's output type, and makes one fix-JSON pass when decoding
// fails before giving up.
type GatewayExecutor struct {
	LLM llm.Client
}

func (g *GatewayExecutor) Research(ctx context.Context, sc StageContext) (Research, error) {
	var out Research
	if err := g.generate(ctx, llm.StageResearcher, researcherPrompt(sc), &out); err != nil {
		return Research{}, err
	}
	return out, nil
}

func (g *GatewayExecutor) Write(ctx context.Context, sc StageContext) (Draft, error) {
	var out Draft
	if err := g.generate(ctx, llm.StageWriter, writerPrompt(sc), &out); err != nil {
		return Draft{}, err
	}
	if strings.TrimSpace(out.Content) == "" {
		return Draft{}, fmt.Errorf("%w: writer returned empty draft", ErrStageOutput)
	}
	return out, nil
}

// criticReply is the critic's reply schema. The prompt asks for camelCase
// keys, so the reply is decoded here and mapped onto the wire Scorecard.
type criticReply struct {
	Overall         int      `json:"overall"`
	ATSFitness      int      `json:"atsFitness"`
	KeywordCoverage int      `json:"keywordCoverage"`
	Clarity         int      `json:"clarity"`
	Praise          []string `json:"praise"`
	TruthViolations []string `json:"truthViolations"`
	RequiredEdits   []string `json:"requiredEdits"`
}

func (g *GatewayExecutor) Review(ctx context.Context, sc StageContext) (Scorecard, error) {
	var reply criticReply
	if err := g.generate(ctx, llm.StageCritic, criticPrompt(sc), &reply); err != nil {
		return Scorecard{}, err
	}
	if reply.Overall < 0 || reply.Overall > 100 {
		return Scorecard{}, fmt.Errorf("%w: critic overall score %d out of range", ErrStageOutput, reply.Overall)
	}
	return Scorecard{
		Overall:         reply.Overall,
		ATSFitness:      reply.ATSFitness,
		KeywordCoverage: reply.KeywordCoverage,
		Clarity:         reply.Clarity,
		Praise:          reply.Praise,
		TruthViolations: reply.TruthViolations,
		RequiredEdits:   reply.RequiredEdits,
	}, nil
}

func (g *GatewayExecutor) Render(ctx context.Context, sc StageContext) (Rendered, error) {
	var out Rendered
	if err := g.generate(ctx, llm.StageDesigner, designerPrompt(sc), &out); err != nil {
		return Rendered{}, err
	}
	if strings.TrimSpace(out.ATSText) == "" {
		return Rendered{}, fmt.Errorf("%w: designer returned empty ats text", ErrStageOutput)
	}
	return out, nil
}

func (g *GatewayExecutor) generate(ctx context.Context, stage llm.Stage, prompt string, out any) error {
	raw, err := g.LLM.Generate(ctx, llm.Request{Stage: stage, Prompt: prompt})
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), out); err == nil {
		return nil
	}
	fixed, err := g.LLM.Generate(llm.WithFixJSON(ctx, raw), llm.Request{Stage: stage, Prompt: prompt})
	if err != nil {
		return fmt.Errorf("%w: fix pass failed: %v", ErrStageOutput, err)
	}
	if err := json.Unmarshal([]byte(fixed), out); err != nil {
		return fmt.Errorf("%w: %v", ErrStageOutput, err)
	}
	return nil
}

func researcherPrompt(sc StageContext) string {
	var b strings.Builder
	b.WriteString("Target role: ")
	b.WriteString(sc.TargetRole)
	if strings.TrimSpace(sc.Location) != "" {
		b.WriteString("\nLocation: ")
		b.WriteString(sc.Location)
	}
	b.WriteString("\n\nResume:\n")
	b.WriteString(sc.ResumeText)
	return b.String()
}

func writerPrompt(sc StageContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Round %d.\n\nTarget role: %s\n", sc.Round, sc.TargetRole)
	b.WriteString("\nRequirement checklist:\n")
	writeList(&b, sc.Checklist)
	b.WriteString("\nOriginal resume:\n")
	b.WriteString(sc.ResumeText)
	if sc.Round > 1 && sc.Draft != "" {
		b.WriteString("\n\nYour previous draft:\n")
		b.WriteString(sc.Draft)
	}
	if sc.Critique != nil {
		b.WriteString("\n\nCritic verdict on the previous draft:\n")
		fmt.Fprintf(&b, "overall %d, ats %d, keywords %d, clarity %d\n",
			sc.Critique.Overall, sc.Critique.ATSFitness, sc.Critique.KeywordCoverage, sc.Critique.Clarity)
		if len(sc.Critique.TruthViolations) > 0 {
			b.WriteString("Truth violations to remove:\n")
			writeList(&b, sc.Critique.TruthViolations)
		}
		if len(sc.Critique.RequiredEdits) > 0 {
			b.WriteString("Required edits:\n")
			writeList(&b, sc.Critique.RequiredEdits)
		}
	}
	return b.String()
}

func criticPrompt(sc StageContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Round %d.\n\nTarget role: %s\n", sc.Round, sc.TargetRole)
	b.WriteString("\nRequirement checklist:\n")
	writeList(&b, sc.Checklist)
	b.WriteString("\nOriginal resume:\n")
	b.WriteString(sc.ResumeText)
	b.WriteString("\n\nDraft under review:\n")
	b.WriteString(sc.Draft)
	return b.String()
}

func designerPrompt(sc StageContext) string {
	var b strings.Builder
	b.WriteString("Accepted final draft:\n")
	b.WriteString(sc.Draft)
	return b.String()
}

func writeList(b *strings.Builder, items []string) {
	for _, item := range items {
		b.WriteString("- ")
		b.WriteString(item)
		b.WriteByte('\n')
	}
}

var _ StageExecutor = (*GatewayExecutor)(nil)
