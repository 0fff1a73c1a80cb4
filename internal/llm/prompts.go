package llm

import _ "embed"

var (
	//go:embed prompts/researcher.txt
	researcherPrompt string
	//go:embed prompts/writer.txt
	writerPrompt string
	//go:embed prompts/critic.txt
	criticPrompt string
	//go:embed prompts/designer.txt
	designerPrompt string
	//go:embed prompts/fix_json.txt
	fixJSONPrompt string
)

// SystemPrompt returns the system prompt for a pipeline stage and whether
// the stage was recognized.
func SystemPrompt(stage Stage) (string, bool) {
	switch stage {
	case StageResearcher:
		return researcherPrompt, true
	case StageWriter:
		return writerPrompt, true
	case StageCritic:
		return criticPrompt, true
	case StageDesigner:
		return designerPrompt, true
	default:
		return "", false
	}
}

// FixJSONPrompt returns the repair prompt used when a stage emits output
// that fails to decode.
func FixJSONPrompt() string {
	return fixJSONPrompt
}
