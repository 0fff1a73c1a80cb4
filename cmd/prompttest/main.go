package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"optimizer-backend/internal/extract"
	"optimizer-backend/internal/llm"
	openai "optimizer-backend/internal/llm/openai"
	"optimizer-backend/internal/optimizations"
	"optimizer-backend/internal/shared/config"
)

func main() {
	cfg := config.Load()

	resumePath := flag.String("resume", "", "Path to resume file (pdf or docx)")
	stage := flag.String("stage", "researcher", "Pipeline stage to run: researcher, writer, critic, designer")
	role := flag.String("role", "", "Target role")
	location := flag.String("location", "", "Target location (optional)")
	checklistPath := flag.String("checklist", "", "Path to checklist file, one requirement per line")
	draftPath := flag.String("draft", "", "Path to draft text file")
	round := flag.Int("round", 1, "Round number for writer/critic prompts")
	outPath := flag.String("out", "", "Path to write raw JSON output (optional)")
	provider := flag.String("provider", cfg.LLMProvider, "LLM provider")
	model := flag.String("model", cfg.LLMModel, "LLM model")
	flag.Parse()

	stageName := strings.TrimSpace(*stage)

	sc := optimizations.StageContext{
		TargetRole: strings.TrimSpace(*role),
		Location:   strings.TrimSpace(*location),
		Round:      *round,
	}

	if stageName != "designer" {
		if strings.TrimSpace(*resumePath) == "" {
			exitErr("resume path is required")
		}
		mimeType, err := mimeFromExt(*resumePath)
		if err != nil {
			exitErr(err.Error())
		}
		resumeBytes, err := os.ReadFile(*resumePath)
		if err != nil {
			exitErr(fmt.Sprintf("read resume: %v", err))
		}
		fileName := filepath.Base(*resumePath)
		resumeText, err := extract.ExtractTextFromBytes(context.Background(), resumeBytes, mimeType, fileName)
		if err != nil {
			exitErr(fmt.Sprintf("extract resume text: %v", err))
		}
		sc.ResumeText = resumeText
	}

	if strings.TrimSpace(*checklistPath) != "" {
		items, err := readLines(*checklistPath)
		if err != nil {
			exitErr(fmt.Sprintf("read checklist: %v", err))
		}
		sc.Checklist = items
	}
	if strings.TrimSpace(*draftPath) != "" {
		draftBytes, err := os.ReadFile(*draftPath)
		if err != nil {
			exitErr(fmt.Sprintf("read draft: %v", err))
		}
		sc.Draft = string(draftBytes)
	}

	client, err := buildClient(*provider, *model)
	if err != nil {
		exitErr(err.Error())
	}
	exec := &optimizations.GatewayExecutor{LLM: client}

	var output any
	switch stageName {
	case "researcher":
		output, err = exec.Research(context.Background(), sc)
	case "writer":
		if len(sc.Checklist) == 0 {
			exitErr("checklist is required for the writer stage")
		}
		output, err = exec.Write(context.Background(), sc)
	case "critic":
		if len(sc.Checklist) == 0 || strings.TrimSpace(sc.Draft) == "" {
			exitErr("checklist and draft are required for the critic stage")
		}
		output, err = exec.Review(context.Background(), sc)
	case "designer":
		if strings.TrimSpace(sc.Draft) == "" {
			exitErr("draft is required for the designer stage")
		}
		output, err = exec.Render(context.Background(), sc)
	default:
		exitErr(fmt.Sprintf("unsupported stage: %s", stageName))
	}
	if err != nil {
		exitErr(fmt.Sprintf("%s stage: %v", stageName, err))
	}

	raw, err := json.Marshal(output)
	if err != nil {
		exitErr(fmt.Sprintf("encode output: %v", err))
	}
	pretty, err := prettyJSON(raw)
	if err != nil {
		exitErr(fmt.Sprintf("format json: %v", err))
	}

	if *outPath != "" {
		if err := os.WriteFile(*outPath, pretty, 0o644); err != nil {
			exitErr(fmt.Sprintf("write output: %v", err))
		}
	}

	if _, err := os.Stdout.Write(pretty); err != nil {
		exitErr(fmt.Sprintf("write stdout: %v", err))
	}
	if len(pretty) == 0 || pretty[len(pretty)-1] != '\n' {
		_, _ = os.Stdout.Write([]byte("\n"))
	}
}

func buildClient(provider, model string) (llm.Client, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", "openai":
		return openai.NewClient(os.Getenv("OPENAI_API_KEY"), model)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

func mimeFromExt(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return "application/pdf", nil
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document", nil
	default:
		return "", fmt.Errorf("unsupported resume file type: %s", filepath.Ext(path))
	}
}

func readLines(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var items []string
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			items = append(items, line)
		}
	}
	return items, nil
}

func prettyJSON(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func exitErr(msg string) {
	_, _ = fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
