package main

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"viva/interview"
	"viva/remote"
)

// Report is what gets written to disk at the end of a session.
type Report struct {
	SessionID  string            `json:"session_id"`
	Setup      remote.Setup      `json:"setup"`
	Summary    *remote.Summary   `json:"summary,omitempty"`
	Transcript []interview.Entry `json:"transcript"`
	FinishedAt time.Time         `json:"finished_at"`
}

// writeReport saves r as YAML when path ends in .yaml or .yml, JSON otherwise.
func writeReport(path string, r Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		// Round-trip through a generic value so YAML keys match the JSON tags.
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		if data, err = yaml.Marshal(v); err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
	default:
		data = append(data, '\n')
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// reportText is the plain-text rendering used for stdout and the clipboard.
func reportText(r Report) string {
	const width = 78
	lines := summaryLines(r.Summary, r.Transcript, width)
	if len(r.Transcript) > 0 {
		lines = append(lines, "", "Transcript")
		for _, e := range r.Transcript {
			prefix := "  Q: "
			if e.Role == interview.RoleAnswer {
				prefix = "  A: "
			}
			for i, line := range wrapText(e.Text, width-len(prefix)) {
				if i == 0 {
					lines = append(lines, prefix+line)
				} else {
					lines = append(lines, strings.Repeat(" ", len(prefix))+line)
				}
			}
		}
	}
	return strings.Join(lines, "\n") + "\n"
}

func summaryLines(s *remote.Summary, entries []interview.Entry, width int) []string {
	var questions, answers int
	for _, e := range entries {
		if e.Role == interview.RoleQuestion {
			questions++
		} else {
			answers++
		}
	}
	counts := fmt.Sprintf("%d questions, %d answers", questions, answers)
	if s == nil {
		return []string{"No feedback available.", "", counts}
	}

	lines := []string{fmt.Sprintf("Overall score: %.1f/10", s.Overall()), counts}

	keys := slices.Sorted(maps.Keys(s.AvgScores))
	if len(keys) > 1 {
		lines = append(lines, "", "Scores")
		for _, k := range keys {
			if k == "overall" {
				continue
			}
			lines = append(lines, fmt.Sprintf("  %-20s %4.1f", strings.ReplaceAll(k, "_", " "), s.AvgScores[k]))
		}
	}

	lines = appendList(lines, "Strengths", s.Strengths, width)
	lines = appendList(lines, "Weaknesses", s.Weaknesses, width)
	lines = appendList(lines, "Improvements", s.Improvements, width)

	if s.OverallFeedback != "" {
		lines = append(lines, "", "Feedback")
		for _, line := range wrapText(s.OverallFeedback, width-2) {
			lines = append(lines, "  "+line)
		}
	}

	lines = appendList(lines, "Practice prompts", s.Practice.Prompts, width)
	lines = appendList(lines, "Resources", s.Practice.Resources, width)
	return lines
}

func appendList(lines []string, title string, items []string, width int) []string {
	if len(items) == 0 {
		return lines
	}
	lines = append(lines, "", title)
	for _, item := range items {
		for i, line := range wrapText(item, width-4) {
			if i == 0 {
				lines = append(lines, "  - "+line)
			} else {
				lines = append(lines, "    "+line)
			}
		}
	}
	return lines
}
