package response

import (
	"fmt"
	"strings"

	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/profile"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/retrieval"
)

const (
	WelcomeMessage = "Hi! I can help you find sustainability indicators for your circular bioeconomy project. " +
		"If you have a project document you can upload it now, or say \"skip\" and I'll ask you a few questions instead."
	EmptyMessage = "Please type a message or upload a document to continue."
)

var questions = map[profile.Field]string{
	profile.FieldLocation:    "Where is your project located? Please name the country or region.",
	profile.FieldProjectType: "What commodity or type of project are you working on (for example cotton, coffee or cocoa)?",
	profile.FieldOutcomes:    "What outcomes do you want to achieve? For example soil health, biodiversity or farmer income.",
	profile.FieldBudget:      "What budget do you have for monitoring and measurement: low, medium or high?",
	profile.FieldCapacity:    "What is your team's technical capacity for measurement: basic, intermediate or advanced?",
}

// ClarifyingQuestion asks for exactly one field.
func ClarifyingQuestion(f profile.Field) string {
	return questions[f]
}

// AskMessage acknowledges what was learned this turn and asks for the
// next missing field.
func AskMessage(learned []profile.Field, p profile.ProjectProfile, next profile.Field) string {
	var b strings.Builder
	if len(learned) > 0 {
		parts := make([]string, 0, len(learned))
		for _, f := range learned {
			parts = append(parts, fmt.Sprintf("%s: %s", label(f), p.Value(f)))
		}
		b.WriteString("Thanks, I noted ")
		b.WriteString(strings.Join(parts, "; "))
		b.WriteString(". ")
	}
	b.WriteString(ClarifyingQuestion(next))
	return b.String()
}

// UploadSummary reports the outcome of document extraction.
func UploadSummary(p profile.ProjectProfile, missing []profile.Field) string {
	found := make([]string, 0, len(profile.RequiredFields))
	for _, f := range profile.RequiredFields {
		if p.IsPresent(f) {
			found = append(found, fmt.Sprintf("%s: %s", label(f), p.Value(f)))
		}
	}

	var b strings.Builder
	if len(found) == 0 {
		b.WriteString("I couldn't find project details in the document.")
	} else {
		b.WriteString("From your document I found ")
		b.WriteString(strings.Join(found, "; "))
		b.WriteString(".")
	}
	if len(missing) > 0 {
		b.WriteString(" ")
		b.WriteString(ClarifyingQuestion(missing[0]))
	}
	return b.String()
}

// RetrievalFailure renders a gateway error with its remediation hint and
// whether trying again makes sense.
func RetrievalFailure(err error) string {
	rerr, ok := retrieval.AsError(err)
	if !ok {
		rerr = retrieval.NewError(retrieval.KindUnknown, "", err)
	}
	msg := rerr.Hint()
	if rerr.Retryable() {
		return msg + " Send any message to retry, or change your project details."
	}
	return msg + " You can still revise your project details in the meantime."
}

// FormatResults renders retrieved passages as a numbered list.
func FormatResults(intro string, results []retrieval.Result) string {
	var b strings.Builder
	b.WriteString(intro)
	for i, r := range results {
		fmt.Fprintf(&b, "\n\n%d. %s", i+1, strings.TrimSpace(r.Content))
		if r.Source != "" {
			fmt.Fprintf(&b, "\n   Source: %s", r.Source)
		}
	}
	return b.String()
}

// Recommendations renders the first recommendation answer.
func Recommendations(resp *retrieval.Response) string {
	if resp.OutputText != "" {
		return "Based on your project, here are recommended indicators and methods:\n\n" + strings.TrimSpace(resp.OutputText)
	}
	if len(resp.Results) == 0 {
		return "I couldn't find indicators matching your project. Try describing your outcomes differently."
	}
	return FormatResults("Based on your project, here are recommended indicators and methods:", resp.Results)
}

func label(f profile.Field) string {
	switch f {
	case profile.FieldProjectType:
		return "project type"
	default:
		return string(f)
	}
}
