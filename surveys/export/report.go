package export

import (
	"strings"
	"survey_engine/surveys/moderation"
	"survey_engine/surveys/schema"
	"survey_engine/surveys/scoring"
)

// Row is one opinion of an export together with its live supporter count.
type Row struct {
	Id         int64
	Title      string
	Content    string
	AdminNotes *string

	Importance      int
	Urgency         int
	ExpectedImpact  int
	SupporterPoints int
	PriorityScore   int

	SupporterCount int64
	DisclosedPii   map[string]string
}

func NewRow(opinion schema.PublishedOpinion, supporters int64) Row {
	return Row{
		Id:              opinion.Id,
		Title:           opinion.Title,
		Content:         opinion.Content,
		AdminNotes:      opinion.AdminNotes,
		Importance:      opinion.Importance,
		Urgency:         opinion.Urgency,
		ExpectedImpact:  opinion.ExpectedImpact,
		SupporterPoints: opinion.SupporterPoints,
		PriorityScore:   opinion.PriorityScore,
		SupporterCount:  supporters,
		DisclosedPii:    opinion.DisclosedPii,
	}
}

func (r Row) notes() string {
	if r.AdminNotes == nil {
		return ""
	}
	return strings.TrimSpace(*r.AdminNotes)
}

func (r Row) components() string {
	return "Importance: " + scoring.ComponentLabel(r.Importance) +
		" | Urgency: " + scoring.ComponentLabel(r.Urgency) +
		" | Impact: " + scoring.ComponentLabel(r.ExpectedImpact) +
		" | Supporter points: " + scoring.ComponentLabel(r.SupporterPoints)
}

type Report struct {
	SurveyName string
	Opinions   []Row
}

// PiiColumns lists the disclosed field names present in any row.
func PiiColumns(rows []Row) []string {
	piis := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		piis = append(piis, row.DisclosedPii)
	}
	return moderation.PiiKeys(piis...)
}

const maxFilenameName = 80

// Filename builds the download name of a report: the survey name, made safe
// for file systems, after a fixed prefix.
func Filename(surveyName, ext string) string {
	name := []rune(surveyName)
	if len(name) > maxFilenameName {
		name = name[:maxFilenameName]
	}

	safe := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`\/:*?"<>|`, r) {
			return '_'
		}
		return r
	}, string(name))

	safe = strings.TrimSpace(safe)
	if safe == "" {
		safe = "Survey"
	}

	return "Survey Opinions Report - " + safe + "." + ext
}
