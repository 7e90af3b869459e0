package tests

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
)

type seededSurvey struct {
	id         string
	accessCode string
	department int64
	idea       int64
	agreement  int64
	responseId string
	opinionId  int64
}

// seedSurvey creates a survey with three questions, one submission and one
// published opinion built from it.
func seedSurvey(t *testing.T, env *testEnv, name string) seededSurvey {
	admin := env.adminClient()

	survey, err := admin.createSurvey(name)
	if err != nil {
		t.Fatal(err)
	}
	s := seededSurvey{id: survey.Id.String(), accessCode: survey.AccessCode}

	dept, err := admin.addQuestion(s.id, questionParams{Label: "Department", IsPersonalData: true})
	if err != nil {
		t.Fatal(err)
	}
	idea, err := admin.addQuestion(s.id, questionParams{Label: "Your idea", QuestionType: "textarea", IsRequired: true})
	if err != nil {
		t.Fatal(err)
	}
	agreement, err := admin.addQuestion(s.id, questionParams{Label: "Agree?", QuestionType: "radio", Options: []string{"Yes", "No"}})
	if err != nil {
		t.Fatal(err)
	}
	s.department, s.idea, s.agreement = dept.Id, idea.Id, agreement.Id

	res, err := env.newClient().submit(s.id,
		answer{QuestionId: s.department, AnswerText: " Finance ", IsDisclosureAgreed: true},
		answer{QuestionId: s.idea, AnswerText: "Open the cafeteria earlier", IsDisclosureAgreed: true},
	)
	if err != nil {
		t.Fatal(err)
	}
	s.responseId = res.ResponseId

	notes := "check with facilities"
	opinion, err := admin.createOpinion(s.id, opinionParams{
		RawResponseId:  s.responseId,
		Title:          "Earlier cafeteria hours",
		Content:        "Open the cafeteria earlier",
		AdminNotes:     &notes,
		Importance:     2,
		Urgency:        1,
		ExpectedImpact: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	s.opinionId = opinion.Id

	return s
}

func TestSubmitResponse(t *testing.T) {
	env := setupTestEnv(t)
	s := seedSurvey(t, env, "submissions")
	admin := env.adminClient()

	res, err := env.newClient().submit(s.id,
		answer{QuestionId: s.idea, AnswerText: "first"},
		answer{QuestionId: 9999, AnswerText: "ignored"},
		answer{QuestionId: s.agreement, AnswerText: "Yes", IsDisclosureAgreed: true},
		answer{QuestionId: s.idea, AnswerText: "  second  "},
	)
	if err != nil {
		t.Fatal(err)
	}
	if res.Message != "Thank you for your response!" {
		t.Fatalf("invalid message '%v'", res.Message)
	}

	response, err := admin.getResponse(s.id, res.ResponseId)
	if err != nil {
		t.Fatal(err)
	}
	if len(response.Answers) != 2 {
		t.Fatalf("expected 2 stored answers, got %v", response.Answers)
	}

	for _, a := range response.Answers {
		switch a.QuestionId {
		case s.idea:
			if a.AnswerText != "second" || a.QuestionLabel != "Your idea" {
				t.Fatalf("invalid idea answer %v", a)
			}
		case s.agreement:
			if a.IsDisclosureAgreed {
				t.Fatal("consent should only be stored for personal data questions")
			}
		default:
			t.Fatalf("unexpected answer %v", a)
		}
	}

	responses, err := admin.listResponses(s.id)
	if err != nil {
		t.Fatal(err)
	}
	if len(responses) != 2 {
		t.Fatalf("expected 2 responses, got %v", responses)
	}
	counts := map[string]int64{}
	for _, r := range responses {
		counts[r.Id.String()] = r.AnswerCount
	}
	if counts[res.ResponseId] != 2 || counts[s.responseId] != 2 {
		t.Fatalf("invalid answer counts %v", counts)
	}
}

func TestSubmitValidation(t *testing.T) {
	env := setupTestEnv(t)
	s := seedSurvey(t, env, "validation")
	admin := env.adminClient()
	visitor := env.newClient()

	_, err := visitor.submit(s.id, answer{QuestionId: s.department, AnswerText: "IT"})
	if statusCode(err) != http.StatusBadRequest || !strings.Contains(err.Error(), "required question") {
		t.Fatalf("missing required answer should be rejected: %v", err)
	}

	_, err = visitor.submit(s.id, answer{QuestionId: s.idea, AnswerText: "   "})
	if statusCode(err) != http.StatusBadRequest || !strings.Contains(err.Error(), "cannot be empty") {
		t.Fatalf("blank answer should be rejected: %v", err)
	}

	if err := visitor.Post(fmt.Sprintf("/survey/%v/submit", s.id)).Body(strings.NewReader("{")).Do(nil); statusCode(err) != http.StatusBadRequest {
		t.Fatalf("malformed body should be rejected: %v", err)
	}

	responses, err := admin.listResponses(s.id)
	if err != nil {
		t.Fatal(err)
	}
	if len(responses) != 1 {
		t.Fatalf("rejected submissions should not be stored: %v", responses)
	}

	empty, err := admin.createSurvey("empty")
	if err != nil {
		t.Fatal(err)
	}
	_, err = visitor.submit(empty.Id.String(), answer{QuestionId: 1, AnswerText: "x"})
	if statusCode(err) != http.StatusBadRequest || !strings.Contains(err.Error(), "no questions") {
		t.Fatalf("survey without questions should reject submissions: %v", err)
	}

	if _, err := admin.updateSurvey(s.id, map[string]interface{}{"status": "suspended"}); err != nil {
		t.Fatal(err)
	}
	_, err = visitor.submit(s.id, answer{QuestionId: s.idea, AnswerText: "late"})
	if statusCode(err) != http.StatusBadRequest || !strings.Contains(err.Error(), "closed") {
		t.Fatalf("suspended survey should reject submissions: %v", err)
	}

	// Reading stays possible while suspended.
	if _, _, err := visitor.questions(s.id); err != nil {
		t.Fatal(err)
	}
}

func TestSubmitRateLimit(t *testing.T) {
	env := setupTestEnvWithLimit(t, 2)
	s := seedSurvey(t, env, "limited")

	visitor := env.visitor("rate-limit-visitor")
	for i := 0; i < 2; i++ {
		if _, err := visitor.submit(s.id, answer{QuestionId: s.idea, AnswerText: "idea"}); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := visitor.submit(s.id, answer{QuestionId: s.idea, AnswerText: "idea"}); statusCode(err) != http.StatusTooManyRequests {
		t.Fatalf("expected rate limit, got %v", err)
	}

	if _, err := env.visitor("another-visitor").submit(s.id, answer{QuestionId: s.idea, AnswerText: "idea"}); err != nil {
		t.Fatal(err)
	}

	// Reads are not limited.
	if _, err := visitor.publicOpinions(s.id); err != nil {
		t.Fatal(err)
	}
}
