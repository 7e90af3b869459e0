package tests

import (
	"testing"
)

func TestEndToEnd(t *testing.T) {
	env := setupTestEnv(t)
	admin := env.adminClient()

	survey, err := admin.createSurvey("Acme Q1")
	if err != nil {
		t.Fatal(err)
	}
	surveyId := survey.Id.String()

	question, err := admin.addQuestion(surveyId, questionParams{Label: "What should we change?", IsRequired: true})
	if err != nil {
		t.Fatal(err)
	}

	res, err := env.newClient().submit(surveyId, answer{QuestionId: question.Id, AnswerText: "Quieter meeting rooms"})
	if err != nil {
		t.Fatal(err)
	}

	opinion, err := admin.createOpinion(surveyId, opinionParams{
		RawResponseId: res.ResponseId,
		Title:         "Quiet rooms",
		Content:       "Quieter meeting rooms",
		Importance:    2,
		Urgency:       1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if opinion.PriorityScore != 6 || opinion.Rating != 3 {
		t.Fatalf("invalid opinion score %v", opinion)
	}

	vote, err := env.visitor("supporter").upvote(surveyId, opinion.Id, nil)
	if err != nil {
		t.Fatal(err)
	}
	if vote.Status != "published" {
		t.Fatalf("bare vote should be published: %v", vote)
	}

	manager, err := env.managerClient(surveyId, survey.AccessCode)
	if err != nil {
		t.Fatal(err)
	}
	opinions, err := manager.managerOpinions(surveyId)
	if err != nil {
		t.Fatal(err)
	}
	if len(opinions) != 1 || opinions[0].Id != opinion.Id || opinions[0].Supporters != 1 {
		t.Fatalf("invalid manager view %v", opinions)
	}
}
