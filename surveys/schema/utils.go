package schema

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrSurveyNotFound   = errors.New("survey not found")
	ErrQuestionNotFound = errors.New("question not found")
	ErrResponseNotFound = errors.New("response not found")
	ErrOpinionNotFound  = errors.New("opinion not found")
	ErrUpvoteNotFound   = errors.New("upvote not found")
	ErrDuplicateVote    = errors.New("already voted for this opinion")
	ErrDbAccessFailed   = errors.New("db access failed")
)

func GetSurvey(surveyId uuid.UUID, db *gorm.DB) (Survey, error) {
	var survey Survey

	result := db.Take(&survey, "id = ?", surveyId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return survey, ErrSurveyNotFound
		}
		slog.Error("sql error in get survey", "survey_id", surveyId, "error", result.Error)
		return survey, ErrDbAccessFailed
	}

	return survey, nil
}

func GetQuestion(questionId int64, db TenantDB) (Question, error) {
	var question Question

	result := db.Table(QuestionsTable).Where("id = ?", questionId).Take(&question)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return question, ErrQuestionNotFound
		}
		return question, result.Error
	}

	return question, nil
}

func ListQuestions(surveyId uuid.UUID, db TenantDB) ([]Question, error) {
	questions := make([]Question, 0)

	result := db.Table(QuestionsTable).Where("survey_id = ?", surveyId).Order("id").Find(&questions)
	if result.Error != nil {
		return nil, result.Error
	}

	return questions, nil
}

func GetRawResponse(responseId uuid.UUID, db TenantDB) (RawResponse, error) {
	var response RawResponse

	result := db.Table(RawResponsesTable).Where("id = ?", responseId).Take(&response)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return response, ErrResponseNotFound
		}
		return response, result.Error
	}

	return response, nil
}

func ListRawAnswers(responseId uuid.UUID, db TenantDB) ([]RawAnswer, error) {
	answers := make([]RawAnswer, 0)

	result := db.Table(RawAnswersTable).Where("response_id = ?", responseId).Order("id").Find(&answers)
	if result.Error != nil {
		return nil, result.Error
	}

	return answers, nil
}

func GetOpinion(opinionId int64, db TenantDB) (PublishedOpinion, error) {
	var opinion PublishedOpinion

	result := db.Table(OpinionsTable).Where("id = ?", opinionId).Take(&opinion)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return opinion, ErrOpinionNotFound
		}
		return opinion, result.Error
	}

	return opinion, nil
}

func GetUpvote(upvoteId int64, db TenantDB) (Upvote, error) {
	var upvote Upvote

	result := db.Table(UpvotesTable).Where("id = ?", upvoteId).Take(&upvote)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return upvote, ErrUpvoteNotFound
		}
		return upvote, result.Error
	}

	return upvote, nil
}

// CountUpvotes returns the number of votes per opinion id. When status is non
// empty only votes in that status are counted.
func CountUpvotes(opinionIds []int64, status string, db TenantDB) (map[int64]int64, error) {
	counts := make(map[int64]int64, len(opinionIds))
	if len(opinionIds) == 0 {
		return counts, nil
	}

	type row struct {
		OpinionId int64
		Count     int64
	}
	var rows []row

	query := db.Table(UpvotesTable).Select("opinion_id, count(*) AS count").Where("opinion_id IN ?", opinionIds)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	result := query.Group("opinion_id").Scan(&rows)
	if result.Error != nil {
		return nil, result.Error
	}

	for _, r := range rows {
		counts[r.OpinionId] = r.Count
	}
	return counts, nil
}
