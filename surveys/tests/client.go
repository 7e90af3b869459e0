package tests

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"survey_engine/surveys/auth"
	"survey_engine/surveys/services"
	"survey_engine/surveys/tenancy"

	"github.com/go-chi/chi/v5"
)

type httpTestRequest struct {
	api http.Handler

	method   string
	endpoint string
	headers  map[string]string
	json     interface{}
	body     io.Reader
}

func newHttpTestRequest(api http.Handler, method, endpoint string) *httpTestRequest {
	return &httpTestRequest{
		api:      api,
		method:   method,
		endpoint: endpoint,
		headers:  nil,
		json:     nil,
		body:     nil,
	}
}

func (r *httpTestRequest) Header(key, value string) *httpTestRequest {
	if r.headers == nil {
		r.headers = make(map[string]string)
	}
	r.headers[key] = value
	return r
}

func (r *httpTestRequest) Auth(token string) *httpTestRequest {
	return r.Header("Authorization", fmt.Sprintf("Bearer %v", token))
}

func (r *httpTestRequest) Json(data interface{}) *httpTestRequest {
	r.json = data
	return r
}

func (r *httpTestRequest) Body(body io.Reader) *httpTestRequest {
	r.body = body
	return r
}

var ErrUnauthorized = errors.New("unauthorized")

// statusError is returned for any non 200 response.
type statusError struct {
	method   string
	endpoint string
	code     int
	content  string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%v request to endpoint %v returned status %d, content '%v'", e.method, e.endpoint, e.code, e.content)
}

func (e *statusError) Is(target error) bool {
	return target == ErrUnauthorized && e.code == http.StatusUnauthorized
}

// statusCode returns the status of a failed request, or 200 if err is nil.
func statusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var serr *statusError
	if errors.As(err, &serr) {
		return serr.code
	}
	return -1
}

func (r *httpTestRequest) serve() (*httptest.ResponseRecorder, error) {
	if r.json != nil {
		body := new(bytes.Buffer)
		err := json.NewEncoder(body).Encode(r.json)
		if err != nil {
			return nil, fmt.Errorf("error encoding json body for endpoint %v: %w", r.endpoint, err)
		}
		r.body = body
	}

	req := httptest.NewRequest(r.method, r.endpoint, r.body)
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	r.api.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		return w, &statusError{method: r.method, endpoint: r.endpoint, code: w.Code, content: w.Body.String()}
	}
	return w, nil
}

// response body will be parsed into result, passing nil indicates that no result is returned.
func (r *httpTestRequest) Do(result interface{}) error {
	w, err := r.serve()
	if err != nil {
		return err
	}

	if result != nil {
		err := json.NewDecoder(w.Body).Decode(result)
		if err != nil {
			return fmt.Errorf("error parsing %v response from endpoint %v: %w", r.method, r.endpoint, err)
		}
	}

	return nil
}

// Download returns the raw response body along with the response headers.
func (r *httpTestRequest) Download() ([]byte, http.Header, error) {
	w, err := r.serve()
	if err != nil {
		return nil, nil, err
	}
	return w.Body.Bytes(), w.Header(), nil
}

type client struct {
	api          chi.Router
	authToken    string
	adminKey     string
	userAgent    string
	surveyHeader string
}

func (c *client) request(method, endpoint string) *httpTestRequest {
	r := newHttpTestRequest(c.api, method, endpoint)
	if c.userAgent != "" {
		r.Header("User-Agent", c.userAgent)
	}
	if c.adminKey != "" {
		r.Header(auth.AdminKeyHeader, c.adminKey)
	}
	if c.surveyHeader != "" {
		r.Header(tenancy.SurveyHeader, c.surveyHeader)
	}
	if c.authToken != "" {
		r.Auth(c.authToken)
	}
	return r
}

func (c *client) Get(endpoint string) *httpTestRequest {
	return c.request("GET", endpoint)
}

func (c *client) Post(endpoint string) *httpTestRequest {
	return c.request("POST", endpoint)
}

func (c *client) Put(endpoint string) *httpTestRequest {
	return c.request("PUT", endpoint)
}

func (c *client) Patch(endpoint string) *httpTestRequest {
	return c.request("PATCH", endpoint)
}

func (c *client) Delete(endpoint string) *httpTestRequest {
	return c.request("DELETE", endpoint)
}

func (c *client) createSurvey(name string) (services.SurveyInfo, error) {
	var res services.SurveyInfo
	err := c.Post("/admin/surveys").Json(map[string]string{"name": name}).Do(&res)
	return res, err
}

func (c *client) getSurvey(surveyId string) (services.SurveyInfo, error) {
	var res services.SurveyInfo
	err := c.Get(fmt.Sprintf("/admin/surveys/%v", surveyId)).Do(&res)
	return res, err
}

func (c *client) listSurveys() ([]services.SurveyInfo, error) {
	var res []services.SurveyInfo
	err := c.Get("/admin/surveys").Do(&res)
	return res, err
}

func (c *client) updateSurvey(surveyId string, patch map[string]interface{}) (services.SurveyInfo, error) {
	var res services.SurveyInfo
	err := c.Patch(fmt.Sprintf("/admin/surveys/%v", surveyId)).Json(patch).Do(&res)
	return res, err
}

func (c *client) deleteSurvey(surveyId string) error {
	return c.Delete(fmt.Sprintf("/admin/surveys/%v", surveyId)).Do(nil)
}

func (c *client) resetAccessCode(surveyId string) (string, error) {
	var res struct {
		AccessCode string `json:"access_code"`
	}
	err := c.Post(fmt.Sprintf("/admin/surveys/%v/reset-access-code", surveyId)).Do(&res)
	return res.AccessCode, err
}

type questionParams struct {
	Label          string   `json:"label"`
	QuestionType   string   `json:"question_type,omitempty"`
	Options        []string `json:"options,omitempty"`
	IsRequired     bool     `json:"is_required"`
	IsPersonalData bool     `json:"is_personal_data"`
}

func (c *client) addQuestion(surveyId string, params questionParams) (services.QuestionInfo, error) {
	var res services.QuestionInfo
	err := c.Post(fmt.Sprintf("/admin/surveys/%v/questions", surveyId)).Json(params).Do(&res)
	return res, err
}

type answer struct {
	QuestionId         int64  `json:"question_id"`
	AnswerText         string `json:"answer_text"`
	IsDisclosureAgreed bool   `json:"is_disclosure_agreed"`
}

type submitResponse struct {
	ResponseId string `json:"response_id"`
	Message    string `json:"message"`
}

func (c *client) questions(surveyId string) (string, []services.QuestionInfo, error) {
	var res struct {
		SurveyName string                  `json:"survey_name"`
		Questions  []services.QuestionInfo `json:"questions"`
	}
	err := c.Get(fmt.Sprintf("/survey/%v/questions", surveyId)).Do(&res)
	return res.SurveyName, res.Questions, err
}

func (c *client) submit(surveyId string, answers ...answer) (submitResponse, error) {
	var res submitResponse
	err := c.Post(fmt.Sprintf("/survey/%v/submit", surveyId)).Json(map[string]interface{}{"answers": answers}).Do(&res)
	return res, err
}

func (c *client) listResponses(surveyId string) ([]services.ResponseSummary, error) {
	var res []services.ResponseSummary
	err := c.Get(fmt.Sprintf("/admin/surveys/%v/responses", surveyId)).Do(&res)
	return res, err
}

func (c *client) getResponse(surveyId, responseId string) (services.ResponseInfo, error) {
	var res services.ResponseInfo
	err := c.Get(fmt.Sprintf("/admin/surveys/%v/responses/%v", surveyId, responseId)).Do(&res)
	return res, err
}

type opinionParams struct {
	RawResponseId  string  `json:"raw_response_id"`
	Title          string  `json:"title"`
	Content        string  `json:"content"`
	AdminNotes     *string `json:"admin_notes,omitempty"`
	Importance     int     `json:"importance"`
	Urgency        int     `json:"urgency"`
	ExpectedImpact int     `json:"expected_impact"`
}

func (c *client) createOpinion(surveyId string, params opinionParams) (services.OpinionInfo, error) {
	var res services.OpinionInfo
	err := c.Post(fmt.Sprintf("/admin/surveys/%v/opinions", surveyId)).Json(params).Do(&res)
	return res, err
}

func (c *client) updateOpinion(surveyId string, opinionId int64, update map[string]interface{}) (services.OpinionInfo, error) {
	var res services.OpinionInfo
	err := c.Put(fmt.Sprintf("/admin/surveys/%v/opinions/%d", surveyId, opinionId)).Json(update).Do(&res)
	return res, err
}

func (c *client) recomputeSupporters(surveyId string, opinionId int64) (services.OpinionInfo, error) {
	var res services.OpinionInfo
	err := c.Post(fmt.Sprintf("/admin/surveys/%v/opinions/%d/recompute-supporters", surveyId, opinionId)).Do(&res)
	return res, err
}

func (c *client) adminOpinions(surveyId string) ([]services.OpinionInfo, error) {
	var res []services.OpinionInfo
	err := c.Get(fmt.Sprintf("/admin/surveys/%v/opinions", surveyId)).Do(&res)
	return res, err
}

func (c *client) adminUpvotes(surveyId string, opinionId int64) ([]services.UpvoteInfo, error) {
	var res []services.UpvoteInfo
	err := c.Get(fmt.Sprintf("/admin/surveys/%v/opinions/%d/upvotes", surveyId, opinionId)).Do(&res)
	return res, err
}

func (c *client) moderateUpvote(surveyId string, upvoteId int64, update map[string]interface{}) (services.UpvoteInfo, error) {
	var res services.UpvoteInfo
	err := c.Put(fmt.Sprintf("/admin/surveys/%v/upvotes/%d", surveyId, upvoteId)).Json(update).Do(&res)
	return res, err
}

func (c *client) publicOpinions(surveyId string) ([]services.PublicOpinion, error) {
	var res []services.PublicOpinion
	err := c.Get(fmt.Sprintf("/survey/%v/opinions", surveyId)).Do(&res)
	return res, err
}

func (c *client) search(surveyId, query string) ([]services.PublicOpinion, error) {
	var res []services.PublicOpinion
	err := c.Get(fmt.Sprintf("/survey/%v/search?q=%v", surveyId, query)).Do(&res)
	return res, err
}

type upvoteResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (c *client) upvote(surveyId string, opinionId int64, body map[string]interface{}) (upvoteResponse, error) {
	var res upvoteResponse
	req := c.Post(fmt.Sprintf("/survey/%v/opinions/%d/upvote", surveyId, opinionId))
	if body != nil {
		req = req.Json(body)
	}
	err := req.Do(&res)
	return res, err
}

func (c *client) managerLogin(surveyId, accessCode string) error {
	var res struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	err := c.Post("/manager/auth").Json(map[string]string{"survey_id": surveyId, "access_code": accessCode}).Do(&res)
	if err != nil {
		return err
	}
	if res.TokenType != "bearer" {
		return fmt.Errorf("unexpected token type '%v'", res.TokenType)
	}
	c.authToken = res.AccessToken
	return nil
}

func (c *client) managerOpinions(surveyId string) ([]services.OpinionInfo, error) {
	var res []services.OpinionInfo
	err := c.Get(fmt.Sprintf("/manager/%v/opinions", surveyId)).Do(&res)
	return res, err
}

func (c *client) export(surveyId, format string) ([]byte, http.Header, error) {
	endpoint := fmt.Sprintf("/manager/%v/export", surveyId)
	if format != "" {
		endpoint += "?format=" + format
	}
	return c.Get(endpoint).Download()
}

type namespaceInfo struct {
	Bound     bool    `json:"bound"`
	SurveyId  *string `json:"survey_id"`
	Namespace *string `json:"namespace"`
	Status    *string `json:"status"`
}

func (c *client) debugNamespace(endpoint string) (namespaceInfo, error) {
	var res namespaceInfo
	err := c.Get(endpoint).Do(&res)
	return res, err
}
