package report

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/trapline/trapline/util"
)

//quotaExceededMarker appears in the body of a 429 response once the daily
//report allowance is used up, as opposed to a transient per-second throttle
const quotaExceededMarker = "Daily rate limit"

type (
	//APIClient submits reports to the remote reputation service. Abstracted
	//so the dispatcher can be tested against a fake.
	APIClient interface {
		Report(ip string, categories []string, timestamp time.Time, comment string) (*ReportResult, error)
		BulkReport(csvPayload []byte) (*BulkResult, error)
	}

	//Client is the AbuseIPDB implementation of APIClient
	Client struct {
		baseURL    string
		key        string
		userAgent  string
		httpClient *http.Client
	}

	//ReportResult is the interesting part of a single-report response
	ReportResult struct {
		AbuseConfidenceScore int `json:"abuseConfidenceScore"`
	}

	//BulkResult is the interesting part of a bulk-report response
	BulkResult struct {
		SavedReports   int             `json:"savedReports"`
		InvalidReports []InvalidReport `json:"invalidReports"`
	}

	//InvalidReport describes one rejected row of a bulk submission
	InvalidReport struct {
		Error     string `json:"error"`
		Input     string `json:"input"`
		RowNumber int    `json:"rowNumber"`
	}

	//APIError is a non-2xx response from the reporting API
	APIError struct {
		StatusCode int
		Body       string
	}
)

func (e *APIError) Error() string {
	return fmt.Sprintf("reporting API returned status %d: %s", e.StatusCode, e.Body)
}

//QuotaExceeded returns true if this error is the daily-quota condition
func (e *APIError) QuotaExceeded() bool {
	return e.StatusCode == http.StatusTooManyRequests &&
		strings.Contains(e.Body, quotaExceededMarker)
}

//IsQuotaExceeded returns true if the error is a daily-quota-exceeded response
func IsQuotaExceeded(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.QuotaExceeded()
}

//NewClient creates a Client for the given API endpoint and key
func NewClient(baseURL string, key string, version string) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		key:       key,
		userAgent: fmt.Sprintf("Mozilla/5.0 (compatible; trapline/%s; +https://github.com/trapline/trapline)", version),
		httpClient: &http.Client{
			Timeout: 50 * time.Second,
		},
	}
}

//Report submits a single abuse report. Categories are comma joined numeric
//codes, the comment is capped at the API limit, and the timestamp is
//normalized to a whole-second UTC ISO-8601 string.
func (c *Client) Report(ip string, categories []string, timestamp time.Time, comment string) (*ReportResult, error) {
	form := url.Values{}
	form.Set("ip", ip)
	form.Set("categories", strings.Join(categories, ","))
	form.Set("comment", util.TruncateString(comment, wireCommentLimit))
	form.Set("timestamp", timestamp.UTC().Format(util.ReportTimeFormat))

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/report", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Data ReportResult `json:"data"`
	}
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}
	return &parsed.Data, nil
}

//BulkReport submits all buffered reports as a single CSV file upload
func (c *Client) BulkReport(csvPayload []byte) (*BulkResult, error) {
	var requestBody bytes.Buffer
	form := multipart.NewWriter(&requestBody)
	part, err := form.CreateFormFile("csv", "report.csv")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(csvPayload); err != nil {
		return nil, err
	}
	if err := form.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/bulk-report", &requestBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Data BulkResult `json:"data"`
	}
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}
	return &parsed.Data, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Key", c.key)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}
	return body, nil
}
