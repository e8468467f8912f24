package strategy

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/always-cache/offline-cache/pkg/cache-status"
)

const (
	SubmitOK   = "ok"
	SubmitFail = "fail"
)

// SubmitRedirect forwards a submission to the network and answers with a
// 303 redirect to the client's home page carrying only "ok" or "fail".
// The network response or error never reaches the client.
type SubmitRedirect struct {
	// Fragment of the redirect target. Defaults to "home".
	Fragment string
	// Query parameter carrying the result. Defaults to "share".
	Param string
}

func (SubmitRedirect) Name() string { return "submit-redirect" }

// submissionResult is the JSON body the origin answers a submission with.
type submissionResult struct {
	OK     bool `json:"ok"`
	Status int  `json:"status"`
}

func (s SubmitRedirect) Handle(r *http.Request, env *Env) (*Outcome, error) {
	result := SubmitOK
	if err := s.submit(r, env); err != nil {
		env.Log.Error().Err(err).Str("url", r.URL.String()).Msg("Submission failed")
		result = SubmitFail
	}

	res := s.redirect(r, env, result)
	cs := cachestatus.CacheStatus{Detail: s.Name() + "-" + result}
	cs.Forward(cachestatus.FwdReasonMethod)
	return &Outcome{Response: res, Status: cs}, nil
}

func (s SubmitRedirect) submit(r *http.Request, env *Env) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic during submission: %v", p)
		}
	}()

	res, err := env.fetch(r)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if !isSuccess(res.StatusCode) {
		return fmt.Errorf("submission failed with http status %d", res.StatusCode)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("reading submission response: %w", err)
	}
	// the whole body must be one JSON value, trailing data included
	var result submissionResult
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("malformed submission response: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("submission failed with status %d", result.Status)
	}
	return nil
}

// redirect builds `<origin>/#<fragment>?<param>=<result>`.
func (s SubmitRedirect) redirect(r *http.Request, env *Env, result string) *http.Response {
	fragment, param := s.Fragment, s.Param
	if fragment == "" {
		fragment = "home"
	}
	if param == "" {
		param = "share"
	}
	location := env.Keyer.Origin(r).String() + "/#" + fragment + "?" + url.Values{param: {result}}.Encode()

	header := http.Header{}
	header.Set("Location", location)
	header.Set("Cache-Control", "no-store")
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", http.StatusSeeOther, http.StatusText(http.StatusSeeOther)),
		StatusCode:    http.StatusSeeOther,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          http.NoBody,
		ContentLength: 0,
		Request:       r,
	}
}
