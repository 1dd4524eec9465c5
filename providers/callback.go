package providers

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-authflow/core"
)

// CallbackResponse is the IdP answer carried back to the host, either in the
// redirect URI query or in a form_post body.
type CallbackResponse struct {
	Code             string
	State            string
	ErrorCode        string
	ErrorDescription string
}

// ParseCallbackResponse reads the callback parameters. Values in postBody win
// over the request URI query.
func ParseCallbackResponse(requestURI string, postBody string) (CallbackResponse, error) {
	values := url.Values{}
	requestURI = strings.TrimSpace(requestURI)
	if requestURI != "" {
		parsed, err := url.Parse(requestURI)
		if err != nil {
			return CallbackResponse{}, fmt.Errorf("%w: request uri: %v", core.ErrBadInput, err)
		}
		for key, items := range parsed.Query() {
			values[key] = items
		}
		if fragment := strings.TrimSpace(parsed.Fragment); strings.Contains(fragment, "=") {
			if fragmentValues, err := url.ParseQuery(fragment); err == nil {
				for key, items := range fragmentValues {
					if _, ok := values[key]; !ok {
						values[key] = items
					}
				}
			}
		}
	}
	if body := strings.TrimSpace(postBody); body != "" {
		bodyValues, err := url.ParseQuery(body)
		if err != nil {
			return CallbackResponse{}, fmt.Errorf("%w: post body: %v", core.ErrBadInput, err)
		}
		for key, items := range bodyValues {
			values[key] = items
		}
	}
	return CallbackResponse{
		Code:             strings.TrimSpace(values.Get("code")),
		State:            strings.TrimSpace(values.Get("state")),
		ErrorCode:        strings.TrimSpace(values.Get("error")),
		ErrorDescription: strings.TrimSpace(values.Get("error_description")),
	}, nil
}
