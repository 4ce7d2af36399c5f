package relaydto

// Error codes carried by ErrorResponse.Code.
const (
	CodeNotFound   = "not_found"
	CodeFull       = "full"
	CodeBadRequest = "bad_request"
	CodeInternal   = "internal"
)

type ErrorResponse struct {
	Detail string `json:"detail"`
	Code   string `json:"code,omitempty"`
}

func (e ErrorResponse) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	if e.Code != "" {
		return e.Code
	}
	return "relay error"
}
