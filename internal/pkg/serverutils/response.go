package serverutils

type Response struct {
	Success bool        `json:"success"`
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func SuccessResponse(message string, data interface{}) *Response {
	return &Response{
		Success: true,
		Code:    200,
		Message: message,
		Data:    data,
	}
}

func ErrorResponse(code int, message string) *Response {
	return &Response{
		Success: false,
		Code:    code,
		Message: message,
	}
}

// ErrorResponseWithData carries a payload alongside the failure, used when
// a turn fails but the caller still needs the session state.
func ErrorResponseWithData(code int, message string, data interface{}) *Response {
	return &Response{
		Success: false,
		Code:    code,
		Message: message,
		Data:    data,
	}
}
