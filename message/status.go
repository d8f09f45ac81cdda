package message

// Response status codes used by the engine.
const (
	StatusTrying            = 100
	StatusRinging           = 180
	StatusSessionInProgress = 183

	StatusOK = 200

	StatusBadRequest              = 400
	StatusMethodNotAllowed        = 405
	StatusRequestTimeout          = 408
	StatusUnsupportedMediaType    = 415
	StatusBadExtension            = 420
	StatusExtensionRequired       = 421
	StatusTemporarilyUnavailable  = 480
	StatusCallTransactionNotExist = 481
	StatusBusyHere                = 486
	StatusRequestTerminated       = 487
	StatusNotAcceptableHere       = 488

	StatusInternalServerError = 500
	StatusNotImplemented      = 501
	StatusServerTimeout       = 504

	StatusDecline = 603
)

// IsProvisional reports whether the code is 1xx.
func IsProvisional(code int) bool { return code >= 100 && code < 200 }

// IsSuccess reports whether the code is 2xx.
func IsSuccess(code int) bool { return code >= 200 && code < 300 }

// IsFinal reports whether the code is a final status.
func IsFinal(code int) bool { return code >= 200 && code < 700 }

// IsValidStatus reports whether the code is a valid SIP status.
func IsValidStatus(code int) bool { return code >= 100 && code < 700 }

var reasons = map[int]string{
	100: "Trying",
	180: "Ringing",
	181: "Call Is Being Forwarded",
	182: "Queued",
	183: "Session Progress",
	199: "Early Dialog Terminated",
	200: "OK",
	202: "Accepted",
	204: "No Notification",
	300: "Multiple Choices",
	301: "Moved Permanently",
	302: "Moved Temporarily",
	305: "Use Proxy",
	380: "Alternative Service",
	400: "Bad Request",
	401: "Unauthorized",
	402: "Payment Required",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	406: "Not Acceptable",
	407: "Proxy Authentication Required",
	408: "Request Timeout",
	410: "Gone",
	413: "Request Entity Too Large",
	414: "Request-URI Too Long",
	415: "Unsupported Media Type",
	416: "Unsupported URI Scheme",
	420: "Bad Extension",
	421: "Extension Required",
	423: "Interval Too Brief",
	430: "Flow Failed",
	480: "Temporarily Unavailable",
	481: "Call/Transaction Does Not Exist",
	482: "Loop Detected",
	483: "Too Many Hops",
	484: "Address Incomplete",
	485: "Ambiguous",
	486: "Busy Here",
	487: "Request Terminated",
	488: "Not Acceptable Here",
	491: "Request Pending",
	493: "Undecipherable",
	500: "Server Internal Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Server Time-out",
	505: "Version Not Supported",
	513: "Message Too Large",
	580: "Precondition Failure",
	600: "Busy Everywhere",
	603: "Decline",
	604: "Does Not Exist Anywhere",
	606: "Not Acceptable",
}

// ReasonPhrase returns the default reason phrase of the status code.
func ReasonPhrase(code int) string {
	if r, ok := reasons[code]; ok {
		return r
	}
	return "Unknown"
}
