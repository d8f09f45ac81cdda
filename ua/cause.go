package ua

// Cause is a machine-readable reason of a session outcome.
type Cause string

const (
	CauseNone                Cause = ""
	CauseConnectionError     Cause = "Connection Error"
	CauseRequestTimeout      Cause = "Request Timeout"
	CauseSIPFailureCode      Cause = "SIP Failure Code"
	CauseInternalError       Cause = "Internal Error"
	CauseBusy                Cause = "Busy"
	CauseRejected            Cause = "Rejected"
	CauseRedirected          Cause = "Redirected"
	CauseUnavailable         Cause = "Unavailable"
	CauseNotFound            Cause = "Not Found"
	CauseAddressIncomplete   Cause = "Address Incomplete"
	CauseIncompatibleSDP     Cause = "Incompatible SDP"
	CauseAuthenticationError Cause = "Authentication Error"
	CauseDialogError         Cause = "Dialog Error"
	CauseWebRTCError         Cause = "WebRTC Error"
	CauseCanceled            Cause = "Canceled"
	CauseNoAnswer            Cause = "No Answer"
	CauseExpires             Cause = "Expires"
	CauseNoAck               Cause = "No ACK"
	CauseNoPrack             Cause = "No PRACK"
	CauseBadMediaDescription Cause = "Bad Media Description"
	CauseBye                 Cause = "Terminated"
)

// CauseFromStatus maps a final response status code to the cause.
func CauseFromStatus(code int) Cause {
	switch code {
	case 300, 301, 302, 305, 380:
		return CauseRedirected
	case 486, 600:
		return CauseBusy
	case 403, 603:
		return CauseRejected
	case 404, 604:
		return CauseNotFound
	case 408, 410, 430, 480:
		return CauseUnavailable
	case 484:
		return CauseAddressIncomplete
	case 488, 606:
		return CauseIncompatibleSDP
	case 401, 407:
		return CauseAuthenticationError
	default:
		return CauseSIPFailureCode
	}
}
