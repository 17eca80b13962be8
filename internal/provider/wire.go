package provider

// Wire types for the lender loan-limit contract.

type wireRequest struct {
	Customer struct {
		ID string `json:"id"`
	} `json:"customer"`
	Income struct {
		Annual int64 `json:"annual"`
	} `json:"income"`
	Loan struct {
		RequestedAmount int64 `json:"requestedAmount"`
	} `json:"loan"`
}

type wireStatus struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type wireData struct {
	Limit int64 `json:"limit"`
}

type wireResponse struct {
	Status wireStatus `json:"status"`
	Data   *wireData  `json:"data,omitempty"`
}

// Lender response codes.
const (
	codeApproved    = "S000"
	codeUnavailable = "E503"
	codeBadRequest  = "E400"
)

// responseMessages maps lender codes to the message recorded on the result.
// Unknown codes keep the lender's own status message.
var responseMessages = map[string]string{
	codeApproved:    "Approved",
	codeUnavailable: "Upstream timeout",
}

func responseMessage(s wireStatus) string {
	if m, ok := responseMessages[s.Code]; ok {
		return m
	}
	return s.Message
}
