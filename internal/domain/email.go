package domain

// Email is one outbound message. HTML is the complete body.
type Email struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}
