package types

// SessionRecord is the archived summary of a terminated session,
// persisted to DynamoDB fire-and-forget once a session is terminal.
type SessionRecord struct {
	DateKey         string  `json:"dateKey" dynamodbav:"DateKey"`     // YYYY-MM-DD (partition key)
	SessionID       string  `json:"sessionId" dynamodbav:"SessionID"` // sort key
	CompanyID       string  `json:"companyId" dynamodbav:"CompanyID"`
	AgentID         string  `json:"agentId" dynamodbav:"AgentID"`
	VisitorID       string  `json:"visitorId" dynamodbav:"VisitorID"`
	CallType        string  `json:"callType" dynamodbav:"CallType"`
	Disposition     string  `json:"disposition" dynamodbav:"Disposition"`
	Notes           string  `json:"notes,omitempty" dynamodbav:"Notes"`
	CreatedAt       string  `json:"createdAt" dynamodbav:"CreatedAt"`   // RFC3339
	AcceptedAt      string  `json:"acceptedAt" dynamodbav:"AcceptedAt"` // RFC3339, empty if never accepted
	EndedAt         string  `json:"endedAt" dynamodbav:"EndedAt"`       // RFC3339
	WaitSeconds     float64 `json:"waitSeconds" dynamodbav:"WaitSeconds"`
	DurationSeconds float64 `json:"durationSeconds" dynamodbav:"DurationSeconds"`
	Abandoned       bool    `json:"abandoned" dynamodbav:"Abandoned"`
}
